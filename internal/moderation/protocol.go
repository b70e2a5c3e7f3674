// ABOUTME: Wire types for the moderation popup handshake
// ABOUTME: Validates inbound signals and shapes the outbound credential payload

package moderation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Signal is an inbound message from the moderation popup.
type Signal string

const (
	// SignalLoaded means the popup is ready to receive credentials.
	SignalLoaded Signal = "loaded"
	// SignalAuthenticated means the popup finished signing in.
	SignalAuthenticated Signal = "authenticated"
	// SignalMissingConfig means the instance is not configured for sign-in.
	SignalMissingConfig Signal = "missing-config"
)

// Result is the soft outcome of a handshake.
type Result string

const (
	ResultOK       Result = "ok"
	ResultCantOpen Result = "cant open"
	ResultClosed   Result = "closed"
)

// ErrMissingConfig is returned when the popup reports that the moderation
// instance is missing its server-side configuration.
var ErrMissingConfig = errors.New("moderation instance is missing configuration")

// ValidationError reports an inbound message that is not a known signal.
type ValidationError struct {
	Data  json.RawMessage
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message from moderation popup: %v", e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Credentials is the payload sent to the popup after it has loaded.
type Credentials struct {
	Hostname    string `json:"hostname"`
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	DeviceID    string `json:"deviceId"`
}

type signalPayload struct {
	Signal string `validate:"required,oneof=loaded authenticated missing-config"`
}

var validate = validator.New()

// ParseSignal decodes an inbound payload. The payload must be a JSON string
// equal to one of the known signals; anything else yields a *ValidationError.
func ParseSignal(data json.RawMessage) (Signal, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", &ValidationError{Data: data, Cause: fmt.Errorf("payload is not a string: %w", err)}
	}
	if err := validate.Struct(signalPayload{Signal: s}); err != nil {
		return "", &ValidationError{Data: data, Cause: err}
	}
	return Signal(s), nil
}
