// ABOUTME: Tests for signal parsing and session config helpers
// ABOUTME: Covers schema validation, origin derivation, and log redaction

package moderation

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal_Valid(t *testing.T) {
	tests := []struct {
		data json.RawMessage
		want Signal
	}{
		{json.RawMessage(`"loaded"`), SignalLoaded},
		{json.RawMessage(`"authenticated"`), SignalAuthenticated},
		{json.RawMessage(`"missing-config"`), SignalMissingConfig},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			got, err := ParseSignal(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSignal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data json.RawMessage
	}{
		{"empty string", json.RawMessage(`""`)},
		{"unknown signal", json.RawMessage(`"logged-in"`)},
		{"wrong case", json.RawMessage(`"Loaded"`)},
		{"object", json.RawMessage(`{"signal":"loaded"}`)},
		{"array", json.RawMessage(`["loaded"]`)},
		{"bool", json.RawMessage(`true`)},
		{"null", json.RawMessage(`null`)},
		{"malformed", json.RawMessage(`"loaded`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignal(tt.data)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "error should be a *ValidationError")
			assert.Equal(t, tt.data, verr.Data)
			assert.NotNil(t, verr.Cause)
		})
	}
}

func TestParseSignal_SchemaCause(t *testing.T) {
	_, err := ParseSignal(json.RawMessage(`"ready"`))

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs), "cause should carry the schema violation")
	require.Len(t, verrs, 1)
	assert.Equal(t, "oneof", verrs[0].Tag())
}

func TestSessionConfig_Origin(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://mod.example", "https://mod.example"},
		{"https://mod.example/", "https://mod.example"},
		{"https://mod.example/ui/login?x=1#frag", "https://mod.example"},
		{"https://MOD.example", "https://mod.example"},
		{"https://mod.example:443", "https://mod.example"},
		{"http://mod.example:80/", "http://mod.example"},
		{"https://mod.example:8443/ui", "https://mod.example:8443"},
		{"http://localhost:3000", "http://localhost:3000"},
		{"http://[::1]:8080/", "http://[::1]:8080"},
		{"http://[::1]/", "http://[::1]"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			cfg := testSessionConfig()
			cfg.InstanceURL = tt.url
			got, err := cfg.Origin()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionConfig_OriginErrors(t *testing.T) {
	for _, raw := range []string{"ftp://mod.example", "mod.example", "https://", "://bad"} {
		t.Run(raw, func(t *testing.T) {
			cfg := testSessionConfig()
			cfg.InstanceURL = raw
			_, err := cfg.Origin()
			assert.Error(t, err)
		})
	}
}

func TestSessionConfig_Validate(t *testing.T) {
	require.NoError(t, testSessionConfig().Validate())

	mutations := map[string]func(*SessionConfig){
		"missing instance":     func(c *SessionConfig) { c.InstanceURL = "" },
		"missing hostname":     func(c *SessionConfig) { c.Hostname = "" },
		"missing user":         func(c *SessionConfig) { c.UserID = "" },
		"missing access token": func(c *SessionConfig) { c.AccessToken = "" },
		"missing device":       func(c *SessionConfig) { c.DeviceID = "" },
		"non-http instance":    func(c *SessionConfig) { c.InstanceURL = "ftp://mod.example" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := testSessionConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSessionConfig_Credentials(t *testing.T) {
	creds := testSessionConfig().Credentials()

	data, err := json.Marshal(creds)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hostname":"hs.example","userId":"@bot:hs.example","accessToken":"tok","deviceId":"DEV1"}`, string(data))
}

func TestSessionConfig_LogValueOmitsToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("starting", "session", testSessionConfig())

	out := buf.String()
	assert.Contains(t, out, "session.user_id=@bot:hs.example")
	assert.NotContains(t, out, "=tok")
	assert.NotContains(t, out, "access")
}
