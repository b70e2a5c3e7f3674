// ABOUTME: Session configuration handed to the moderation popup
// ABOUTME: Derives the instance origin used for targeting and filtering messages

package moderation

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
)

// SessionConfig is everything one sign-in attempt needs. It is built fresh for
// each attempt and is not modified while the handshake runs.
type SessionConfig struct {
	InstanceURL string `validate:"required,url"`
	Hostname    string `validate:"required"`
	UserID      string `validate:"required"`
	AccessToken string `validate:"required"`
	DeviceID    string `validate:"required"`
}

// Validate checks that every field is populated and the instance URL parses.
func (c SessionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	_, err := c.Origin()
	return err
}

// Origin returns the instance origin (scheme://host[:port]) as a browser would
// report it. Default ports are dropped.
func (c SessionConfig) Origin() (string, error) {
	u, err := url.Parse(c.InstanceURL)
	if err != nil {
		return "", fmt.Errorf("parsing instance url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("instance url must use http or https scheme")
	}
	if u.Host == "" {
		return "", fmt.Errorf("instance url has no host")
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return scheme + "://" + host, nil
}

// Credentials returns the payload sent to the popup once it has loaded.
func (c SessionConfig) Credentials() Credentials {
	return Credentials{
		Hostname:    c.Hostname,
		UserID:      c.UserID,
		AccessToken: c.AccessToken,
		DeviceID:    c.DeviceID,
	}
}

// LogValue keeps the access token out of logs.
func (c SessionConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("instance_url", c.InstanceURL),
		slog.String("hostname", c.Hostname),
		slog.String("user_id", c.UserID),
		slog.String("device_id", c.DeviceID),
	)
}
