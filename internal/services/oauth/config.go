package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcoot/provisioner/internal/model"
)

// Mode selects which grant Acquire tries
type Mode string

const (
	// ModeAuto tries the password grant and falls back to device code when the client
	// does not allow it
	ModeAuto       Mode = "auto"
	ModePassword   Mode = "password"
	ModeDeviceCode Mode = "device_code"
)

// ParseMode validates a mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePassword:
		return ModePassword, nil
	case ModeDeviceCode, "device-code", "devicecode":
		return ModeDeviceCode, nil
	default:
		return "", model.Errorf(model.KindValidation, "parse mode", "%w: unknown grant mode %q", model.ErrInvalidRequest, s)
	}
}

// Config holds configuration for the token endpoints and polling
type Config struct {
	// Authority is the tenant base URL, e.g. https://login.microsoftonline.com/consumers
	Authority string
	// Scope is the space-separated scope list requested by both grants
	Scope string
	// Timeout bounds each HTTP call
	Timeout time.Duration
	// MinPollInterval is the floor applied to the server's polling interval
	MinPollInterval time.Duration
	// SlowDownIncrement is added to the interval on every slow_down
	SlowDownIncrement time.Duration
	Mode              Mode
}

// DefaultConfig returns default OAuth configuration
func DefaultConfig() Config {
	return Config{
		Authority:         "https://login.microsoftonline.com/consumers",
		Scope:             "offline_access https://graph.microsoft.com/Mail.Read",
		Timeout:           15 * time.Second,
		MinPollInterval:   4 * time.Second,
		SlowDownIncrement: 5 * time.Second,
		Mode:              ModeAuto,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Authority == "" {
		c.Authority = d.Authority
	}
	if c.Scope == "" {
		c.Scope = d.Scope
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.MinPollInterval == 0 {
		c.MinPollInterval = d.MinPollInterval
	}
	if c.SlowDownIncrement == 0 {
		c.SlowDownIncrement = d.SlowDownIncrement
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	c.Authority = strings.TrimSuffix(c.Authority, "/")
	return c
}

// DeviceCodeURL returns the device authorization endpoint
func (c Config) DeviceCodeURL() string {
	return fmt.Sprintf("%s/oauth2/v2.0/devicecode", strings.TrimSuffix(c.Authority, "/"))
}

// TokenURL returns the token endpoint
func (c Config) TokenURL() string {
	return fmt.Sprintf("%s/oauth2/v2.0/token", strings.TrimSuffix(c.Authority, "/"))
}
