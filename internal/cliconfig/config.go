package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/walletbridge/internal/domain"
	"github.com/bft-labs/walletbridge/internal/router"
	"github.com/bft-labs/walletbridge/pkg/protocol"
)

// DefaultListenAddr is where the daemon serves relays and the approval API.
const DefaultListenAddr = "127.0.0.1:7545"

// Config holds CLI configuration for walletbridge.
type Config struct {
	ListenAddr string
	DataDir    string

	RPCURL  string
	ChainID string
	Chains  []string

	AllowedOrigins  []string
	OriginsFile     string
	AllowNullOrigin bool

	ApprovalTTL   time.Duration
	SweepInterval time.Duration
	GraceWindow   time.Duration
	CallTimeout   time.Duration

	RateLimit float64
	RateBurst int

	ApprovalToken string

	LogLevel string
	LogFile  string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    DefaultListenAddr,
		ChainID:       "0x1",
		ApprovalTTL:   router.DefaultApprovalTTL,
		SweepInterval: router.DefaultSweepInterval,
		GraceWindow:   router.DefaultGraceWindow,
		CallTimeout:   router.DefaultCallTimeout,
		RateBurst:     20,
		LogLevel:      "info",
		DataDir:       "", // Derived from the home directory during Validate
		ApprovalToken: os.Getenv("WALLETBRIDGE_APPROVAL_TOKEN"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", domain.ErrInvalidConfig)
	}

	if c.DataDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: data-dir is required (no home directory)", domain.ErrInvalidConfig)
		}
		c.DataDir = filepath.Join(h, ".walletbridge", "data")
	}

	if _, err := protocol.NetworkVersion(c.ChainID); err != nil {
		return fmt.Errorf("%w: chain id: %v", domain.ErrInvalidConfig, err)
	}
	for _, id := range c.Chains {
		if _, err := protocol.NetworkVersion(id); err != nil {
			return fmt.Errorf("%w: chains: %v", domain.ErrInvalidConfig, err)
		}
	}

	// Ensure no trailing slash
	c.RPCURL = strings.TrimSuffix(strings.TrimSpace(c.RPCURL), "/")

	if len(c.AllowedOrigins) == 0 && c.OriginsFile == "" {
		return fmt.Errorf("%w: allowed-origins or origins-file is required", domain.ErrInvalidConfig)
	}

	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("%w: approval ttl must be positive", domain.ErrInvalidConfig)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", domain.ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", domain.ErrInvalidConfig)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit) + 1
	}

	return nil
}

// RouterConfig converts the timing settings.
func (c *Config) RouterConfig() router.Config {
	cfg := router.DefaultConfig()
	cfg.ApprovalTTL = c.ApprovalTTL
	cfg.SweepInterval = c.SweepInterval
	cfg.GraceWindow = c.GraceWindow
	cfg.CallTimeout = c.CallTimeout
	cfg.SetDefaults()
	return cfg
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// splitList splits a comma-separated environment value.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
