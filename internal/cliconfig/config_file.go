package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	DataDir         string   `toml:"data_dir"`
	RPCURL          string   `toml:"rpc_url"`
	ChainID         string   `toml:"chain_id"`
	Chains          []string `toml:"chains"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	OriginsFile     string   `toml:"origins_file"`
	AllowNullOrigin *bool    `toml:"allow_null_origin"`
	ApprovalTTL     string   `toml:"approval_ttl"`
	SweepInterval   string   `toml:"sweep_interval"`
	GraceWindow     string   `toml:"grace_window"`
	CallTimeout     string   `toml:"call_timeout"`
	RateLimit       float64  `toml:"rate_limit"`
	RateBurst       int      `toml:"rate_burst"`
	ApprovalToken   string   `toml:"approval_token"`
	LogLevel        string   `toml:"log_level"`
	LogFile         string   `toml:"log_file"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.walletbridge/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".walletbridge", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("rpc-url", fc.RPCURL, &cfg.RPCURL)
	s.setString("chain-id", fc.ChainID, &cfg.ChainID)
	s.setStrings("chains", fc.Chains, &cfg.Chains)
	s.setStrings("allowed-origins", fc.AllowedOrigins, &cfg.AllowedOrigins)
	s.setString("origins-file", fc.OriginsFile, &cfg.OriginsFile)
	s.setBool("allow-null-origin", fc.AllowNullOrigin, &cfg.AllowNullOrigin)
	s.setString("approval-token", fc.ApprovalToken, &cfg.ApprovalToken)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)

	if err := s.setDuration("approval-ttl", fc.ApprovalTTL, &cfg.ApprovalTTL); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", fc.SweepInterval, &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("grace-window", fc.GraceWindow, &cfg.GraceWindow); err != nil {
		return err
	}
	if err := s.setDuration("call-timeout", fc.CallTimeout, &cfg.CallTimeout); err != nil {
		return err
	}

	s.setFloat("rate-limit", fc.RateLimit, &cfg.RateLimit)
	s.setInt("rate-burst", fc.RateBurst, &cfg.RateBurst)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
