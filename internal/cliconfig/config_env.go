package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (WALLETBRIDGE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("WALLETBRIDGE_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("data-dir", os.Getenv("WALLETBRIDGE_DATA_DIR"), &cfg.DataDir)
	s.setString("rpc-url", os.Getenv("WALLETBRIDGE_RPC_URL"), &cfg.RPCURL)
	s.setString("chain-id", os.Getenv("WALLETBRIDGE_CHAIN_ID"), &cfg.ChainID)
	s.setStrings("chains", splitList(os.Getenv("WALLETBRIDGE_CHAINS")), &cfg.Chains)
	s.setStrings("allowed-origins", splitList(os.Getenv("WALLETBRIDGE_ALLOWED_ORIGINS")), &cfg.AllowedOrigins)
	s.setString("origins-file", os.Getenv("WALLETBRIDGE_ORIGINS_FILE"), &cfg.OriginsFile)
	s.setBoolFromString("allow-null-origin", os.Getenv("WALLETBRIDGE_ALLOW_NULL_ORIGIN"), &cfg.AllowNullOrigin)
	s.setString("approval-token", os.Getenv("WALLETBRIDGE_APPROVAL_TOKEN"), &cfg.ApprovalToken)
	s.setString("log-level", os.Getenv("WALLETBRIDGE_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", os.Getenv("WALLETBRIDGE_LOG_FILE"), &cfg.LogFile)

	if err := s.setDuration("approval-ttl", os.Getenv("WALLETBRIDGE_APPROVAL_TTL"), &cfg.ApprovalTTL); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", os.Getenv("WALLETBRIDGE_SWEEP_INTERVAL"), &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("grace-window", os.Getenv("WALLETBRIDGE_GRACE_WINDOW"), &cfg.GraceWindow); err != nil {
		return err
	}
	if err := s.setDuration("call-timeout", os.Getenv("WALLETBRIDGE_CALL_TIMEOUT"), &cfg.CallTimeout); err != nil {
		return err
	}

	if err := s.setFloatFromString("rate-limit", os.Getenv("WALLETBRIDGE_RATE_LIMIT"), &cfg.RateLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("rate-burst", os.Getenv("WALLETBRIDGE_RATE_BURST"), &cfg.RateBurst); err != nil {
		return err
	}

	return nil
}
