package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so TOML can decode values like "30s" or "5m"
// directly via encoding.TextUnmarshaler, the same contract BurntSushi/toml
// uses for any field implementing it.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the facilitator's full configuration, assembled from a TOML file
// with environment-variable overrides (spec.md §6). Signer secrets never
// live in the TOML file; they are read from the environment only.
type Config struct {
	SignerType string `toml:"signer_type"` // only "private-key" is recognized (spec.md §6)

	Server     ServerConfig     `toml:"server"`
	Logging    LoggingConfig    `toml:"logging"`
	Chains     []ChainConfig    `toml:"chains"`
	Compliance ComplianceConfig `toml:"compliance"`
	Escrow     EscrowConfig     `toml:"escrow"`
	FHE        FHEConfig        `toml:"fhe"`
	Discovery  DiscoveryConfig  `toml:"discovery"`

	RateLimit      RateLimitConfig      `toml:"rate_limit"`
	APIKey         APIKeyConfig         `toml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `toml:"circuit_breaker"`
	Monitoring     MonitoringConfig     `toml:"monitoring"`

	// Signer secrets, loaded exclusively from the environment by
	// applyEnvOverrides — see env.go. Never populated from the TOML file,
	// never marshaled back out.
	Signers SignerSecrets `toml:"-"`
}

// SignerSecrets holds each chain family's relayer/facilitator signing key.
// One key per family is shared across every network of that family — each
// provider instance gets its own copy, never a shared reference (spec §9:
// "each provider exclusively owns its signing key").
type SignerSecrets struct {
	EVMPrivateKeyHex  string // X402_SIGNER_EVM
	SVMPrivateKey     string // X402_SIGNER_SVM, base58
	NEARPrivateKey    string // X402_SIGNER_NEAR, ed25519 seed, base58 or hex
	NEARAccountID     string // X402_SIGNER_NEAR_ACCOUNT_ID
	StellarPrivateKey string // X402_SIGNER_STELLAR, ed25519 seed
	StellarAccountID  string // X402_SIGNER_STELLAR_ACCOUNT_ID
	AlgorandPrivateKey string // X402_SIGNER_ALGORAND, ed25519 seed
	SuiPrivateKey     string // X402_SIGNER_SUI, ed25519 seed
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host                string   `toml:"host"`
	Port                int      `toml:"port"`
	ReadTimeout         Duration `toml:"read_timeout"`
	WriteTimeout        Duration `toml:"write_timeout"`
	IdleTimeout         Duration `toml:"idle_timeout"`
	ShutdownGraceTimeout Duration `toml:"shutdown_grace_timeout"` // time in-flight /settle calls get to finish
	CORSAllowedOrigins  []string `toml:"cors_allowed_origins"`
	AdminMetricsAPIKey  string   `toml:"admin_metrics_api_key"` // optional, protects /metrics
	FacilitatorURL      string   `toml:"facilitator_url"`       // this facilitator's own public URL, used for discovery self-registration
}

// Address returns the host:port the server should bind to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `toml:"level"`       // debug, info, warn, error
	Format      string `toml:"format"`      // json, console
	Environment string `toml:"environment"` // production, staging, development
}

// ChainConfig configures one (family, network) provider instance. Only the
// fields relevant to Family are meaningful; the rest are zero-valued.
type ChainConfig struct {
	Family  string `toml:"family"`  // evm | svm | near | stellar | algorand | sui
	Network string `toml:"network"` // CAIP-2 id, e.g. "eip155:8453"

	RPCURL        string   `toml:"rpc_url"`
	SettleTimeout Duration `toml:"settle_timeout"`

	// evm
	ChainID       uint64 `toml:"chain_id"`
	Confirmations uint64 `toml:"confirmations"`

	// svm
	WSURL                      string   `toml:"ws_url"`
	Commitment                 string   `toml:"commitment"`
	ExtraInstructionsAllowlist []string `toml:"extra_instructions_allowlist"`

	// stellar
	NetworkPassphrase string `toml:"network_passphrase"`
	ResourceFee       int64  `toml:"resource_fee"`

	// algorand
	AlgodToken  string `toml:"algod_token"`
	GenesisHash string `toml:"genesis_hash"` // base64, 32 bytes decoded

	// sui
	USDCCoinType string `toml:"usdc_coin_type"`
}

// ComplianceConfig configures the sanctions/blacklist screening engine.
type ComplianceConfig struct {
	OFACPath                 string `toml:"ofac_path"`
	BlacklistPath            string `toml:"blacklist_path"`
	OnListLoadError          string `toml:"on_list_load_error"`  // "open" | "closed"
	OnScreeningError         string `toml:"on_screening_error"`  // "open" | "closed"
	AuditLogClearEvents      bool   `toml:"audit_log_clear_events"`
}

// EscrowConfig configures the x402r refund extension.
type EscrowConfig struct {
	Enabled bool `toml:"enabled"`
}

// FHEConfig configures the FHE proxy's upstream confidential-payment backend.
type FHEConfig struct {
	FacilitatorURL string   `toml:"facilitator_url"`
	Timeout        Duration `toml:"timeout"`
}

// DiscoveryConfig configures the Bazaar discovery registry.
type DiscoveryConfig struct {
	S3Bucket        string         `toml:"s3_bucket"` // empty uses the in-memory store
	S3Prefix        string         `toml:"s3_prefix"`
	Peers           []PeerEntry    `toml:"peers"`
	AggregatorEvery Duration       `toml:"aggregator_interval"`
	CrawlerSeeds    []string       `toml:"crawler_seed_hosts"`
	CrawlerEvery    Duration       `toml:"crawler_interval"`
	CrawlerTimeout  Duration       `toml:"crawler_timeout"`
}

// PeerEntry names one external facilitator to aggregate from.
type PeerEntry struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// RateLimitConfig holds multi-tier rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `toml:"global_enabled"`
	GlobalLimit   int      `toml:"global_limit"`
	GlobalWindow  Duration `toml:"global_window"`

	PerWalletEnabled bool     `toml:"per_wallet_enabled"`
	PerWalletLimit   int      `toml:"per_wallet_limit"`
	PerWalletWindow  Duration `toml:"per_wallet_window"`

	PerIPEnabled bool     `toml:"per_ip_enabled"`
	PerIPLimit   int      `toml:"per_ip_limit"`
	PerIPWindow  Duration `toml:"per_ip_window"`
}

// APIKeyConfig holds API key authentication and tier configuration.
type APIKeyConfig struct {
	Enabled bool              `toml:"enabled"`
	Keys    map[string]string `toml:"keys"`
}

// CircuitBreakerConfig configures one breaker per outbound RPC/HTTP
// dependency this facilitator calls.
type CircuitBreakerConfig struct {
	Enabled        bool                 `toml:"enabled"`
	EVMRPC         BreakerServiceConfig `toml:"evm_rpc"`
	SVMRPC         BreakerServiceConfig `toml:"svm_rpc"`
	NEARRPC        BreakerServiceConfig `toml:"near_rpc"`
	StellarRPC     BreakerServiceConfig `toml:"stellar_rpc"`
	AlgorandRPC    BreakerServiceConfig `toml:"algorand_rpc"`
	SuiRPC         BreakerServiceConfig `toml:"sui_rpc"`
	FHEProxy       BreakerServiceConfig `toml:"fhe_proxy"`
	DiscoveryPeers BreakerServiceConfig `toml:"discovery_peers"`
}

// MonitoringConfig configures the relayer low-balance webhook alerter.
type MonitoringConfig struct {
	LowBalanceAlertURL  string            `toml:"low_balance_alert_url"` // empty disables monitoring
	LowBalanceThreshold float64           `toml:"low_balance_threshold"` // in the chain's native unit (ETH, SOL, ...)
	CheckInterval       Duration          `toml:"check_interval"`
	BodyTemplate        string            `toml:"body_template"` // text/template, defaults to a Discord-style message
	Headers             map[string]string `toml:"headers"`
	Timeout             Duration          `toml:"timeout"`
}

// BreakerServiceConfig configures a circuit breaker for one external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `toml:"max_requests"`
	Interval            Duration `toml:"interval"`
	Timeout             Duration `toml:"timeout"`
	ConsecutiveFailures uint32   `toml:"consecutive_failures"`
	FailureRatio        float64  `toml:"failure_ratio"`
	MinRequests         uint32   `toml:"min_requests"`
}
