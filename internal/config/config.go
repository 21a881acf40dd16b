package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from a TOML file and applies environment
// overrides; env always wins over the file (spec.md §6). A missing .env
// file is not an error — it only exists for local development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		SignerType: "private-key",
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			ReadTimeout:          Duration{15 * time.Second},
			WriteTimeout:         Duration{15 * time.Second},
			IdleTimeout:          Duration{60 * time.Second},
			ShutdownGraceTimeout: Duration{30 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Compliance: ComplianceConfig{
			OnListLoadError:  "closed",
			OnScreeningError: "closed",
		},
		FHE: FHEConfig{
			FacilitatorURL: "https://zama-facilitator.ultravioletadao.xyz",
			Timeout:        Duration{90 * time.Second},
		},
		Discovery: DiscoveryConfig{
			S3Prefix:        "discovery",
			AggregatorEvery: Duration{15 * time.Minute},
			CrawlerEvery:    Duration{1 * time.Hour},
			CrawlerTimeout:  Duration{10 * time.Second},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:    true,
			GlobalLimit:      1000,
			GlobalWindow:     Duration{1 * time.Minute},
			PerWalletEnabled: true,
			PerWalletLimit:   60,
			PerWalletWindow:  Duration{1 * time.Minute},
			PerIPEnabled:     true,
			PerIPLimit:       120,
			PerIPWindow:      Duration{1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        true,
			EVMRPC:         defaultBreaker(),
			SVMRPC:         defaultBreaker(),
			NEARRPC:        defaultBreaker(),
			StellarRPC:     defaultBreaker(),
			AlgorandRPC:    defaultBreaker(),
			SuiRPC:         defaultBreaker(),
			FHEProxy:       defaultBreaker(),
			DiscoveryPeers: defaultBreaker(),
		},
		Monitoring: MonitoringConfig{
			LowBalanceThreshold: 0.1,
			CheckInterval:       Duration{5 * time.Minute},
			Timeout:             Duration{10 * time.Second},
		},
	}
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{60 * time.Second},
		Timeout:             Duration{30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

func (c *Config) parseFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("parse config toml: %w", err)
	}
	return nil
}
