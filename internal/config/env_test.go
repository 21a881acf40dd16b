package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "HOST and PORT override",
			envVars: map[string]string{
				"HOST": "127.0.0.1",
				"PORT": "9000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address() != "127.0.0.1:9000" {
					t.Errorf("expected 127.0.0.1:9000, got %s", cfg.Server.Address())
				}
			},
		},
		{
			name: "FACILITATOR_URL override",
			envVars: map[string]string{
				"FACILITATOR_URL": "https://pay.example.com",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.FacilitatorURL != "https://pay.example.com" {
					t.Errorf("expected facilitator url override, got %s", cfg.Server.FacilitatorURL)
				}
			},
		},
		{
			name: "PORT with invalid value is ignored",
			envVars: map[string]string{
				"PORT": "not-a-number",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 8080 {
					t.Errorf("expected default port preserved, got %d", cfg.Server.Port)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_ComplianceAndFHE(t *testing.T) {
	defer os.Clearenv()

	os.Clearenv()
	os.Setenv("X402_COMPLIANCE_ON_LIST_LOAD_ERROR", "open")
	os.Setenv("FHE_FACILITATOR_URL", "https://fhe.example.com")
	os.Setenv("FHE_FACILITATOR_TIMEOUT", "45s")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Compliance.OnListLoadError != "open" {
		t.Errorf("expected compliance override to 'open', got %s", cfg.Compliance.OnListLoadError)
	}
	if cfg.FHE.FacilitatorURL != "https://fhe.example.com" {
		t.Errorf("expected fhe url override, got %s", cfg.FHE.FacilitatorURL)
	}
	if cfg.FHE.Timeout.Duration != 45*time.Second {
		t.Errorf("expected fhe timeout override, got %v", cfg.FHE.Timeout.Duration)
	}
}

func TestEnvOverrides_Signers(t *testing.T) {
	defer os.Clearenv()

	os.Clearenv()
	os.Setenv("X402_SIGNER_EVM", "0xabc")
	os.Setenv("X402_SIGNER_NEAR", "edwardseed")
	os.Setenv("X402_SIGNER_NEAR_ACCOUNT_ID", "facilitator.near")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Signers.EVMPrivateKeyHex != "0xabc" {
		t.Errorf("expected evm signer loaded, got %q", cfg.Signers.EVMPrivateKeyHex)
	}
	if cfg.Signers.NEARPrivateKey != "edwardseed" || cfg.Signers.NEARAccountID != "facilitator.near" {
		t.Errorf("expected near signer+account loaded, got %+v", cfg.Signers)
	}
	if cfg.Signers.SVMPrivateKey != "" {
		t.Errorf("expected svm signer to remain unset, got %q", cfg.Signers.SVMPrivateKey)
	}
}

func TestEnvOverrides_APIKeyConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "X402_API_KEY_ENABLED boolean (true)",
			envVars: map[string]string{
				"X402_API_KEY_ENABLED": "true",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.APIKey.Enabled {
					t.Error("expected APIKey.Enabled to be true")
				}
			},
		},
		{
			name: "X402_API_KEY_* env vars create key mappings",
			envVars: map[string]string{
				"X402_API_KEY_ENABLED":         "true",
				"X402_API_KEY_PARTNER_ABC123":  "partner",
				"X402_API_KEY_ENTERPRISE_XYZ":  "enterprise",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.APIKey.Keys) != 2 {
					t.Errorf("expected 2 api keys, got %d", len(cfg.APIKey.Keys))
				}
				if cfg.APIKey.Keys["partner_abc123"] != "partner" {
					t.Errorf("expected partner_abc123=partner, got %s", cfg.APIKey.Keys["partner_abc123"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}
