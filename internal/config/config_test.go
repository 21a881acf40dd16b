package config

import (
	"os"
	"strings"
	"testing"
)

func TestLoadConfig_DefaultsValidateClean(t *testing.T) {
	clearEnv()
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with no chains configured, got: %v", err)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Errorf("expected default address 0.0.0.0:8080, got %s", cfg.Server.Address())
	}
	if cfg.Compliance.OnListLoadError != "closed" {
		t.Errorf("expected default fail-closed compliance, got %s", cfg.Compliance.OnListLoadError)
	}
}

func TestLoadConfig_RejectsUnknownSignerType(t *testing.T) {
	clearEnv()
	os.Setenv("SIGNER_TYPE", "hsm")
	defer clearEnv()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "signer_type") {
		t.Fatalf("expected signer_type error, got: %v", err)
	}
}

func TestLoadConfig_RequiresSignerForConfiguredChain(t *testing.T) {
	clearEnv()
	defer clearEnv()

	path := writeTempTOML(t, `
[[chains]]
family = "evm"
network = "eip155:8453"
rpc_url = "https://base-rpc.example.com"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "X402_SIGNER_EVM") {
		t.Fatalf("expected missing signer error, got: %v", err)
	}
}

func TestLoadConfig_ValidWithSigner(t *testing.T) {
	clearEnv()
	os.Setenv("X402_SIGNER_EVM", "0xdeadbeef")
	defer clearEnv()

	path := writeTempTOML(t, `
[[chains]]
family = "evm"
network = "eip155:8453"
rpc_url = "https://base-rpc.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(cfg.Chains) != 1 || cfg.Chains[0].Network != "eip155:8453" {
		t.Fatalf("expected one parsed chain, got: %+v", cfg.Chains)
	}
	if cfg.Signers.EVMPrivateKeyHex != "0xdeadbeef" {
		t.Errorf("expected signer loaded from env, got %q", cfg.Signers.EVMPrivateKeyHex)
	}
}

func TestLoadConfig_RejectsBadFailMode(t *testing.T) {
	clearEnv()
	os.Setenv("X402_COMPLIANCE_ON_LIST_LOAD_ERROR", "maybe")
	defer clearEnv()

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "on_list_load_error") {
		t.Fatalf("expected fail-mode validation error, got: %v", err)
	}
}

func writeTempTOML(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	if err != nil {
		t.Fatalf("create temp config: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return f.Name()
}

func clearEnv() {
	envVars := []string{
		"SIGNER_TYPE", "HOST", "PORT",
		"X402_ADMIN_METRICS_API_KEY", "FACILITATOR_URL",
		"X402_LOG_LEVEL", "X402_LOG_FORMAT", "X402_ENVIRONMENT",
		"X402_COMPLIANCE_OFAC_PATH", "X402_COMPLIANCE_BLACKLIST_PATH",
		"X402_COMPLIANCE_ON_LIST_LOAD_ERROR", "X402_COMPLIANCE_ON_SCREENING_ERROR",
		"X402_COMPLIANCE_AUDIT_LOG_CLEAR_EVENTS",
		"ENABLE_ESCROW", "FHE_FACILITATOR_URL", "FHE_FACILITATOR_TIMEOUT",
		"DISCOVERY_S3_BUCKET", "DISCOVERY_S3_PREFIX",
		"X402_SIGNER_EVM", "X402_SIGNER_SVM",
		"X402_SIGNER_NEAR", "X402_SIGNER_NEAR_ACCOUNT_ID",
		"X402_SIGNER_STELLAR", "X402_SIGNER_STELLAR_ACCOUNT_ID",
		"X402_SIGNER_ALGORAND", "X402_SIGNER_SUI",
		"X402_RATE_LIMIT_GLOBAL_ENABLED", "X402_RATE_LIMIT_PER_WALLET_ENABLED", "X402_RATE_LIMIT_PER_IP_ENABLED",
		"X402_API_KEY_ENABLED",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}
