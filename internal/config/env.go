package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables always take precedence over the TOML file. Signer
// secrets are environment-only — they never have a TOML counterpart.
// SIGNER_TYPE, HOST, PORT, FACILITATOR_URL, ENABLE_ESCROW,
// FHE_FACILITATOR_URL, FHE_FACILITATOR_TIMEOUT, DISCOVERY_S3_BUCKET and
// DISCOVERY_S3_PREFIX are read unprefixed; the other non-secret overrides
// use the X402_ prefix.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.SignerType, "SIGNER_TYPE")

	setIfEnv(&c.Server.Host, "HOST")
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	setIfEnv(&c.Server.AdminMetricsAPIKey, "X402_ADMIN_METRICS_API_KEY")
	setIfEnv(&c.Server.FacilitatorURL, "FACILITATOR_URL")

	setIfEnv(&c.Logging.Level, "X402_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "X402_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "X402_ENVIRONMENT")

	setIfEnv(&c.Compliance.OFACPath, "X402_COMPLIANCE_OFAC_PATH")
	setIfEnv(&c.Compliance.BlacklistPath, "X402_COMPLIANCE_BLACKLIST_PATH")
	setIfEnv(&c.Compliance.OnListLoadError, "X402_COMPLIANCE_ON_LIST_LOAD_ERROR")
	setIfEnv(&c.Compliance.OnScreeningError, "X402_COMPLIANCE_ON_SCREENING_ERROR")
	setBoolIfEnv(&c.Compliance.AuditLogClearEvents, "X402_COMPLIANCE_AUDIT_LOG_CLEAR_EVENTS")

	setBoolIfEnv(&c.Escrow.Enabled, "ENABLE_ESCROW")

	setIfEnv(&c.FHE.FacilitatorURL, "FHE_FACILITATOR_URL")
	setDurationIfEnv(&c.FHE.Timeout, "FHE_FACILITATOR_TIMEOUT")

	setIfEnv(&c.Discovery.S3Bucket, "DISCOVERY_S3_BUCKET")
	setIfEnv(&c.Discovery.S3Prefix, "DISCOVERY_S3_PREFIX")

	setIfEnv(&c.Monitoring.LowBalanceAlertURL, "X402_LOW_BALANCE_ALERT_URL")
	setFloatIfEnv(&c.Monitoring.LowBalanceThreshold, "X402_LOW_BALANCE_THRESHOLD")
	setDurationIfEnv(&c.Monitoring.CheckInterval, "X402_BALANCE_CHECK_INTERVAL")

	setIfEnv(&c.Signers.EVMPrivateKeyHex, "X402_SIGNER_EVM")
	setIfEnv(&c.Signers.SVMPrivateKey, "X402_SIGNER_SVM")
	setIfEnv(&c.Signers.NEARPrivateKey, "X402_SIGNER_NEAR")
	setIfEnv(&c.Signers.NEARAccountID, "X402_SIGNER_NEAR_ACCOUNT_ID")
	setIfEnv(&c.Signers.StellarPrivateKey, "X402_SIGNER_STELLAR")
	setIfEnv(&c.Signers.StellarAccountID, "X402_SIGNER_STELLAR_ACCOUNT_ID")
	setIfEnv(&c.Signers.AlgorandPrivateKey, "X402_SIGNER_ALGORAND")
	setIfEnv(&c.Signers.SuiPrivateKey, "X402_SIGNER_SUI")

	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "X402_RATE_LIMIT_GLOBAL_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerWalletEnabled, "X402_RATE_LIMIT_PER_WALLET_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "X402_RATE_LIMIT_PER_IP_ENABLED")

	setBoolIfEnv(&c.APIKey.Enabled, "X402_API_KEY_ENABLED")
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "X402_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "X402_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(parts[1])
	}
}

func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{dur}
		}
	}
}

func setFloatIfEnv(target *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}
