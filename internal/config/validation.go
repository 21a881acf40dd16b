package config

import "fmt"

// validate checks the fully-assembled config for startup-blocking errors
// (spec.md §6: non-zero exit on config parse, compliance load, provider
// init failure). It does not touch the network — compliance list loading
// and provider RPC connectivity are checked by their own init paths.
func (c *Config) validate() error {
	if c.SignerType != "private-key" {
		return fmt.Errorf("config: unsupported signer_type %q (only \"private-key\" is recognized)", c.SignerType)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	if err := validateFailMode(c.Compliance.OnListLoadError, "compliance.on_list_load_error"); err != nil {
		return err
	}
	if err := validateFailMode(c.Compliance.OnScreeningError, "compliance.on_screening_error"); err != nil {
		return err
	}

	families := make(map[string]bool)
	for _, chain := range c.Chains {
		if chain.Network == "" {
			return fmt.Errorf("config: chain entry with family %q is missing network", chain.Family)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("config: chain %s/%s is missing rpc_url", chain.Family, chain.Network)
		}
		families[chain.Family] = true
	}

	for family := range families {
		if err := c.requireSigner(family); err != nil {
			return err
		}
	}

	return nil
}

func validateFailMode(mode, field string) error {
	switch mode {
	case "open", "closed":
		return nil
	default:
		return fmt.Errorf("config: %s must be \"open\" or \"closed\", got %q", field, mode)
	}
}

// requireSigner checks that the signer secret for a configured chain family
// is present. Each family shares exactly one signing key across all of its
// networks (spec §9).
func (c *Config) requireSigner(family string) error {
	switch family {
	case "evm":
		if c.Signers.EVMPrivateKeyHex == "" {
			return missingSignerErr("evm", "X402_SIGNER_EVM")
		}
	case "svm":
		if c.Signers.SVMPrivateKey == "" {
			return missingSignerErr("svm", "X402_SIGNER_SVM")
		}
	case "near":
		if c.Signers.NEARPrivateKey == "" {
			return missingSignerErr("near", "X402_SIGNER_NEAR")
		}
		if c.Signers.NEARAccountID == "" {
			return missingSignerErr("near", "X402_SIGNER_NEAR_ACCOUNT_ID")
		}
	case "stellar":
		if c.Signers.StellarPrivateKey == "" {
			return missingSignerErr("stellar", "X402_SIGNER_STELLAR")
		}
		if c.Signers.StellarAccountID == "" {
			return missingSignerErr("stellar", "X402_SIGNER_STELLAR_ACCOUNT_ID")
		}
	case "algorand":
		if c.Signers.AlgorandPrivateKey == "" {
			return missingSignerErr("algorand", "X402_SIGNER_ALGORAND")
		}
	case "sui":
		if c.Signers.SuiPrivateKey == "" {
			return missingSignerErr("sui", "X402_SIGNER_SUI")
		}
	default:
		return fmt.Errorf("config: unknown chain family %q", family)
	}
	return nil
}

func missingSignerErr(family, envVar string) error {
	return fmt.Errorf("config: chain family %q is configured but %s is not set", family, envVar)
}
