// Command x402facilitator runs the facilitator's HTTP server: it loads
// configuration, builds one chain provider per configured network, wires
// compliance screening, the discovery registry, and (if configured) the FHE
// proxy, then serves /verify, /settle, and the supporting endpoints.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/chain/algorand"
	"github.com/ultravioletadao/x402-facilitator/internal/chain/evm"
	"github.com/ultravioletadao/x402-facilitator/internal/chain/near"
	"github.com/ultravioletadao/x402-facilitator/internal/chain/stellar"
	"github.com/ultravioletadao/x402-facilitator/internal/chain/sui"
	"github.com/ultravioletadao/x402-facilitator/internal/chain/svm"
	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/internal/config"
	"github.com/ultravioletadao/x402-facilitator/internal/discovery"
	"github.com/ultravioletadao/x402-facilitator/internal/fheproxy"
	"github.com/ultravioletadao/x402-facilitator/internal/httpserver"
	"github.com/ultravioletadao/x402-facilitator/internal/lifecycle"
	applog "github.com/ultravioletadao/x402-facilitator/internal/logger"
	"github.com/ultravioletadao/x402-facilitator/internal/metrics"
	"github.com/ultravioletadao/x402-facilitator/internal/monitoring"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/compliance"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/dispatcher"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
)

func main() {
	cfg, err := config.Load(os.Getenv("X402_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log := applog.New(applog.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "x402-facilitator",
		Environment: cfg.Logging.Environment,
	})

	lc := lifecycle.NewManager()
	defer func() {
		if err := lc.Close(); err != nil {
			log.Error().Err(err).Msg("error during shutdown cleanup")
		}
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	providers, err := buildProviders(context.Background(), cfg, log, breakers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chain providers")
	}

	monitorProviders := make(map[string]provider.Provider, len(providers))
	for network, p := range providers {
		monitorProviders[network.String()] = p
	}
	balanceMonitor := monitoring.NewBalanceMonitor(cfg.Monitoring, monitorProviders, log)

	audit := compliance.NewAuditLogger(compliance.AuditLoggingConfig{
		Enabled:                  true,
		IncludeClearTransactions: cfg.Compliance.AuditLogClearEvents,
	}, log)

	failMode := compliance.FailMode{
		OnListLoadError:  compliance.FailBehavior(cfg.Compliance.OnListLoadError),
		OnScreeningError: compliance.FailBehavior(cfg.Compliance.OnScreeningError),
	}
	checker, err := compliance.NewMultiListChecker(compliance.Config{
		OFACPath:      cfg.Compliance.OFACPath,
		BlacklistPath: cfg.Compliance.BlacklistPath,
		FailMode:      failMode,
		AuditLogging: compliance.AuditLoggingConfig{
			Enabled:                  true,
			IncludeClearTransactions: cfg.Compliance.AuditLogClearEvents,
		},
	}, audit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load compliance lists")
	}

	var fhe *fheproxy.Proxy
	if cfg.FHE.FacilitatorURL != "" {
		fhe = fheproxy.New(fheproxy.Config{
			Endpoint: cfg.FHE.FacilitatorURL,
			Timeout:  cfg.FHE.Timeout.Duration,
			Breaker:  breakers,
		}, log)
	}

	disp := dispatcher.New(providers, checker, failMode, fhe, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildDiscoveryStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build discovery store")
	}
	disc, err := discovery.New(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to preload discovery registry")
	}

	if len(cfg.Discovery.Peers) > 0 {
		peers := make([]discovery.PeerConfig, 0, len(cfg.Discovery.Peers))
		for _, p := range cfg.Discovery.Peers {
			peers = append(peers, discovery.PeerConfig{Name: p.Name, URL: p.URL})
		}
		aggregator := discovery.NewAggregator(disc, peers, &http.Client{Timeout: 10 * time.Second}, breakers, log)
		interval := cfg.Discovery.AggregatorEvery.Duration
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		go aggregator.RunPeriodic(ctx, interval)
	}

	if len(cfg.Discovery.CrawlerSeeds) > 0 {
		crawlTimeout := cfg.Discovery.CrawlerTimeout.Duration
		if crawlTimeout <= 0 {
			crawlTimeout = 10 * time.Second
		}
		crawler := discovery.NewCrawler(disc, &http.Client{Timeout: crawlTimeout}, crawlTimeout, log)
		crawlInterval := cfg.Discovery.CrawlerEvery.Duration
		if crawlInterval <= 0 {
			crawlInterval = 30 * time.Minute
		}
		go func() {
			ticker := time.NewTicker(crawlInterval)
			defer ticker.Stop()
			for {
				crawler.Crawl(ctx, cfg.Discovery.CrawlerSeeds, false)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	balanceMonitor.Start(ctx)
	lc.RegisterFunc("balance monitor", func() error {
		balanceMonitor.Stop()
		return nil
	})

	server := httpserver.New(cfg, disp, disc, m, log)
	lc.RegisterFunc("http server", func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGraceTimeout.Duration)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("facilitator listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal(log)
}

func waitForShutdownSignal(log zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")
}

// buildDiscoveryStore picks the S3-backed store when a bucket is configured,
// falling back to the in-memory store for single-node deployments.
func buildDiscoveryStore(ctx context.Context, cfg *config.Config) (discovery.Store, error) {
	if cfg.Discovery.S3Bucket == "" {
		return discovery.NewMemoryStore(), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config for discovery s3 store: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return discovery.NewS3Store(client, cfg.Discovery.S3Bucket, cfg.Discovery.S3Prefix), nil
}

// buildProviders constructs one chain provider per configured network,
// keyed by its CAIP-2 id, using the single signer secret shared across every
// network within that chain family.
func buildProviders(ctx context.Context, cfg *config.Config, log zerolog.Logger, breakers *circuitbreaker.Manager) (map[caip2.NetworkID]provider.Provider, error) {
	providers := make(map[caip2.NetworkID]provider.Provider, len(cfg.Chains))

	for _, chain := range cfg.Chains {
		network, err := caip2.Parse(chain.Network)
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", chain.Network, err)
		}

		switch chain.Family {
		case "evm":
			p, err := evm.New(ctx, evm.Config{
				Network:       network,
				ChainID:       chain.ChainID,
				RPCURL:        chain.RPCURL,
				SignerHexKey:  cfg.Signers.EVMPrivateKeyHex,
				Confirmations: chain.Confirmations,
				SettleTimeout: chain.SettleTimeout.Duration,
				Breaker:       breakers,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("evm provider %s: %w", chain.Network, err)
			}
			providers[network] = p

		case "svm":
			p, err := svm.New(ctx, svm.Config{
				Network:                    network,
				RPCURL:                     chain.RPCURL,
				WSURL:                      chain.WSURL,
				SignerBase58:               cfg.Signers.SVMPrivateKey,
				SettleTimeout:              chain.SettleTimeout.Duration,
				ExtraInstructionsAllowlist: chain.ExtraInstructionsAllowlist,
				Breaker:                    breakers,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("svm provider %s: %w", chain.Network, err)
			}
			providers[network] = p

		case "near":
			seed, err := decodeEd25519Seed(cfg.Signers.NEARPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("near signer: %w", err)
			}
			p, err := near.New(near.Config{
				Network:       network,
				RPCURL:        chain.RPCURL,
				RelayerSeed:   seed,
				RelayerAcctID: cfg.Signers.NEARAccountID,
				SettleTimeout: chain.SettleTimeout.Duration,
				Breaker:       breakers,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("near provider %s: %w", chain.Network, err)
			}
			providers[network] = p

		case "stellar":
			seed, err := decodeEd25519Seed(cfg.Signers.StellarPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("stellar signer: %w", err)
			}
			p, err := stellar.New(stellar.Config{
				Network:           network,
				HorizonURL:        chain.RPCURL,
				NetworkPassphrase: chain.NetworkPassphrase,
				RelayerSeed:       seed,
				RelayerAcctID:     cfg.Signers.StellarAccountID,
				ResourceFee:       chain.ResourceFee,
				SettleTimeout:     chain.SettleTimeout.Duration,
				Breaker:           breakers,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("stellar provider %s: %w", chain.Network, err)
			}
			providers[network] = p

		case "algorand":
			seed, err := decodeEd25519Seed(cfg.Signers.AlgorandPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("algorand signer: %w", err)
			}
			genesisHash, err := decodeGenesisHash(chain.GenesisHash)
			if err != nil {
				return nil, fmt.Errorf("algorand genesis hash: %w", err)
			}
			p, err := algorand.New(algorand.Config{
				Network:       network,
				AlgodURL:      chain.RPCURL,
				AlgodToken:    chain.AlgodToken,
				GenesisHash:   genesisHash,
				RelayerSeed:   seed,
				SettleTimeout: chain.SettleTimeout.Duration,
				Breaker:       breakers,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("algorand provider %s: %w", chain.Network, err)
			}
			providers[network] = p

		case "sui":
			seed, err := decodeEd25519Seed(cfg.Signers.SuiPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("sui signer: %w", err)
			}
			p, err := sui.New(sui.Config{
				Network:       network,
				RPCURL:        chain.RPCURL,
				USDCCoinType:  chain.USDCCoinType,
				RelayerSeed:   seed,
				SettleTimeout: chain.SettleTimeout.Duration,
				Breaker:       breakers,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("sui provider %s: %w", chain.Network, err)
			}
			providers[network] = p

		default:
			return nil, fmt.Errorf("chain %q: unknown family %q", chain.Network, chain.Family)
		}
	}

	return providers, nil
}

// decodeEd25519Seed accepts a 32-byte ed25519 seed as hex or base58 and
// expands it to the 64-byte ed25519.PrivateKey the chain providers expect.
func decodeEd25519Seed(raw string) (ed25519.PrivateKey, error) {
	if raw == "" {
		return nil, fmt.Errorf("signer key not configured")
	}
	seed, err := hex.DecodeString(raw)
	if err != nil || len(seed) != ed25519.SeedSize {
		seed, err = base58.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("key is neither valid hex nor base58: %w", err)
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// decodeGenesisHash decodes a base64 32-byte Algorand genesis hash.
func decodeGenesisHash(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("genesis hash must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
