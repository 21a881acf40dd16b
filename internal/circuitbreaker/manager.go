package circuitbreaker

import (
	"time"

	"github.com/ultravioletadao/x402-facilitator/internal/config"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an external dependency for circuit breaker isolation.
// Each chain family's RPC backend gets its own breaker, plus the FHE proxy
// and peer discovery aggregation.
type ServiceType string

const (
	ServiceEVMRPC         ServiceType = "evm_rpc"
	ServiceSVMRPC         ServiceType = "svm_rpc"
	ServiceNEARRPC        ServiceType = "near_rpc"
	ServiceStellarRPC     ServiceType = "stellar_rpc"
	ServiceAlgorandRPC    ServiceType = "algorand_rpc"
	ServiceSuiRPC         ServiceType = "sui_rpc"
	ServiceFHEProxy       ServiceType = "fhe_proxy"
	ServiceDiscoveryPeers ServiceType = "discovery_peers"
)

// Manager manages circuit breakers for different external services.
// Provides bulkhead isolation - each service has its own circuit breaker
// to prevent cascading failures across service boundaries.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
	log      zerolog.Logger
}

// Config holds circuit breaker configuration for all services.
type Config struct {
	Enabled bool

	EVMRPC         BreakerConfig
	SVMRPC         BreakerConfig
	NEARRPC        BreakerConfig
	StellarRPC     BreakerConfig
	AlgorandRPC    BreakerConfig
	SuiRPC         BreakerConfig
	FHEProxy       BreakerConfig
	DiscoveryPeers BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open. Default: 3
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears. Default: 60s
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// ReadyToTrip is called whenever a request fails in the closed state.
	// If it returns true, the circuit breaker trips to open state.
	// Default: 5 consecutive failures or 50% failure rate over 10 requests
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, log zerolog.Logger) *Manager {
	return NewManager(Config{
		Enabled:        cfg.Enabled,
		EVMRPC:         toBreakerConfig(cfg.EVMRPC),
		SVMRPC:         toBreakerConfig(cfg.SVMRPC),
		NEARRPC:        toBreakerConfig(cfg.NEARRPC),
		StellarRPC:     toBreakerConfig(cfg.StellarRPC),
		AlgorandRPC:    toBreakerConfig(cfg.AlgorandRPC),
		SuiRPC:         toBreakerConfig(cfg.SuiRPC),
		FHEProxy:       toBreakerConfig(cfg.FHEProxy),
		DiscoveryPeers: toBreakerConfig(cfg.DiscoveryPeers),
	}, log)
}

func toBreakerConfig(cfg config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         cfg.MaxRequests,
		Interval:            cfg.Interval.Duration,
		Timeout:             cfg.Timeout.Duration,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		FailureRatio:        cfg.FailureRatio,
		MinRequests:         cfg.MinRequests,
	}
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
		log:      log.With().Str("component", "circuitbreaker").Logger(),
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceEVMRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceEVMRPC), cfg.EVMRPC))
	m.breakers[ServiceSVMRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceSVMRPC), cfg.SVMRPC))
	m.breakers[ServiceNEARRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceNEARRPC), cfg.NEARRPC))
	m.breakers[ServiceStellarRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceStellarRPC), cfg.StellarRPC))
	m.breakers[ServiceAlgorandRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceAlgorandRPC), cfg.AlgorandRPC))
	m.breakers[ServiceSuiRPC] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceSuiRPC), cfg.SuiRPC))
	m.breakers[ServiceFHEProxy] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceFHEProxy), cfg.FHEProxy))
	m.breakers[ServiceDiscoveryPeers] = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(string(ServiceDiscoveryPeers), cfg.DiscoveryPeers))

	return m
}

// Execute wraps a function call with circuit breaker protection.
// If circuit breaker is disabled or not configured for the service, executes directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.config.Enabled {
		return fn()
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}

	return breaker.Execute(fn)
}

// State returns the current state of a circuit breaker.
// Returns "disabled" if circuit breakers are not enabled or service not found.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}

	return breaker.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if !m.config.Enabled {
		return Counts{}
	}

	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}

	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// toGobreakerSettings converts our config to gobreaker.Settings.
func (m *Manager) toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
				if counts.Requests >= cfg.MinRequests {
					failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
					if failureRate >= cfg.FailureRatio {
						return true
					}
				}
			}

			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration,
// shared across every dependency (matches internal/config's defaultBreaker).
func DefaultConfig() Config {
	def := BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	return Config{
		Enabled:        true,
		EVMRPC:         def,
		SVMRPC:         def,
		NEARRPC:        def,
		StellarRPC:     def,
		AlgorandRPC:    def,
		SuiRPC:         def,
		FHEProxy:       def,
		DiscoveryPeers: def,
	}
}
