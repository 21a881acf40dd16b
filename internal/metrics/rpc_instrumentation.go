package metrics

import (
	"time"
)

// MeasureRPCCall wraps a chain provider RPC call with timing instrumentation.
// Usage:
//
//	done := metrics.MeasureRPCCall(m, "evm", "eip155:8453", "eth_getTransactionReceipt")
//	receipt, err := client.TransactionReceipt(ctx, hash)
//	done(err)
func MeasureRPCCall(m *Metrics, family, network, method string) func(error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		m.ObserveRPCCall(family, network, method, time.Since(start), err)
	}
}
