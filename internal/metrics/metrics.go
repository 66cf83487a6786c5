// Package metrics registers prometheus collectors for the engine and serves
// them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Trades by chain, direction, and terminal status"},
		[]string{"chain", "direction", "status"},
	)
	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rpc_retries_total", Help: "Transient RPC failures that triggered a retry"},
		[]string{"chain", "op"},
	)
	VaultOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vault_ops_total", Help: "Key vault operations by kind and outcome"},
		[]string{"op", "outcome"},
	)
	TokenScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "token_scans_total", Help: "Token inspections by chain and outcome"},
		[]string{"chain", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(TradesTotal, RPCRetriesTotal, VaultOpsTotal, TokenScansTotal)
}

// Serve exposes /metrics on addr and returns the server so callers can shut
// it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
