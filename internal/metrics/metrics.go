// Package metrics carries the ambient instrumentation SPEC_FULL.md §2
// wires from the teacher's per-subsystem metrics.go files (internal/
// target/queue/metrics.go, internal/target/remote/metrics.go): counters
// registered once at package init, incremented inline by the packages that
// own the events, never polled or aggregated here.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosmime",
			Subsystem: "store",
			Name:      "imports_total",
			Help:      "Certificates and CRLs imported into a certificate store, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	VerifyOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosmime",
			Subsystem: "sigverify",
			Name:      "outcomes_total",
			Help:      "Per-signer verification outcomes: ok, chain_exception, or no_signer_cert.",
		},
		[]string{"outcome"},
	)

	EnvelopeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gosmime",
			Subsystem: "cms",
			Name:      "envelope_ops_total",
			Help:      "Encrypt/Decrypt calls, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ImportsTotal, VerifyOutcomesTotal, EnvelopeOpsTotal)
}
