package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RemiBp/ProofOrigin/logging"
)

var (
	LedgerSequenceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_sequence",
		Help: "Latest transparency log sequence number in the configured namespace.",
	})

	PendingBatchGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pending_anchor_batches",
		Help: "Number of anchor batches waiting for external submission.",
	})

	AnchoredBatchCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anchored_batches_total",
		Help: "Anchor batches confirmed on an external backend.",
	})

	AnchorFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anchor_failures_total",
		Help: "Anchor batches marked failed after exhausting retries.",
	})

	RegistrationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proof_registrations_total",
		Help: "Successfully registered proofs.",
	})

	MetricsItems = []prometheus.Collector{
		LedgerSequenceGauge,
		PendingBatchGauge,
		AnchoredBatchCounter,
		AnchorFailureCounter,
		RegistrationCounter,
	}
)

type Metrics struct {
	httpAddress string
	registry    *prometheus.Registry
	httpServer  *http.Server
}

func NewMetrics(address string) *Metrics {
	return &Metrics{
		httpAddress: address,
		registry:    prometheus.NewRegistry(),
	}
}

func (m *Metrics) Start() {
	m.registry.MustRegister(MetricsItems...)
	go m.serve()
}

func (m *Metrics) serve() {
	router := mux.NewRouter()
	router.Path("/metrics").Handler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.httpServer = &http.Server{
		Addr:    m.httpAddress,
		Handler: router,
	}
	if err := m.httpServer.ListenAndServe(); err != nil {
		logging.Logger.Errorf("failed to listen and serve metrics, err=%s", err.Error())
		panic(err)
	}
}
