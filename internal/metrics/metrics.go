package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradebot_runs_total", Help: "Completed run cycles by mode and result"},
		[]string{"mode", "result"},
	)
	SymbolsScannedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradebot_symbols_scanned_total", Help: "Symbols considered by the scanner"},
	)
	CandidatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradebot_candidates_total", Help: "Candidates forwarded to the strategy"},
	)
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradebot_intents_total", Help: "Trade intents generated"},
		[]string{"side"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradebot_orders_total", Help: "Order outcomes by final status"},
		[]string{"symbol", "side", "status"},
	)
	OrderRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradebot_order_retries_total", Help: "Order attempts retried after a transient failure"},
	)
	BarFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradebot_bar_fetches_total", Help: "Bar series requests by provider and result"},
		[]string{"provider", "result"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradebot_cache_lookups_total", Help: "Bar cache lookups by result"},
		[]string{"result"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradebot_run_duration_seconds",
			Help:    "Wall time of one run cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		SymbolsScannedTotal,
		CandidatesTotal,
		IntentsTotal,
		OrdersTotal,
		OrderRetriesTotal,
		BarFetchesTotal,
		CacheLookupsTotal,
		RunDuration,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// WriteTextfile dumps the default registry in the node_exporter textfile format.
// One-shot runs use it instead of Serve since the process exits before any scrape.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
