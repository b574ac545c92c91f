package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Usage metrics
	UsageMegabytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icerotate_usage_megabytes",
			Help: "Traffic consumed in the current connection epoch",
		},
	)

	QuotaMegabytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icerotate_quota_megabytes",
			Help: "Configured traffic quota per connection epoch",
		},
	)

	BaselineMegabytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icerotate_baseline_megabytes",
			Help: "Cumulative interface usage at the start of the current epoch",
		},
	)

	EpochStartTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "icerotate_epoch_start_timestamp_seconds",
			Help: "Unix time at which the current connection epoch began",
		},
	)

	PollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "icerotate_polls_total",
			Help: "Total usage polls performed",
		},
	)

	// Reconnect metrics
	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icerotate_reconnects_total",
			Help: "Total reconnect attempts",
		},
		[]string{"result"},
	)

	ReconnectStepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icerotate_reconnect_step_failures_total",
			Help: "Reconnect failures by step",
		},
		[]string{"step"},
	)

	ReconnectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "icerotate_reconnect_duration_seconds",
			Help:    "Duration of the full reconnect sequence",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		UsageMegabytes,
		QuotaMegabytes,
		BaselineMegabytes,
		EpochStartTimestamp,
		PollsTotal,
		ReconnectsTotal,
		ReconnectStepFailures,
		ReconnectDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
