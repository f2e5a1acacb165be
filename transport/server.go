package transport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/creastat/voiceflow/conversation"
	"github.com/creastat/voiceflow/internal/metrics"
)

// Options configures the HTTP surface.
type Options struct {
	Registry *conversation.Registry
	Metrics  *metrics.Collector
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewHandler returns the service's HTTP routes.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/media", &MediaHandler{Registry: opts.Registry, Logger: logger})
	mux.Handle("/v1/chat", &ChatHandler{Registry: opts.Registry, Logger: logger.With(zap.String("component", "chat"))})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": opts.Registry.Len(),
		})
	})
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return instrument(mux, opts.Metrics)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func instrument(next http.Handler, m *metrics.Collector) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/media" {
			// the upgrader needs the raw writer to hijack the connection
			m.RecordHTTPRequest(r.URL.Path, http.StatusSwitchingProtocols)
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.URL.Path, rec.status)
	})
}
