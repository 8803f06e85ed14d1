package web

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot/pkg/events"
	"github.com/go-go-golems/chatbot/pkg/helpers"
)

// Metrics groups the Prometheus instruments of the chat server.
type Metrics struct {
	Turns         *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	Fragments     prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
	WSMessages    *prometheus.CounterVec
	ActiveStreams prometheus.Gauge
	Flags         *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. A nil reg gets a private registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of successful turns in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Fragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Streamed reply fragments.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Chat API requests by route and status.",
		}, []string{"route", "status"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streamed turns in flight.",
		}),
		Flags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flags_total",
			Help:      "Replies flagged from the chat page by option.",
		}, []string{"option"}),
		gatherer: reg,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TurnMetricsHandler counts turn events published on the event router.
type TurnMetricsHandler struct {
	metrics *Metrics
}

var _ events.ChatEventHandler = (*TurnMetricsHandler)(nil)

func NewTurnMetricsHandler(m *Metrics) *TurnMetricsHandler {
	return &TurnMetricsHandler{metrics: m}
}

func (h *TurnMetricsHandler) HandleStart(ctx context.Context, e *events.EventStart) error {
	sessionID, _ := helpers.SessionIDFromContext(ctx)
	log.Debug().Object("meta", e.Metadata()).Str("session", sessionID).Msg("turn started")
	return nil
}

func (h *TurnMetricsHandler) HandlePartialCompletion(_ context.Context, _ *events.EventPartialCompletion) error {
	h.metrics.Fragments.Inc()
	return nil
}

func (h *TurnMetricsHandler) HandleFinal(_ context.Context, e *events.EventFinal) error {
	h.metrics.Turns.WithLabelValues("success", "").Inc()
	if d := e.Metadata().DurationMs; d != nil {
		h.metrics.TurnDuration.Observe((time.Duration(*d) * time.Millisecond).Seconds())
	}
	return nil
}

func (h *TurnMetricsHandler) HandleError(_ context.Context, e *events.EventError) error {
	h.metrics.Turns.WithLabelValues("failure", e.Kind).Inc()
	log.Debug().Object("meta", e.Metadata()).Str("kind", e.Kind).Str("error", e.ErrorString).Msg("turn failed")
	return nil
}
