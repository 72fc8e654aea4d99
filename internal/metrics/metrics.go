// Package metrics records operational counters for the dispatch service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Position sources.
const (
	SourceWebsocket = "websocket"
	SourceHTTP      = "http"
	SourceMQTT      = "mqtt"
)

type sourceKey struct{}

// WithSource tags ctx with the channel a position sample arrived on.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the position source carried by ctx, defaulting to HTTP.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok {
		return s
	}
	return SourceHTTP
}

// Sink receives operational measurements. Implementations must be safe for
// concurrent use.
type Sink interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	MessageSent(event string)
	PositionReceived(source string, recorded bool)
	RetentionDeleted(kind string, n int64)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) ConnectionOpened(string)        {}
func (Nop) ConnectionClosed(string)        {}
func (Nop) MessageSent(string)             {}
func (Nop) PositionReceived(string, bool)  {}
func (Nop) RetentionDeleted(string, int64) {}

// PromSink records measurements in Prometheus collectors.
type PromSink struct {
	connections *prometheus.GaugeVec
	messages    *prometheus.CounterVec
	positions   *prometheus.CounterVec
	retention   *prometheus.CounterVec
	requests    *prometheus.HistogramVec
	gatherer    prometheus.Gatherer
}

// NewPromSink registers the collectors on reg. A nil reg uses the default
// registry. Collectors that are already registered are reused.
func NewPromSink(reg *prometheus.Registry) (*PromSink, error) {
	var r prometheus.Registerer = prometheus.DefaultRegisterer
	var g prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		r, g = reg, reg
	}

	s := &PromSink{gatherer: g}
	var err error
	if s.connections, err = register(r, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open realtime connections by role",
	}, []string{"role"})); err != nil {
		return nil, err
	}
	if s.messages, err = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_messages_sent_total",
		Help: "Realtime messages pushed to clients by event name",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if s.positions, err = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "positions_received_total",
		Help: "Driver position samples received by source and whether an active trip recorded them",
	}, []string{"source", "recorded"})); err != nil {
		return nil, err
	}
	if s.retention, err = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_deleted_total",
		Help: "Records removed by the retention sweep",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if s.requests, err = register(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	if err := r.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) ConnectionOpened(role string) { s.connections.WithLabelValues(role).Inc() }
func (s *PromSink) ConnectionClosed(role string) { s.connections.WithLabelValues(role).Dec() }
func (s *PromSink) MessageSent(event string)     { s.messages.WithLabelValues(event).Inc() }

func (s *PromSink) PositionReceived(source string, recorded bool) {
	s.positions.WithLabelValues(source, strconv.FormatBool(recorded)).Inc()
}

func (s *PromSink) RetentionDeleted(kind string, n int64) {
	s.retention.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PromSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Middleware observes request latency labelled by the matched chi route
// pattern, so path parameters do not explode cardinality.
func (s *PromSink) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
