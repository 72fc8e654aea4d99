// Package monitoring reports server errors and panics to Sentry.
package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5/middleware"

	"fleet-dispatch/pkg/logger"
)

// Config holds Sentry settings. An empty DSN disables reporting.
type Config struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	Release          string  `json:"release"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
}

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Flush(timeout time.Duration)
}

// NopMonitor drops everything.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Flush(time.Duration)                       {}

// New initializes Sentry, or returns a NopMonitor when no DSN is set.
func New(cfg Config) (Monitor, error) {
	if cfg.DSN == "" {
		return NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: cfg.TracesSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &sentryMonitor{}, nil
}

type sentryMonitor struct{}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }

// Middleware recovers panics and reports them together with every 5xx
// response.
func Middleware(m Monitor, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			tags := map[string]string{"method": r.Method, "path": r.URL.Path}
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					err := fmt.Errorf("panic: %v", rec)
					log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
					m.CaptureException(err, tags)
					if ww.Status() == 0 {
						ww.WriteHeader(http.StatusInternalServerError)
					}
					return
				}
				if ww.Status() >= http.StatusInternalServerError {
					err := fmt.Errorf("%s %s returned %d", r.Method, r.URL.Path, ww.Status())
					log.Errorf("%v", err)
					m.CaptureException(err, tags)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
