// Package metrics exposes Prometheus counters for authentication events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by services and middleware.
type Recorder interface {
	RecordAuthEvent(event, outcome string)
	RecordTokenVerificationFailure(reason string)
	RecordSecurityTokenIssued(tokenType string)
	RecordRateLimited(limiter string)
	RecordMailEnqueued(kind, outcome string)
}

type Collector struct {
	authEvents          *prometheus.CounterVec
	verificationFailure *prometheus.CounterVec
	tokensIssued        *prometheus.CounterVec
	rateLimited         *prometheus.CounterVec
	mailEnqueued        *prometheus.CounterVec
}

// NewCollector registers the service counters with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_auth_events_total",
			Help: "Authentication use case executions by event and outcome.",
		}, []string{"event", "outcome"}),
		verificationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_token_verification_failures_total",
			Help: "Rejected access tokens by reason.",
		}, []string{"reason"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_security_tokens_issued_total",
			Help: "Security tokens issued by type.",
		}, []string{"type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		mailEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsvc_mail_enqueued_total",
			Help: "Outbound mail messages handed to the outbox.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.verificationFailure,
		c.tokensIssued,
		c.rateLimited,
		c.mailEnqueued,
	)

	return c
}

func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) RecordTokenVerificationFailure(reason string) {
	c.verificationFailure.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordSecurityTokenIssued(tokenType string) {
	c.tokensIssued.WithLabelValues(tokenType).Inc()
}

func (c *Collector) RecordRateLimited(limiter string) {
	c.rateLimited.WithLabelValues(limiter).Inc()
}

func (c *Collector) RecordMailEnqueued(kind, outcome string) {
	c.mailEnqueued.WithLabelValues(kind, outcome).Inc()
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAuthEvent(string, string)        {}
func (Nop) RecordTokenVerificationFailure(string) {}
func (Nop) RecordSecurityTokenIssued(string)      {}
func (Nop) RecordRateLimited(string)              {}
func (Nop) RecordMailEnqueued(string, string)     {}
