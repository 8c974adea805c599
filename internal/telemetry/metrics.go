// Package telemetry carries the wallet core's structured logging and prometheus collectors.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "creditwallet"

// Metrics holds every collector exported by walletd.
type Metrics struct {
	gatherer            prometheus.Gatherer
	LedgerOperations    *prometheus.CounterVec
	CreditsMoved        *prometheus.CounterVec
	PaymentSettlements  *prometheus.CounterVec
	APIKeysIssued       prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		gatherer: registry,
		LedgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ledger_operations_total",
				Help:      "Wallet operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		CreditsMoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "credits_moved_total",
				Help:      "Credits moved by successful wallet operations",
			},
			[]string{"operation"},
		),
		PaymentSettlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "payment_settlements_total",
				Help:      "Payment confirmation outcomes",
			},
			[]string{"outcome"},
		),
		APIKeysIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_keys_issued_total",
				Help:      "API keys sold for credits",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordOperation counts a wallet operation and the credits it moved.
func (metrics *Metrics) RecordOperation(operation string, status string, credits int64) {
	if metrics == nil {
		return
	}
	metrics.LedgerOperations.WithLabelValues(operation, status).Inc()
	if credits > 0 {
		metrics.CreditsMoved.WithLabelValues(operation).Add(float64(credits))
	}
}

// RecordSettlement counts a payment confirmation outcome.
func (metrics *Metrics) RecordSettlement(outcome string) {
	if metrics == nil {
		return
	}
	metrics.PaymentSettlements.WithLabelValues(outcome).Inc()
}

// RecordAPIKeyIssued counts a committed key issuance.
func (metrics *Metrics) RecordAPIKeyIssued() {
	if metrics == nil {
		return
	}
	metrics.APIKeysIssued.Inc()
}

// RecordHTTPRequest counts a served request.
func (metrics *Metrics) RecordHTTPRequest(method string, route string, status string, seconds float64) {
	if metrics == nil {
		return
	}
	metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Handler exposes the registry in the prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	if metrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(metrics.gatherer, promhttp.HandlerOpts{})
}
