package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cashstore/merchant-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// cashback workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	payoutTotal     *prometheus.CounterVec
	payoutAmount    *prometheus.CounterVec
	riskScore       prometheus.Histogram
	flaggedTotal    prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_transitions_total",
		Help: "Cashback status transitions by from and to status",
	}, []string{"from", "to"})

	payoutTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_payouts_total",
		Help: "Payout attempts by outcome",
	}, []string{"outcome"})

	payoutAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cashback_payout_amount_total",
		Help: "Total disbursed amount by outcome",
	}, []string{"outcome"})

	riskScore := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cashback_risk_score",
		Help:    "Risk score distribution of created requests",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	flaggedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cashback_flagged_total",
		Help: "Requests flagged for manual review",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitionTotal, payoutTotal, payoutAmount, riskScore, flaggedTotal, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitionTotal: transitionTotal,
		payoutTotal:     payoutTotal,
		payoutAmount:    payoutAmount,
		riskScore:       riskScore,
		flaggedTotal:    flaggedTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTransition counts a status transition.
func (m *MetricsService) RecordTransition(from, to models.CashbackStatus) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordPayout counts a payout attempt and its disbursed amount.
func (m *MetricsService) RecordPayout(outcome string, amount float64) {
	if m == nil {
		return
	}
	m.payoutTotal.WithLabelValues(outcome).Inc()
	m.payoutAmount.WithLabelValues(outcome).Add(amount)
}

// RecordRiskAssessment observes a newly computed risk score.
func (m *MetricsService) RecordRiskAssessment(assessment models.RiskAssessment) {
	if m == nil {
		return
	}
	m.riskScore.Observe(float64(assessment.RiskScore))
	if assessment.FlaggedForReview {
		m.flaggedTotal.Inc()
	}
}

// RecordCacheOperation counts cache hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
