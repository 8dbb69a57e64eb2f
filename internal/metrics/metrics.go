// Package metrics provides raffle engine metrics collection.
// It wraps Prometheus collectors on a private registry and implements
// raffle.Recorder so the engine can report deposits, draws, settlements,
// claims, and invariant breaches.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/raffle_engine/services/raffle"
)

var _ raffle.Recorder = (*Collector)(nil)

// Collector provides raffle metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Engine metrics
	deposits            *prometheus.CounterVec
	depositUSD          *prometheus.CounterVec
	poolUSD             prometheus.Gauge
	currentGame         prometheus.Gauge
	drawsRequested      prometheus.Counter
	fulfillments        *prometheus.CounterVec
	settlements         *prometheus.CounterVec
	claims              *prometheus.CounterVec
	invariantViolations prometheus.Counter
	operationLatency    *prometheus.HistogramVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewCollector creates a collector. An empty namespace defaults to "raffle".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "raffle"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.deposits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "total",
			Help:      "Total number of accepted deposits",
		},
		[]string{"token"},
	)

	c.depositUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "usd_total",
			Help:      "Total USD value of accepted deposits",
		},
		[]string{"token"},
	)

	c.poolUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "pool_usd",
		Help:      "USD value of the current game's pool",
	})

	c.currentGame = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "game",
		Name:      "current_id",
		Help:      "Id of the most recently updated game",
	})

	c.drawsRequested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "draw",
		Name:      "requested_total",
		Help:      "Total number of randomness requests issued",
	})

	c.fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "draw",
			Name:      "fulfillments_total",
			Help:      "Total number of randomness fulfillments by result code",
		},
		[]string{"result"},
	)

	c.settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "total",
			Help:      "Total number of settlement attempts by result code",
		},
		[]string{"result"},
	)

	c.claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claim",
			Name:      "total",
			Help:      "Total number of claim attempts by result code",
		},
		[]string{"result"},
	)

	c.invariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "invariant_violations_total",
		Help:      "Ledger invariant breaches detected; any non-zero value needs investigation",
	})

	c.operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "operation",
			Name:      "duration_seconds",
			Help:      "Latency of engine operations",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"operation", "result"},
	)

	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight",
		Help:      "Current number of in-flight HTTP requests",
	})

	c.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the collector was created",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	c.registry.MustRegister(
		c.deposits,
		c.depositUSD,
		c.poolUSD,
		c.currentGame,
		c.drawsRequested,
		c.fulfillments,
		c.settlements,
		c.claims,
		c.invariantViolations,
		c.operationLatency,
		c.httpRequests,
		c.httpLatency,
		c.httpInFlight,
		c.uptime,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordDeposit counts an accepted deposit and its USD value.
func (c *Collector) RecordDeposit(token string, usd *big.Int) {
	c.deposits.WithLabelValues(token).Inc()
	c.depositUSD.WithLabelValues(token).Add(usdFloat(usd))
}

// RecordPool sets the pool gauge for gameID.
func (c *Collector) RecordPool(gameID uint64, usd *big.Int) {
	c.currentGame.Set(float64(gameID))
	c.poolUSD.Set(usdFloat(usd))
}

// RecordDrawRequested counts a randomness request.
func (c *Collector) RecordDrawRequested() {
	c.drawsRequested.Inc()
}

// RecordFulfillment counts a fulfillment attempt.
func (c *Collector) RecordFulfillment(err error) {
	c.fulfillments.WithLabelValues(result(err)).Inc()
}

// RecordSettlement counts a settlement attempt.
func (c *Collector) RecordSettlement(err error) {
	c.settlements.WithLabelValues(result(err)).Inc()
}

// RecordClaim counts a claim attempt.
func (c *Collector) RecordClaim(err error) {
	c.claims.WithLabelValues(result(err)).Inc()
}

// RecordInvariantViolation counts a detected ledger breach.
func (c *Collector) RecordInvariantViolation() {
	c.invariantViolations.Inc()
}

// ObserveOperation records the latency of an engine operation.
func (c *Collector) ObserveOperation(op string, err error, seconds float64) {
	c.operationLatency.WithLabelValues(op, result(err)).Observe(seconds)
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight marks an HTTP request as started.
func (c *Collector) IncrementInFlight() {
	c.httpInFlight.Inc()
}

// DecrementInFlight marks an HTTP request as finished.
func (c *Collector) DecrementInFlight() {
	c.httpInFlight.Dec()
}

func result(err error) string {
	if err == nil {
		return "success"
	}
	return raffle.CodeOf(err)
}

func usdFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -raffle.USDDecimals).InexactFloat64()
}
