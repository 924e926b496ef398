package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type LeverageMetrics struct {
	operations         *prometheus.CounterVec
	callbackRejections *prometheus.CounterVec
	dustRefunded       *prometheus.CounterVec
	settlementSeconds  *prometheus.HistogramVec
}

// Operation results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultAborted = "aborted"
)

var (
	leverageOnce     sync.Once
	leverageRegistry *LeverageMetrics
)

// Leverage returns the process-wide metrics, registered with the default
// prometheus registry on first use.
func Leverage() *LeverageMetrics {
	leverageOnce.Do(func() {
		leverageRegistry = NewLeverage(prometheus.DefaultRegisterer)
	})
	return leverageRegistry
}

// NewLeverage builds a metrics set registered with reg.
func NewLeverage(reg prometheus.Registerer) *LeverageMetrics {
	m := &LeverageMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperlever_operations_total",
			Help: "Leverage and deleverage calls by direction and result.",
		}, []string{"direction", "result"}),
		callbackRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperlever_callback_rejections_total",
			Help: "Callback invocations refused by the guard, by reason.",
		}, []string{"reason"}),
		dustRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperlever_dust_refunded_total",
			Help: "Base-asset rounding surplus returned to callers, in WAD units.",
		}, []string{"direction"}),
		settlementSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperlever_settlement_seconds",
			Help:    "Wall time of one leverage or deleverage call.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"direction"}),
	}
	reg.MustRegister(m.operations, m.callbackRejections, m.dustRefunded, m.settlementSeconds)
	return m
}

// ObserveOperation counts one leverage or deleverage call with its result
// (ResultOK, ResultError or ResultAborted).
func (m *LeverageMetrics) ObserveOperation(direction, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(direction, result).Inc()
	m.settlementSeconds.WithLabelValues(direction).Observe(took.Seconds())
}

func (m *LeverageMetrics) ObserveCallbackRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.callbackRejections.WithLabelValues(reason).Inc()
}

func (m *LeverageMetrics) ObserveDustRefunded(direction string, amount *uint256.Int) {
	if m == nil || amount == nil || amount.IsZero() {
		return
	}
	f, _ := new(big.Float).SetInt(amount.ToBig()).Float64()
	m.dustRefunded.WithLabelValues(direction).Add(f)
}
