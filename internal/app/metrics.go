package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/transfa/escrow-service/internal/store"
)

// Metrics holds the escrow counters on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	settledAmount  *prometheus.CounterVec
	sweepOrders    *prometheus.CounterVec
	sweepDurations prometheus.Histogram
}

// NewMetrics registers the escrow collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "order_transitions_total",
		Help:      "Order state transition attempts by action and outcome.",
	}, []string{"action", "outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "settlements_total",
		Help:      "Completed escrow settlements by trigger.",
	}, []string{"trigger"})
	settledAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "settled_amount_cents_total",
		Help:      "Money moved out of escrow, in cents, by recipient.",
	}, []string{"recipient"})
	sweepOrders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrow",
		Name:      "auto_release_orders_total",
		Help:      "Orders handled by the auto-release sweep by result.",
	}, []string{"result"})
	sweepDurations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "escrow",
		Name:      "auto_release_sweep_duration_seconds",
		Help:      "Duration of one auto-release sweep.",
		Buckets:   prometheus.DefBuckets,
	})
	registry.MustRegister(transitions, settlements, settledAmount, sweepOrders, sweepDurations)

	return &Metrics{
		registry:       registry,
		transitions:    transitions,
		settlements:    settlements,
		settledAmount:  settledAmount,
		sweepOrders:    sweepOrders,
		sweepDurations: sweepDurations,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeTransition(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if isRejection(err) {
			outcome = "rejected"
		}
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) observeSettlement(trigger string, freelancerEarnings, platformFee int64) {
	m.settlements.WithLabelValues(trigger).Inc()
	m.settledAmount.WithLabelValues("freelancer").Add(float64(freelancerEarnings))
	m.settledAmount.WithLabelValues("platform_fee").Add(float64(platformFee))
}

func (m *Metrics) observeRefund(amount int64) {
	m.settledAmount.WithLabelValues("client_refund").Add(float64(amount))
}

func (m *Metrics) observeSweep(result AutoReleaseResult, elapsed time.Duration) {
	m.sweepOrders.WithLabelValues("processed").Add(float64(result.Processed))
	m.sweepOrders.WithLabelValues("error").Add(float64(result.Errors))
	m.sweepOrders.WithLabelValues("skipped").Add(float64(result.Skipped))
	m.sweepDurations.Observe(elapsed.Seconds())
}

// isRejection reports whether err is an expected business outcome rather than a fault.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrServiceUnavailable, ErrSelfOrder, ErrInvalidPackage, ErrUnknownAddOn,
		ErrForbidden, ErrNotAwaitingPayment, ErrInvalidTransition, ErrNoRevisionsRemaining,
		ErrAlreadySettled, ErrAutoReleaseNotDue, ErrInsufficientBalance, ErrInvalidEscrow, ErrAlreadyReviewed,
		ErrAlreadyResponded, ErrRateLimited, store.ErrOrderNotFound, store.ErrReviewNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
