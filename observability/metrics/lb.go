package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LBMetrics tracks pair activity exported by lbpaird.
type LBMetrics struct {
	swaps        *prometheus.CounterVec
	binsCrossed  *prometheus.HistogramVec
	liquidity    *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	activeID     *prometheus.GaugeVec
	protocolFees *prometheus.GaugeVec
	roundingDust *prometheus.CounterVec
	epochs       *prometheus.CounterVec
}

var (
	lbOnce     sync.Once
	lbRegistry *LBMetrics
)

// LB returns the process-wide pair metrics registry.
func LB() *LBMetrics {
	lbOnce.Do(func() {
		lbRegistry = &LBMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lb_swaps_total",
				Help: "Committed swaps by pair and direction.",
			}, []string{"pair", "direction"}),
			binsCrossed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lb_swap_bins_crossed",
				Help:    "Number of bins a committed swap moved the active id across.",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
			}, []string{"pair"}),
			liquidity: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lb_liquidity_operations_total",
				Help: "Committed liquidity additions and removals by pair.",
			}, []string{"pair", "operation"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lb_rejections_total",
				Help: "Rejected pair calls by operation and error kind.",
			}, []string{"pair", "operation", "kind"}),
			activeID: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lb_active_id",
				Help: "Current active bin id.",
			}, []string{"pair"}),
			protocolFees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lb_protocol_fees",
				Help: "Uncollected protocol fees by token side. Values above 2^53 lose precision.",
			}, []string{"pair", "token"}),
			roundingDust: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lb_rounding_dust_total",
				Help: "Deposit amounts left unallocated by distribution rounding.",
			}, []string{"pair", "token"}),
			epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lb_reward_epochs_total",
				Help: "Closed reward epochs by outcome.",
			}, []string{"pair", "outcome"}),
		}
		prometheus.MustRegister(
			lbRegistry.swaps,
			lbRegistry.binsCrossed,
			lbRegistry.liquidity,
			lbRegistry.rejections,
			lbRegistry.activeID,
			lbRegistry.protocolFees,
			lbRegistry.roundingDust,
			lbRegistry.epochs,
		)
	})
	return lbRegistry
}

func (m *LBMetrics) ObserveSwap(pair string, swapForY bool, binsCrossed int, activeID uint32) {
	if m == nil {
		return
	}
	direction := "y_to_x"
	if swapForY {
		direction = "x_to_y"
	}
	m.swaps.WithLabelValues(pair, direction).Inc()
	m.binsCrossed.WithLabelValues(pair).Observe(float64(binsCrossed))
	m.activeID.WithLabelValues(pair).Set(float64(activeID))
}

func (m *LBMetrics) ObserveLiquidity(pair, operation string, activeID uint32) {
	if m == nil {
		return
	}
	m.liquidity.WithLabelValues(pair, operation).Inc()
	m.activeID.WithLabelValues(pair).Set(float64(activeID))
}

func (m *LBMetrics) ObserveRejection(pair, operation, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.rejections.WithLabelValues(pair, operation, kind).Inc()
}

// SetProtocolFees publishes the uncollected protocol fees per token side.
func (m *LBMetrics) SetProtocolFees(pair string, x, y float64) {
	if m == nil {
		return
	}
	m.protocolFees.WithLabelValues(pair, "x").Set(x)
	m.protocolFees.WithLabelValues(pair, "y").Set(y)
}

func (m *LBMetrics) AddRoundingDust(pair string, x, y float64) {
	if m == nil {
		return
	}
	if x > 0 {
		m.roundingDust.WithLabelValues(pair, "x").Add(x)
	}
	if y > 0 {
		m.roundingDust.WithLabelValues(pair, "y").Add(y)
	}
}

func (m *LBMetrics) ObserveEpoch(pair string, empty bool) {
	if m == nil {
		return
	}
	outcome := "distributed"
	if empty {
		outcome = "empty"
	}
	m.epochs.WithLabelValues(pair, outcome).Inc()
}
