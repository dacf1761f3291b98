package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLBMetricsRecordActivity(t *testing.T) {
	m := LB()
	m.ObserveSwap("test-pair", true, 3, 8388607)
	m.ObserveSwap("test-pair", false, 0, 8388608)
	m.ObserveRejection("test-pair", "swap", "")
	m.AddRoundingDust("test-pair", 4, 0)
	m.ObserveEpoch("test-pair", true)

	if got := testutil.ToFloat64(m.swaps.WithLabelValues("test-pair", "x_to_y")); got != 1 {
		t.Fatalf("x_to_y swaps = %v", got)
	}
	if got := testutil.ToFloat64(m.activeID.WithLabelValues("test-pair")); got != 8388608 {
		t.Fatalf("active id gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.rejections.WithLabelValues("test-pair", "swap", "unknown")); got != 1 {
		t.Fatalf("rejections = %v", got)
	}
	if got := testutil.ToFloat64(m.roundingDust.WithLabelValues("test-pair", "x")); got != 4 {
		t.Fatalf("dust = %v", got)
	}
	if got := testutil.ToFloat64(m.epochs.WithLabelValues("test-pair", "empty")); got != 1 {
		t.Fatalf("epochs = %v", got)
	}
	var nilMetrics *LBMetrics
	nilMetrics.ObserveSwap("x", true, 0, 0)
}
