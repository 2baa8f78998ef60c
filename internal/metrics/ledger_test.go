package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestLedgerMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.Observe("transfer", 20*time.Millisecond, "", nil)
	m.Observe("transfer", 5*time.Millisecond, "insufficient_funds", errors.New("no"))
	m.AddEntries("transfer_out", 1)
	m.AddEntries("transfer_in", 1)
	m.SetPool("cash", "usd", 12.5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchValue(mfs, "cashbox_operation_success_total", map[string]string{"operation": "transfer"}); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}
	if got, err := fetchValue(mfs, "cashbox_operation_failure_total", map[string]string{"operation": "transfer", "code": "insufficient_funds"}); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}
	if got, err := fetchValue(mfs, "cashbox_entries_written_total", map[string]string{"type": "transfer_in"}); err != nil {
		t.Fatalf("fetch entries: %v", err)
	} else if got != 1 {
		t.Fatalf("expected entries=1, got %f", got)
	}
	if got, err := fetchValue(mfs, "cashbox_pool_balance", map[string]string{"account": "cash", "currency": "usd"}); err != nil {
		t.Fatalf("fetch pool: %v", err)
	} else if got != 12.5 {
		t.Fatalf("expected pool=12.5, got %f", got)
	}
	if got, err := fetchValue(mfs, "cashbox_operation_duration_seconds", map[string]string{"operation": "transfer"}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var m *LedgerMetrics
	m.Observe("x", time.Second, "", nil)
	m.AddEntries("x", 1)
	m.SetPool("cash", "usd", 1)

	NewLedgerMetrics(nil).Observe("x", time.Second, "", nil)
}

func fetchValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !matchesLabels(metric.GetLabel(), labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue(), nil
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue(), nil
			case metric.GetHistogram() != nil:
				return metric.GetHistogram().GetSampleSum(), nil
			}
		}
		return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v == p.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
