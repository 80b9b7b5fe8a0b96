package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.ObserveCycle(true, time.Second)
	m.ObserveCycle(false, time.Second)
	m.ObserveSend("telegram", true, 10*time.Millisecond)
	m.ObserveSend("telegram", false, 10*time.Millisecond)
	m.ObserveSend("telegram", true, 10*time.Millisecond)
	m.AddNew(3)
	m.AddNew(0)
	m.SetRetryCount(2)

	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("error cycles=%v", got)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("telegram", "success")); got != 2 {
		t.Fatalf("telegram successes=%v", got)
	}
	if got := testutil.ToFloat64(m.ListingsNew); got != 3 {
		t.Fatalf("new listings=%v", got)
	}
	if got := testutil.ToFloat64(m.RetryCount); got != 2 {
		t.Fatalf("retry gauge=%v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle(true, time.Second)
	m.ObserveSend("email", false, time.Second)
	m.AddFound(1)
	m.AddSuppressed(1)
	m.IncSearchError()
	m.SetRetryCount(1)
	m.SetStoreRecords(1)
}
