package marketauth

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsNoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricVerifyLatency, time.Millisecond)

	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("expected disabled metrics to stay zero")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("expected empty snapshot")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	if nilMetrics.Enabled() || nilMetrics.Value(MetricLoginSuccess) != 0 {
		t.Fatal("expected nil metrics to be inert")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricPermissionGranted)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricPermissionGranted); got != 16000 {
		t.Fatalf("expected 16000, got %d", got)
	}
}

func TestMetricsSnapshotExcludesHistogramFromCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(MetricLogout)
	m.Observe(MetricVerifyLatency, 30*time.Microsecond)
	m.Observe(MetricVerifyLatency, 2*time.Millisecond)
	m.Observe(MetricVerifyLatency, time.Second)
	// only the latency metric keeps a histogram
	m.Observe(MetricLogout, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Counters[MetricVerifyLatency]; ok {
		t.Fatal("expected latency to be absent from counters")
	}
	if len(snap.Counters) != MetricIDCount-1 {
		t.Fatalf("expected %d counters, got %d", MetricIDCount-1, len(snap.Counters))
	}
	if snap.Counters[MetricLogout] != 1 {
		t.Fatalf("expected one logout, got %d", snap.Counters[MetricLogout])
	}

	buckets := snap.Histograms[MetricVerifyLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[5] != 1 || buckets[histBucketCount-1] != 1 {
		t.Fatalf("unexpected bucket distribution %v", buckets)
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{50 * time.Microsecond, 0},
		{51 * time.Microsecond, 1},
		{250 * time.Microsecond, 2},
		{time.Millisecond, 4},
		{5 * time.Millisecond, 5},
		{25 * time.Millisecond, 6},
		{26 * time.Millisecond, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
