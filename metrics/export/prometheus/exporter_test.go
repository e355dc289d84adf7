package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot goGuard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goGuard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestDisabledMetricsExportOnlyDropped(t *testing.T) {
	c := NewCollector(fakeSource{snapshot: goGuard.MetricsSnapshot{
		Counters:   map[goGuard.MetricID]uint64{},
		Histograms: map[goGuard.MetricID][]uint64{},
	}})
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricLoginSuccess: 7,
				goGuard.MetricLoginLocked:  2,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	})

	expected := `
# HELP goguard_login_success_total Successful sign-ins.
# TYPE goguard_login_success_total counter
goguard_login_success_total 7
# HELP goguard_audit_dropped_total Audit events dropped because the async buffer was full.
# TYPE goguard_audit_dropped_total counter
goguard_audit_dropped_total 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"goguard_login_success_total", "goguard_audit_dropped_total"))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "goguard_login_latency_seconds" {
			continue
		}
		found = true
		h := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(36), h.GetSampleCount())
		require.Len(t, h.GetBucket(), len(internaldefs.UpperBounds))
		assert.Equal(t, uint64(1), h.GetBucket()[0].GetCumulativeCount())
		assert.Equal(t, uint64(28), h.GetBucket()[6].GetCumulativeCount())
	}
	assert.True(t, found, "latency histogram missing")
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	m := goGuard.NewMetrics(goGuard.MetricsConfig{Enabled: true})
	m.Inc(goGuard.MetricLogout)

	h, err := Handler(snapshotSource{m})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "goguard_logout_total 1")
}

type snapshotSource struct{ m *goGuard.Metrics }

func (s snapshotSource) MetricsSnapshot() goGuard.MetricsSnapshot { return s.m.Snapshot() }
func (s snapshotSource) AuditDropped() uint64                     { return 0 }

func BenchmarkCollect(b *testing.B) {
	c := NewCollector(fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricLoginSuccess:  1000,
				goGuard.MetricLoginFailure:  40,
				goGuard.MetricSessionIssued: 1000,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricLoginLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Gather()
	}
}
