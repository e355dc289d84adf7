package internaldefs

import (
	"strings"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
)

func TestCumulativePadsShortInput(t *testing.T) {
	got := Cumulative([]uint64{1, 2, 3})
	want := [BucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("Cumulative=%v, want %v", got, want)
	}
}

func TestDefinitionsAreUnique(t *testing.T) {
	names := map[string]bool{AuditDroppedName: true}
	ids := map[goGuard.MetricID]bool{}
	for _, d := range CounterDefs {
		if names[d.Name] || ids[d.ID] {
			t.Fatalf("duplicate counter definition %s", d.Name)
		}
		if !strings.HasPrefix(d.Name, "goguard_") || !strings.HasSuffix(d.Name, "_total") {
			t.Fatalf("counter %s does not follow naming", d.Name)
		}
		names[d.Name] = true
		ids[d.ID] = true
	}
	for _, d := range HistogramDefs {
		if ids[d.ID] {
			t.Fatalf("histogram %s reuses a counter id", d.Name)
		}
	}
}

func TestEveryCounterExported(t *testing.T) {
	snap := goGuard.NewMetrics(goGuard.MetricsConfig{Enabled: true}).Snapshot()
	if len(snap.Counters) != len(CounterDefs) {
		t.Fatalf("engine has %d counters, %d exported", len(snap.Counters), len(CounterDefs))
	}
}
