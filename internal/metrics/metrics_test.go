package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCounters(t *testing.T) {
	before := testutil.ToFloat64(eventsProcessed.WithLabelValues("metrics.test"))
	RecordProcessed("metrics.test", 2*time.Millisecond)
	RecordProcessed("metrics.test", 3*time.Millisecond)
	after := testutil.ToFloat64(eventsProcessed.WithLabelValues("metrics.test"))
	if after-before != 2 {
		t.Errorf("processed counter advanced by %v, want 2", after-before)
	}

	before = testutil.ToFloat64(eventsOrphaned.WithLabelValues("metrics.orphan"))
	RecordOrphaned("metrics.orphan")
	after = testutil.ToFloat64(eventsOrphaned.WithLabelValues("metrics.orphan"))
	if after-before != 1 {
		t.Errorf("orphan counter advanced by %v, want 1", after-before)
	}

	before = testutil.ToFloat64(eventsDenied.WithLabelValues("metrics.denied"))
	RecordDenied("metrics.denied")
	after = testutil.ToFloat64(eventsDenied.WithLabelValues("metrics.denied"))
	if after-before != 1 {
		t.Errorf("denied counter advanced by %v, want 1", after-before)
	}

	before = testutil.ToFloat64(eventsErrored.WithLabelValues("ValidationError"))
	RecordErrored("ValidationError")
	after = testutil.ToFloat64(eventsErrored.WithLabelValues("ValidationError"))
	if after-before != 1 {
		t.Errorf("errored counter advanced by %v, want 1", after-before)
	}
}

func TestRegistryGathers(t *testing.T) {
	RecordProcessed("metrics.gather", time.Millisecond)
	families, err := Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "aios_processor_events_processed_total" {
			found = true
		}
	}
	if !found {
		t.Error("aios_processor_events_processed_total not present in Registry.Gather output")
	}
}
