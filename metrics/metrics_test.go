package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	r.MutationExecuted("batch", "TRANSITION", "ok", 5*time.Millisecond)
	r.MutationExecuted("batch", "TRANSITION", "ok", 3*time.Millisecond)
	r.MutationExecuted("batch", "TRANSITION", "LIFECYCLE_BUSY", time.Millisecond)
	r.LockContention("batch")
	r.AuditAppended("TRANSITION", 2*time.Millisecond)

	if got := testutil.ToFloat64(r.mutations.WithLabelValues("batch", "TRANSITION", "ok")); got != 2 {
		t.Fatalf("expected 2 ok mutations, got %v", got)
	}
	if got := testutil.ToFloat64(r.mutations.WithLabelValues("batch", "TRANSITION", "LIFECYCLE_BUSY")); got != 1 {
		t.Fatalf("expected 1 busy mutation, got %v", got)
	}
	if got := testutil.ToFloat64(r.contention.WithLabelValues("batch")); got != 1 {
		t.Fatalf("expected 1 contention, got %v", got)
	}
}

func TestRecorderDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
