package resilience

import "testing"

func TestBulkheadFailFastAdmission(t *testing.T) {
	t.Parallel()

	bulkhead := NewBulkhead(2)

	if !bulkhead.TryAcquire() || !bulkhead.TryAcquire() {
		t.Fatal("first two acquisitions must succeed")
	}
	if bulkhead.TryAcquire() {
		t.Fatal("third acquisition must fail fast, no queuing")
	}
	if got := bulkhead.InFlight(); got != 2 {
		t.Fatalf("InFlight() = %d, want 2", got)
	}

	bulkhead.Release()
	if !bulkhead.TryAcquire() {
		t.Fatal("released slot must be reusable")
	}
}

func TestBulkheadMinimumCapacity(t *testing.T) {
	t.Parallel()

	bulkhead := NewBulkhead(0)
	if !bulkhead.TryAcquire() {
		t.Fatal("zero capacity must clamp to one slot")
	}
	if bulkhead.TryAcquire() {
		t.Fatal("only one slot expected")
	}
}

func TestBulkheadReleaseWithoutAcquire(t *testing.T) {
	t.Parallel()

	bulkhead := NewBulkhead(1)
	bulkhead.Release()
	if got := bulkhead.InFlight(); got != 0 {
		t.Fatalf("InFlight() = %d, want 0", got)
	}
}
