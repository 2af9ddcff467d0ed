package resilience

// Bulkhead caps concurrent in-flight calls to one service so a slow
// dependency cannot exhaust shared workers. Admission is fail-fast.
type Bulkhead struct {
	slots chan struct{}
}

func NewBulkhead(maxConcurrent int) *Bulkhead {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Bulkhead{slots: make(chan struct{}, maxConcurrent)}
}

// TryAcquire claims a slot without blocking.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot.
func (b *Bulkhead) Release() {
	select {
	case <-b.slots:
	default:
	}
}

// InFlight returns the number of currently admitted calls.
func (b *Bulkhead) InFlight() int {
	return len(b.slots)
}
