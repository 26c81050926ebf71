package frontier

import "sync"

// Budget caps the number of new queue items one batch may create, in total
// and per source domain.
type Budget struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
	perDomain map[string]int
}

// NewBudget returns a Budget allowing n enqueues; n <= 0 means unlimited.
func NewBudget(n int) *Budget {
	return &Budget{remaining: n, unlimited: n <= 0, perDomain: map[string]int{}}
}

// Take reserves one enqueue and reports whether any budget was left.
func (b *Budget) Take() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited {
		return true
	}
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Refund returns a reservation that did not create a row.
func (b *Budget) Refund() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.unlimited {
		b.remaining++
	}
}

// TakeFor reserves one of the max new items pages of domain may create.
// max <= 0 disables the per-domain cap.
func (b *Budget) TakeFor(domain string, max int) bool {
	if b == nil || max <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.perDomain[domain] >= max {
		return false
	}
	b.perDomain[domain]++
	return true
}

// RefundFor returns a TakeFor reservation that did not create a row.
func (b *Budget) RefundFor(domain string, max int) {
	if b == nil || max <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.perDomain[domain] > 0 {
		b.perDomain[domain]--
	}
}

// CreatedFor reports how many reservations domain currently holds.
func (b *Budget) CreatedFor(domain string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perDomain[domain]
}

// Remaining reports the unused budget, or -1 when unlimited.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited {
		return -1
	}
	return b.remaining
}
