// Package scanner holds the two book sweepers and the symbol ownership
// registry that keeps them off symbols the tracking stages already watch.
package scanner

import "sync"

// Stage names used as ownership claims.
const (
	OwnerObserver = "observer"
	OwnerHot      = "hot"
)

// Ownership is the exclusion set for the general scanner. A symbol is
// excluded while any stage holds a claim on it; the observer and hot stages
// claim independently so a symbol stays excluded as long as either still
// tracks an order on it.
type Ownership struct {
	mu     sync.RWMutex
	claims map[string]map[string]struct{}
}

// NewOwnership builds an empty registry.
func NewOwnership() *Ownership {
	return &Ownership{claims: make(map[string]map[string]struct{})}
}

// Claim marks symbol as owned by stage. Claiming twice is a no-op.
func (o *Ownership) Claim(symbol, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owners, ok := o.claims[symbol]
	if !ok {
		owners = make(map[string]struct{}, 2)
		o.claims[symbol] = owners
	}
	owners[stage] = struct{}{}
}

// Release removes stage's claim. The symbol returns to the scanner's
// universe once the last claim is gone.
func (o *Ownership) Release(symbol, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owners, ok := o.claims[symbol]
	if !ok {
		return
	}
	delete(owners, stage)
	if len(owners) == 0 {
		delete(o.claims, symbol)
	}
}

// Owned reports whether any stage holds the symbol.
func (o *Ownership) Owned(symbol string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.claims[symbol]
	return ok
}

// Count returns the number of owned symbols.
func (o *Ownership) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.claims)
}
