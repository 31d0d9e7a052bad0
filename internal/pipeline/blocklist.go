package pipeline

import (
	"sync"
	"time"
)

// Blocklist is an in-memory set of blocked source addresses with optional
// expiry. The webhook ingest middleware consults it before accepting
// traffic.
type Blocklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time // zero time means no expiry
}

// NewBlocklist returns an empty blocklist.
func NewBlocklist() *Blocklist {
	return &Blocklist{entries: map[string]time.Time{}}
}

// Block adds an address for the given duration; zero blocks indefinitely.
func (b *Blocklist) Block(ip string, d time.Duration) {
	if ip == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if d <= 0 {
		b.entries[ip] = time.Time{}
		return
	}
	b.entries[ip] = time.Now().Add(d)
}

// Unblock removes an address.
func (b *Blocklist) Unblock(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, ip)
}

// Blocked reports whether an address is currently blocked, pruning expired
// entries as a side effect.
func (b *Blocklist) Blocked(ip string) bool {
	b.mu.RLock()
	expiry, ok := b.entries[ip]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if !expiry.IsZero() && time.Now().After(expiry) {
		b.Unblock(ip)
		return false
	}
	return true
}

// Len returns the number of currently tracked addresses.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
