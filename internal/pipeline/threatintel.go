package pipeline

import (
	"sync"
)

// ThreatIntelligence answers whether a source address is a known threat.
// The static implementation below is a stub; a feed-backed implementation
// can be swapped in without touching the scorer or the rules.
type ThreatIntelligence interface {
	IsKnownThreat(ipAddress string) bool
}

// StaticThreatIntel is an in-memory known-bad address set.
type StaticThreatIntel struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

// NewStaticThreatIntel seeds the set with the provided addresses.
func NewStaticThreatIntel(ips ...string) *StaticThreatIntel {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return &StaticThreatIntel{ips: set}
}

// Add marks an address as a known threat.
func (t *StaticThreatIntel) Add(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ips[ip] = struct{}{}
}

func (t *StaticThreatIntel) IsKnownThreat(ip string) bool {
	if ip == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ips[ip]
	return ok
}
