package usecase

import (
	"sync"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
)

// PendingSet tracks addresses a source is currently servicing. The first
// request for an address becomes the leader; later requests attach as
// followers and are completed with the leader's outcome.
//
// The mutex is held only while the membership map changes, never across
// store or network I/O.
type PendingSet struct {
	mu      sync.Mutex
	entries map[tile.Address][]tile.Callback
}

func NewPendingSet() *PendingSet {
	return &PendingSet{
		entries: make(map[tile.Address][]tile.Callback),
	}
}

// TryBegin marks addr as in flight. It returns false if it already was.
func (p *PendingSet) TryBegin(addr tile.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[addr]; ok {
		return false
	}
	p.entries[addr] = nil

	return true
}

// Attach registers cb to be completed with the leader's outcome. It returns
// false when addr is no longer in flight.
func (p *PendingSet) Attach(addr tile.Address, cb tile.Callback) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	followers, ok := p.entries[addr]
	if !ok {
		return false
	}
	p.entries[addr] = append(followers, cb)

	return true
}

// End removes addr and returns the followers that attached to it.
func (p *PendingSet) End(addr tile.Address) []tile.Callback {
	p.mu.Lock()
	defer p.mu.Unlock()

	followers := p.entries[addr]
	delete(p.entries, addr)

	return followers
}

func (p *PendingSet) Contains(addr tile.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.entries[addr]
	return ok
}

func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
