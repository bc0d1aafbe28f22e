package cache

import (
	"context"
	"sync"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
)

// MapCache keeps tiles in process memory. It has no eviction and is meant
// for tests and short-lived tools.
type MapCache struct {
	m sync.Map
}

func NewMapCache() *MapCache {
	return &MapCache{}
}

var _ TileCache = (*MapCache)(nil)

func (c *MapCache) Get(_ context.Context, addr tile.Address) ([]byte, bool, error) {
	v, exists := c.m.Load(addr)
	if !exists {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (c *MapCache) Put(_ context.Context, addr tile.Address, data []byte) error {
	c.m.Store(addr, data)
	return nil
}

func (c *MapCache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
