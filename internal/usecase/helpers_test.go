package usecase

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/stretchr/testify/require"
)

// stubSource stands in for a network provider: it serves tiles from a map,
// declines offline tasks and counts how often it actually produced a result.
type stubSource struct {
	Link

	mu      sync.Mutex
	tiles   map[tile.Address][]byte
	fetches int
	// gate, when set, holds every fetch until it is closed.
	gate chan struct{}
	// inline delivers on the caller's goroutine.
	inline bool
}

func newStubSource(tiles map[tile.Address][]byte) *stubSource {
	if tiles == nil {
		tiles = make(map[tile.Address][]byte)
	}
	return &stubSource{tiles: tiles}
}

func (s *stubSource) LoadTileData(task *tile.Task, cb tile.Callback) bool {
	if task.Source() != s.Level() {
		return s.delegate(task, cb)
	}
	if task.Offline() {
		return s.skip(task, cb)
	}

	s.mu.Lock()
	s.fetches++
	data := s.tiles[task.Address]
	gate := s.gate
	s.mu.Unlock()

	deliver := func() {
		if gate != nil {
			<-gate
		}
		if data != nil {
			task.SetData(data)
		}
		cb(task)
	}

	if s.inline {
		deliver()
	} else {
		go deliver()
	}

	return true
}

func (s *stubSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *stubSource) Set(addr tile.Address, data []byte) {
	s.mu.Lock()
	s.tiles[addr] = data
	s.mu.Unlock()
}

func createTestMBTiles(t *testing.T) (*cache.MBTiles, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	return openTestMBTiles(t, path), path
}

func openTestMBTiles(t *testing.T, path string) *cache.MBTiles {
	t.Helper()
	c, err := cache.NewMBTiles(cache.MBTilesConfig{
		Path:   path,
		Name:   "test",
		Format: "image/png",
	}, logger.NewNoop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

type result struct {
	task  *tile.Task
	calls *atomic.Int32
}

// loadAsync submits a task and returns a channel that receives it once the
// callback fires.
func loadAsync(chain *Chain, task *tile.Task) (<-chan *tile.Task, *atomic.Int32) {
	calls := &atomic.Int32{}
	done := make(chan *tile.Task, 4)
	chain.Load(task, func(t *tile.Task) {
		calls.Add(1)
		done <- t
	})
	return done, calls
}

func await(t *testing.T, done <-chan *tile.Task) *tile.Task {
	t.Helper()
	select {
	case got := <-done:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not invoked")
		return nil
	}
}

// load runs one request to completion and checks it was answered exactly once.
func load(t *testing.T, chain *Chain, addr tile.Address, flush ...interface{ Flush() }) result {
	t.Helper()
	task := tile.NewTask(addr)
	done, calls := loadAsync(chain, task)

	got := await(t, done)
	require.Same(t, task, got)

	for _, f := range flush {
		f.Flush()
	}
	require.Equal(t, int32(1), calls.Load(), "callback must fire exactly once")

	return result{task: got, calls: calls}
}
