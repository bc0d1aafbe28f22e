package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/worker"
)

// CacheSource serves tiles from a TileCache and writes through tiles that
// its successor produces. All cache access runs on one executor, so the
// cache itself needs no locking.
//
// Callbacks run on the executor goroutine or on the successor's goroutine,
// never on the caller's.
type CacheSource struct {
	Link

	name     string
	cache    cache.TileCache
	executor *worker.Executor
	pending  *PendingSet
	offline  bool
	refresh  func(*tile.Task)
	ctx      context.Context
	logger   logger.Logger
}

// ErrNotDescribable is returned by Describe when the cache keeps no
// metadata or is unusable.
var ErrNotDescribable = errors.New("usecase: cache cannot be described")

// Describer is implemented by caches that keep tileset metadata.
type Describer interface {
	Metadata(ctx context.Context) (map[string]string, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

type CacheSourceOption func(*CacheSource)

// WithOffline restricts the chain behind this source to locally persisted
// data. The flag travels with the task to the following sources.
func WithOffline(offline bool) CacheSourceOption {
	return func(s *CacheSource) {
		s.offline = offline
	}
}

// WithRefresh sets the hook called when an offline task could not be served
// by any source and should be requested again later.
func WithRefresh(fn func(*tile.Task)) CacheSourceOption {
	return func(s *CacheSource) {
		s.refresh = fn
	}
}

// NewCacheSource wraps c. A nil c, or one reporting Usable() == false,
// disables the source: tasks pass through it without caching.
func NewCacheSource(name string, c cache.TileCache, l logger.Logger, opts ...CacheSourceOption) *CacheSource {
	s := &CacheSource{
		name:     name,
		cache:    c,
		executor: worker.NewExecutor(),
		pending:  NewPendingSet(),
		ctx:      context.Background(),
		logger:   l,
	}

	for _, opt := range opts {
		opt(s)
	}

	if !s.Usable() {
		l.Warn("tile cache unusable, passing requests through", "tier", name, "offline", s.offline)
	}

	return s
}

var _ Source = (*CacheSource)(nil)

func (s *CacheSource) Name() string {
	return s.name
}

func (s *CacheSource) Offline() bool {
	return s.offline
}

func (s *CacheSource) Usable() bool {
	if s.cache == nil {
		return false
	}
	if u, ok := s.cache.(interface{ Usable() bool }); ok {
		return u.Usable()
	}
	return true
}

func (s *CacheSource) LoadTileData(task *tile.Task, cb tile.Callback) bool {
	if task.Source() != s.Level() {
		return s.delegate(task, cb)
	}

	offline := s.offline || task.Offline()
	if offline {
		task.SetOffline(true)
	}

	if !s.Usable() {
		if !offline {
			return s.skip(task, cb)
		}
		// Nothing local to read: behave as a miss.
		s.forward(task, cb, true)
		return true
	}

	addr := task.Address
	for {
		if s.pending.TryBegin(addr) {
			break
		}
		if s.pending.Attach(addr, follow(task, cb)) {
			metrics.CoalescedRequests.WithLabelValues(s.name).Inc()
			s.logger.Debug("joined in-flight tile request", "tier", s.name, "task", task.ID, "tile", addr.String())
			return true
		}
	}

	if !s.executor.Enqueue(func() { s.lookup(task, cb, offline) }) {
		s.logger.Warn("tile cache closed, skipping lookup", "tier", s.name, "tile", addr.String())
		s.forward(task, cb, offline)
	}

	return true
}

// follow completes a coalesced task with the leader's outcome.
func follow(task *tile.Task, cb tile.Callback) tile.Callback {
	return func(leader *tile.Task) {
		task.SetData(leader.Data())
		task.SetNeedsLoading(leader.NeedsLoading())
		cb(task)
	}
}

func (s *CacheSource) lookup(task *tile.Task, cb tile.Callback, offline bool) {
	if data, ok := s.get(task.Address); ok {
		task.SetData(data)
		s.finish(task, cb)
		return
	}

	s.forward(task, cb, offline)
}

func (s *CacheSource) get(addr tile.Address) ([]byte, bool) {
	data, ok, err := s.cache.Get(s.ctx, addr)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(s.name, "get").Inc()
		s.logger.Error("tile cache lookup failed", "tier", s.name, "z", addr.Zoom, "x", addr.Column, "y", addr.Row, "error", err)
		return nil, false
	}
	if !ok || len(data) == 0 {
		metrics.CacheMisses.WithLabelValues(s.name).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(s.name).Inc()
	s.logger.Debug("loaded tile", "tier", s.name, "tile", addr.String(), "size", len(data))

	return data, true
}

// forward hands the task to the next source with an intercepting callback.
func (s *CacheSource) forward(task *tile.Task, cb tile.Callback, offline bool) {
	next := s.Next()
	if next == nil {
		s.fail(task, cb, offline)
		return
	}

	task.SetSource(next.Level())
	if !next.LoadTileData(task, s.intercept(task.Address, cb, offline)) {
		s.fail(task, cb, offline)
	}
}

// intercept wraps cb so a successful downstream result is written through
// after being handed to the caller.
func (s *CacheSource) intercept(addr tile.Address, cb tile.Callback, offline bool) tile.Callback {
	return func(task *tile.Task) {
		if data := task.Data(); len(data) > 0 {
			if s.Usable() {
				blob := bytes.Clone(data)
				if !s.executor.Enqueue(func() { s.store(addr, blob) }) {
					s.logger.Debug("tile cache closed, dropping write", "tier", s.name, "tile", addr.String())
				}
			}
			s.finish(task, cb)
			return
		}

		if offline && s.Usable() {
			s.logger.Debug("trying fallback tile", "tier", s.name, "tile", addr.String())
			ok := s.executor.Enqueue(func() {
				if data, ok := s.get(addr); ok {
					task.SetData(data)
					s.finish(task, cb)
					return
				}
				s.fail(task, cb, true)
			})
			if ok {
				return
			}
		}

		s.fail(task, cb, offline)
	}
}

func (s *CacheSource) store(addr tile.Address, data []byte) {
	if err := s.cache.Put(s.ctx, addr, data); err != nil {
		metrics.CacheErrors.WithLabelValues(s.name, "put").Inc()
		s.logger.Error("tile cache store failed", "tier", s.name, "z", addr.Zoom, "x", addr.Column, "y", addr.Row, "error", err)
		return
	}

	metrics.CacheStores.WithLabelValues(s.name).Inc()
	s.logger.Debug("stored tile", "tier", s.name, "tile", addr.String(), "size", len(data))
}

// fail completes the task without data. Offline tasks are flagged for a
// later reload instead of being treated as a hard failure.
func (s *CacheSource) fail(task *tile.Task, cb tile.Callback, offline bool) {
	if offline && !task.NeedsLoading() {
		task.SetNeedsLoading(true)
		metrics.NeedsReload.Inc()
		s.logger.Debug("tile needs loading", "tier", s.name, "tile", task.Address.String())
		if s.refresh != nil {
			s.refresh(task)
		}
	} else if !offline {
		s.logger.Debug("missing tile", "tier", s.name, "tile", task.Address.String())
	}

	s.finish(task, cb)
}

func (s *CacheSource) finish(task *tile.Task, cb tile.Callback) {
	followers := s.pending.End(task.Address)

	cb(task)
	for _, f := range followers {
		f(task)
	}
}

// Describe reads metadata and counters on the executor, so it never races
// with tile lookups and writes.
func (s *CacheSource) Describe(ctx context.Context) (map[string]string, cache.Stats, error) {
	d, ok := s.cache.(Describer)
	if !ok || !s.Usable() {
		return nil, cache.Stats{}, ErrNotDescribable
	}

	type described struct {
		meta  map[string]string
		stats cache.Stats
		err   error
	}
	done := make(chan described, 1)

	accepted := s.executor.Enqueue(func() {
		var r described
		r.meta, r.err = d.Metadata(ctx)
		if r.err == nil {
			r.stats, r.err = d.Stats(ctx)
		}
		done <- r
	})
	if !accepted {
		return nil, cache.Stats{}, ErrNotDescribable
	}

	select {
	case r := <-done:
		return r.meta, r.stats, r.err
	case <-ctx.Done():
		return nil, cache.Stats{}, ctx.Err()
	}
}

// Flush waits until all queued lookups and writes have run.
func (s *CacheSource) Flush() {
	s.executor.Flush()
}

// Close drains queued work and closes the underlying cache if it can be
// closed.
func (s *CacheSource) Close() error {
	s.executor.Close()

	if closer, ok := s.cache.(io.Closer); ok && s.Usable() {
		return closer.Close()
	}
	return nil
}
