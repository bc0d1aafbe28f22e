package usecase

import (
	"errors"
	"io"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/metrics"
)

// Source is one provider in a Chain.
type Source interface {
	// LoadTileData returns true when the source has taken responsibility
	// for invoking cb exactly once. On false, cb is never invoked and the
	// caller decides how to fail the task.
	LoadTileData(task *tile.Task, cb tile.Callback) bool

	// Level is the source's position in the chain. A task is handled by
	// the source whose level equals task.Source().
	Level() int

	link(level int, next Source)
}

// Link holds a source's position and its successor. Embed it to implement
// Source.
type Link struct {
	level int
	next  Source
}

func (l *Link) Level() int {
	return l.level
}

func (l *Link) Next() Source {
	return l.next
}

func (l *Link) link(level int, next Source) {
	l.level = level
	l.next = next
}

// delegate forwards the task to the next source with cb untouched.
func (l *Link) delegate(task *tile.Task, cb tile.Callback) bool {
	if l.next == nil {
		return false
	}
	return l.next.LoadTileData(task, cb)
}

// skip moves the task's marker past this source before delegating so that
// a later attempt does not come back here.
func (l *Link) skip(task *tile.Task, cb tile.Callback) bool {
	if l.next == nil {
		return false
	}
	task.SetSource(l.next.Level())
	return l.next.LoadTileData(task, cb)
}

// Chain is an ordered, immutable sequence of sources. Each source only
// knows its successor.
type Chain struct {
	sources []Source
	logger  logger.Logger
}

func NewChain(l logger.Logger, sources ...Source) *Chain {
	for i, s := range sources {
		var next Source
		if i+1 < len(sources) {
			next = sources[i+1]
		}
		s.link(i, next)
	}

	return &Chain{
		sources: sources,
		logger:  l,
	}
}

// Load starts the task at its marked source. cb is invoked exactly once,
// possibly on a goroutine owned by one of the sources.
func (c *Chain) Load(task *tile.Task, cb tile.Callback) {
	metrics.TileRequests.Inc()

	level := task.Source()
	if level < 0 || level >= len(c.sources) {
		c.logger.Warn("task source out of range", "task", task.ID, "source", level)
		cb(task)
		return
	}

	if !c.sources[level].LoadTileData(task, cb) {
		c.logger.Debug("no source accepted tile", "task", task.ID, "tile", task.Address.String())
		cb(task)
	}
}

func (c *Chain) Len() int {
	return len(c.sources)
}

// Close closes sources from the tail so in-flight downstream results can
// still be written through by the sources in front of them.
func (c *Chain) Close() error {
	var errs []error

	for i := len(c.sources) - 1; i >= 0; i-- {
		if closer, ok := c.sources[i].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
