package cache

import (
	"context"
	"errors"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
)

var (
	// ErrStoreOpen means the backing store could not be created or opened.
	ErrStoreOpen = errors.New("cache: open store")
	// ErrSchemaInstall means the schema check or installation failed and
	// the store must not be used.
	ErrSchemaInstall = errors.New("cache: install schema")
	// ErrQuery is a single failed read or write.
	ErrQuery = errors.New("cache: query")
)

// TileCache is a tile store addressed in the request row convention.
// A miss is (nil, false, nil), not an error.
type TileCache interface {
	Get(ctx context.Context, addr tile.Address) ([]byte, bool, error)
	Put(ctx context.Context, addr tile.Address, data []byte) error
}
