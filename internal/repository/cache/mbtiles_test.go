package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestMBTiles(t *testing.T, path, name string) *MBTiles {
	t.Helper()
	c, err := NewMBTiles(MBTilesConfig{
		Path:   path,
		Name:   name,
		Format: "application/vnd.mapbox-vector-tile",
	}, logger.NewNoop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func createTestMBTiles(t *testing.T) *MBTiles {
	t.Helper()
	return openTestMBTiles(t, filepath.Join(t.TempDir(), "test.mbtiles"), "test")
}

func countRows(t *testing.T, c *MBTiles, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, c.db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestNewMBTiles_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	c := openTestMBTiles(t, path, "osm")

	_, err := os.Stat(path)
	require.NoError(t, err, "database file was not created")

	for _, name := range requiredRelations {
		n := countRows(t, c, "SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name)
		assert.Equal(t, 1, n, "relation %q", name)
	}

	meta, err := c.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name":        "osm",
		"type":        "baselayer",
		"version":     "1",
		"description": mbtilesDescription,
		"format":      "application/vnd.mapbox-vector-tile",
		"compression": "identity",
	}, meta)

	assert.True(t, c.Usable())
}

func TestNewMBTiles_NoGooseTable(t *testing.T) {
	c := createTestMBTiles(t)

	n := countRows(t, c, "SELECT COUNT(*) FROM sqlite_master WHERE name LIKE 'goose%'")
	assert.Zero(t, n)
}

func TestNewMBTiles_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mbtiles")

	first, err := NewMBTiles(MBTilesConfig{Path: path, Name: "first", Format: "image/png"}, logger.NewNoop())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openTestMBTiles(t, path, "second")

	assert.Equal(t, 1, countRows(t, second, "SELECT COUNT(*) FROM metadata WHERE name = 'name'"))

	meta, err := second.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", meta["name"])
	assert.Len(t, meta, 6)
}

func TestNewMBTiles_ReinstallsMissingRelation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	ctx := context.Background()
	addr := tile.NewAddress(2, 1, 3)

	c := openTestMBTiles(t, path, "first")
	require.NoError(t, c.Put(ctx, addr, []byte("kept")))
	_, err := c.db.Exec("DROP VIEW grids")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened := openTestMBTiles(t, path, "second")

	assert.Equal(t, 1, countRows(t, reopened, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'grids'"))
	assert.Equal(t, 1, countRows(t, reopened, "SELECT COUNT(*) FROM metadata WHERE name = 'name'"))

	data, ok, err := reopened.Get(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("kept"), data)
}

func TestNewMBTiles_OpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "test.mbtiles")

	c, err := NewMBTiles(MBTilesConfig{Path: path, Name: "x", Format: "image/png"}, logger.NewNoop())
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, ErrStoreOpen))
	assert.False(t, c.Usable())
}

func TestNewMBTiles_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.mbtiles")
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	c, err := NewMBTiles(MBTilesConfig{Path: path, Name: "x", Format: "image/png"}, logger.NewNoop())
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, ErrStoreOpen) || errors.Is(err, ErrSchemaInstall), "unexpected error: %v", err)
}

func TestMBTiles_PutGetRoundTrip(t *testing.T) {
	c := createTestMBTiles(t)
	ctx := context.Background()
	addr := tile.NewAddress(14, 8529, 5975)
	blob := []byte{0x1a, 0x00, 0xff, 0x42}

	require.NoError(t, c.Put(ctx, addr, blob))

	data, ok, err := c.Get(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, data)
}

func TestMBTiles_GetMiss(t *testing.T) {
	c := createTestMBTiles(t)

	data, ok, err := c.Get(context.Background(), tile.NewAddress(3, 1, 1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestMBTiles_StoresFlippedRow(t *testing.T) {
	c := createTestMBTiles(t)
	addr := tile.NewAddress(3, 5, 2)

	require.NoError(t, c.Put(context.Background(), addr, []byte("payload")))

	var row int
	require.NoError(t, c.db.QueryRow(
		"SELECT tile_row FROM map WHERE zoom_level = 3 AND tile_column = 5",
	).Scan(&row))
	assert.Equal(t, 5, row)

	var tileID string
	require.NoError(t, c.db.QueryRow("SELECT tile_id FROM map").Scan(&tileID))
	assert.Equal(t, string(tile.MD5Hasher{}.Digest([]byte("payload"))), tileID)
}

func TestMBTiles_DeduplicatesContent(t *testing.T) {
	c := createTestMBTiles(t)
	ctx := context.Background()
	a := tile.NewAddress(4, 1, 1)
	b := tile.NewAddress(4, 9, 12)
	blob := []byte("ocean tile")

	require.NoError(t, c.Put(ctx, a, blob))
	require.NoError(t, c.Put(ctx, b, blob))

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Tiles: 2, Images: 1}, st)

	for _, addr := range []tile.Address{a, b} {
		data, ok, err := c.Get(ctx, addr)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, blob, data)
	}
}

func TestMBTiles_ReplaceKeepsBothDigests(t *testing.T) {
	c := createTestMBTiles(t)
	ctx := context.Background()
	addr := tile.NewAddress(6, 10, 20)

	require.NoError(t, c.Put(ctx, addr, []byte("old")))
	require.NoError(t, c.Put(ctx, addr, []byte("new")))

	data, ok, err := c.Get(ctx, addr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), data)

	assert.Equal(t, 1, countRows(t, c, "SELECT COUNT(*) FROM map"))
	for _, payload := range []string{"old", "new"} {
		digest := tile.MD5Hasher{}.Digest([]byte(payload))
		assert.Equal(t, 1, countRows(t, c, "SELECT COUNT(*) FROM images WHERE tile_id = ?", string(digest)))
	}
}

func TestMBTiles_DanglingDigestIsMiss(t *testing.T) {
	c := createTestMBTiles(t)
	addr := tile.NewAddress(5, 3, 3)
	s := tile.ToStored(addr)

	_, err := c.db.Exec(
		"INSERT INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)",
		s.Zoom, s.Column, s.Row, "no-such-digest",
	)
	require.NoError(t, err)

	data, ok, err := c.Get(context.Background(), addr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestMBTiles_CustomHasher(t *testing.T) {
	c, err := NewMBTiles(MBTilesConfig{
		Path:   filepath.Join(t.TempDir(), "xx.mbtiles"),
		Name:   "xx",
		Format: "image/png",
		Hasher: tile.XXHasher{},
	}, logger.NewNoop())
	require.NoError(t, err)
	defer c.Close()

	blob := []byte("payload")
	require.NoError(t, c.Put(context.Background(), tile.NewAddress(1, 0, 0), blob))

	var tileID string
	require.NoError(t, c.db.QueryRow("SELECT tile_id FROM images").Scan(&tileID))
	assert.Equal(t, string(tile.XXHasher{}.Digest(blob)), tileID)
}

func TestMBTiles_UnusableAfterClose(t *testing.T) {
	c := createTestMBTiles(t)
	require.NoError(t, c.Close())

	assert.False(t, c.Usable())

	_, _, err := c.Get(context.Background(), tile.NewAddress(0, 0, 0))
	assert.True(t, errors.Is(err, ErrQuery))

	err = c.Put(context.Background(), tile.NewAddress(0, 0, 0), []byte("x"))
	assert.True(t, errors.Is(err, ErrQuery))

	assert.NoError(t, c.Close())
}

func TestMBTiles_UsableDuringClose(t *testing.T) {
	c := createTestMBTiles(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				_ = c.Usable()
			}
		}
	}()

	require.NoError(t, c.Close())
	close(stop)
	<-done

	assert.False(t, c.Usable())
}

// createFlatMBTiles writes a file in the flat layout other tools produce:
// a tiles table and metadata, no map/images.
func createFlatMBTiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flat.mbtiles")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE metadata (name text, value text)`,
		`CREATE TABLE tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob)`,
		`INSERT INTO metadata VALUES ('name', 'osm-bright'), ('format', 'pbf')`,
		// 1/0/0 in request rows is stored at row 1.
		`INSERT INTO tiles VALUES (1, 0, 1, x'0102'), (1, 1, 1, x'0102'), (2, 3, 0, x'03')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	return path
}

func TestOpenMBTilesReadOnly_FlatLayout(t *testing.T) {
	path := createFlatMBTiles(t)

	c, err := OpenMBTilesReadOnly(path, logger.NewNoop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()

	meta, err := c.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "osm-bright", "format": "pbf"}, meta)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Tiles: 3, Images: 2}, stats)

	data, ok, err := c.Get(ctx, tile.NewAddress(1, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, data)

	err = c.Put(ctx, tile.NewAddress(1, 0, 0), []byte("x"))
	assert.True(t, errors.Is(err, ErrQuery))

	n := countRows(t, c, "SELECT COUNT(*) FROM sqlite_master")
	assert.Equal(t, 2, n, "schema must be left untouched")
}

func TestOpenMBTilesReadOnly_FullLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.mbtiles")
	w, err := NewMBTiles(MBTilesConfig{Path: path, Name: "full", Format: "image/png"}, logger.NewNoop())
	require.NoError(t, err)
	require.NoError(t, w.Put(context.Background(), tile.NewAddress(2, 1, 1), []byte("a")))
	require.NoError(t, w.Put(context.Background(), tile.NewAddress(2, 1, 2), []byte("a")))
	require.NoError(t, w.Close())

	c, err := OpenMBTilesReadOnly(path, logger.NewNoop())
	require.NoError(t, err)
	defer c.Close()

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Tiles: 2, Images: 1}, stats)

	data, ok, err := c.Get(context.Background(), tile.NewAddress(2, 1, 2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), data)
}

func TestOpenMBTilesReadOnly_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenMBTilesReadOnly(filepath.Join(dir, "absent.mbtiles"), logger.NewNoop())
	assert.True(t, errors.Is(err, ErrStoreOpen))
	_, statErr := os.Stat(filepath.Join(dir, "absent.mbtiles"))
	assert.True(t, os.IsNotExist(statErr))

	empty := filepath.Join(dir, "empty.mbtiles")
	db, err := sql.Open("sqlite3", empty)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE other (id integer)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenMBTilesReadOnly(empty, logger.NewNoop())
	assert.True(t, errors.Is(err, ErrStoreOpen))
}
