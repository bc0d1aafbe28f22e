package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const mbtilesDescription = "MBTiles tile container created by guide_helper tilecache."

// requiredRelations are the tables and views of a complete MBTiles schema.
var requiredRelations = []string{
	"map", "grid_key", "keymap", "grid_utfgrid", "images",
	"metadata", "geocoder_data", "tiles", "grids", "grid_data",
}

const (
	getTileQuery = `SELECT tile_data FROM tiles
	WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`

	putMapQuery = `REPLACE INTO map (zoom_level, tile_column, tile_row, tile_id)
	VALUES (?, ?, ?, ?)`

	putImageQuery = `REPLACE INTO images (tile_id, tile_data) VALUES (?, ?)`

	putMetadataQuery = `REPLACE INTO metadata (name, value) VALUES (?, ?)`
)

type MBTilesConfig struct {
	Path string
	// Name and Format are written to the metadata table when the schema
	// is installed.
	Name   string
	Format string
	// Hasher defaults to tile.MD5Hasher.
	Hasher tile.Hasher
}

type Stats struct {
	Tiles  int64
	Images int64
}

// MBTiles is a content-addressed tile store in a single sqlite file using
// the MBTiles layout. Tiles are stored once per distinct payload in images
// and referenced from map by digest.
//
// MBTiles is not meant for concurrent use; callers serialize access, see
// worker.Executor.
type MBTiles struct {
	db     *sql.DB
	hasher tile.Hasher
	logger logger.Logger

	getTile  *sql.Stmt
	putMap   *sql.Stmt
	putImage *sql.Stmt

	// readOnly stores reject Put; flat marks a file whose tiles relation
	// is a plain table rather than the map/images view.
	readOnly bool
	flat     bool

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ TileCache = (*MBTiles)(nil)

// NewMBTiles opens or creates the file at cfg.Path and installs the MBTiles
// schema when any required table or view is missing.
func NewMBTiles(cfg MBTilesConfig, l logger.Logger) (*MBTiles, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	// sqlite allows one writer; a single connection also keeps the
	// prepared statements on one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = tile.MD5Hasher{}
	}

	c := &MBTiles{
		db:     db,
		hasher: hasher,
		logger: l,
	}

	if err := c.initSchema(cfg.Name, cfg.Format); err != nil {
		db.Close()
		return nil, err
	}

	if err := c.prepare(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %w", ErrSchemaInstall, err)
	}

	l.Info("mbtiles store opened", "path", cfg.Path)

	return c, nil
}

// OpenMBTilesReadOnly opens an existing MBTiles file without installing or
// touching its schema. Both the map/images layout and the flat layout with
// a tiles table are accepted.
func OpenMBTilesReadOnly(path string, l logger.Logger) (*MBTiles, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &MBTiles{
		db:       db,
		hasher:   tile.MD5Hasher{},
		logger:   l,
		readOnly: true,
	}

	var kind string
	err = db.QueryRow(`SELECT type FROM sqlite_master WHERE name = 'tiles'`).Scan(&kind)
	if err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no tiles relation in %s", ErrStoreOpen, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}
	c.flat = kind == "table"

	if c.getTile, err = db.Prepare(getTileQuery); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreOpen, err)
	}

	l.Debug("mbtiles store opened read-only", "path", path, "flat", c.flat)

	return c, nil
}

func (c *MBTiles) prepare() error {
	var err error

	if c.getTile, err = c.db.Prepare(getTileQuery); err != nil {
		return err
	}
	if c.putMap, err = c.db.Prepare(putMapQuery); err != nil {
		return err
	}
	if c.putImage, err = c.db.Prepare(putImageQuery); err != nil {
		return err
	}

	return nil
}

// hasSchema reports whether every required relation exists.
func (c *MBTiles) hasSchema() (bool, error) {
	rows, err := c.db.Query(`SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	found := make(map[string]bool, len(requiredRelations))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	for _, name := range requiredRelations {
		if !found[name] {
			return false, nil
		}
	}

	return true, nil
}

func (c *MBTiles) initSchema(name, format string) error {
	ok, err := c.hasSchema()
	if err != nil {
		c.logger.Error("unable to check mbtiles schema", "error", err)
		return fmt.Errorf("%w: %w", ErrSchemaInstall, err)
	}
	if ok {
		return nil
	}

	c.logger.Info("installing mbtiles schema", "name", name, "format", format)

	if err := c.runMigrations(); err != nil {
		c.logger.Error("unable to install mbtiles schema", "error", err)
		return fmt.Errorf("%w: %w", ErrSchemaInstall, err)
	}

	if err := c.writeMetadata(name, format); err != nil {
		c.logger.Error("unable to write mbtiles metadata", "error", err)
		return fmt.Errorf("%w: %w", ErrSchemaInstall, err)
	}

	return nil
}

// runMigrations applies the embedded schema. Versioning is disabled so the
// file carries no goose bookkeeping table; every statement is idempotent.
func (c *MBTiles) runMigrations() error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, c.db, fsys,
		goose.WithDisableVersioning(true),
	)
	if err != nil {
		return err
	}

	_, err = provider.Up(context.Background())
	return err
}

// writeMetadata fills the metadata table.
// https://github.com/mapbox/mbtiles-spec/blob/master/1.3/spec.md#content
func (c *MBTiles) writeMetadata(name, format string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(putMetadataQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows := [][2]string{
		{"name", name},
		{"type", "baselayer"},
		{"version", strconv.Itoa(1)},
		{"description", mbtilesDescription},
		{"format", format},
		// identity means no content coding.
		{"compression", "identity"},
	}
	for _, row := range rows {
		if _, err := stmt.Exec(row[0], row[1]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Usable reports whether the store opened successfully and is not closed.
func (c *MBTiles) Usable() bool {
	return c != nil && c.db != nil && !c.closed.Load()
}

func (c *MBTiles) Get(ctx context.Context, addr tile.Address) ([]byte, bool, error) {
	if !c.Usable() {
		return nil, false, fmt.Errorf("%w: store is not usable", ErrQuery)
	}

	s := tile.ToStored(addr)

	c.logger.Debug("mbtiles get", "z", s.Zoom, "x", s.Column, "y", s.Row)

	// A map row whose digest has no images row is dropped by the join and
	// reads as a miss.
	var data []byte
	err := c.getTile.QueryRowContext(ctx, s.Zoom, s.Column, s.Row).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		c.logger.Error("mbtiles get failed", "z", s.Zoom, "x", s.Column, "y", s.Row, "error", err)
		return nil, false, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	return data, true, nil
}

// Put points addr at the digest of data and stores data under that digest.
// The two writes are independent: a failure in one does not undo the other.
func (c *MBTiles) Put(ctx context.Context, addr tile.Address, data []byte) error {
	if !c.Usable() {
		return fmt.Errorf("%w: store is not usable", ErrQuery)
	}
	if c.readOnly {
		return fmt.Errorf("%w: store is read-only", ErrQuery)
	}

	s := tile.ToStored(addr)
	digest := c.hasher.Digest(data)

	c.logger.Debug("mbtiles put", "z", s.Zoom, "x", s.Column, "y", s.Row, "tile_id", digest, "size", len(data))

	var errs []error

	if _, err := c.putMap.ExecContext(ctx, s.Zoom, s.Column, s.Row, string(digest)); err != nil {
		c.logger.Error("mbtiles put map failed", "z", s.Zoom, "x", s.Column, "y", s.Row, "error", err)
		errs = append(errs, fmt.Errorf("%w: put map: %w", ErrQuery, err))
	}

	if _, err := c.putImage.ExecContext(ctx, string(digest), data); err != nil {
		c.logger.Error("mbtiles put image failed", "tile_id", digest, "error", err)
		errs = append(errs, fmt.Errorf("%w: put image: %w", ErrQuery, err))
	}

	return errors.Join(errs...)
}

func (c *MBTiles) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQuery, err)
		}
		meta[name.String] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	return meta, nil
}

// Stats counts address rows and distinct payloads.
func (c *MBTiles) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	query := `SELECT (SELECT COUNT(*) FROM map), (SELECT COUNT(*) FROM images)`
	if c.flat {
		query = `SELECT COUNT(*), COUNT(DISTINCT tile_data) FROM tiles`
	}

	err := c.db.QueryRowContext(ctx, query).Scan(&st.Tiles, &st.Images)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	return st, nil
}

func (c *MBTiles) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.closed.Store(true)
		for _, stmt := range []*sql.Stmt{c.getTile, c.putMap, c.putImage} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = c.db.Close()
	})

	return err
}
