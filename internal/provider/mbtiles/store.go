// Package mbtiles stores terrain and imagery tiles in an MBTiles SQLite database.
package mbtiles

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

// ErrTileNotFound is returned when the store has no tile at the requested address.
var ErrTileNotFound = errors.New("mbtiles: tile not found")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Metadata keys.
const (
	MetaName    = "name"
	MetaFormat  = "format"
	MetaMinZoom = "minzoom"
	MetaMaxZoom = "maxzoom"
	MetaBounds  = "bounds"
	// MetaLayer holds the layer.json of a terrain tileset.
	MetaLayer = "layer"
)

// TileID addresses a tile as stored. Row counts from the south, as MBTiles requires.
type TileID struct {
	Level  int
	Column int
	Row    int
}

// Tile is one stored tile.
type Tile struct {
	ID   TileID
	Data []byte
}

// Store is an open MBTiles file. Blobs are zstd compressed on write and transparently
// decompressed on read. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	path string
}

// Open opens or creates an MBTiles file.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty mbtiles path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec, path: path}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			name TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL,
			PRIMARY KEY (zoom_level, tile_column, tile_row)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the file the store was opened from.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	s.dec.Close()
	encErr := s.enc.Close()
	return errors.Join(s.db.Close(), encErr)
}

// WriteTile stores one tile, replacing any existing tile at the same address.
func (s *Store) WriteTile(ctx context.Context, id TileID, data []byte) error {
	return s.WriteTiles(ctx, []Tile{{ID: id, Data: data}})
}

// WriteTiles stores tiles in one transaction.
func (s *Store) WriteTiles(ctx context.Context, tiles []Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tiles {
		blob := s.enc.EncodeAll(t.Data, nil)
		if _, err := stmt.ExecContext(ctx, t.ID.Level, t.ID.Column, t.ID.Row, blob); err != nil {
			return fmt.Errorf("write tile %d/%d/%d: %w", t.ID.Level, t.ID.Column, t.ID.Row, err)
		}
	}
	return tx.Commit()
}

// ReadTile returns the decompressed contents of one tile.
func (s *Store) ReadTile(ctx context.Context, id TileID) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		id.Level, id.Column, id.Row).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrTileNotFound, id.Level, id.Column, id.Row)
	}
	if err != nil {
		return nil, fmt.Errorf("read tile %d/%d/%d: %w", id.Level, id.Column, id.Row, err)
	}
	if !bytes.HasPrefix(blob, zstdMagic) {
		// Written by another tool.
		return blob, nil
	}
	data, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress tile %d/%d/%d: %w", id.Level, id.Column, id.Row, err)
	}
	return data, nil
}

// TileCount returns the number of stored tiles.
func (s *Store) TileCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tiles").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetMetadata writes metadata entries in one transaction.
func (s *Store) SetMetadata(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, v := range values {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("write metadata %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Metadata returns all metadata entries.
func (s *Store) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		values[name] = value.String
	}
	return values, rows.Err()
}
