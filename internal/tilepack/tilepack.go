// Package tilepack builds MBTiles terrain archives from tile directories or generated terrain.
package tilepack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/internal/provider/ellipsoid"
	"github.com/Faultbox/midgard-globe/internal/provider/layer"
	"github.com/Faultbox/midgard-globe/internal/provider/mbtiles"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// TerrainFormat is the metadata format value of packed terrain.
const TerrainFormat = "quantized-mesh"

const batchSize = 512

// Summary describes what was written to an archive.
type Summary struct {
	Tiles    int
	MinLevel int
	MaxLevel int
	Skipped  []string // files that do not look like tiles
}

// Pack copies a quantized-mesh directory (layer.json plus z/x/y.terrain files) into store.
// Rows are stored south-origin whatever the layer's scheme.
func Pack(ctx context.Context, dir string, store *mbtiles.Store) (Summary, error) {
	log := logger.Named("tilepack")
	doc, err := os.ReadFile(filepath.Join(dir, "layer.json"))
	if err != nil {
		return Summary{}, err
	}
	l, err := layer.Parse(doc)
	if err != nil {
		return Summary{}, err
	}
	scheme := math.NewGeographicTilingScheme(nil)

	sum := Summary{MinLevel: -1, MaxLevel: -1}
	batch := make([]mbtiles.Tile, 0, batchSize)
	flush := func() error {
		if err := store.WriteTiles(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == "layer.json" {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		id, ok := parseTilePath(rel)
		if !ok {
			sum.Skipped = append(sum.Skipped, rel)
			return nil
		}
		if l.Scheme != layer.SchemeTMS {
			id.Row = mbtiles.TMSRow(scheme, id.Row, id.Level)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		batch = append(batch, mbtiles.Tile{ID: id, Data: data})
		sum.add(id.Level)
		if len(batch) == batchSize {
			return flush()
		}
		return ctx.Err()
	})
	if err != nil {
		return sum, err
	}
	if err := flush(); err != nil {
		return sum, err
	}
	if sum.Tiles == 0 {
		return sum, fmt.Errorf("%s: no tiles found", dir)
	}

	if err := writeMetadata(ctx, store, l, sum); err != nil {
		return sum, err
	}
	log.Info("packed terrain",
		zap.String("dir", dir),
		zap.Int("tiles", sum.Tiles),
		zap.Int("skipped", len(sum.Skipped)))
	return sum, nil
}

// parseTilePath reads "z/x/y.terrain".
func parseTilePath(rel string) (mbtiles.TileID, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".terrain") {
		return mbtiles.TileID{}, false
	}
	var v [3]int
	for i, s := range []string{parts[0], parts[1], strings.TrimSuffix(parts[2], ".terrain")} {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return mbtiles.TileID{}, false
		}
		v[i] = n
	}
	return mbtiles.TileID{Level: v[0], Column: v[1], Row: v[2]}, true
}

func (s *Summary) add(level int) {
	s.Tiles++
	if s.MinLevel < 0 || level < s.MinLevel {
		s.MinLevel = level
	}
	if level > s.MaxLevel {
		s.MaxLevel = level
	}
}

// Synth writes every tile of p down to maxLevel. Tiles within a level are encoded in parallel.
func Synth(ctx context.Context, p *ellipsoid.Provider, maxLevel int, store *mbtiles.Store) (Summary, error) {
	if maxLevel < 0 || maxLevel > p.MaximumLevel() {
		return Summary{}, fmt.Errorf("level %d is outside 0..%d", maxLevel, p.MaximumLevel())
	}
	scheme := p.TilingScheme()
	l := &layer.Layer{
		TileJSON:   "2.1.0",
		Name:       "ellipsoid",
		Version:    "1.0.0",
		Format:     "quantized-mesh-1.0",
		Scheme:     layer.SchemeTMS,
		Projection: "EPSG:4326",
		Tiles:      []string{"{z}/{x}/{y}.terrain?v={version}"},
		Bounds:     []float64{-180, -90, 180, 90},
		MaxZoom:    maxLevel,
	}
	sum := Summary{MinLevel: -1, MaxLevel: -1}

	for level := 0; level <= maxLevel; level++ {
		nx, ny := scheme.NumberOfXTilesAtLevel(level), scheme.NumberOfYTilesAtLevel(level)
		tiles := make([]mbtiles.Tile, nx*ny)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.NumCPU())
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := y*nx + x
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					data, err := p.EncodeTile(x, y, level)
					if err != nil {
						return err
					}
					tiles[i] = mbtiles.Tile{
						ID:   mbtiles.TileID{Level: level, Column: x, Row: mbtiles.TMSRow(scheme, y, level)},
						Data: data,
					}
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return sum, fmt.Errorf("level %d: %w", level, err)
		}
		for start := 0; start < len(tiles); start += batchSize {
			if err := store.WriteTiles(ctx, tiles[start:min(start+batchSize, len(tiles))]); err != nil {
				return sum, err
			}
		}
		for range tiles {
			sum.add(level)
		}
		l.Available = append(l.Available, []layer.Range{{StartX: 0, StartY: 0, EndX: nx - 1, EndY: ny - 1}})
	}

	if err := writeMetadata(ctx, store, l, sum); err != nil {
		return sum, err
	}
	return sum, nil
}

func writeMetadata(ctx context.Context, store *mbtiles.Store, l *layer.Layer, sum Summary) error {
	doc, err := l.Marshal()
	if err != nil {
		return err
	}
	name := l.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(store.Path()), filepath.Ext(store.Path()))
	}
	return store.SetMetadata(ctx, map[string]string{
		mbtiles.MetaName:    name,
		mbtiles.MetaFormat:  TerrainFormat,
		mbtiles.MetaMinZoom: strconv.Itoa(sum.MinLevel),
		mbtiles.MetaMaxZoom: strconv.Itoa(sum.MaxLevel),
		mbtiles.MetaLayer:   string(doc),
	})
}

// Info is the content summary of an archive.
type Info struct {
	Tiles    int
	Metadata [][2]string // sorted by key
}

// Inspect reads the metadata and tile count of store.
func Inspect(ctx context.Context, store *mbtiles.Store) (Info, error) {
	meta, err := store.Metadata(ctx)
	if err != nil {
		return Info{}, err
	}
	n, err := store.TileCount(ctx)
	if err != nil {
		return Info{}, err
	}
	info := Info{Tiles: n}
	for k, v := range meta {
		info.Metadata = append(info.Metadata, [2]string{k, v})
	}
	sort.Slice(info.Metadata, func(i, j int) bool { return info.Metadata[i][0] < info.Metadata[j][0] })
	return info, nil
}

// ErrNoLayer is returned by Verify for archives without layer metadata.
var ErrNoLayer = errors.New("archive has no layer metadata")

// Verify decodes every tile listed as available by the archive's layer.json and returns the
// number checked.
func Verify(ctx context.Context, store *mbtiles.Store) (int, error) {
	meta, err := store.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	if _, ok := meta[mbtiles.MetaLayer]; !ok {
		return 0, ErrNoLayer
	}
	p, err := mbtiles.NewProvider(ctx, store)
	if err != nil {
		return 0, err
	}
	scheme := p.TilingScheme()
	checked := 0
	for level := 0; ; level++ {
		found := false
		for y := 0; y < scheme.NumberOfYTilesAtLevel(level); y++ {
			for x := 0; x < scheme.NumberOfXTilesAtLevel(level); x++ {
				available, known := p.TileDataAvailable(x, y, level)
				if !known {
					return checked, nil
				}
				if !available {
					continue
				}
				found = true
				if _, err := p.RequestTileGeometry(ctx, x, y, level); err != nil {
					return checked, err
				}
				checked++
			}
		}
		if !found {
			return checked, nil
		}
	}
}
