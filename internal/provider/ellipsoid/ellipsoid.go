// Package ellipsoid generates flat quantized-mesh tiles lying on the ellipsoid surface.
package ellipsoid

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/globe"
	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/pkg/math"
	"github.com/Faultbox/midgard-globe/pkg/qmesh"
)

// Options configures a Provider.
type Options struct {
	MaxLevel int
	GridSize int // vertices along each tile edge, at least 2
}

// DefaultOptions returns the standard synthetic tileset.
func DefaultOptions() Options {
	return Options{MaxLevel: 16, GridSize: 17}
}

// Provider implements globe.TerrainProvider with generated tiles.
type Provider struct {
	scheme         *math.GeographicTilingScheme
	maxLevel       int
	gridSize       int
	levelZeroError float64
	log            *zap.Logger
}

var _ globe.TerrainProvider = (*Provider)(nil)

// New creates a provider over WGS84.
func New(opts Options) *Provider {
	if opts.GridSize < 2 {
		opts.GridSize = DefaultOptions().GridSize
	}
	scheme := math.NewGeographicTilingScheme(nil)
	return &Provider{
		scheme:         scheme,
		maxLevel:       opts.MaxLevel,
		gridSize:       opts.GridSize,
		levelZeroError: globe.EstimatedLevelZeroGeometricError(scheme.Ellipsoid, opts.GridSize, scheme.NumberOfXTilesAtLevel(0)),
		log:            logger.Named("ellipsoid"),
	}
}

func (p *Provider) Ready() bool                                { return true }
func (p *Provider) TilingScheme() *math.GeographicTilingScheme { return p.scheme }
func (p *Provider) HasWaterMask() bool                         { return false }
func (p *Provider) HasVertexNormals() bool                     { return false }

// MaximumLevel returns the deepest generated level.
func (p *Provider) MaximumLevel() int {
	return p.maxLevel
}

func (p *Provider) LevelMaximumGeometricError(level int) float64 {
	return globe.LevelMaximumGeometricError(p.levelZeroError, level)
}

// TileDataAvailable reports every tile down to the maximum level.
func (p *Provider) TileDataAvailable(x, y, level int) (available, known bool) {
	return level >= 0 && level <= p.maxLevel &&
		x >= 0 && x < p.scheme.NumberOfXTilesAtLevel(level) &&
		y >= 0 && y < p.scheme.NumberOfYTilesAtLevel(level), true
}

// ChildMask returns the children generated below a tile.
func (p *Provider) ChildMask(level int) uint8 {
	if level < p.maxLevel {
		return terrain.ChildAll
	}
	return 0
}

// EncodeTile returns the wire bytes of a tile.
func (p *Provider) EncodeTile(x, y, level int) ([]byte, error) {
	if available, _ := p.TileDataAvailable(x, y, level); !available {
		return nil, fmt.Errorf("tile %d/%d/%d is outside the generated range", level, x, y)
	}
	tile := FlatTile(p.gridSize)

	rect := p.scheme.TileXYToRectangle(x, y, level)
	e := p.scheme.Ellipsoid
	tile.Header.Center = e.CartographicToCartesian(rect.Center())
	tile.Header.BoundingSphere = math.BoundingSphereFromRectangle(rect, e, 0, 0)

	return qmesh.Encode(tile)
}

// RequestTileGeometry generates a tile and decodes it the way a fetched tile would be.
func (p *Provider) RequestTileGeometry(ctx context.Context, x, y, level int) (terrain.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := p.EncodeTile(x, y, level)
	if err != nil {
		return nil, err
	}
	tile, err := qmesh.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", level, x, y, err)
	}
	p.log.Debug("tile generated", logger.Tile(x, y, level))

	return terrain.NewQuantizedMeshData(tile, terrain.QuantizedMeshOptions{
		ChildTileMask: p.ChildMask(level),
		SkirtHeight:   5 * p.LevelMaximumGeometricError(level),
	}), nil
}

// FlatTile builds an n×n grid of vertices at height zero with edges in ascending order.
func FlatTile(n int) *qmesh.Tile {
	tile := &qmesh.Tile{}
	at := func(i, j int) uint32 { return uint32(j*n + i) }
	step := float64(qmesh.MaxQuantized) / float64(n-1)

	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			tile.U = append(tile.U, uint16(float64(i)*step+0.5))
			tile.V = append(tile.V, uint16(float64(j)*step+0.5))
			tile.Height = append(tile.Height, 0)
		}
	}
	for j := 0; j+1 < n; j++ {
		for i := 0; i+1 < n; i++ {
			sw, se, nw, ne := at(i, j), at(i+1, j), at(i, j+1), at(i+1, j+1)
			tile.Indices = append(tile.Indices, sw, se, nw, nw, se, ne)
		}
	}
	for k := 0; k < n; k++ {
		tile.West = append(tile.West, at(0, k))
		tile.South = append(tile.South, at(k, 0))
		tile.East = append(tile.East, at(n-1, k))
		tile.North = append(tile.North, at(k, n-1))
	}
	return tile
}
