package mbtiles

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/globe"
	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/internal/provider/layer"
	"github.com/Faultbox/midgard-globe/pkg/math"
	"github.com/Faultbox/midgard-globe/pkg/qmesh"
)

// TMSRow converts a north-origin row of the geographic scheme to the stored south-origin row.
// The conversion is its own inverse.
func TMSRow(scheme *math.GeographicTilingScheme, y, level int) int {
	return scheme.NumberOfYTilesAtLevel(level) - 1 - y
}

// Provider implements globe.TerrainProvider over a store holding quantized-mesh tiles.
type Provider struct {
	store          *Store
	layer          *layer.Layer
	availability   *layer.Availability
	scheme         *math.GeographicTilingScheme
	levelZeroError float64
	waterMask      bool
	log            *zap.Logger
}

var _ globe.TerrainProvider = (*Provider)(nil)

// NewProvider reads the tileset's layer.json from the store metadata.
func NewProvider(ctx context.Context, store *Store) (*Provider, error) {
	meta, err := store.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	doc, ok := meta[MetaLayer]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q metadata", layer.ErrInvalidLayer, store.Path(), MetaLayer)
	}
	l, err := layer.Parse([]byte(doc))
	if err != nil {
		return nil, err
	}

	scheme := math.NewGeographicTilingScheme(nil)
	p := &Provider{
		store:          store,
		layer:          l,
		availability:   l.Availability(),
		scheme:         scheme,
		levelZeroError: globe.EstimatedLevelZeroGeometricError(scheme.Ellipsoid, 65, scheme.NumberOfXTilesAtLevel(0)),
		waterMask:      l.HasExtension(layer.ExtensionWaterMask),
		log:            logger.Named("mbtiles"),
	}
	p.log.Info("terrain tileset opened",
		zap.String("path", store.Path()),
		zap.String("name", l.Name),
		zap.Strings("extensions", l.Extensions))
	return p, nil
}

func (p *Provider) Ready() bool                                { return true }
func (p *Provider) TilingScheme() *math.GeographicTilingScheme { return p.scheme }
func (p *Provider) HasWaterMask() bool                         { return p.waterMask }
func (p *Provider) HasVertexNormals() bool {
	return p.layer.HasExtension(layer.ExtensionOctVertexNormals)
}

func (p *Provider) LevelMaximumGeometricError(level int) float64 {
	return globe.LevelMaximumGeometricError(p.levelZeroError, level)
}

// TileDataAvailable answers from the stored layer.json; levels it does not list are unknown.
func (p *Provider) TileDataAvailable(x, y, level int) (available, known bool) {
	if p.availability == nil || level > p.availability.MaximumLevel() {
		return false, false
	}
	return p.availability.IsTileAvailable(x, y, level), true
}

// RequestTileGeometry reads and parses one tile.
func (p *Provider) RequestTileGeometry(ctx context.Context, x, y, level int) (terrain.Data, error) {
	blob, err := p.store.ReadTile(ctx, TileID{Level: level, Column: x, Row: TMSRow(p.scheme, y, level)})
	if err != nil {
		return nil, err
	}
	raw, err := qmesh.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", level, x, y, err)
	}
	tile, err := qmesh.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", level, x, y, err)
	}

	mask := uint8(terrain.ChildAll)
	if p.availability != nil && level < p.availability.MaximumLevel() {
		mask = p.availability.ChildMask(x, y, level)
	}
	return terrain.NewQuantizedMeshData(tile, terrain.QuantizedMeshOptions{
		ChildTileMask: mask,
		SkirtHeight:   5 * p.LevelMaximumGeometricError(level),
	}), nil
}
