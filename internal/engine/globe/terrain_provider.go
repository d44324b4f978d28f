// Package globe drives the per-tile terrain and imagery state machines that feed the quadtree.
package globe

import (
	"context"
	gomath "math"

	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// TerrainProvider serves terrain tiles.
type TerrainProvider interface {
	Ready() bool
	TilingScheme() *math.GeographicTilingScheme
	HasWaterMask() bool
	HasVertexNormals() bool
	LevelMaximumGeometricError(level int) float64

	// TileDataAvailable reports whether a tile exists. known is false when the provider cannot tell.
	TileDataAvailable(x, y, level int) (available, known bool)

	// RequestTileGeometry fetches a tile. It runs on a worker goroutine and must honour ctx.
	RequestTileGeometry(ctx context.Context, x, y, level int) (terrain.Data, error)
}

// HeightmapTerrainQuality scales the geometric error estimated for level zero.
const HeightmapTerrainQuality = 0.25

// EstimatedLevelZeroGeometricError estimates the geometric error of a level-zero tile sampled
// tileWidth times across.
func EstimatedLevelZeroGeometricError(e *math.Ellipsoid, tileWidth, levelZeroTilesX int) float64 {
	return e.MaximumRadius * math.TwoPi * HeightmapTerrainQuality / float64(tileWidth*levelZeroTilesX)
}

// LevelMaximumGeometricError halves the level-zero error once per level.
func LevelMaximumGeometricError(levelZeroError float64, level int) float64 {
	return levelZeroError / gomath.Pow(2, float64(level))
}
