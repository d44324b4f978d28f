package globe

import (
	"context"

	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Globe is the terrain surface: a quadtree of surface tiles plus queries against what is loaded.
type Globe struct {
	provider  *TileProvider
	primitive *quadtree.Primitive
}

// New creates a globe over a terrain provider and imagery layers.
func New(terrain TerrainProvider, layers *imagery.Collection, workers *worker.Workers, opts quadtree.Options) *Globe {
	provider := NewTileProvider(terrain, layers, workers)
	return &Globe{
		provider:  provider,
		primitive: quadtree.NewPrimitive(provider, opts),
	}
}

// Update selects and loads tiles for one frame.
func (g *Globe) Update(ctx context.Context, frame *camera.FrameState) {
	g.primitive.Update(ctx, frame)
}

// Primitive returns the tile selector.
func (g *Globe) Primitive() *quadtree.Primitive {
	return g.primitive
}

// TileProvider returns the surface tile provider.
func (g *Globe) TileProvider() *TileProvider {
	return g.provider
}

// Ellipsoid returns the shape of the globe.
func (g *Globe) Ellipsoid() *math.Ellipsoid {
	return g.provider.TilingScheme().Ellipsoid
}

// Pick intersects ray with the tiles rendered last frame, nearest tile first, and returns the
// first triangle hit of the first tile it crosses.
func (g *Globe) Pick(ray math.Ray) (math.Cartesian3, bool) {
	// The render list is sorted nearest first.
	for _, t := range g.primitive.RenderList() {
		st := SurfaceTileOf(t)
		if st == nil || !st.BoundingSphere.IntersectsRay(ray) {
			continue
		}
		if p, ok := st.Pick(ray, true); ok {
			return p, true
		}
	}
	return math.Cartesian3{}, false
}

type heightSampler interface {
	InterpolateHeight(rect math.Rectangle, longitude, latitude float64) (float64, bool)
}

// Height returns the terrain height at a position from the finest renderable tile that covers it.
func (g *Globe) Height(c math.Cartographic) (float64, bool) {
	var tile *quadtree.Tile
	for _, t := range g.primitive.LevelZeroTiles() {
		if t.Rectangle.Contains(c) {
			tile = t
			break
		}
	}
	if tile == nil || !tile.Renderable {
		return 0, false
	}

	for tile.HasChildren() {
		var next *quadtree.Tile
		for _, child := range tile.ExistingChildren() {
			if child.Renderable && child.Rectangle.Contains(c) {
				next = child
				break
			}
		}
		if next == nil {
			break
		}
		tile = next
	}

	st := SurfaceTileOf(tile)
	if st == nil {
		return 0, false
	}
	sampler, ok := st.TerrainData.(heightSampler)
	if !ok {
		return 0, false
	}
	return sampler.InterpolateHeight(tile.Rectangle, c.Longitude, c.Latitude)
}
