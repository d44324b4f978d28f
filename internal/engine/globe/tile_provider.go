package globe

import (
	"context"
	gomath "math"

	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// TileProvider feeds the quadtree with globe surface tiles built from a terrain provider and
// a stack of imagery layers.
type TileProvider struct {
	terrain TerrainProvider
	layers  *imagery.Collection
	workers *worker.Workers
}

var _ quadtree.TileProvider = (*TileProvider)(nil)

// NewTileProvider creates a provider. layers may be nil.
func NewTileProvider(terrain TerrainProvider, layers *imagery.Collection, workers *worker.Workers) *TileProvider {
	if layers == nil {
		layers = &imagery.Collection{}
	}
	return &TileProvider{terrain: terrain, layers: layers, workers: workers}
}

// Terrain returns the terrain provider.
func (p *TileProvider) Terrain() TerrainProvider {
	return p.terrain
}

// Layers returns the imagery layers.
func (p *TileProvider) Layers() *imagery.Collection {
	return p.layers
}

// Ready reports whether the terrain and the base imagery layer can be used.
func (p *TileProvider) Ready() bool {
	if !p.terrain.Ready() {
		return false
	}
	return p.layers.Len() == 0 || p.layers.Get(0).Ready()
}

func (p *TileProvider) TilingScheme() *math.GeographicTilingScheme {
	return p.terrain.TilingScheme()
}

func (p *TileProvider) LevelMaximumGeometricError(level int) float64 {
	return p.terrain.LevelMaximumGeometricError(level)
}

// LoadTile implements quadtree.TileProvider.
func (p *TileProvider) LoadTile(ctx context.Context, _ *camera.FrameState, tile *quadtree.Tile) {
	ProcessStateMachine(ctx, tile, p.terrain, p.layers, p.workers)
}

// ComputeTileVisibility tests the tile's bounding sphere against the view frustum and then
// against the horizon.
func (p *TileProvider) ComputeTileVisibility(tile *quadtree.Tile, frame *camera.FrameState, occluders *quadtree.Occluders) quadtree.Visibility {
	st := SurfaceTileOf(tile)

	var sphere math.BoundingSphere
	if st != nil && st.Mesh != nil {
		sphere = st.BoundingSphere
	} else {
		sphere = math.BoundingSphereFromRectangle(tile.Rectangle, tile.TilingScheme().Ellipsoid, 0, 0)
	}

	var visibility quadtree.Visibility
	switch frame.CullingVolume.Visibility(sphere) {
	case camera.Outside:
		return quadtree.VisibilityNone
	case camera.Inside:
		visibility = quadtree.VisibilityFull
	default:
		visibility = quadtree.VisibilityPartial
	}

	if st == nil || !st.HasOccludeePoint || occluders == nil || occluders.Ellipsoid == nil {
		return visibility
	}
	if occluders.Ellipsoid.IsScaledSpacePointVisible(st.OccludeePointInScaledSpace) {
		return visibility
	}
	return quadtree.VisibilityNone
}

// ComputeDistanceToTile estimates the distance from the camera to the tile using the edge planes
// and the tile's height range.
func (p *TileProvider) ComputeDistanceToTile(tile *quadtree.Tile, frame *camera.FrameState) float64 {
	position := frame.CameraPosition()
	st := SurfaceTileOf(tile)
	if st == nil {
		sphere := math.BoundingSphereFromRectangle(tile.Rectangle, tile.TilingScheme().Ellipsoid, 0, 0)
		return gomath.Sqrt(sphere.DistanceSquaredTo(position))
	}

	fromSouthwest := position.Sub(st.SouthwestCornerCartesian)
	distanceToWestPlane := fromSouthwest.Dot(st.WestNormal)
	distanceToSouthPlane := fromSouthwest.Dot(st.SouthNormal)

	fromNortheast := position.Sub(st.NortheastCornerCartesian)
	distanceToEastPlane := fromNortheast.Dot(st.EastNormal)
	distanceToNorthPlane := fromNortheast.Dot(st.NorthNormal)

	result := 0.0
	if distanceToWestPlane > 0 {
		result += distanceToWestPlane * distanceToWestPlane
	} else if distanceToEastPlane > 0 {
		result += distanceToEastPlane * distanceToEastPlane
	}
	if distanceToSouthPlane > 0 {
		result += distanceToSouthPlane * distanceToSouthPlane
	} else if distanceToNorthPlane > 0 {
		result += distanceToNorthPlane * distanceToNorthPlane
	}

	cameraHeight := 0.0
	if c, ok := tile.TilingScheme().Ellipsoid.CartesianToCartographic(position); ok {
		cameraHeight = c.Height
	}
	if cameraHeight > st.MaximumHeight {
		d := cameraHeight - st.MaximumHeight
		result += d * d
	} else if cameraHeight < st.MinimumHeight {
		d := st.MinimumHeight - cameraHeight
		result += d * d
	}
	return gomath.Sqrt(result)
}
