package globe

import (
	"context"

	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// SurfaceTile is the globe's payload of one quadtree tile.
type SurfaceTile struct {
	// Imagery holds one entry per imagery tile draped over this tile, bottom layer first.
	Imagery []*imagery.TileImagery

	SouthwestCornerCartesian math.Cartesian3
	NortheastCornerCartesian math.Cartesian3

	// Edge plane normals point out of the tile. West and south planes pass through the southwest
	// corner, east and north planes through the northeast corner.
	WestNormal  math.Cartesian3
	SouthNormal math.Cartesian3
	EastNormal  math.Cartesian3
	NorthNormal math.Cartesian3

	// WaterMask is nil for tiles that are entirely land.
	WaterMask                    []byte
	WaterMaskTranslationAndScale math.Cartesian4

	TerrainData terrain.Data

	Mesh                       *terrain.Mesh
	Center                     math.Cartesian3
	MinimumHeight              float64
	MaximumHeight              float64
	BoundingSphere             math.BoundingSphere
	OccludeePointInScaledSpace math.Cartesian3
	HasOccludeePoint           bool

	LoadedTerrain    *TileTerrain
	UpsampledTerrain *TileTerrain
	pickTerrain      *TileTerrain
}

// SurfaceTileOf returns the tile's payload, or nil before the tile has been prepared.
func SurfaceTileOf(t *quadtree.Tile) *SurfaceTile {
	if t == nil {
		return nil
	}
	st, _ := t.Data.(*SurfaceTile)
	return st
}

// EligibleForUnloading reports whether no terrain or imagery work is in flight.
func (st *SurfaceTile) EligibleForUnloading() bool {
	if st.LoadedTerrain != nil && st.LoadedTerrain.InFlight() {
		return false
	}
	if st.UpsampledTerrain != nil && st.UpsampledTerrain.InFlight() {
		return false
	}
	for _, ti := range st.Imagery {
		if ti.Transitioning() {
			return false
		}
	}
	return true
}

// FreeResources releases the terrain instances, imagery and mesh. Calling it twice is harmless.
func (st *SurfaceTile) FreeResources() {
	st.WaterMask = nil
	st.TerrainData = nil

	for _, tt := range []*TileTerrain{st.LoadedTerrain, st.UpsampledTerrain, st.pickTerrain} {
		if tt != nil {
			tt.FreeResources()
		}
	}
	st.LoadedTerrain = nil
	st.UpsampledTerrain = nil
	st.pickTerrain = nil

	for _, ti := range st.Imagery {
		ti.FreeResources()
	}
	st.Imagery = nil

	st.Mesh = nil
}

// Pick intersects a ray with the tile's geometry and returns the first hit.
func (st *SurfaceTile) Pick(ray math.Ray, cullBackFaces bool) (math.Cartesian3, bool) {
	if st.pickTerrain == nil || st.pickTerrain.Mesh == nil {
		return math.Cartesian3{}, false
	}
	mesh := st.pickTerrain.Mesh
	for i := 0; i < mesh.TriangleCount(); i++ {
		i0, i1, i2 := mesh.Triangle(i)
		p, ok := math.RayTriangle(ray,
			mesh.Position(int(i0)), mesh.Position(int(i1)), mesh.Position(int(i2)), cullBackFaces)
		if ok {
			return p, true
		}
	}
	return math.Cartesian3{}, false
}

// ProcessStateMachine advances the tile's terrain and imagery by one step and updates its
// state, Renderable and UpsampledFromParent flags.
func ProcessStateMachine(ctx context.Context, tile *quadtree.Tile, provider TerrainProvider, layers *imagery.Collection, workers *worker.Workers) {
	st := SurfaceTileOf(tile)
	if st == nil {
		st = &SurfaceTile{WaterMaskTranslationAndScale: math.IdentityTranslationAndScale}
		tile.Data = st
	}

	if tile.State == quadtree.TileStart {
		prepareNewTile(tile, st, provider, layers, workers)
		tile.State = quadtree.TileLoading
	}

	if tile.State == quadtree.TileLoading {
		processTerrainStateMachine(ctx, tile, st, provider, workers)
	}

	// Renderable as soon as there is a mesh.
	isRenderable := st.Mesh != nil

	// Not done until both terrain state machines have retired.
	isDoneLoading := st.LoadedTerrain == nil && st.UpsampledTerrain == nil

	// Upsampled-only tiles are never refined into.
	isUpsampledOnly := st.TerrainData != nil && st.TerrainData.CreatedByUpsampling()

	i := 0
	for i < len(st.Imagery) {
		ti := st.Imagery[i]
		if ti.LoadingImagery == nil {
			isUpsampledOnly = false
			i++
			continue
		}

		if ti.LoadingImagery.State == imagery.PlaceHolder {
			layer := ti.LoadingImagery.Layer
			if layer.Ready() {
				// Replace the placeholder with the real skeletons and look at the same index again.
				ti.FreeResources()
				st.Imagery = append(st.Imagery[:i], st.Imagery[i+1:]...)
				st.Imagery, _ = layer.CreateTileImagerySkeletons(st.Imagery, tile.Rectangle, tile.Level, i)
				continue
			}
			isUpsampledOnly = false
		}

		thisTileDoneLoading := ti.ProcessStateMachine(ctx)
		isDoneLoading = isDoneLoading && thisTileDoneLoading

		// Imagery is renderable once there is something to show for this region.
		isRenderable = isRenderable && (thisTileDoneLoading || ti.ReadyImagery != nil)

		isUpsampledOnly = isUpsampledOnly && ti.LoadingImagery != nil &&
			(ti.LoadingImagery.State == imagery.Failed || ti.LoadingImagery.State == imagery.Invalid)

		i++
	}

	tile.UpsampledFromParent = isUpsampledOnly

	// Only a pass that reached the end of the imagery list may finish the tile.
	if i == len(st.Imagery) {
		if isRenderable {
			tile.Renderable = true
		}
		if isDoneLoading {
			tile.State = quadtree.TileDone
		}
	}
}

func prepareNewTile(tile *quadtree.Tile, st *SurfaceTile, provider TerrainProvider, layers *imagery.Collection, workers *worker.Workers) {
	if details, ok := upsampleTileDetails(tile); ok {
		st.UpsampledTerrain = NewUpsampledTileTerrain(workers, details)
	}

	if isDataAvailable(tile, provider) {
		st.LoadedTerrain = NewTileTerrain(workers)
	}

	if layers != nil {
		for _, layer := range layers.Layers() {
			if layer.Show {
				st.Imagery, _ = layer.CreateTileImagerySkeletons(st.Imagery, tile.Rectangle, tile.Level, -1)
			}
		}
	}

	ellipsoid := tile.TilingScheme().Ellipsoid
	rect := tile.Rectangle

	// Corners and edge planes for estimating the distance to the tile.
	st.SouthwestCornerCartesian = ellipsoid.CartographicToCartesian(rect.Southwest())
	st.NortheastCornerCartesian = ellipsoid.CartographicToCartesian(rect.Northeast())

	midLatitude := (rect.South + rect.North) * 0.5
	westernMidpoint := ellipsoid.CartographicToCartesian(math.Cartographic{Longitude: rect.West, Latitude: midLatitude})
	easternMidpoint := ellipsoid.CartographicToCartesian(math.Cartographic{Longitude: rect.East, Latitude: midLatitude})

	st.WestNormal = westernMidpoint.Cross(math.UnitZ).Normalize()
	st.EastNormal = math.UnitZ.Cross(easternMidpoint).Normalize()

	westVector := westernMidpoint.Sub(easternMidpoint)
	southeastNormal := ellipsoid.GeodeticSurfaceNormalCartographic(rect.Southeast())
	st.SouthNormal = southeastNormal.Cross(westVector).Normalize()
	northwestNormal := ellipsoid.GeodeticSurfaceNormalCartographic(rect.Northwest())
	st.NorthNormal = westVector.Cross(northwestNormal).Normalize()
}

func processTerrainStateMachine(ctx context.Context, tile *quadtree.Tile, st *SurfaceTile, provider TerrainProvider, workers *worker.Workers) {
	loaded := st.LoadedTerrain
	upsampled := st.UpsampledTerrain
	suspendUpsampling := false

	if loaded != nil {
		loaded.ProcessLoadStateMachine(ctx, provider, tile.X, tile.Y, tile.Level)

		// Publish the data as soon as it arrives; children may need it for upsampling.
		if loaded.State >= TerrainReceived && loaded.State != TerrainFailed {
			if st.TerrainData != loaded.Data {
				st.TerrainData = loaded.Data
				st.WaterMask = waterMaskOrNil(loaded.Data.WaterMask())
				st.WaterMaskTranslationAndScale = math.IdentityTranslationAndScale
				propagateNewLoadedDataToChildren(tile, st, workers)
			}
			suspendUpsampling = true
		}

		switch loaded.State {
		case TerrainReady:
			loaded.PublishToTile(st)
			// Nothing more to load or upsample.
			st.replacePickTerrain(loaded)
			st.LoadedTerrain = nil
			if st.UpsampledTerrain != nil {
				st.UpsampledTerrain.FreeResources()
				st.UpsampledTerrain = nil
			}
		case TerrainFailed:
			// Upsampling, if any, is the fallback.
			st.LoadedTerrain = nil
		}
	}

	if suspendUpsampling || upsampled == nil {
		return
	}

	upsampled.ProcessUpsampleStateMachine(ctx, provider, tile.X, tile.Y, tile.Level)

	// Loaded data never reaches this point, so overwriting terrainData is safe.
	if upsampled.State >= TerrainReceived && upsampled.State != TerrainFailed && st.TerrainData != upsampled.Data {
		st.TerrainData = upsampled.Data
		if provider.HasWaterMask() {
			upsampleWaterMask(tile, st)
		}
		propagateNewUpsampledDataToChildren(tile, st, workers)
	}

	switch upsampled.State {
	case TerrainReady:
		upsampled.PublishToTile(st)
		// The loaded instance, if any, keeps going.
		st.replacePickTerrain(upsampled)
		st.UpsampledTerrain = nil
	case TerrainFailed:
		st.UpsampledTerrain = nil
	}
}

func (st *SurfaceTile) replacePickTerrain(tt *TileTerrain) {
	if st.pickTerrain != nil && st.pickTerrain != tt {
		st.pickTerrain.FreeResources()
	}
	st.pickTerrain = tt
}

// upsampleTileDetails finds the nearest ancestor that has terrain data.
func upsampleTileDetails(tile *quadtree.Tile) (UpsampleDetails, bool) {
	source := tile.Parent()
	for source != nil {
		st := SurfaceTileOf(source)
		if st == nil {
			// Ancestors without a payload have nothing to give; try again later.
			return UpsampleDetails{}, false
		}
		if st.TerrainData != nil {
			return UpsampleDetails{Data: st.TerrainData, X: source.X, Y: source.Y, Level: source.Level}, true
		}
		source = source.Parent()
	}
	return UpsampleDetails{}, false
}

// isDataAvailable asks the provider first, then falls back to the parent's child mask.
// Root tiles are assumed to have data.
func isDataAvailable(tile *quadtree.Tile, provider TerrainProvider) bool {
	if available, known := provider.TileDataAvailable(tile.X, tile.Y, tile.Level); known {
		return available
	}
	parent := tile.Parent()
	if parent == nil {
		return true
	}
	pst := SurfaceTileOf(parent)
	if pst == nil || pst.TerrainData == nil {
		// Parent data has not arrived yet.
		return false
	}
	return pst.TerrainData.IsChildAvailable(parent.X, parent.Y, tile.X, tile.Y)
}

// propagateNewLoadedDataToChildren re-upsamples children from new loaded data and starts loads
// for children that the data reports available. Children with loaded data of their own are left alone.
func propagateNewLoadedDataToChildren(tile *quadtree.Tile, st *SurfaceTile, workers *worker.Workers) {
	for _, child := range tile.ExistingChildren() {
		if child.State == quadtree.TileStart {
			continue
		}
		cst := SurfaceTileOf(child)
		if cst == nil {
			continue
		}
		if cst.TerrainData != nil && !cst.TerrainData.CreatedByUpsampling() {
			continue
		}

		// A fresh instance, since the old one may still have work in flight.
		cst.restartUpsampling(workers, UpsampleDetails{Data: st.TerrainData, X: tile.X, Y: tile.Y, Level: tile.Level})

		if st.TerrainData.IsChildAvailable(tile.X, tile.Y, child.X, child.Y) && cst.LoadedTerrain == nil {
			cst.LoadedTerrain = NewTileTerrain(workers)
		}
		child.State = quadtree.TileLoading
	}
}

// propagateNewUpsampledDataToChildren re-upsamples children that only have upsampled data.
func propagateNewUpsampledDataToChildren(tile *quadtree.Tile, st *SurfaceTile, workers *worker.Workers) {
	for _, child := range tile.ExistingChildren() {
		if child.State == quadtree.TileStart {
			continue
		}
		cst := SurfaceTileOf(child)
		if cst == nil {
			continue
		}
		if cst.TerrainData != nil && !cst.TerrainData.CreatedByUpsampling() {
			continue
		}
		cst.restartUpsampling(workers, UpsampleDetails{Data: st.TerrainData, X: tile.X, Y: tile.Y, Level: tile.Level})
		child.State = quadtree.TileLoading
	}
}

func (st *SurfaceTile) restartUpsampling(workers *worker.Workers, details UpsampleDetails) {
	if st.UpsampledTerrain != nil {
		st.UpsampledTerrain.FreeResources()
	}
	st.UpsampledTerrain = NewUpsampledTileTerrain(workers, details)
}

// upsampleWaterMask borrows the water mask of the nearest ancestor with loaded data.
func upsampleWaterMask(tile *quadtree.Tile, st *SurfaceTile) {
	source := tile.Parent()
	for source != nil {
		sst := SurfaceTileOf(source)
		if sst != nil && sst.TerrainData != nil && !sst.TerrainData.CreatedByUpsampling() {
			break
		}
		source = source.Parent()
	}
	if source == nil {
		return
	}
	sst := SurfaceTileOf(source)
	if sst.WaterMask == nil {
		return
	}
	st.WaterMask = sst.WaterMask
	st.WaterMaskTranslationAndScale = math.TranslationAndScale(tile.Rectangle, source.Rectangle)
}

// waterMaskOrNil drops single-byte masks that mark the tile as all land.
func waterMaskOrNil(mask []byte) []byte {
	if len(mask) == 1 && mask[0] == 0 {
		return nil
	}
	return mask
}
