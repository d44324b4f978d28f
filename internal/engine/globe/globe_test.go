package globe

import (
	"context"
	"errors"
	"image"
	gomath "math"
	"testing"
	"time"

	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/pkg/math"
	"github.com/Faultbox/midgard-globe/pkg/qmesh"
)

type tileKey struct{ x, y, level int }

type fakeTerrain struct {
	scheme    *math.GeographicTilingScheme
	notReady  bool
	available map[tileKey]bool
	failing   map[tileKey]bool
	childMask uint8
	waterMask []byte
	height    float64

	requests []tileKey
	ctxErrs  []error
}

func newFakeTerrain() *fakeTerrain {
	return &fakeTerrain{scheme: math.NewGeographicTilingScheme(nil), height: 0.5}
}

func (p *fakeTerrain) Ready() bool                                { return !p.notReady }
func (p *fakeTerrain) TilingScheme() *math.GeographicTilingScheme { return p.scheme }
func (p *fakeTerrain) HasWaterMask() bool                         { return p.waterMask != nil }
func (p *fakeTerrain) HasVertexNormals() bool                     { return false }

func (p *fakeTerrain) LevelMaximumGeometricError(level int) float64 {
	return LevelMaximumGeometricError(EstimatedLevelZeroGeometricError(p.scheme.Ellipsoid, 65, 2), level)
}

func (p *fakeTerrain) TileDataAvailable(x, y, level int) (bool, bool) {
	available, known := p.available[tileKey{x, y, level}]
	return available, known
}

func (p *fakeTerrain) RequestTileGeometry(ctx context.Context, x, y, level int) (terrain.Data, error) {
	key := tileKey{x, y, level}
	p.requests = append(p.requests, key)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	if p.failing[key] {
		return nil, errors.New("tile server unreachable")
	}
	tile := createFlatGrid(5, p.height)
	tile.WaterMask = p.waterMask
	return terrain.NewQuantizedMeshData(tile, terrain.QuantizedMeshOptions{
		ChildTileMask: p.childMask,
		SkirtHeight:   10,
	}), nil
}

// createFlatGrid builds an n×n grid at a constant normalized height between 0 and 100 meters.
func createFlatGrid(n int, height float64) *qmesh.Tile {
	quantize := func(v float64) uint16 { return uint16(gomath.Round(v * 65535)) }
	tile := &qmesh.Tile{Header: qmesh.Header{MinimumHeight: 0, MaximumHeight: 100}}
	at := func(i, j int) uint32 { return uint32(j*n + i) }
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			tile.U = append(tile.U, quantize(float64(i)/float64(n-1)))
			tile.V = append(tile.V, quantize(float64(j)/float64(n-1)))
			tile.Height = append(tile.Height, quantize(height))
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
		tile.East = append(tile.East, at(n-1, k))
		tile.South = append(tile.South, at(k, 0))
		tile.North = append(tile.North, at(k, n-1))
	}
	return tile
}

// manualDispatcher queues tasks until the test runs them.
type manualDispatcher struct {
	pending []func() error
}

func (d *manualDispatcher) TryGo(fn func() error) bool {
	d.pending = append(d.pending, fn)
	return true
}

func (d *manualDispatcher) runAll() {
	pending := d.pending
	d.pending = nil
	for _, fn := range pending {
		_ = fn()
	}
}

func manualWorkers() (*worker.Workers, *manualDispatcher, *manualDispatcher) {
	fetch, decode := &manualDispatcher{}, &manualDispatcher{}
	return &worker.Workers{Fetch: fetch, Decode: decode}, fetch, decode
}

func levelZero(p *fakeTerrain) (*quadtree.Tree, []*quadtree.Tile) {
	tree := quadtree.NewTree(p.scheme)
	return tree, tree.CreateLevelZeroTiles()
}

func surface(t *testing.T, tile *quadtree.Tile) *SurfaceTile {
	t.Helper()
	st := SurfaceTileOf(tile)
	if st == nil {
		t.Fatalf("tile L%d X%d Y%d has no surface tile", tile.Level, tile.X, tile.Y)
	}
	return st
}

func TestTileTerrain_Load(t *testing.T) {
	tests := []struct {
		name      string
		workers   *worker.Workers
		failing   bool
		wantState TerrainState
		wantMesh  bool
	}{
		{"inline", worker.InlineWorkers(), false, TerrainReady, true},
		{"fetch fails", worker.InlineWorkers(), true, TerrainFailed, false},
		{"fetch pool saturated", &worker.Workers{Fetch: worker.Saturated{}, Decode: worker.Inline{}}, false, TerrainUnloaded, false},
		{"decode pool saturated", &worker.Workers{Fetch: worker.Inline{}, Decode: worker.Saturated{}}, false, TerrainReceived, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeTerrain()
			if tt.failing {
				p.failing = map[tileKey]bool{{0, 0, 0}: true}
			}
			tileTerrain := NewTileTerrain(tt.workers)
			tileTerrain.ProcessLoadStateMachine(context.Background(), p, 0, 0, 0)

			if tileTerrain.State != tt.wantState {
				t.Errorf("state = %v, want %v", tileTerrain.State, tt.wantState)
			}
			if (tileTerrain.Mesh != nil) != tt.wantMesh {
				t.Errorf("mesh present = %v, want %v", tileTerrain.Mesh != nil, tt.wantMesh)
			}
		})
	}
}

func TestTileTerrain_Upsample(t *testing.T) {
	p := newFakeTerrain()
	workers := worker.InlineWorkers()

	parent := NewTileTerrain(workers)
	parent.ProcessLoadStateMachine(context.Background(), p, 0, 0, 0)
	if parent.State != TerrainReady {
		t.Fatalf("parent state = %v", parent.State)
	}

	child := NewUpsampledTileTerrain(workers, UpsampleDetails{Data: parent.Data, X: 0, Y: 0, Level: 0})
	child.ProcessUpsampleStateMachine(context.Background(), p, 1, 1, 1)
	if child.State != TerrainReady {
		t.Fatalf("child state = %v, want ready", child.State)
	}
	if !child.Data.CreatedByUpsampling() {
		t.Error("upsampled data should be marked as such")
	}
	if len(p.requests) != 1 {
		t.Errorf("upsampling must not fetch, got %d requests", len(p.requests))
	}
}

func TestTileTerrain_FreeResourcesDiscardsLateResult(t *testing.T) {
	p := newFakeTerrain()
	workers, fetch, _ := manualWorkers()

	tt := NewTileTerrain(workers)
	tt.ProcessLoadStateMachine(context.Background(), p, 0, 0, 0)
	if tt.State != TerrainReceiving {
		t.Fatalf("state = %v, want receiving", tt.State)
	}

	tt.FreeResources()
	tt.FreeResources()
	fetch.runAll()

	if len(p.ctxErrs) != 1 || !errors.Is(p.ctxErrs[0], context.Canceled) {
		t.Errorf("fetch context errors = %v, want canceled", p.ctxErrs)
	}
	tt.ProcessLoadStateMachine(context.Background(), p, 0, 0, 0)
	if tt.Data != nil || tt.State != TerrainReceiving {
		t.Errorf("late result observed: state %v data %v", tt.State, tt.Data)
	}
}

func TestTileTerrain_InFlight(t *testing.T) {
	p := newFakeTerrain()
	workers, fetch, decode := manualWorkers()
	ctx := context.Background()

	tt := NewTileTerrain(workers)
	if tt.InFlight() {
		t.Error("unloaded instance reported in flight")
	}
	tt.ProcessLoadStateMachine(ctx, p, 0, 0, 0)
	if !tt.InFlight() {
		t.Fatalf("state = %v, want a fetch in flight", tt.State)
	}
	fetch.runAll()
	if tt.State != TerrainReceiving || tt.InFlight() {
		t.Errorf("delivered fetch: state = %v in flight = %v", tt.State, tt.InFlight())
	}

	tt.ProcessLoadStateMachine(ctx, p, 0, 0, 0)
	if tt.State != TerrainTransforming || !tt.InFlight() {
		t.Fatalf("state = %v in flight = %v, want a decode in flight", tt.State, tt.InFlight())
	}
	decode.runAll()
	if tt.InFlight() {
		t.Error("delivered decode reported in flight")
	}
}

func TestProcessStateMachine_RootLoadsWithoutUpsampling(t *testing.T) {
	p := newFakeTerrain()
	workers, fetch, decode := manualWorkers()
	_, roots := levelZero(p)
	root := roots[0]

	ProcessStateMachine(context.Background(), root, p, nil, workers)
	st := surface(t, root)
	if st.LoadedTerrain == nil {
		t.Fatal("a root tile with unknown availability should load")
	}
	if st.UpsampledTerrain != nil {
		t.Fatal("a root tile has nothing to upsample from")
	}
	if root.State != quadtree.TileLoading {
		t.Errorf("state = %v, want loading", root.State)
	}

	fetch.runAll()
	ProcessStateMachine(context.Background(), root, p, nil, workers)
	decode.runAll()
	ProcessStateMachine(context.Background(), root, p, nil, workers)

	if root.State != quadtree.TileDone || !root.Renderable {
		t.Errorf("state = %v renderable = %v, want done and renderable", root.State, root.Renderable)
	}
	if st.Mesh == nil || st.TerrainData == nil {
		t.Error("mesh and terrain data should be published")
	}
}

func TestProcessStateMachine_Safety(t *testing.T) {
	p := newFakeTerrain()
	workers, fetch, decode := manualWorkers()
	_, roots := levelZero(p)
	root := roots[0]
	ctx := context.Background()

	check := func(step string, wantEligible bool) {
		t.Helper()
		st := surface(t, root)
		if root.Renderable && st.Mesh == nil {
			t.Errorf("%s: renderable without a mesh", step)
		}
		if got := st.EligibleForUnloading(); got != wantEligible {
			t.Errorf("%s: eligible for unloading = %v, want %v", step, got, wantEligible)
		}
	}

	ProcessStateMachine(ctx, root, p, nil, workers)
	check("receiving", false)

	fetch.runAll()
	ProcessStateMachine(ctx, root, p, nil, workers)
	if surface(t, root).LoadedTerrain.State != TerrainTransforming {
		t.Fatalf("state = %v, want transforming", surface(t, root).LoadedTerrain.State)
	}
	check("transforming", false)

	decode.runAll()
	ProcessStateMachine(ctx, root, p, nil, workers)
	check("ready", true)
	if !root.Renderable {
		t.Error("tile should be renderable once the mesh is published")
	}
}

func TestProcessStateMachine_LoadedPreemptsUpsampled(t *testing.T) {
	p := newFakeTerrain()
	p.childMask = terrain.ChildAll
	ctx := context.Background()
	_, roots := levelZero(p)
	root := roots[0]
	ProcessStateMachine(ctx, root, p, nil, worker.InlineWorkers())

	workers, fetch, decode := manualWorkers()
	child := root.Children()[quadtree.Southwest]
	ProcessStateMachine(ctx, child, p, nil, workers)
	st := surface(t, child)
	if st.LoadedTerrain == nil || st.UpsampledTerrain == nil {
		t.Fatal("child should both load and upsample")
	}
	upsampled := st.UpsampledTerrain

	// Both results are now waiting to be observed.
	fetch.runAll()
	decode.runAll()
	ProcessStateMachine(ctx, child, p, nil, workers)

	if st.LoadedTerrain.State != TerrainTransforming {
		t.Fatalf("loaded state = %v, want transforming", st.LoadedTerrain.State)
	}
	if upsampled.State != TerrainReceiving {
		t.Errorf("upsampled state = %v, want it left at receiving", upsampled.State)
	}
	if st.TerrainData != st.LoadedTerrain.Data {
		t.Error("loaded data should be published")
	}

	decode.runAll()
	ProcessStateMachine(ctx, child, p, nil, workers)
	if st.LoadedTerrain != nil || st.UpsampledTerrain != nil {
		t.Error("both instances should retire once loaded data is ready")
	}
	if child.State != quadtree.TileDone || child.UpsampledFromParent {
		t.Errorf("state = %v upsampledFromParent = %v", child.State, child.UpsampledFromParent)
	}
}

func TestProcessStateMachine_LoadedFailureFallsBackToUpsampled(t *testing.T) {
	p := newFakeTerrain()
	p.childMask = terrain.ChildAll
	ctx := context.Background()
	workers := worker.InlineWorkers()
	_, roots := levelZero(p)
	root := roots[0]
	ProcessStateMachine(ctx, root, p, nil, workers)

	child := root.Children()[quadtree.Southwest]
	p.failing = map[tileKey]bool{{child.X, child.Y, child.Level}: true}
	ProcessStateMachine(ctx, child, p, nil, workers)

	st := surface(t, child)
	if len(p.requests) != 2 || p.requests[1] != (tileKey{child.X, child.Y, child.Level}) {
		t.Errorf("requests = %v, want the root and the child", p.requests)
	}
	if st.LoadedTerrain != nil {
		t.Errorf("failed load instance kept in state %v", st.LoadedTerrain.State)
	}
	if child.State != quadtree.TileDone || !child.Renderable || !child.UpsampledFromParent {
		t.Errorf("state = %v renderable = %v upsampledFromParent = %v, want done from upsampled data",
			child.State, child.Renderable, child.UpsampledFromParent)
	}
	if st.TerrainData == nil || !st.TerrainData.CreatedByUpsampling() {
		t.Error("upsampled data should be published")
	}
}

func TestProcessStateMachine_DeliveredResultsAreEvictable(t *testing.T) {
	p := newFakeTerrain()
	p.childMask = terrain.ChildAll
	ctx := context.Background()
	tree, roots := levelZero(p)
	root := roots[0]
	ProcessStateMachine(ctx, root, p, nil, worker.InlineWorkers())

	workers, fetch, decode := manualWorkers()
	child := root.Children()[quadtree.Southwest]
	ProcessStateMachine(ctx, child, p, nil, workers)
	st := surface(t, child)
	if st.LoadedTerrain == nil || st.UpsampledTerrain == nil {
		t.Fatal("child should both load and upsample")
	}

	q := quadtree.NewReplacementQueue(tree)
	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(root)
	q.MarkTileRendered(child)
	q.MarkTileRendered(roots[1])

	// The tile leaves the view with both requests outstanding.
	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(roots[1])
	q.TrimTiles(1)
	if root.Data == nil || child.Data == nil {
		t.Fatal("tiles with requests in flight must not be evicted")
	}

	// Workers finish, but the tile is never processed again.
	fetch.runAll()
	decode.runAll()
	if st.LoadedTerrain.State != TerrainReceiving || st.UpsampledTerrain.State != TerrainReceiving {
		t.Fatalf("states = %v, %v; want both still receiving", st.LoadedTerrain.State, st.UpsampledTerrain.State)
	}
	if !st.EligibleForUnloading() {
		t.Fatal("delivered results should not block unloading")
	}

	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(roots[1])
	q.TrimTiles(1)
	if root.Data != nil || root.HasChildren() || root.State != quadtree.TileStart {
		t.Errorf("root not evicted: state %v", root.State)
	}
	if q.Count() != 1 {
		t.Errorf("queue count = %d, want 1", q.Count())
	}
}

func TestProcessStateMachine_UnavailableChildUpsamples(t *testing.T) {
	p := newFakeTerrain()
	ctx := context.Background()
	workers := worker.InlineWorkers()
	_, roots := levelZero(p)
	root := roots[0]
	ProcessStateMachine(ctx, root, p, nil, workers)

	for _, child := range root.Children() {
		ProcessStateMachine(ctx, child, p, nil, workers)
		if child.State != quadtree.TileDone || !child.Renderable {
			t.Errorf("child %d,%d: state %v renderable %v", child.X, child.Y, child.State, child.Renderable)
		}
		if !child.UpsampledFromParent {
			t.Errorf("child %d,%d should be upsampled only", child.X, child.Y)
		}
	}
	if len(p.requests) != 1 {
		t.Errorf("requests = %v, want the root only", p.requests)
	}
}

func TestProcessStateMachine_ProviderAvailability(t *testing.T) {
	p := newFakeTerrain()
	p.available = map[tileKey]bool{{0, 0, 0}: false}
	_, roots := levelZero(p)

	ProcessStateMachine(context.Background(), roots[0], p, nil, worker.InlineWorkers())
	if len(p.requests) != 0 {
		t.Errorf("requests = %v, want none for an unavailable tile", p.requests)
	}
	if roots[0].Renderable {
		t.Error("a tile without data cannot render")
	}
	if roots[0].State != quadtree.TileDone {
		t.Errorf("state = %v, want done", roots[0].State)
	}
}

func TestProcessStateMachine_PropagatesNewLoadedData(t *testing.T) {
	p := newFakeTerrain()
	p.childMask = terrain.ChildSouthwest
	ctx := context.Background()
	workers, fetch, decode := manualWorkers()
	_, roots := levelZero(p)
	root := roots[0]

	ProcessStateMachine(ctx, root, p, nil, workers)
	children := root.Children()
	for _, c := range children {
		ProcessStateMachine(ctx, c, p, nil, workers)
		if c.State != quadtree.TileDone {
			t.Fatalf("child without any data source should be done, got %v", c.State)
		}
	}

	fetch.runAll()
	ProcessStateMachine(ctx, root, p, nil, workers)

	for i, c := range children {
		st := surface(t, c)
		if c.State != quadtree.TileLoading {
			t.Errorf("child %d: state = %v, want loading", i, c.State)
		}
		if st.UpsampledTerrain == nil {
			t.Errorf("child %d: expected an upsample instance", i)
		}
		if wantLoad := i == quadtree.Southwest; (st.LoadedTerrain != nil) != wantLoad {
			t.Errorf("child %d: load instance = %v, want %v", i, st.LoadedTerrain != nil, wantLoad)
		}
	}
	decode.runAll()
}

type fakeImagery struct {
	ready bool
}

func (p *fakeImagery) Ready() bool { return p.ready }
func (p *fakeImagery) TilingScheme() *math.GeographicTilingScheme {
	return math.NewGeographicTilingScheme(nil)
}
func (p *fakeImagery) MaximumLevel() int { return 5 }
func (p *fakeImagery) RequestImage(context.Context, int, int, int) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func TestProcessStateMachine_PlaceholderExpansion(t *testing.T) {
	p := newFakeTerrain()
	ip := &fakeImagery{}
	layers := &imagery.Collection{}
	layers.Add(imagery.NewLayer(ip, worker.Inline{}))
	_, roots := levelZero(p)
	root := roots[0]
	ctx := context.Background()

	ProcessStateMachine(ctx, root, p, layers, worker.InlineWorkers())
	st := surface(t, root)
	if len(st.Imagery) != 1 || st.Imagery[0].LoadingImagery.State != imagery.PlaceHolder {
		t.Fatalf("expected a placeholder, got %d entries", len(st.Imagery))
	}
	if root.Renderable || root.State == quadtree.TileDone {
		t.Error("a tile waiting on imagery should not be renderable or done")
	}

	ip.ready = true
	ProcessStateMachine(ctx, root, p, layers, worker.InlineWorkers())
	if len(st.Imagery) != 1 || st.Imagery[0].ReadyImagery == nil {
		t.Fatalf("placeholder should be replaced by loaded imagery")
	}
	if !root.Renderable || root.State != quadtree.TileDone {
		t.Errorf("renderable = %v state = %v", root.Renderable, root.State)
	}

	st.FreeResources()
	st.FreeResources()
	if st.Mesh != nil || st.TerrainData != nil || st.Imagery != nil {
		t.Error("FreeResources should drop everything")
	}
	if layers.Get(0).CacheSize() != 0 {
		t.Errorf("imagery cache = %d, want 0", layers.Get(0).CacheSize())
	}
}

func TestProcessStateMachine_WaterMask(t *testing.T) {
	tests := []struct {
		name      string
		mask      []byte
		wantRoot  bool
		wantChild bool
	}{
		{"all water", []byte{1}, true, true},
		{"all land", []byte{0}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeTerrain()
			p.waterMask = tt.mask
			ctx := context.Background()
			workers := worker.InlineWorkers()
			_, roots := levelZero(p)
			root := roots[0]

			ProcessStateMachine(ctx, root, p, nil, workers)
			rst := surface(t, root)
			if (rst.WaterMask != nil) != tt.wantRoot {
				t.Fatalf("root water mask = %v", rst.WaterMask)
			}
			if rst.WaterMaskTranslationAndScale != math.IdentityTranslationAndScale {
				t.Errorf("root translation and scale = %+v", rst.WaterMaskTranslationAndScale)
			}

			child := root.Children()[quadtree.Northeast]
			ProcessStateMachine(ctx, child, p, nil, workers)
			cst := surface(t, child)
			if (cst.WaterMask != nil) != tt.wantChild {
				t.Fatalf("child water mask = %v", cst.WaterMask)
			}
			if tt.wantChild {
				want := math.TranslationAndScale(child.Rectangle, root.Rectangle)
				if cst.WaterMaskTranslationAndScale != want {
					t.Errorf("child translation and scale = %+v, want %+v", cst.WaterMaskTranslationAndScale, want)
				}
			}
		})
	}
}

func lookFrom(position, direction math.Cartesian3) *camera.FrameState {
	c := &camera.Camera{
		Position:  position,
		Direction: direction,
		Up:        math.UnitZ,
		Frustum:   camera.NewPerspectiveFrustum(gomath.Pi/3, 100, 100),
	}
	return camera.NewFrameState(c, 100, 100, 1)
}

func TestTileProvider_Visibility(t *testing.T) {
	p := newFakeTerrain()
	provider := NewTileProvider(p, nil, worker.InlineWorkers())
	_, roots := levelZero(p)
	root := roots[0] // western hemisphere, centered on -Y
	provider.LoadTile(context.Background(), nil, root)

	r := p.scheme.Ellipsoid.MaximumRadius
	from := math.Cartesian3{Y: -4 * r}
	occluders := quadtree.NewOccluders(p.scheme.Ellipsoid)
	occluders.Ellipsoid.SetCameraPosition(from)

	if got := provider.ComputeTileVisibility(root, lookFrom(from, math.Cartesian3{Y: 1}), occluders); got == quadtree.VisibilityNone {
		t.Error("tile in front of the camera should be visible")
	}
	if got := provider.ComputeTileVisibility(root, lookFrom(from, math.Cartesian3{Y: -1}), occluders); got != quadtree.VisibilityNone {
		t.Errorf("tile behind the camera: visibility = %v, want none", got)
	}

	st := surface(t, root)
	st.HasOccludeePoint = true
	st.OccludeePointInScaledSpace = math.Cartesian3{Y: 1.01}
	if got := provider.ComputeTileVisibility(root, lookFrom(from, math.Cartesian3{Y: 1}), occluders); got != quadtree.VisibilityNone {
		t.Errorf("tile behind the horizon: visibility = %v, want none", got)
	}
}

func TestTileProvider_Distance(t *testing.T) {
	p := newFakeTerrain()
	provider := NewTileProvider(p, nil, worker.InlineWorkers())
	_, roots := levelZero(p)
	root := roots[0]
	provider.LoadTile(context.Background(), nil, root)

	above := p.scheme.Ellipsoid.CartographicToCartesian(math.Cartographic{Longitude: -gomath.Pi / 2, Height: 1000})
	got := provider.ComputeDistanceToTile(root, lookFrom(above, math.Cartesian3{Y: 1}))
	// Height range of the tile is 0..100 m.
	if gomath.Abs(got-900) > 1e-3 {
		t.Errorf("distance = %v, want 900", got)
	}
}

func TestTileProvider_ReadyFollowsBaseLayer(t *testing.T) {
	p := newFakeTerrain()
	ip := &fakeImagery{}
	layers := &imagery.Collection{}
	layers.Add(imagery.NewLayer(ip, worker.Inline{}))
	provider := NewTileProvider(p, layers, worker.InlineWorkers())

	if provider.Ready() {
		t.Error("provider should wait for the base imagery layer")
	}
	ip.ready = true
	if !provider.Ready() {
		t.Error("provider should be ready")
	}
	p.notReady = true
	if provider.Ready() {
		t.Error("provider should wait for terrain")
	}
}

func TestGlobe_EndToEnd(t *testing.T) {
	p := newFakeTerrain()
	opts := quadtree.DefaultOptions()
	opts.LoadQueueTimeSlice = time.Hour
	g := New(p, nil, worker.InlineWorkers(), opts)

	target := math.Cartographic{Longitude: -1.4, Latitude: 0.1}
	oc := camera.NewOrbitCamera(g.Ellipsoid(), target, 1e7)
	cam := oc.Camera(camera.NewPerspectiveFrustum(gomath.Pi/3, 100, 100))

	for frame := uint64(1); frame <= 3; frame++ {
		g.Update(context.Background(), camera.NewFrameState(cam, 100, 100, frame))
	}

	if len(g.Primitive().RenderList()) == 0 {
		t.Fatal("nothing rendered")
	}
	for _, tile := range g.Primitive().RenderList() {
		if tile.Level != 0 {
			t.Errorf("tile at level %d rendered from 10000 km", tile.Level)
		}
	}

	h, ok := g.Height(target)
	if !ok {
		t.Fatal("height should be known under the camera")
	}
	if gomath.Abs(h-50) > 0.01 {
		t.Errorf("height = %v, want about 50", h)
	}

	surfacePoint := g.Ellipsoid().CartographicToCartesian(target)
	ray := math.Ray{Origin: cam.Position, Direction: surfacePoint.Sub(cam.Position).Normalize()}
	hit, ok := g.Pick(ray)
	if !ok {
		t.Fatal("ray toward the surface should hit")
	}
	if hit.Magnitude() > surfacePoint.Magnitude()+100 || hit.Magnitude() < 0.8*surfacePoint.Magnitude() {
		t.Errorf("hit %v is not near the surface", hit)
	}
}

func TestTerrainStateString(t *testing.T) {
	if TerrainTransforming.String() != "transforming" || TerrainState(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
	if !TerrainReceiving.Transitioning() || TerrainReceived.Transitioning() {
		t.Error("only receiving and transforming are transitions")
	}
}
