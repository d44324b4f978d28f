package quadtree

import (
	"context"
	gomath "math"
	"testing"
	"time"

	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

type fakeData struct {
	eligible bool
	freed    int
}

func (d *fakeData) EligibleForUnloading() bool { return d.eligible }
func (d *fakeData) FreeResources()             { d.freed++ }

// fakeProvider loads every tile in one step unless load is set.
type fakeProvider struct {
	scheme   *math.GeographicTilingScheme
	notReady bool
	errorAt  func(level int) float64
	distance func(*Tile) float64
	hidden   func(*Tile) bool
	load     func(*Tile)
	loaded   []*Tile
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{scheme: math.NewGeographicTilingScheme(nil)}
}

func (f *fakeProvider) Ready() bool                                { return !f.notReady }
func (f *fakeProvider) TilingScheme() *math.GeographicTilingScheme { return f.scheme }

func (f *fakeProvider) LevelMaximumGeometricError(level int) float64 {
	if f.errorAt != nil {
		return f.errorAt(level)
	}
	return 100 / float64(int(1)<<level)
}

func (f *fakeProvider) LoadTile(_ context.Context, _ *camera.FrameState, t *Tile) {
	f.loaded = append(f.loaded, t)
	if f.load != nil {
		f.load(t)
		return
	}
	t.Data = &fakeData{eligible: true}
	t.State = TileDone
	t.Renderable = true
}

func (f *fakeProvider) ComputeTileVisibility(t *Tile, _ *camera.FrameState, _ *Occluders) Visibility {
	if f.hidden != nil && f.hidden(t) {
		return VisibilityNone
	}
	return VisibilityPartial
}

func (f *fakeProvider) ComputeDistanceToTile(t *Tile, _ *camera.FrameState) float64 {
	if f.distance != nil {
		return f.distance(t)
	}
	return 1000
}

// testFrame has a 90 degree field of view over a 100 pixel viewport, so
// screen-space error = 50 × geometric error / distance.
func testFrame(n uint64) *camera.FrameState {
	cam := &camera.Camera{
		Position:  math.Cartesian3{X: 20_000_000},
		Direction: math.Cartesian3{X: -1},
		Up:        math.UnitZ,
		Frustum:   camera.NewPerspectiveFrustum(gomath.Pi/2, 100, 100),
	}
	return camera.NewFrameState(cam, 100, 100, n)
}

func newTestPrimitive(p TileProvider) *Primitive {
	opts := DefaultOptions()
	opts.LoadQueueTimeSlice = time.Hour
	opts.TileCacheSize = 10_000
	return NewPrimitive(p, opts)
}

func runFrames(p *Primitive, n int) {
	for i := 1; i <= n; i++ {
		p.Update(context.Background(), testFrame(uint64(i)))
	}
}

func TestTree_Children(t *testing.T) {
	tree := NewTree(math.NewGeographicTilingScheme(nil))
	roots := tree.CreateLevelZeroTiles()
	if len(roots) != 2 {
		t.Fatalf("expected 2 level zero tiles, got %d", len(roots))
	}
	root := roots[0]
	if root.Parent() != nil {
		t.Error("level zero tile should have no parent")
	}
	if root.HasChildren() || root.ExistingChildren() != nil {
		t.Error("children should be created lazily")
	}

	children := root.Children()
	want := [4][3]int{{0, 1, 1}, {1, 1, 1}, {0, 0, 1}, {1, 0, 1}}
	for i, c := range children {
		if c.X != want[i][0] || c.Y != want[i][1] || c.Level != want[i][2] {
			t.Errorf("child %d = %d/%d/%d, want %v", i, c.X, c.Y, c.Level, want[i])
		}
		if c.Parent() != root {
			t.Errorf("child %d has wrong parent", i)
		}
	}
	nw := children[Northwest].Rectangle
	if nw.West != -gomath.Pi || nw.North != math.PiOver2 || nw.East != -gomath.Pi/2 || nw.South != 0 {
		t.Errorf("unexpected northwest rectangle %+v", nw)
	}
	if tree.Len() != 6 {
		t.Errorf("expected 6 live tiles, got %d", tree.Len())
	}

	// Freeing the root releases its children and the slots are reused
	oldID := children[0].ID
	tree.freeResources(root, nil)
	if tree.Len() != 2 || root.HasChildren() {
		t.Fatalf("expected children released, live=%d", tree.Len())
	}
	if tree.Get(oldID) != nil {
		t.Error("released slot should be empty")
	}
	again := root.Children()
	if tree.Len() != 6 {
		t.Errorf("expected 6 live tiles after recreation, got %d", tree.Len())
	}
	reused := false
	for _, c := range again {
		if c.ID == oldID {
			reused = true
		}
	}
	if !reused {
		t.Error("expected a released slot to be reused")
	}
}

// queueFixture marks root0, its four children and root1 in frame 1.
func queueFixture(t *testing.T) (*Tree, *ReplacementQueue, []*Tile, [4]*Tile) {
	t.Helper()
	tree := NewTree(math.NewGeographicTilingScheme(nil))
	roots := tree.CreateLevelZeroTiles()
	children := roots[0].Children()
	q := NewReplacementQueue(tree)

	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(roots[0])
	for _, c := range children {
		c.Data = &fakeData{eligible: true}
		c.State = TileDone
		q.MarkTileRendered(c)
	}
	roots[0].Data = &fakeData{eligible: true}
	roots[1].Data = &fakeData{eligible: true}
	q.MarkTileRendered(roots[1])
	if q.Count() != 6 {
		t.Fatalf("expected 6 queued tiles, got %d", q.Count())
	}
	return tree, q, roots, children
}

func TestReplacementQueue_MarkOrder(t *testing.T) {
	_, q, roots, children := queueFixture(t)

	var order []TileID
	q.ForEach(func(tile *Tile) { order = append(order, tile.ID) })
	want := []TileID{roots[1].ID, children[3].ID, children[2].ID, children[1].ID, children[0].ID, roots[0].ID}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("queue order = %v, want %v", order, want)
		}
	}

	// Re-marking moves a tile to the head without changing the count
	q.MarkTileRendered(roots[0])
	if q.Head() != roots[0] || q.Count() != 6 {
		t.Errorf("expected root0 at head with count 6, got head %v count %d", q.Head().ID, q.Count())
	}
}

func TestReplacementQueue_TrimEvictsSubtree(t *testing.T) {
	tree, q, roots, children := queueFixture(t)
	childData := children[0].Data.(*fakeData)
	rootData := roots[0].Data.(*fakeData)

	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(roots[1])
	q.TrimTiles(1)

	if q.Count() != 1 {
		t.Errorf("expected 1 tile left, got %d", q.Count())
	}
	if tree.Len() != 2 {
		t.Errorf("expected only level zero tiles live, got %d", tree.Len())
	}
	if roots[0].State != TileStart || roots[0].Data != nil || roots[0].HasChildren() {
		t.Errorf("evicted root not reset: state %v", roots[0].State)
	}
	if rootData.freed != 1 || childData.freed != 1 {
		t.Errorf("expected resources freed once, root %d child %d", rootData.freed, childData.freed)
	}
	if roots[1].Data == nil {
		t.Error("tile used this frame must not be evicted")
	}
}

func TestReplacementQueue_TrimKeepsPendingSubtree(t *testing.T) {
	tree, q, roots, children := queueFixture(t)
	children[Northeast].Data.(*fakeData).eligible = false

	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(roots[1])
	q.TrimTiles(1)

	// root0 keeps its pending child; the three idle siblings are evicted individually
	if q.Count() != 3 {
		t.Errorf("expected 3 tiles left, got %d", q.Count())
	}
	if !roots[0].HasChildren() || roots[0].Data == nil {
		t.Error("parent of a pending tile must not be evicted")
	}
	if children[Southwest].State != TileStart || children[Southwest].Data != nil {
		t.Error("idle child should have been evicted")
	}
	if children[Northeast].Data == nil {
		t.Error("pending child must not be evicted")
	}
	if tree.Len() != 6 {
		t.Errorf("evicted leaves keep their slots, expected 6 live tiles, got %d", tree.Len())
	}
}

func TestReplacementQueue_TrimSparesCurrentFrame(t *testing.T) {
	_, q, roots, children := queueFixture(t)

	q.MarkStartOfRenderFrame()
	q.MarkTileRendered(roots[1])
	q.MarkTileRendered(children[0])
	q.TrimTiles(0)

	// root0's subtree contains a tile used this frame
	if roots[0].Data == nil {
		t.Error("ancestor of a tile used this frame must not be evicted")
	}
	if children[0].Data == nil || roots[1].Data == nil {
		t.Error("tiles used this frame must not be evicted")
	}
	if children[1].Data != nil {
		t.Error("idle sibling should have been evicted")
	}
}

func TestPrimitive_NotReady(t *testing.T) {
	fp := newFakeProvider()
	fp.notReady = true
	p := newTestPrimitive(fp)

	runFrames(p, 3)
	if p.LevelZeroTiles() != nil || len(p.RenderList()) != 0 || len(fp.loaded) != 0 {
		t.Error("nothing should happen before the provider is ready")
	}

	fp.notReady = false
	runFrames(p, 1)
	if len(p.LevelZeroTiles()) != 2 {
		t.Errorf("expected level zero tiles once ready, got %d", len(p.LevelZeroTiles()))
	}
}

func TestPrimitive_RefinesToThreshold(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)

	// sse = 50 × (100 / 2^level) / 1000 = 5 / 2^level, below 2 from level 2
	runFrames(p, 1)
	if len(p.RenderList()) != 0 {
		t.Fatalf("nothing is renderable on the first frame, got %d tiles", len(p.RenderList()))
	}
	if s := p.Stats(); s.TilesCulled != 2 || s.TilesWaitingForChildren != 2 {
		t.Errorf("unexpected first frame stats %+v", s)
	}

	runFrames(p, 6)
	list := p.RenderList()
	if len(list) != 32 {
		t.Fatalf("expected 32 level 2 tiles, got %d", len(list))
	}
	for _, tile := range list {
		if tile.Level != 2 {
			t.Errorf("rendered tile %d/%d/%d, want level 2", tile.X, tile.Y, tile.Level)
		}
	}
	s := p.Stats()
	if s.MaxDepth != 2 || s.TilesRendered != 32 || s.TilesVisited != 2+8+32 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestPrimitive_LODMonotonicity(t *testing.T) {
	fp := newFakeProvider()
	fp.errorAt = func(level int) float64 { return 10 / float64(int(1)<<level) }
	fp.distance = func(tile *Tile) float64 {
		if tile.Rectangle.Center().Longitude < 0 {
			return 100
		}
		return 10_000
	}
	p := newTestPrimitive(fp)
	runFrames(p, 8)

	near, far := 0, 0
	for _, tile := range p.RenderList() {
		if tile.Rectangle.Center().Longitude < 0 {
			near = max(near, tile.Level)
		} else {
			far = max(far, tile.Level)
		}
	}
	if near <= far {
		t.Errorf("near tiles refined to level %d, far tiles to %d", near, far)
	}
	if near != 2 || far != 0 {
		t.Errorf("expected near level 2 and far level 0, got %d and %d", near, far)
	}

	// Nearest first
	list := p.RenderList()
	for i := 1; i < len(list); i++ {
		if list[i-1].Distance > list[i].Distance {
			t.Fatalf("render list not sorted by distance at %d", i)
		}
	}
}

func TestPrimitive_UpsampledChildrenAreNotRefined(t *testing.T) {
	fp := newFakeProvider()
	fp.load = func(tile *Tile) {
		tile.Data = &fakeData{eligible: true}
		tile.State = TileDone
		tile.Renderable = true
		tile.UpsampledFromParent = tile.Level > 0
	}
	p := newTestPrimitive(fp)
	runFrames(p, 5)

	list := p.RenderList()
	if len(list) != 2 {
		t.Fatalf("expected the 2 level zero tiles, got %d", len(list))
	}
	for _, tile := range list {
		if tile.Level != 0 {
			t.Errorf("rendered level %d, want 0", tile.Level)
		}
	}
}

func TestPrimitive_Culling(t *testing.T) {
	fp := newFakeProvider()
	fp.hidden = func(tile *Tile) bool { return tile.Level == 0 && tile.X == 1 }
	p := newTestPrimitive(fp)
	runFrames(p, 6)

	for _, tile := range p.RenderList() {
		if tile.Rectangle.Center().Longitude > 0 {
			t.Fatalf("hidden hemisphere rendered tile %d/%d/%d", tile.X, tile.Y, tile.Level)
		}
	}
	if len(p.RenderList()) != 16 {
		t.Errorf("expected 16 tiles from the visible root, got %d", len(p.RenderList()))
	}
	if p.Stats().TilesCulled != 1 {
		t.Errorf("expected 1 culled tile, got %d", p.Stats().TilesCulled)
	}
}

func TestPrimitive_LoadQueueTimeSlice(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	p.LoadQueueTimeSlice = 0
	fixed := time.Unix(0, 0)
	p.now = func() time.Time { return fixed }

	runFrames(p, 1)
	if len(fp.loaded) != 1 {
		t.Fatalf("expected 1 load within an empty time slice, got %d", len(fp.loaded))
	}
	// Last queued is loaded first
	if fp.loaded[0] != p.LevelZeroTiles()[1] {
		t.Errorf("expected the last queued tile to load first")
	}
}

func TestPrimitive_CancelledContextStopsLoading(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p.Update(ctx, testFrame(1))
	if len(fp.loaded) != 0 {
		t.Errorf("expected no loads with a cancelled context, got %d", len(fp.loaded))
	}
}

func TestPrimitive_SuspendLODUpdate(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	runFrames(p, 6)
	before := len(p.RenderList())

	p.SuspendLODUpdate = true
	fp.errorAt = func(int) float64 { return 0 }
	runFrames(p, 2)
	if len(p.RenderList()) != before {
		t.Errorf("suspended selection changed the render list: %d -> %d", before, len(p.RenderList()))
	}
}

func TestPrimitive_InvalidateAllTiles(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	runFrames(p, 3)

	var loaded []*fakeData
	p.ForEachLoadedTile(func(tile *Tile) {
		if d, ok := tile.Data.(*fakeData); ok {
			loaded = append(loaded, d)
		}
	})
	if len(loaded) == 0 {
		t.Fatal("expected loaded tiles")
	}

	p.InvalidateAllTiles()
	if p.Tree().Len() != 0 || p.ReplacementQueue().Count() != 0 || p.LevelZeroTiles() != nil {
		t.Errorf("expected everything released, live=%d queued=%d", p.Tree().Len(), p.ReplacementQueue().Count())
	}
	for _, d := range loaded {
		if d.freed != 1 {
			t.Errorf("expected data freed once, got %d", d.freed)
		}
	}

	runFrames(p, 1)
	if len(p.LevelZeroTiles()) != 2 {
		t.Error("expected level zero tiles to be recreated")
	}
}

func TestPrimitive_CacheTrim(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	p.TileCacheSize = 0
	runFrames(p, 6)

	// Move the camera far away so only the roots are needed
	fp.distance = func(*Tile) float64 { return 1e9 }
	runFrames(p, 1)
	if got := p.ReplacementQueue().Count(); got != 2 {
		t.Errorf("expected only the 2 roots resident, got %d", got)
	}
	// Evicted level one tiles keep their slots as children of the roots
	if p.Tree().Len() != 10 {
		t.Errorf("expected deeper descendants released, got %d live tiles", p.Tree().Len())
	}
}

type recordingSink struct{ stats []Stats }

func (r *recordingSink) PublishStats(s Stats) { r.stats = append(r.stats, s) }

func TestPrimitive_StatsSink(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	p.DebugOutput = true
	sink := &recordingSink{}
	p.SetStatsSink(sink)

	runFrames(p, 3)
	if len(sink.stats) != 3 {
		t.Fatalf("expected 3 published stats, got %d", len(sink.stats))
	}
	if sink.stats[2].Frame != 3 {
		t.Errorf("expected frame 3, got %d", sink.stats[2].Frame)
	}
	if sink.stats[2].TilesResident == 0 {
		t.Error("expected resident tile count")
	}
}

func TestPrimitive_OrthographicError(t *testing.T) {
	fp := newFakeProvider()
	p := newTestPrimitive(fp)
	cam := &camera.Camera{
		Position:  math.Cartesian3{X: 20_000_000},
		Direction: math.Cartesian3{X: -1},
		Up:        math.UnitZ,
		// 100m across 100 pixels: 1m per pixel
		Frustum: camera.NewOrthographicFrustum(100, 100, 100),
	}
	frame := camera.NewFrameState(cam, 100, 100, 1)
	tile := p.Tree().CreateLevelZeroTiles()[0]

	// 100m of geometric error at level 0 over 1m pixels
	if got := p.screenSpaceError(frame, tile); got != 100 {
		t.Errorf("orthographic sse = %v, want 100", got)
	}
	if got := p.screenSpaceError(testFrame(1), tile); gomath.Abs(got-5) > 1e-9 {
		t.Errorf("perspective sse = %v, want 5", got)
	}
}
