package quadtree

import (
	"context"
	gomath "math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/internal/logger"
)

// Stats counts the work done by one selection pass.
type Stats struct {
	Frame                   uint64 `json:"frame"`
	MaxDepth                int    `json:"max_depth"`
	TilesVisited            int    `json:"tiles_visited"`
	TilesCulled             int    `json:"tiles_culled"`
	TilesRendered           int    `json:"tiles_rendered"`
	TilesWaitingForChildren int    `json:"tiles_waiting_for_children"`
	TilesLoadQueued         int    `json:"tiles_load_queued"`
	TilesResident           int    `json:"tiles_resident"`
}

// sameCounts compares the traversal counters, ignoring the frame number and queue sizes.
func (s Stats) sameCounts(o Stats) bool {
	return s.MaxDepth == o.MaxDepth &&
		s.TilesVisited == o.TilesVisited &&
		s.TilesCulled == o.TilesCulled &&
		s.TilesRendered == o.TilesRendered &&
		s.TilesWaitingForChildren == o.TilesWaitingForChildren
}

// StatsSink receives the statistics of every frame.
type StatsSink interface {
	PublishStats(Stats)
}

// Options configures a Primitive.
type Options struct {
	MaximumScreenSpaceError float64
	TileCacheSize           int
	LoadQueueTimeSlice      time.Duration
	DebugOutput             bool
}

// DefaultOptions returns the standard selection settings.
func DefaultOptions() Options {
	return Options{
		MaximumScreenSpaceError: 2,
		TileCacheSize:           100,
		LoadQueueTimeSlice:      5 * time.Millisecond,
	}
}

// Primitive selects, loads and evicts quadtree tiles each frame.
type Primitive struct {
	Options

	// SuspendLODUpdate freezes selection; the previous render list is kept.
	SuspendLODUpdate bool

	provider    TileProvider
	tree        *Tree
	replacement *ReplacementQueue
	occluders   *Occluders

	levelZero     []*Tile
	tilesToRender []*Tile
	traversal     []*Tile
	loadQueue     []*Tile

	stats     Stats
	lastStats Stats
	sink      StatsSink

	now func() time.Time
	log *zap.Logger
}

// NewPrimitive creates a primitive drawing tiles from provider.
func NewPrimitive(provider TileProvider, opts Options) *Primitive {
	scheme := provider.TilingScheme()
	tree := NewTree(scheme)
	return &Primitive{
		Options:     opts,
		provider:    provider,
		tree:        tree,
		replacement: NewReplacementQueue(tree),
		occluders:   NewOccluders(scheme.Ellipsoid),
		lastStats:   Stats{MaxDepth: -1, TilesVisited: -1},
		now:         time.Now,
		log:         logger.Named("quadtree"),
	}
}

// SetStatsSink attaches a receiver for per-frame statistics. Nil detaches.
func (p *Primitive) SetStatsSink(s StatsSink) {
	p.sink = s
}

// Stats returns the statistics of the last frame.
func (p *Primitive) Stats() Stats {
	return p.stats
}

// Tree returns the tile arena.
func (p *Primitive) Tree() *Tree {
	return p.tree
}

// ReplacementQueue returns the residency queue.
func (p *Primitive) ReplacementQueue() *ReplacementQueue {
	return p.replacement
}

// LevelZeroTiles returns the root tiles, or nil before the provider is ready.
func (p *Primitive) LevelZeroTiles() []*Tile {
	return p.levelZero
}

// RenderList returns the tiles selected in the last frame, nearest first.
func (p *Primitive) RenderList() []*Tile {
	return p.tilesToRender
}

// Update runs one frame: selection, loading within the time slice, and ordering of the render list.
func (p *Primitive) Update(ctx context.Context, frame *camera.FrameState) {
	if !p.SuspendLODUpdate {
		p.selectTilesForRendering(frame)
		p.replacement.TrimTiles(p.TileCacheSize)
	}
	p.processTileLoadQueue(ctx, frame)
	sort.SliceStable(p.tilesToRender, func(i, j int) bool {
		return p.tilesToRender[i].Distance < p.tilesToRender[j].Distance
	})

	p.stats.Frame = frame.FrameNumber
	p.stats.TilesLoadQueued = len(p.loadQueue)
	p.stats.TilesResident = p.replacement.Count()
	p.reportStats()
}

// InvalidateAllTiles frees every tile. Level-zero tiles are recreated on the next frame.
func (p *Primitive) InvalidateAllTiles() {
	p.replacement.Clear()
	for _, t := range p.levelZero {
		p.tree.freeResources(t, nil)
		p.tree.release(t)
	}
	p.levelZero = nil
	p.tilesToRender = p.tilesToRender[:0]
	p.loadQueue = p.loadQueue[:0]
}

// ForEachLoadedTile calls fn for every resident tile that has started loading.
func (p *Primitive) ForEachLoadedTile(fn func(*Tile)) {
	p.replacement.ForEach(func(t *Tile) {
		if t.State != TileStart {
			fn(t)
		}
	})
}

// ForEachRenderedTile calls fn for every tile selected in the last frame.
func (p *Primitive) ForEachRenderedTile(fn func(*Tile)) {
	for _, t := range p.tilesToRender {
		fn(t)
	}
}

func (p *Primitive) selectTilesForRendering(frame *camera.FrameState) {
	p.tilesToRender = p.tilesToRender[:0]
	p.traversal = p.traversal[:0]
	p.loadQueue = p.loadQueue[:0]
	p.stats = Stats{}

	p.replacement.MarkStartOfRenderFrame()

	// Nothing can render before the level zero tiles exist.
	if p.levelZero == nil {
		if !p.provider.Ready() {
			return
		}
		p.levelZero = p.tree.CreateLevelZeroTiles()
	}

	p.occluders.Ellipsoid.SetCameraPosition(frame.CameraPosition())

	for _, t := range p.levelZero {
		p.replacement.MarkTileRendered(t)
		if t.NeedsLoading() {
			p.queueTileLoad(t)
		}
		if t.Renderable && p.provider.ComputeTileVisibility(t, frame, p.occluders) != VisibilityNone {
			p.traversal = append(p.traversal, t)
		} else {
			p.stats.TilesCulled++
			if !t.Renderable {
				p.stats.TilesWaitingForChildren++
			}
		}
	}

	// Breadth first, so coarse tiles are considered and loaded before fine ones.
	for head := 0; head < len(p.traversal); head++ {
		t := p.traversal[head]
		p.stats.TilesVisited++
		p.replacement.MarkTileRendered(t)
		if t.Level > p.stats.MaxDepth {
			p.stats.MaxDepth = t.Level
		}

		if p.screenSpaceError(frame, t) < p.MaximumScreenSpaceError {
			p.addTileToRenderList(t)
		} else if p.queueChildrenLoadAndDetermineIfChildrenAreAllRenderable(t) {
			for _, c := range t.Children() {
				if p.provider.ComputeTileVisibility(c, frame, p.occluders) != VisibilityNone {
					p.traversal = append(p.traversal, c)
				} else {
					p.stats.TilesCulled++
				}
			}
		} else {
			// Children are not ready; render this tile in their place.
			p.stats.TilesWaitingForChildren++
			p.addTileToRenderList(t)
		}
	}
}

func (p *Primitive) screenSpaceError(frame *camera.FrameState, t *Tile) float64 {
	maxGeometricError := p.provider.LevelMaximumGeometricError(t.Level)
	t.Distance = p.provider.ComputeDistanceToTile(t, frame)

	if ortho, ok := frame.Orthographic(); ok {
		return maxGeometricError / ortho.PixelSize(frame.ViewportWidth, frame.ViewportHeight)
	}

	distance := gomath.Max(t.Distance, 1e-9)
	return maxGeometricError * float64(frame.ViewportHeight) / (2 * distance * gomath.Tan(0.5*frame.FovY()))
}

func (p *Primitive) addTileToRenderList(t *Tile) {
	p.tilesToRender = append(p.tilesToRender, t)
	p.stats.TilesRendered++
}

// queueChildrenLoadAndDetermineIfChildrenAreAllRenderable reports whether t can be refined.
// Children that are all upsampled from t add no detail, so t is rendered instead.
func (p *Primitive) queueChildrenLoadAndDetermineIfChildrenAreAllRenderable(t *Tile) bool {
	allRenderable := true
	allUpsampledOnly := true

	for _, c := range t.Children() {
		p.replacement.MarkTileRendered(c)

		allUpsampledOnly = allUpsampledOnly && c.UpsampledFromParent
		allRenderable = allRenderable && c.Renderable

		if c.NeedsLoading() {
			p.queueTileLoad(c)
		}
	}

	return allRenderable && !allUpsampledOnly
}

func (p *Primitive) queueTileLoad(t *Tile) {
	p.loadQueue = append(p.loadQueue, t)
}

// processTileLoadQueue loads queued tiles, last queued first, until the time slice is spent.
func (p *Primitive) processTileLoadQueue(ctx context.Context, frame *camera.FrameState) {
	if len(p.loadQueue) == 0 {
		return
	}
	endTime := p.now().Add(p.LoadQueueTimeSlice)
	for i := len(p.loadQueue) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		t := p.loadQueue[i]
		// Eviction this frame may have released the tile.
		if p.tree.Get(t.ID) != t {
			continue
		}
		p.replacement.MarkTileRendered(t)
		p.provider.LoadTile(ctx, frame, t)
		if !p.now().Before(endTime) {
			break
		}
	}
}

func (p *Primitive) reportStats() {
	if p.sink != nil {
		p.sink.PublishStats(p.stats)
	}
	if !p.DebugOutput || p.stats.sameCounts(p.lastStats) {
		return
	}
	p.log.Debug("tile selection",
		zap.Uint64("frame", p.stats.Frame),
		zap.Int("visited", p.stats.TilesVisited),
		zap.Int("rendered", p.stats.TilesRendered),
		zap.Int("culled", p.stats.TilesCulled),
		zap.Int("max_depth", p.stats.MaxDepth),
		zap.Int("waiting_for_children", p.stats.TilesWaitingForChildren),
		zap.Int("resident", p.stats.TilesResident))
	p.lastStats = p.stats
}
