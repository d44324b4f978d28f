// Package quadtree selects the terrain tiles to render each frame and bounds how many stay resident.
package quadtree

import (
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// TileID addresses a tile in a Tree.
type TileID int32

// NoTile is the zero handle for absent parents, children and queue links.
const NoTile TileID = -1

// TileState is the load state of a quadtree tile.
type TileState int

const (
	TileStart TileState = iota
	TileLoading
	TileDone
	TileFailed
)

func (s TileState) String() string {
	switch s {
	case TileStart:
		return "start"
	case TileLoading:
		return "loading"
	case TileDone:
		return "done"
	case TileFailed:
		return "failed"
	}
	return "unknown"
}

// Child positions within Tile.Children.
const (
	Southwest = iota
	Southeast
	Northwest
	Northeast
)

// TileData is the provider-owned payload of a tile.
type TileData interface {
	// EligibleForUnloading reports whether no asynchronous work is pending on the data.
	EligibleForUnloading() bool
	// FreeResources releases everything the data holds. It must be idempotent.
	FreeResources()
}

// Tile is a node of the quadtree. Tiles are owned by a Tree and refer to each other by TileID.
type Tile struct {
	ID        TileID
	X, Y      int
	Level     int
	Rectangle math.Rectangle

	State               TileState
	Renderable          bool
	UpsampledFromParent bool
	Data                TileData

	// Distance is the camera distance computed during the last traversal.
	Distance float64

	tree     *Tree
	parent   TileID
	children [4]TileID

	replacementPrev TileID
	replacementNext TileID
	inQueue         bool
	lastUsedFrame   uint64
}

// NeedsLoading reports whether the tile still has loading work to do.
func (t *Tile) NeedsLoading() bool {
	return t.State < TileDone
}

// EligibleForUnloading reports whether the tile's data permits eviction.
func (t *Tile) EligibleForUnloading() bool {
	if t.Data == nil {
		return true
	}
	return t.Data.EligibleForUnloading()
}

// TilingScheme returns the scheme of the owning tree.
func (t *Tile) TilingScheme() *math.GeographicTilingScheme {
	return t.tree.scheme
}

// Parent returns the parent tile, or nil for a level-zero tile.
func (t *Tile) Parent() *Tile {
	return t.tree.Get(t.parent)
}

// HasChildren reports whether the children have been created.
func (t *Tile) HasChildren() bool {
	return t.children[0] != NoTile
}

// Children returns the four children in southwest, southeast, northwest, northeast order,
// creating them on first access.
func (t *Tile) Children() [4]*Tile {
	if !t.HasChildren() {
		x, y, level := t.X*2, t.Y*2, t.Level+1
		// Tile Y grows southward
		t.children[Southwest] = t.tree.alloc(x, y+1, level, t.ID).ID
		t.children[Southeast] = t.tree.alloc(x+1, y+1, level, t.ID).ID
		t.children[Northwest] = t.tree.alloc(x, y, level, t.ID).ID
		t.children[Northeast] = t.tree.alloc(x+1, y, level, t.ID).ID
	}
	var out [4]*Tile
	for i, id := range t.children {
		out[i] = t.tree.Get(id)
	}
	return out
}

// ExistingChildren returns the children that have been created, without creating any.
func (t *Tile) ExistingChildren() []*Tile {
	if !t.HasChildren() {
		return nil
	}
	out := make([]*Tile, 0, 4)
	for _, id := range t.children {
		out = append(out, t.tree.Get(id))
	}
	return out
}

// Tree is an arena of tiles.
type Tree struct {
	scheme *math.GeographicTilingScheme
	slots  []*Tile
	free   []TileID
	live   int
}

// NewTree creates an empty arena for the given tiling scheme.
func NewTree(scheme *math.GeographicTilingScheme) *Tree {
	return &Tree{scheme: scheme}
}

// Get returns the tile for id, or nil if the handle is absent or released.
func (tr *Tree) Get(id TileID) *Tile {
	if id < 0 || int(id) >= len(tr.slots) {
		return nil
	}
	return tr.slots[id]
}

// Len returns the number of live tiles.
func (tr *Tree) Len() int {
	return tr.live
}

// TilingScheme returns the scheme tiles are laid out in.
func (tr *Tree) TilingScheme() *math.GeographicTilingScheme {
	return tr.scheme
}

// CreateLevelZeroTiles allocates the root tiles of the scheme, row by row from the north.
func (tr *Tree) CreateLevelZeroTiles() []*Tile {
	nx := tr.scheme.NumberOfXTilesAtLevel(0)
	ny := tr.scheme.NumberOfYTilesAtLevel(0)
	out := make([]*Tile, 0, nx*ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			out = append(out, tr.alloc(x, y, 0, NoTile))
		}
	}
	return out
}

func (tr *Tree) alloc(x, y, level int, parent TileID) *Tile {
	t := &Tile{
		X:               x,
		Y:               y,
		Level:           level,
		Rectangle:       tr.scheme.TileXYToRectangle(x, y, level),
		tree:            tr,
		parent:          parent,
		children:        [4]TileID{NoTile, NoTile, NoTile, NoTile},
		replacementPrev: NoTile,
		replacementNext: NoTile,
	}
	if n := len(tr.free); n > 0 {
		t.ID = tr.free[n-1]
		tr.free = tr.free[:n-1]
		tr.slots[t.ID] = t
	} else {
		t.ID = TileID(len(tr.slots))
		tr.slots = append(tr.slots, t)
	}
	tr.live++
	return t
}

func (tr *Tree) release(t *Tile) {
	if tr.slots[t.ID] != t {
		return
	}
	tr.slots[t.ID] = nil
	tr.free = append(tr.free, t.ID)
	tr.live--
}

// freeResources resets t to Start and releases every descendant. visit is called for each
// descendant before its slot is released.
func (tr *Tree) freeResources(t *Tile, visit func(*Tile)) {
	t.State = TileStart
	t.Renderable = false
	t.UpsampledFromParent = false
	if t.Data != nil {
		t.Data.FreeResources()
		t.Data = nil
	}
	for _, c := range t.ExistingChildren() {
		tr.freeResources(c, visit)
		if visit != nil {
			visit(c)
		}
		tr.release(c)
	}
	t.children = [4]TileID{NoTile, NoTile, NoTile, NoTile}
}

// walk calls fn for t and every created descendant, stopping early when fn returns false.
func walk(t *Tile, fn func(*Tile) bool) bool {
	if !fn(t) {
		return false
	}
	for _, c := range t.ExistingChildren() {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}
