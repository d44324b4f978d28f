package imagery

import (
	gomath "math"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

type imageryKey struct {
	x, y, level int
}

// Layer draws one imagery provider over the terrain.
type Layer struct {
	Provider Provider
	Show     bool
	Alpha    float64

	dispatcher  worker.Dispatcher
	cache       map[imageryKey]*Imagery
	placeholder *Imagery
	log         *zap.Logger
}

// NewLayer creates a visible, opaque layer. Requests run on dispatcher.
func NewLayer(provider Provider, dispatcher worker.Dispatcher) *Layer {
	l := &Layer{
		Provider:   provider,
		Show:       true,
		Alpha:      1,
		dispatcher: dispatcher,
		cache:      make(map[imageryKey]*Imagery),
		log:        logger.Named("imagery"),
	}
	l.placeholder = &Imagery{Layer: l, State: PlaceHolder}
	return l
}

// Ready reports whether the provider can serve tiles.
func (l *Layer) Ready() bool {
	return l.Provider.Ready()
}

// CacheSize returns the number of referenced imagery tiles.
func (l *Layer) CacheSize() int {
	return len(l.cache)
}

// CreateTileImagerySkeletons builds the TileImagery covering a terrain tile and inserts them into
// list at insertionPoint, or appends them when insertionPoint is negative. It returns false when
// the layer does not overlap the tile. A placeholder is inserted while the provider is not ready.
func (l *Layer) CreateTileImagerySkeletons(list []*TileImagery, tileRectangle math.Rectangle, tileLevel, insertionPoint int) ([]*TileImagery, bool) {
	if insertionPoint < 0 || insertionPoint > len(list) {
		insertionPoint = len(list)
	}

	if !l.Provider.Ready() {
		ti := NewTileImagery(l.placeholder, tileRectangle, math.Cartesian4{X: 0, Y: 0, Z: 1, W: 1})
		return insert(list, insertionPoint, ti), true
	}

	scheme := l.Provider.TilingScheme()
	imageryBounds := scheme.Rectangle
	rectangle, ok := tileRectangle.SimpleIntersection(imageryBounds)
	if !ok {
		return list, false
	}

	level := tileLevel
	if maxLevel := l.Provider.MaximumLevel(); level > maxLevel {
		level = maxLevel
	}
	if level < 0 {
		level = 0
	}

	nwX, nwY, ok1 := scheme.PositionToTileXY(rectangle.Northwest(), level)
	seX, seY, ok2 := scheme.PositionToTileXY(rectangle.Southeast(), level)
	if !ok1 || !ok2 {
		return list, false
	}

	// Corners that only touch an imagery tile's edge would add a sliver; skip those tiles.
	veryCloseX := tileRectangle.Width() / 512
	veryCloseY := tileRectangle.Height() / 512

	nwRect := scheme.TileXYToRectangle(nwX, nwY, level)
	if gomath.Abs(nwRect.South-tileRectangle.North) < veryCloseY && nwY < seY {
		nwY++
	}
	if gomath.Abs(nwRect.East-tileRectangle.West) < veryCloseX && nwX < seX {
		nwX++
	}
	seRect := scheme.TileXYToRectangle(seX, seY, level)
	if gomath.Abs(seRect.North-tileRectangle.South) < veryCloseY && seY > nwY {
		seY--
	}
	if gomath.Abs(seRect.West-tileRectangle.East) < veryCloseX && seX > nwX {
		seX--
	}

	clipped, _ := scheme.TileXYToRectangle(nwX, nwY, level).SimpleIntersection(imageryBounds)

	minU, maxU := 0.0, 0.0
	minV, maxV := 1.0, 1.0
	if gomath.Abs(clipped.West-tileRectangle.West) >= veryCloseX {
		maxU = math.Clamp((clipped.West-tileRectangle.West)/tileRectangle.Width(), 0, 1)
	}
	if gomath.Abs(clipped.North-tileRectangle.North) >= veryCloseY {
		minV = math.Clamp((clipped.North-tileRectangle.South)/tileRectangle.Height(), 0, 1)
	}
	initialMinV := minV

	for i := nwX; i <= seX; i++ {
		minU = maxU
		column, ok := scheme.TileXYToRectangle(i, nwY, level).SimpleIntersection(imageryBounds)
		if !ok {
			continue
		}
		maxU = gomath.Min(1, (column.East-tileRectangle.West)/tileRectangle.Width())
		if i == seX && gomath.Abs(column.East-tileRectangle.East) < veryCloseX {
			maxU = 1
		}

		minV = initialMinV
		for j := nwY; j <= seY; j++ {
			maxV = minV
			cell, ok := scheme.TileXYToRectangle(i, j, level).SimpleIntersection(imageryBounds)
			if !ok {
				continue
			}
			minV = gomath.Max(0, (cell.South-tileRectangle.South)/tileRectangle.Height())
			if j == seY && gomath.Abs(cell.South-tileRectangle.South) < veryCloseY {
				minV = 0
			}

			texCoords := math.Cartesian4{X: minU, Y: minV, Z: maxU, W: maxV}
			ti := NewTileImagery(l.imageryFromCache(i, j, level), tileRectangle, texCoords)
			list = insert(list, insertionPoint, ti)
			insertionPoint++
		}
	}
	return list, true
}

// imageryFromCache returns the imagery for a tile with one more reference, creating it and its
// ancestors as needed. Each imagery holds a reference on its parent.
func (l *Layer) imageryFromCache(x, y, level int) *Imagery {
	key := imageryKey{x: x, y: y, level: level}
	im, ok := l.cache[key]
	if !ok {
		var parent *Imagery
		if level > 0 {
			parent = l.imageryFromCache(x/2, y/2, level-1)
		}
		im = &Imagery{
			Layer:     l,
			X:         x,
			Y:         y,
			Level:     level,
			Rectangle: l.Provider.TilingScheme().TileXYToRectangle(x, y, level),
			Parent:    parent,
		}
		l.cache[key] = im
	}
	im.AddReference()
	return im
}

func (l *Layer) removeFromCache(im *Imagery) {
	key := imageryKey{x: im.X, y: im.Y, level: im.Level}
	if l.cache[key] == im {
		delete(l.cache, key)
	}
}

func insert(list []*TileImagery, at int, ti *TileImagery) []*TileImagery {
	list = append(list, nil)
	copy(list[at+1:], list[at:])
	list[at] = ti
	return list
}

// Collection is an ordered stack of layers, bottom first.
type Collection struct {
	layers []*Layer
}

// Add appends a layer on top.
func (c *Collection) Add(l *Layer) {
	c.layers = append(c.layers, l)
}

// Len returns the number of layers.
func (c *Collection) Len() int {
	return len(c.layers)
}

// Get returns the layer at index i.
func (c *Collection) Get(i int) *Layer {
	return c.layers[i]
}

// Layers returns the layers, bottom first.
func (c *Collection) Layers() []*Layer {
	return c.layers
}

// Index returns the position of l, or -1.
func (c *Collection) Index(l *Layer) int {
	for i, layer := range c.layers {
		if layer == l {
			return i
		}
	}
	return -1
}
