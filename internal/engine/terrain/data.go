package terrain

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-globe/pkg/math"
	"github.com/Faultbox/midgard-globe/pkg/qmesh"
)

// ErrIndexOutOfRange is returned by CreateMesh when an index references a missing vertex.
var ErrIndexOutOfRange = qmesh.ErrIndexOutOfRange

// ErrNotDescendant is returned by Upsample when the target tile is not inside the source tile.
var ErrNotDescendant = errors.New("tile is not a descendant")

// Child tile mask bits.
const (
	ChildSouthwest = 1 << iota
	ChildSoutheast
	ChildNorthwest
	ChildNortheast

	ChildAll = ChildSouthwest | ChildSoutheast | ChildNorthwest | ChildNortheast
)

// Data is one tile's terrain payload, either fetched from a provider or derived from an ancestor.
// Implementations are read-only once constructed and may be shared with decode workers.
type Data interface {
	CreatedByUpsampling() bool
	IsChildAvailable(thisX, thisY, childX, childY int) bool
	WaterMask() []byte
	CreateMesh(scheme *math.GeographicTilingScheme, x, y, level int) (*Mesh, error)
	Upsample(scheme *math.GeographicTilingScheme, thisX, thisY, thisLevel, descendantX, descendantY, descendantLevel int) (Data, error)
}

// QuantizedMeshOptions configure a QuantizedMeshData.
type QuantizedMeshOptions struct {
	// ChildTileMask is a combination of the Child* bits.
	ChildTileMask uint8
	// SkirtHeight is the depth of the skirts hung below every edge.
	SkirtHeight float64
	// CreatedByUpsampling marks data derived from an ancestor.
	CreatedByUpsampling bool
}

// QuantizedMeshData wraps a decoded quantized-mesh tile.
type QuantizedMeshData struct {
	tile                *qmesh.Tile
	childTileMask       uint8
	skirtHeight         float64
	createdByUpsampling bool
}

// NewQuantizedMeshData wraps tile. The tile must not be modified afterwards.
func NewQuantizedMeshData(tile *qmesh.Tile, opts QuantizedMeshOptions) *QuantizedMeshData {
	return &QuantizedMeshData{
		tile:                tile,
		childTileMask:       opts.ChildTileMask,
		skirtHeight:         opts.SkirtHeight,
		createdByUpsampling: opts.CreatedByUpsampling,
	}
}

// Tile returns the wrapped quantized tile.
func (d *QuantizedMeshData) Tile() *qmesh.Tile {
	return d.tile
}

// SkirtHeight returns the skirt depth used by CreateMesh.
func (d *QuantizedMeshData) SkirtHeight() float64 {
	return d.skirtHeight
}

// ChildTileMask returns the availability bits of the four children.
func (d *QuantizedMeshData) ChildTileMask() uint8 {
	return d.childTileMask
}

// CreatedByUpsampling reports whether the data was derived from an ancestor.
func (d *QuantizedMeshData) CreatedByUpsampling() bool {
	return d.createdByUpsampling
}

// IsChildAvailable reports whether the child (childX, childY) of this tile has data of its own.
func (d *QuantizedMeshData) IsChildAvailable(thisX, thisY, childX, childY int) bool {
	bit := 2 // northwest
	if childX != thisX*2 {
		bit++ // east
	}
	if childY != thisY*2 {
		bit -= 2 // south
	}
	return d.childTileMask&(1<<bit) != 0
}

// WaterMask returns the water mask, or nil.
func (d *QuantizedMeshData) WaterMask() []byte {
	return d.tile.WaterMask
}

// CreateMesh decodes the tile at (x, y, level) of scheme.
func (d *QuantizedMeshData) CreateMesh(scheme *math.GeographicTilingScheme, x, y, level int) (*Mesh, error) {
	if err := d.tile.Validate(); err != nil {
		return nil, fmt.Errorf("creating mesh for %d/%d/%d: %w", level, x, y, err)
	}

	rect := scheme.TileXYToRectangle(x, y, level)
	ellipsoid := scheme.Ellipsoid
	h := d.tile.Header
	minHeight, maxHeight := float64(h.MinimumHeight), float64(h.MaximumHeight)

	center := h.Center
	if center == (math.Cartesian3{}) {
		c := rect.Center()
		c.Height = (minHeight + maxHeight) * 0.5
		center = ellipsoid.CartographicToCartesian(c)
	}

	skirt := func(indices []uint32) Edge {
		return Edge{Indices: indices, SkirtHeight: d.skirtHeight}
	}

	mesh := CreateVertices(VertexParams{
		U:                d.tile.U,
		V:                d.tile.V,
		Height:           d.tile.Height,
		Indices:          d.tile.Indices,
		West:             skirt(d.tile.West),
		South:            skirt(d.tile.South),
		East:             skirt(d.tile.East),
		North:            skirt(d.tile.North),
		OctNormals:       d.tile.OctNormals,
		Rectangle:        rect,
		Ellipsoid:        ellipsoid,
		MinimumHeight:    minHeight,
		MaximumHeight:    maxHeight,
		RelativeToCenter: center,
	})

	// Fetched tiles carry their own bounding volumes; derived tiles use the computed ones.
	if h.BoundingSphere.Radius > 0 {
		mesh.BoundingSphere = h.BoundingSphere
	}
	if h.HorizonOcclusionPoint != (math.Cartesian3{}) {
		mesh.OccludeePointInScaledSpace = h.HorizonOcclusionPoint
		mesh.HasOccludeePoint = true
	}
	return mesh, nil
}
