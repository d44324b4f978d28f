// Package terrain decodes quantized-mesh terrain into renderable vertex and index buffers.
package terrain

import (
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Vertex attribute offsets within one vertex of Mesh.Vertices.
const (
	AttrX = iota
	AttrY
	AttrZ
	AttrHeight
	AttrU
	AttrV
	AttrNormal // present only when Mesh.Stride == StrideWithNormals
)

// Vertex strides.
const (
	Stride            = 6
	StrideWithNormals = 7
)

// MaxUint16Vertices is the largest vertex count addressable with 16-bit indices.
const MaxUint16Vertices = 65535

// quantizedMax maps quantized values onto [0, 1].
const quantizedMax = 65535.0

// IndexBuffer holds triangle indices in either 16- or 32-bit form. Exactly one slice is set.
type IndexBuffer struct {
	Uint16 []uint16
	Uint32 []uint32
}

// newIndexBuffer allocates a buffer wide enough to address vertexCount vertices.
func newIndexBuffer(vertexCount, length int) IndexBuffer {
	if vertexCount > MaxUint16Vertices {
		return IndexBuffer{Uint32: make([]uint32, length)}
	}
	return IndexBuffer{Uint16: make([]uint16, length)}
}

// Is32Bit reports whether the buffer uses 32-bit indices.
func (b IndexBuffer) Is32Bit() bool {
	return b.Uint32 != nil
}

// Len returns the number of indices.
func (b IndexBuffer) Len() int {
	if b.Uint32 != nil {
		return len(b.Uint32)
	}
	return len(b.Uint16)
}

// At returns index i.
func (b IndexBuffer) At(i int) uint32 {
	if b.Uint32 != nil {
		return b.Uint32[i]
	}
	return uint32(b.Uint16[i])
}

func (b IndexBuffer) set(i int, v uint32) {
	if b.Uint32 != nil {
		b.Uint32[i] = v
		return
	}
	b.Uint16[i] = uint16(v)
}

// Mesh is a decoded terrain tile ready for upload. Positions are stored relative to Center.
// A Mesh is never modified after it is built.
type Mesh struct {
	Center   math.Cartesian3
	Vertices []float32
	Stride   int
	Indices  IndexBuffer

	// InteriorVertexCount is the number of quantized vertices; skirt vertices follow them.
	InteriorVertexCount int

	MinimumHeight float64
	MaximumHeight float64

	BoundingSphere             math.BoundingSphere
	OccludeePointInScaledSpace math.Cartesian3
	HasOccludeePoint           bool
}

// VertexCount returns the total number of vertices including skirts.
func (m *Mesh) VertexCount() int {
	if m.Stride == 0 {
		return 0
	}
	return len(m.Vertices) / m.Stride
}

// HasNormals reports whether vertices carry a packed oct-encoded normal.
func (m *Mesh) HasNormals() bool {
	return m.Stride == StrideWithNormals
}

// Position returns the absolute position of vertex i.
func (m *Mesh) Position(i int) math.Cartesian3 {
	o := i * m.Stride
	return math.Cartesian3{
		X: float64(m.Vertices[o+AttrX]),
		Y: float64(m.Vertices[o+AttrY]),
		Z: float64(m.Vertices[o+AttrZ]),
	}.Add(m.Center)
}

// Height returns the height of vertex i above the ellipsoid.
func (m *Mesh) Height(i int) float64 {
	return float64(m.Vertices[i*m.Stride+AttrHeight])
}

// UV returns the texture coordinates of vertex i within the tile rectangle.
func (m *Mesh) UV(i int) (u, v float64) {
	o := i * m.Stride
	return float64(m.Vertices[o+AttrU]), float64(m.Vertices[o+AttrV])
}

// Normal returns the decoded normal of vertex i, or false when the mesh has none.
func (m *Mesh) Normal(i int) (math.Cartesian3, bool) {
	if !m.HasNormals() {
		return math.Cartesian3{}, false
	}
	x, y := math.OctUnpackFloat(m.Vertices[i*m.Stride+AttrNormal])
	return math.OctDecode(x, y), true
}

// Triangle returns the vertex indices of triangle t.
func (m *Mesh) Triangle(t int) (uint32, uint32, uint32) {
	return m.Indices.At(3 * t), m.Indices.At(3*t + 1), m.Indices.At(3*t + 2)
}

// TriangleCount returns the number of triangles including skirts.
func (m *Mesh) TriangleCount() int {
	return m.Indices.Len() / 3
}
