package terrain

import (
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Edge is one boundary vertex list of a tile with the depth of the skirt hung below it.
type Edge struct {
	Indices     []uint32
	SkirtHeight float64
}

// VertexParams are the inputs of CreateVertices. Quantized values use the full 0..65535 range.
type VertexParams struct {
	U      []uint16
	V      []uint16
	Height []uint16

	Indices []uint32

	West  Edge
	South Edge
	East  Edge
	North Edge

	// OctNormals holds two bytes per vertex, or nil.
	OctNormals []byte

	Rectangle     math.Rectangle
	Ellipsoid     *math.Ellipsoid
	MinimumHeight float64
	MaximumHeight float64

	RelativeToCenter math.Cartesian3
}

// skirtVertexCount returns how many skirt vertices an edge contributes.
func skirtVertexCount(e Edge) int {
	if len(e.Indices) < 2 {
		return 0
	}
	return len(e.Indices)
}

// CreateVertices decodes quantized vertices into a Mesh and hangs skirts below the four edges.
// Indices must reference existing vertices; QuantizedMeshData.CreateMesh checks this before calling.
func CreateVertices(p VertexParams) *Mesh {
	ellipsoid := p.Ellipsoid
	if ellipsoid == nil {
		ellipsoid = math.WGS84
	}

	quantizedCount := len(p.U)
	hasNormals := p.OctNormals != nil
	stride := Stride
	if hasNormals {
		stride = StrideWithNormals
	}

	edges := [4]struct {
		edge    Edge
		reverse bool
	}{
		{p.West, true},
		{p.South, false},
		{p.East, false},
		{p.North, true},
	}

	skirtCount := 0
	skirtIndexCount := 0
	for _, e := range edges {
		n := skirtVertexCount(e.edge)
		skirtCount += n
		if n > 0 {
			skirtIndexCount += (n - 1) * 6
		}
	}

	totalVertices := quantizedCount + skirtCount
	vertices := make([]float32, totalVertices*stride)
	indices := newIndexBuffer(totalVertices, len(p.Indices)+skirtIndexCount)

	rect := p.Rectangle
	west, east := rect.West, rect.UnwrappedEast()
	center := p.RelativeToCenter

	positions := make([]math.Cartesian3, 0, quantizedCount)

	for i := 0; i < quantizedCount; i++ {
		u := float64(p.U[i]) / quantizedMax
		v := float64(p.V[i]) / quantizedMax
		height := math.Lerp(p.MinimumHeight, p.MaximumHeight, float64(p.Height[i])/quantizedMax)

		position := ellipsoid.CartographicToCartesian(math.Cartographic{
			Longitude: math.Lerp(west, east, u),
			Latitude:  math.Lerp(rect.South, rect.North, v),
			Height:    height,
		})
		positions = append(positions, position)

		o := i * stride
		writeVertex(vertices[o:o+Stride], position.Sub(center), height, u, v)
		if hasNormals {
			vertices[o+AttrNormal] = math.OctPackFloat(p.OctNormals[2*i], p.OctNormals[2*i+1])
		}
	}

	for i, idx := range p.Indices {
		indices.set(i, idx)
	}

	nextVertex := quantizedCount
	nextIndex := len(p.Indices)
	for _, e := range edges {
		nextVertex, nextIndex = addSkirt(vertices, stride, indices, nextVertex, nextIndex,
			e.edge, e.reverse, rect, ellipsoid, center)
	}

	mesh := &Mesh{
		Center:              center,
		Vertices:            vertices,
		Stride:              stride,
		Indices:             indices,
		InteriorVertexCount: quantizedCount,
		MinimumHeight:       p.MinimumHeight,
		MaximumHeight:       p.MaximumHeight,
		BoundingSphere:      math.BoundingSphereFromPoints(positions),
	}
	if len(positions) > 0 {
		mesh.OccludeePointInScaledSpace, mesh.HasOccludeePoint = ellipsoid.HorizonCullingPoint(
			mesh.BoundingSphere.Center, positions)
	}
	return mesh
}

// addSkirt appends one skirt vertex per edge vertex and two triangles per adjacent pair.
// West and north edges are walked in reverse so every skirt winds like the interior.
func addSkirt(vertices []float32, stride int, indices IndexBuffer, vertexIndex, indexIndex int,
	edge Edge, reverse bool, rect math.Rectangle, ellipsoid *math.Ellipsoid, center math.Cartesian3) (int, int) {

	n := skirtVertexCount(edge)
	if n == 0 {
		return vertexIndex, indexIndex
	}

	west, east := rect.West, rect.UnwrappedEast()
	previous := -1

	for k := 0; k < n; k++ {
		i := k
		if reverse {
			i = n - 1 - k
		}
		source := int(edge.Indices[i])
		o := source * stride

		u := float64(vertices[o+AttrU])
		v := float64(vertices[o+AttrV])
		height := float64(vertices[o+AttrHeight]) - edge.SkirtHeight

		position := ellipsoid.CartographicToCartesian(math.Cartographic{
			Longitude: math.Lerp(west, east, u),
			Latitude:  math.Lerp(rect.South, rect.North, v),
			Height:    height,
		})

		so := vertexIndex * stride
		writeVertex(vertices[so:so+Stride], position.Sub(center), height, u, v)
		if stride == StrideWithNormals {
			vertices[so+AttrNormal] = vertices[o+AttrNormal]
		}

		if previous != -1 {
			skirtPrevious := uint32(vertexIndex - 1)
			indices.set(indexIndex, uint32(previous))
			indices.set(indexIndex+1, skirtPrevious)
			indices.set(indexIndex+2, uint32(source))

			indices.set(indexIndex+3, skirtPrevious)
			indices.set(indexIndex+4, uint32(vertexIndex))
			indices.set(indexIndex+5, uint32(source))
			indexIndex += 6
		}

		previous = source
		vertexIndex++
	}
	return vertexIndex, indexIndex
}

func writeVertex(dst []float32, relative math.Cartesian3, height, u, v float64) {
	dst[AttrX] = float32(relative.X)
	dst[AttrY] = float32(relative.Y)
	dst[AttrZ] = float32(relative.Z)
	dst[AttrHeight] = float32(height)
	dst[AttrU] = float32(u)
	dst[AttrV] = float32(v)
}
