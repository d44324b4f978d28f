package terrain

import (
	"fmt"
	gomath "math"
	"sort"

	"github.com/Faultbox/midgard-globe/pkg/math"
	"github.com/Faultbox/midgard-globe/pkg/qmesh"
)

// clipVertex is a vertex in the source tile's unit u/v space with height in meters.
type clipVertex struct {
	u, v, h float64
	normal  math.Cartesian3
}

func (a clipVertex) lerp(b clipVertex, t float64) clipVertex {
	return clipVertex{
		u:      math.Lerp(a.u, b.u, t),
		v:      math.Lerp(a.v, b.v, t),
		h:      math.Lerp(a.h, b.h, t),
		normal: a.normal.Lerp(b.normal, t),
	}
}

// clipPolygon keeps the part of poly where sign*(coord(p) - bound) >= 0.
func clipPolygon(poly []clipVertex, coord func(clipVertex) float64, bound, sign float64) []clipVertex {
	if len(poly) == 0 {
		return nil
	}
	out := make([]clipVertex, 0, len(poly)+2)
	prev := poly[len(poly)-1]
	prevDist := sign * (coord(prev) - bound)
	for _, cur := range poly {
		curDist := sign * (coord(cur) - bound)
		if curDist >= 0 {
			if prevDist < 0 {
				out = append(out, prev.lerp(cur, prevDist/(prevDist-curDist)))
			}
			out = append(out, cur)
		} else if prevDist >= 0 {
			out = append(out, prev.lerp(cur, prevDist/(prevDist-curDist)))
		}
		prev, prevDist = cur, curDist
	}
	return out
}

func coordU(c clipVertex) float64 { return c.u }
func coordV(c clipVertex) float64 { return c.v }

// Upsample derives the terrain of a descendant tile by clipping this tile's triangles to the
// descendant's footprint. The result has no available children and half the skirt depth per level.
func (d *QuantizedMeshData) Upsample(scheme *math.GeographicTilingScheme, thisX, thisY, thisLevel, descendantX, descendantY, descendantLevel int) (Data, error) {
	levelDiff := descendantLevel - thisLevel
	if levelDiff <= 0 || descendantX>>uint(levelDiff) != thisX || descendantY>>uint(levelDiff) != thisY {
		return nil, fmt.Errorf("%w: %d/%d/%d of %d/%d/%d", ErrNotDescendant,
			descendantLevel, descendantX, descendantY, thisLevel, thisX, thisY)
	}
	if err := d.tile.Validate(); err != nil {
		return nil, fmt.Errorf("upsampling %d/%d/%d: %w", thisLevel, thisX, thisY, err)
	}

	scale := float64(int(1) << uint(levelDiff))
	uMin := float64(descendantX-thisX<<uint(levelDiff)) / scale
	uMax := uMin + 1/scale
	vMax := 1 - float64(descendantY-thisY<<uint(levelDiff))/scale
	vMin := vMax - 1/scale

	src := d.tile
	minHeight, maxHeight := float64(src.Header.MinimumHeight), float64(src.Header.MaximumHeight)
	hasNormals := src.OctNormals != nil

	source := make([]clipVertex, src.VertexCount())
	for i := range source {
		source[i] = clipVertex{
			u: float64(src.U[i]) / quantizedMax,
			v: float64(src.V[i]) / quantizedMax,
			h: math.Lerp(minHeight, maxHeight, float64(src.Height[i])/quantizedMax),
		}
		if hasNormals {
			source[i].normal = math.OctDecode(src.OctNormals[2*i], src.OctNormals[2*i+1])
		}
	}

	b := newUpsampleBuilder(uMin, vMin, scale)
	for t := 0; t+2 < len(src.Indices); t += 3 {
		poly := []clipVertex{source[src.Indices[t]], source[src.Indices[t+1]], source[src.Indices[t+2]]}
		poly = clipPolygon(poly, coordU, uMin, 1)
		poly = clipPolygon(poly, coordU, uMax, -1)
		poly = clipPolygon(poly, coordV, vMin, 1)
		poly = clipPolygon(poly, coordV, vMax, -1)
		for k := 1; k+1 < len(poly); k++ {
			b.addTriangle(poly[0], poly[k], poly[k+1])
		}
	}

	tile := b.build(hasNormals)
	return NewQuantizedMeshData(tile, QuantizedMeshOptions{
		SkirtHeight:         d.skirtHeight / scale,
		CreatedByUpsampling: true,
	}), nil
}

type upsampleBuilder struct {
	uMin, vMin, scale float64

	vertices []clipVertex
	keys     map[[2]uint16]uint32
	u, v     []uint16
	indices  []uint32
}

func newUpsampleBuilder(uMin, vMin, scale float64) *upsampleBuilder {
	return &upsampleBuilder{uMin: uMin, vMin: vMin, scale: scale, keys: make(map[[2]uint16]uint32)}
}

func quantize(x float64) uint16 {
	return uint16(gomath.Round(math.Clamp(x, 0, 1) * quantizedMax))
}

// vertex returns the index of c in the descendant tile, merging vertices that quantize to the same u/v.
func (b *upsampleBuilder) vertex(c clipVertex) uint32 {
	qu := quantize((c.u - b.uMin) * b.scale)
	qv := quantize((c.v - b.vMin) * b.scale)
	key := [2]uint16{qu, qv}
	if idx, ok := b.keys[key]; ok {
		return idx
	}
	idx := uint32(len(b.vertices))
	b.keys[key] = idx
	b.vertices = append(b.vertices, c)
	b.u = append(b.u, qu)
	b.v = append(b.v, qv)
	return idx
}

func (b *upsampleBuilder) addTriangle(p0, p1, p2 clipVertex) {
	i0, i1, i2 := b.vertex(p0), b.vertex(p1), b.vertex(p2)
	if i0 == i1 || i1 == i2 || i0 == i2 {
		return
	}
	b.indices = append(b.indices, i0, i1, i2)
}

func (b *upsampleBuilder) build(hasNormals bool) *qmesh.Tile {
	n := len(b.vertices)
	minHeight, maxHeight := gomath.Inf(1), gomath.Inf(-1)
	for _, c := range b.vertices {
		minHeight = gomath.Min(minHeight, c.h)
		maxHeight = gomath.Max(maxHeight, c.h)
	}
	if n == 0 {
		minHeight, maxHeight = 0, 0
	}

	heights := make([]uint16, n)
	for i, c := range b.vertices {
		if maxHeight > minHeight {
			heights[i] = quantize((c.h - minHeight) / (maxHeight - minHeight))
		}
	}

	tile := &qmesh.Tile{
		Header: qmesh.Header{
			MinimumHeight: float32(minHeight),
			MaximumHeight: float32(maxHeight),
		},
		U:       b.u,
		V:       b.v,
		Height:  heights,
		Indices: b.indices,
	}

	if hasNormals {
		tile.OctNormals = make([]byte, 2*n)
		for i, c := range b.vertices {
			tile.OctNormals[2*i], tile.OctNormals[2*i+1] = math.OctEncode(c.normal.Normalize())
		}
	}

	for i := range b.vertices {
		idx := uint32(i)
		switch b.u[i] {
		case 0:
			tile.West = append(tile.West, idx)
		case qmesh.MaxQuantized:
			tile.East = append(tile.East, idx)
		}
		switch b.v[i] {
		case 0:
			tile.South = append(tile.South, idx)
		case qmesh.MaxQuantized:
			tile.North = append(tile.North, idx)
		}
	}
	byV := func(list []uint32) func(i, j int) bool {
		return func(i, j int) bool { return b.v[list[i]] < b.v[list[j]] }
	}
	byU := func(list []uint32) func(i, j int) bool {
		return func(i, j int) bool { return b.u[list[i]] < b.u[list[j]] }
	}
	sort.Slice(tile.West, byV(tile.West))
	sort.Slice(tile.East, byV(tile.East))
	sort.Slice(tile.South, byU(tile.South))
	sort.Slice(tile.North, byU(tile.North))

	return tile
}
