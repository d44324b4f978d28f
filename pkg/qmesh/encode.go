package qmesh

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encode writes a tile in the quantized-mesh-1.0 layout. Vertices are renumbered into
// high-water-mark order as the format requires, so indices in the output may differ from t's
// while describing the same triangles.
func Encode(t *Tile) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t = reorderHighWaterMark(t)

	var buf bytes.Buffer
	w := func(v any) {
		// bytes.Buffer writes do not fail.
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	h := t.Header
	w([3]float64{h.Center.X, h.Center.Y, h.Center.Z})
	w([2]float32{h.MinimumHeight, h.MaximumHeight})
	w([4]float64{h.BoundingSphere.Center.X, h.BoundingSphere.Center.Y, h.BoundingSphere.Center.Z, h.BoundingSphere.Radius})
	w([3]float64{h.HorizonOcclusionPoint.X, h.HorizonOcclusionPoint.Y, h.HorizonOcclusionPoint.Z})

	n := t.VertexCount()
	w(uint32(n))
	for _, values := range [][]uint16{t.U, t.V, t.Height} {
		w(encodeDeltaArray(values))
	}

	wide := n > 65536
	if wide {
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
	}

	writeIndices := func(indices []uint32) {
		if wide {
			w(indices)
			return
		}
		narrow := make([]uint16, len(indices))
		for i, v := range indices {
			narrow[i] = uint16(v)
		}
		w(narrow)
	}

	w(uint32(len(t.Indices) / 3))
	writeIndices(encodeHighWaterMark(t.Indices))
	for _, edge := range [][]uint32{t.West, t.South, t.East, t.North} {
		w(uint32(len(edge)))
		writeIndices(edge)
	}

	if t.OctNormals != nil {
		w(uint8(ExtensionOctVertexNormals))
		w(uint32(len(t.OctNormals)))
		buf.Write(t.OctNormals)
	}
	if t.WaterMask != nil {
		if len(t.WaterMask) != 1 && len(t.WaterMask) != WaterMaskSize {
			return nil, fmt.Errorf("%w: water mask length %d", ErrInvalidExtension, len(t.WaterMask))
		}
		w(uint8(ExtensionWaterMask))
		w(uint32(len(t.WaterMask)))
		buf.Write(t.WaterMask)
	}
	if t.Metadata != nil {
		w(uint8(ExtensionMetadata))
		w(uint32(4 + len(t.Metadata)))
		w(uint32(len(t.Metadata)))
		buf.Write(t.Metadata)
	}

	return buf.Bytes(), nil
}

func encodeDeltaArray(values []uint16) []uint16 {
	out := make([]uint16, len(values))
	prev := 0
	for i, v := range values {
		cur := int(toWire(v))
		out[i] = zigZagEncode(cur - prev)
		prev = cur
	}
	return out
}

func encodeHighWaterMark(indices []uint32) []uint32 {
	out := make([]uint32, len(indices))
	highest := uint32(0)
	for i, idx := range indices {
		out[i] = highest - idx
		if idx == highest {
			highest++
		}
	}
	return out
}

// reorderHighWaterMark returns a copy of t whose vertices appear in order of first reference by the
// triangle list. Unreferenced vertices keep their relative order at the end.
func reorderHighWaterMark(t *Tile) *Tile {
	n := t.VertexCount()
	remap := make([]int, n)
	for i := range remap {
		remap[i] = -1
	}
	next := 0
	for _, idx := range t.Indices {
		if remap[idx] < 0 {
			remap[idx] = next
			next++
		}
	}
	for i := range remap {
		if remap[i] < 0 {
			remap[i] = next
			next++
		}
	}

	out := *t
	out.U = make([]uint16, n)
	out.V = make([]uint16, n)
	out.Height = make([]uint16, n)
	if t.OctNormals != nil {
		out.OctNormals = make([]byte, 2*n)
	}
	for old, nw := range remap {
		out.U[nw] = t.U[old]
		out.V[nw] = t.V[old]
		out.Height[nw] = t.Height[old]
		if t.OctNormals != nil {
			out.OctNormals[2*nw] = t.OctNormals[2*old]
			out.OctNormals[2*nw+1] = t.OctNormals[2*old+1]
		}
	}

	remapList := func(list []uint32) []uint32 {
		if list == nil {
			return nil
		}
		mapped := make([]uint32, len(list))
		for i, idx := range list {
			mapped[i] = uint32(remap[idx])
		}
		return mapped
	}
	out.Indices = remapList(t.Indices)
	out.West = remapList(t.West)
	out.South = remapList(t.South)
	out.East = remapList(t.East)
	out.North = remapList(t.North)
	return &out
}
