package qmesh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// zigZag encodes a delta the way the format stores it.
func zigZag(d int) uint16 {
	if d < 0 {
		return uint16(-2*d - 1)
	}
	return uint16(2 * d)
}

// createTestTile builds a raw quantized-mesh payload from wire-scale (0..32767) vertex values.
func createTestTile(u, v, h []uint16, triangles []uint16, edges [4][]uint16, extensions func(*bytes.Buffer)) []byte {
	buf := new(bytes.Buffer)

	// Header: center, height range, bounding sphere, horizon occlusion point
	binary.Write(buf, binary.LittleEndian, [3]float64{1, 2, 3})
	binary.Write(buf, binary.LittleEndian, [2]float32{-10, 100})
	binary.Write(buf, binary.LittleEndian, [4]float64{4, 5, 6, 7})
	binary.Write(buf, binary.LittleEndian, [3]float64{0.5, 0.25, 0.125})

	binary.Write(buf, binary.LittleEndian, uint32(len(u)))
	for _, values := range [][]uint16{u, v, h} {
		prev := 0
		for _, value := range values {
			binary.Write(buf, binary.LittleEndian, zigZag(int(value)-prev))
			prev = int(value)
		}
	}

	// Triangles, high-water-mark encoded
	binary.Write(buf, binary.LittleEndian, uint32(len(triangles)/3))
	highest := uint16(0)
	for _, idx := range triangles {
		binary.Write(buf, binary.LittleEndian, highest-idx)
		if idx == highest {
			highest++
		}
	}

	for _, edge := range edges {
		binary.Write(buf, binary.LittleEndian, uint32(len(edge)))
		binary.Write(buf, binary.LittleEndian, edge)
	}

	if extensions != nil {
		extensions(buf)
	}
	return buf.Bytes()
}

func threeVertexTile(extensions func(*bytes.Buffer)) []byte {
	return createTestTile(
		[]uint16{0, 32767, 0},
		[]uint16{0, 0, 32767},
		[]uint16{0, 16383, 32767},
		[]uint16{0, 1, 2},
		[4][]uint16{{0, 2}, {0, 1}, {1}, {2}},
		extensions,
	)
}

func TestParse_ValidTile(t *testing.T) {
	tile, err := Parse(threeVertexTile(nil))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if tile.Header.Center != (math.Cartesian3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("expected center (1,2,3), got %v", tile.Header.Center)
	}
	if tile.Header.MinimumHeight != -10 || tile.Header.MaximumHeight != 100 {
		t.Errorf("expected height range [-10,100], got [%v,%v]", tile.Header.MinimumHeight, tile.Header.MaximumHeight)
	}
	if tile.Header.BoundingSphere.Radius != 7 {
		t.Errorf("expected bounding sphere radius 7, got %v", tile.Header.BoundingSphere.Radius)
	}
	if tile.Header.HorizonOcclusionPoint.Z != 0.125 {
		t.Errorf("expected occlusion point z 0.125, got %v", tile.Header.HorizonOcclusionPoint.Z)
	}

	if tile.VertexCount() != 3 {
		t.Fatalf("expected 3 vertices, got %d", tile.VertexCount())
	}

	// Wire values are bit-replicated onto the 16-bit scale.
	wantU := []uint16{0, 65535, 0}
	wantH := []uint16{0, 32766, 65535}
	for i := range wantU {
		if tile.U[i] != wantU[i] {
			t.Errorf("u[%d]: expected %d, got %d", i, wantU[i], tile.U[i])
		}
		if tile.Height[i] != wantH[i] {
			t.Errorf("height[%d]: expected %d, got %d", i, wantH[i], tile.Height[i])
		}
	}

	wantIndices := []uint32{0, 1, 2}
	for i, idx := range wantIndices {
		if tile.Indices[i] != idx {
			t.Errorf("index %d: expected %d, got %d", i, idx, tile.Indices[i])
		}
	}

	if len(tile.West) != 2 || len(tile.South) != 2 || len(tile.East) != 1 || len(tile.North) != 1 {
		t.Errorf("unexpected edge lengths: %d %d %d %d", len(tile.West), len(tile.South), len(tile.East), len(tile.North))
	}
	if tile.OctNormals != nil || tile.WaterMask != nil || tile.Metadata != nil {
		t.Error("expected no extensions")
	}
}

func TestParse_HighWaterMark(t *testing.T) {
	// Two triangles sharing an edge: 0 1 2, 2 1 3
	data := createTestTile(
		[]uint16{0, 100, 0, 100},
		[]uint16{0, 0, 100, 100},
		[]uint16{0, 0, 0, 0},
		[]uint16{0, 1, 2, 2, 1, 3},
		[4][]uint16{},
		nil,
	)

	tile, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []uint32{0, 1, 2, 2, 1, 3}
	for i := range want {
		if tile.Indices[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], tile.Indices[i])
		}
	}
}

func TestParse_Extensions(t *testing.T) {
	data := threeVertexTile(func(buf *bytes.Buffer) {
		buf.WriteByte(ExtensionOctVertexNormals)
		binary.Write(buf, binary.LittleEndian, uint32(6))
		buf.Write([]byte{128, 128, 255, 128, 0, 0})

		buf.WriteByte(ExtensionWaterMask)
		binary.Write(buf, binary.LittleEndian, uint32(1))
		buf.WriteByte(255)

		// Unknown extension is skipped
		buf.WriteByte(9)
		binary.Write(buf, binary.LittleEndian, uint32(2))
		buf.Write([]byte{1, 2})

		meta := []byte(`{"available":[]}`)
		buf.WriteByte(ExtensionMetadata)
		binary.Write(buf, binary.LittleEndian, uint32(4+len(meta)))
		binary.Write(buf, binary.LittleEndian, uint32(len(meta)))
		buf.Write(meta)
	})

	tile, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(tile.OctNormals) != 6 || tile.OctNormals[2] != 255 {
		t.Errorf("unexpected oct normals %v", tile.OctNormals)
	}
	if len(tile.WaterMask) != 1 || tile.WaterMask[0] != 255 {
		t.Errorf("unexpected water mask %v", tile.WaterMask)
	}
	if string(tile.Metadata) != `{"available":[]}` {
		t.Errorf("unexpected metadata %q", tile.Metadata)
	}
}

func TestParse_InvalidWaterMask(t *testing.T) {
	data := threeVertexTile(func(buf *bytes.Buffer) {
		buf.WriteByte(ExtensionWaterMask)
		binary.Write(buf, binary.LittleEndian, uint32(3))
		buf.Write([]byte{1, 2, 3})
	})

	_, err := Parse(data)
	if !errors.Is(err, ErrInvalidExtension) {
		t.Errorf("expected ErrInvalidExtension, got %v", err)
	}
}

func TestHeaderSize(t *testing.T) {
	tests := []struct {
		name string
		data func() ([]byte, error)
	}{
		{"hand built", func() ([]byte, error) { return threeVertexTile(nil), nil }},
		{"encoded", func() ([]byte, error) {
			return Encode(&Tile{
				U:       []uint16{0, 65535, 0},
				V:       []uint16{0, 0, 65535},
				Height:  []uint16{0, 0, 0},
				Indices: []uint32{0, 1, 2},
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.data()
			if err != nil {
				t.Fatal(err)
			}
			if got := binary.LittleEndian.Uint32(data[HeaderSize:]); got != 3 {
				t.Errorf("vertex count at offset %d = %d, want 3", HeaderSize, got)
			}
			tile, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if tile.VertexCount() != 3 {
				t.Errorf("expected 3 vertices, got %d", tile.VertexCount())
			}
		})
	}
}

func TestParse_Truncated(t *testing.T) {
	data := threeVertexTile(nil)

	for _, n := range []int{0, 10, HeaderSize, HeaderSize + 8, len(data) - 1} {
		_, err := Parse(data[:n])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("length %d: expected ErrTruncated, got %v", n, err)
		}
	}
}

func TestParse_EdgeIndexOutOfRange(t *testing.T) {
	data := createTestTile(
		[]uint16{0, 32767, 0},
		[]uint16{0, 0, 32767},
		[]uint16{0, 0, 0},
		[]uint16{0, 1, 2},
		[4][]uint16{{0, 7}},
		nil,
	)

	_, err := Parse(data)
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestEncode_ParseRoundTrip(t *testing.T) {
	original, err := Parse(threeVertexTile(func(buf *bytes.Buffer) {
		buf.WriteByte(ExtensionWaterMask)
		binary.Write(buf, binary.LittleEndian, uint32(1))
		buf.WriteByte(0)
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of encoded tile failed: %v", err)
	}

	if decoded.Header != original.Header {
		t.Errorf("header changed: %+v vs %+v", decoded.Header, original.Header)
	}
	for i := range original.U {
		if decoded.U[i] != original.U[i] || decoded.V[i] != original.V[i] || decoded.Height[i] != original.Height[i] {
			t.Errorf("vertex %d changed", i)
		}
	}
	if len(decoded.WaterMask) != 1 {
		t.Errorf("expected water mask to survive, got %v", decoded.WaterMask)
	}
}

func TestEncode_ReordersVertices(t *testing.T) {
	// Triangle references vertex 2 first, which is not valid high-water-mark order.
	tile := &Tile{
		U:       []uint16{0, 65535, 0},
		V:       []uint16{0, 0, 65535},
		Height:  []uint16{10, 20, 30},
		Indices: []uint32{2, 0, 1},
		West:    []uint32{2, 0},
	}

	data, err := Encode(tile)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// The first referenced vertex must still be the one with v=1.
	first := decoded.Indices[0]
	if decoded.V[first] != 65535 {
		t.Errorf("expected first triangle vertex to have v=65535, got %d", decoded.V[first])
	}
	if decoded.V[decoded.West[0]] != 65535 || decoded.V[decoded.West[1]] != 0 {
		t.Error("expected west edge to follow the renumbered vertices")
	}
}

func TestEncode_MismatchedLengths(t *testing.T) {
	tile := &Tile{
		U:      []uint16{0, 1},
		V:      []uint16{0},
		Height: []uint16{0, 1},
	}
	if _, err := Encode(tile); !errors.Is(err, ErrMismatchedLengths) {
		t.Errorf("expected ErrMismatchedLengths, got %v", err)
	}
}

func TestDecompress(t *testing.T) {
	raw := threeVertexTile(nil)

	gz, err := CompressGzip(raw)
	if err != nil {
		t.Fatalf("CompressGzip failed: %v", err)
	}
	zs, err := CompressZstd(raw)
	if err != nil {
		t.Fatalf("CompressZstd failed: %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{"raw", raw},
		{"gzip", gz},
		{"zstd", zs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(tt.payload)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Error("decompressed bytes differ from the raw tile")
			}
		})
	}
}
