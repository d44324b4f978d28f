// Package qmesh reads and writes quantized-mesh-1.0 terrain tiles.
package qmesh

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Quantized-mesh format errors.
var (
	ErrTruncated         = errors.New("truncated quantized-mesh data")
	ErrIndexOutOfRange   = errors.New("quantized-mesh index out of range")
	ErrInvalidExtension  = errors.New("invalid quantized-mesh extension")
	ErrMismatchedLengths = errors.New("quantized-mesh attribute lengths differ")
)

// Extension identifiers.
const (
	ExtensionOctVertexNormals = 1
	ExtensionWaterMask        = 2
	ExtensionMetadata         = 4
)

// HeaderSize is the fixed size of the tile header in bytes.
const HeaderSize = 88

// WaterMaskSize is the byte length of a full water mask (256×256).
const WaterMaskSize = 256 * 256

// MaxQuantized is the in-memory value of u, v or height at the top of its range.
const MaxQuantized = 65535

// wireMax is the largest quantized value on the wire; in-memory values use the full 16-bit range.
const wireMax = 32767

// Header holds the fixed tile header.
type Header struct {
	Center                math.Cartesian3
	MinimumHeight         float32
	MaximumHeight         float32
	BoundingSphere        math.BoundingSphere
	HorizonOcclusionPoint math.Cartesian3
}

// Tile is a decoded quantized-mesh tile. U, V and Height are scaled to 0..65535.
type Tile struct {
	Header Header

	U      []uint16
	V      []uint16
	Height []uint16

	Indices []uint32

	West  []uint32
	South []uint32
	East  []uint32
	North []uint32

	OctNormals []byte // 2 bytes per vertex, nil when absent
	WaterMask  []byte // nil, 1 byte (all land/water) or WaterMaskSize bytes
	Metadata   json.RawMessage
}

// VertexCount returns the number of quantized vertices.
func (t *Tile) VertexCount() int {
	return len(t.U)
}

// Validate checks attribute lengths and that every index references an existing vertex.
func (t *Tile) Validate() error {
	n := len(t.U)
	if len(t.V) != n || len(t.Height) != n {
		return fmt.Errorf("%w: u=%d v=%d height=%d", ErrMismatchedLengths, len(t.U), len(t.V), len(t.Height))
	}
	if t.OctNormals != nil && len(t.OctNormals) != 2*n {
		return fmt.Errorf("%w: %d normal bytes for %d vertices", ErrMismatchedLengths, len(t.OctNormals), n)
	}
	if len(t.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices is not a whole number of triangles", ErrMismatchedLengths, len(t.Indices))
	}
	lists := [][]uint32{t.Indices, t.West, t.South, t.East, t.North}
	for _, list := range lists {
		for _, idx := range list {
			if int(idx) >= n {
				return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, idx, n)
			}
		}
	}
	return nil
}

// Parse decodes a raw (uncompressed) quantized-mesh tile.
func Parse(data []byte) (*Tile, error) {
	if len(data) < HeaderSize+4 {
		return nil, ErrTruncated
	}

	r := bytes.NewReader(data)
	tile := &Tile{}

	var raw [10]float64
	if err := binary.Read(r, binary.LittleEndian, raw[:3]); err != nil {
		return nil, fmt.Errorf("%w: reading center", ErrTruncated)
	}
	var heights [2]float32
	if err := binary.Read(r, binary.LittleEndian, heights[:]); err != nil {
		return nil, fmt.Errorf("%w: reading height range", ErrTruncated)
	}
	if err := binary.Read(r, binary.LittleEndian, raw[3:]); err != nil {
		return nil, fmt.Errorf("%w: reading bounding volumes", ErrTruncated)
	}
	tile.Header = Header{
		Center:        math.Cartesian3{X: raw[0], Y: raw[1], Z: raw[2]},
		MinimumHeight: heights[0],
		MaximumHeight: heights[1],
		BoundingSphere: math.BoundingSphere{
			Center: math.Cartesian3{X: raw[3], Y: raw[4], Z: raw[5]},
			Radius: raw[6],
		},
		HorizonOcclusionPoint: math.Cartesian3{X: raw[7], Y: raw[8], Z: raw[9]},
	}

	var vertexCount uint32
	if err := binary.Read(r, binary.LittleEndian, &vertexCount); err != nil {
		return nil, fmt.Errorf("%w: reading vertex count", ErrTruncated)
	}
	if int64(vertexCount)*6 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d vertices", ErrTruncated, vertexCount)
	}

	var err error
	if tile.U, err = readDeltaArray(r, vertexCount); err != nil {
		return nil, fmt.Errorf("%w: reading u", err)
	}
	if tile.V, err = readDeltaArray(r, vertexCount); err != nil {
		return nil, fmt.Errorf("%w: reading v", err)
	}
	if tile.Height, err = readDeltaArray(r, vertexCount); err != nil {
		return nil, fmt.Errorf("%w: reading height", err)
	}

	wide := vertexCount > 65536
	bytesPerIndex := int64(2)
	if wide {
		bytesPerIndex = 4
	}
	pos := int64(len(data) - r.Len())
	if pad := pos % bytesPerIndex; pad != 0 {
		if _, err := r.Seek(bytesPerIndex-pad, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("%w: index alignment", ErrTruncated)
		}
	}

	var triangleCount uint32
	if err := binary.Read(r, binary.LittleEndian, &triangleCount); err != nil {
		return nil, fmt.Errorf("%w: reading triangle count", ErrTruncated)
	}
	if int64(triangleCount)*3*bytesPerIndex > int64(r.Len()) {
		return nil, fmt.Errorf("%w: %d triangles", ErrTruncated, triangleCount)
	}
	if tile.Indices, err = readIndices(r, int(triangleCount)*3, wide); err != nil {
		return nil, fmt.Errorf("%w: reading triangles", err)
	}
	decodeHighWaterMark(tile.Indices)

	for _, edge := range []*[]uint32{&tile.West, &tile.South, &tile.East, &tile.North} {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: reading edge count", ErrTruncated)
		}
		if int64(count)*bytesPerIndex > int64(r.Len()) {
			return nil, fmt.Errorf("%w: %d edge vertices", ErrTruncated, count)
		}
		if *edge, err = readIndices(r, int(count), wide); err != nil {
			return nil, fmt.Errorf("%w: reading edge", err)
		}
	}

	if err := readExtensions(r, tile); err != nil {
		return nil, err
	}

	if err := tile.Validate(); err != nil {
		return nil, err
	}
	return tile, nil
}

func readDeltaArray(r *bytes.Reader, count uint32) ([]uint16, error) {
	buf := make([]uint16, count)
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return nil, ErrTruncated
	}
	value := 0
	for i, encoded := range buf {
		value += zigZagDecode(encoded)
		buf[i] = fromWire(uint16(value))
	}
	return buf, nil
}

func readIndices(r *bytes.Reader, count int, wide bool) ([]uint32, error) {
	out := make([]uint32, count)
	if wide {
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return nil, ErrTruncated
		}
		return out, nil
	}
	narrow := make([]uint16, count)
	if err := binary.Read(r, binary.LittleEndian, narrow); err != nil {
		return nil, ErrTruncated
	}
	for i, v := range narrow {
		out[i] = uint32(v)
	}
	return out, nil
}

func readExtensions(r *bytes.Reader, tile *Tile) error {
	n := tile.VertexCount()
	for r.Len() > 0 {
		var id uint8
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("%w: reading extension id", ErrTruncated)
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return fmt.Errorf("%w: reading extension length", ErrTruncated)
		}
		if int64(length) > int64(r.Len()) {
			return fmt.Errorf("%w: extension %d length %d", ErrTruncated, id, length)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("%w: extension %d", ErrTruncated, id)
		}

		switch id {
		case ExtensionOctVertexNormals:
			if len(payload) != 2*n {
				return fmt.Errorf("%w: oct normals length %d for %d vertices", ErrInvalidExtension, len(payload), n)
			}
			tile.OctNormals = payload
		case ExtensionWaterMask:
			if len(payload) != 1 && len(payload) != WaterMaskSize {
				return fmt.Errorf("%w: water mask length %d", ErrInvalidExtension, len(payload))
			}
			tile.WaterMask = payload
		case ExtensionMetadata:
			if len(payload) < 4 {
				return fmt.Errorf("%w: metadata too short", ErrInvalidExtension)
			}
			jsonLength := binary.LittleEndian.Uint32(payload[:4])
			if int(jsonLength) > len(payload)-4 {
				return fmt.Errorf("%w: metadata length %d", ErrInvalidExtension, jsonLength)
			}
			tile.Metadata = json.RawMessage(payload[4 : 4+jsonLength])
		default:
			// Unknown extensions are skipped.
		}
	}
	return nil
}

func zigZagDecode(v uint16) int {
	return int(v>>1) ^ -int(v&1)
}

func zigZagEncode(v int) uint16 {
	return uint16((v << 1) ^ (v >> 63))
}

// fromWire maps a 15-bit wire value onto 0..65535 by bit replication, so 32767 becomes 65535 exactly.
func fromWire(v uint16) uint16 {
	if v > wireMax {
		v = wireMax
	}
	return v<<1 | v>>14
}

func toWire(v uint16) uint16 {
	return v >> 1
}

func decodeHighWaterMark(indices []uint32) {
	highest := uint32(0)
	for i, code := range indices {
		indices[i] = highest - code
		if code == 0 {
			highest++
		}
	}
}
