// Package layer reads the layer.json descriptor of a quantized-mesh tileset.
package layer

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
)

// ErrInvalidLayer is returned for descriptors that fail to parse or validate.
var ErrInvalidLayer = errors.New("invalid layer.json")

// Extension names as they appear in layer.json.
const (
	ExtensionOctVertexNormals = "octvertexnormals"
	ExtensionWaterMask        = "watermask"
	ExtensionMetadata         = "metadata"
)

// SchemeTMS numbers rows from the south.
const SchemeTMS = "tms"

//go:embed layer.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func layerSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("layer.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Range is an inclusive block of available tiles at one level.
type Range struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	EndX   int `json:"endX"`
	EndY   int `json:"endY"`
}

func (r Range) contains(x, y int) bool {
	return x >= r.StartX && x <= r.EndX && y >= r.StartY && y <= r.EndY
}

// Layer is a parsed layer.json.
type Layer struct {
	TileJSON    string    `json:"tilejson,omitempty"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Attribution string    `json:"attribution,omitempty"`
	Format      string    `json:"format"`
	Scheme      string    `json:"scheme,omitempty"`
	Projection  string    `json:"projection,omitempty"`
	Tiles       []string  `json:"tiles"`
	Bounds      []float64 `json:"bounds,omitempty"`
	MinZoom     int       `json:"minzoom,omitempty"`
	MaxZoom     int       `json:"maxzoom,omitempty"`
	Extensions  []string  `json:"extensions,omitempty"`

	// Available lists, per level, the tile ranges in the layer's own row order.
	Available [][]Range `json:"available,omitempty"`
}

// Parse validates and decodes a layer.json document.
func Parse(data []byte) (*Layer, error) {
	s, err := layerSchema()
	if err != nil {
		return nil, fmt.Errorf("compile layer schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayer, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayer, err)
	}

	l := &Layer{}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayer, err)
	}
	if l.Scheme == "" {
		l.Scheme = SchemeTMS
	}
	if l.Projection == "" {
		l.Projection = "EPSG:4326"
	}
	if l.Version == "" {
		l.Version = "1.0.0"
	}
	return l, nil
}

// Marshal encodes the layer as JSON.
func (l *Layer) Marshal() ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// HasExtension reports whether the tileset advertises ext.
func (l *Layer) HasExtension(ext string) bool {
	for _, e := range l.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// tilesY returns the row count of the geographic scheme at level.
func tilesY(level int) int {
	return 1 << uint(level)
}

// TileURL expands template i for a tile addressed in the geographic scheme (rows from the north).
func (l *Layer) TileURL(i, x, y, level int) string {
	if l.Scheme == SchemeTMS {
		y = tilesY(level) - 1 - y
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(level),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{version}", l.Version,
	)
	return r.Replace(l.Tiles[i%len(l.Tiles)])
}

// Availability answers which tiles exist, in the geographic scheme's row order.
type Availability struct {
	levels [][]Range
}

// Availability converts the advertised ranges to north-origin rows. It returns nil when the layer
// does not list availability.
func (l *Layer) Availability() *Availability {
	if len(l.Available) == 0 {
		return nil
	}
	a := &Availability{levels: make([][]Range, len(l.Available))}
	for level, ranges := range l.Available {
		converted := make([]Range, len(ranges))
		for i, r := range ranges {
			if l.Scheme == SchemeTMS {
				n := tilesY(level)
				r.StartY, r.EndY = n-1-r.EndY, n-1-r.StartY
			}
			converted[i] = r
		}
		a.levels[level] = converted
	}
	return a
}

// MaximumLevel returns the deepest level with any listed tiles.
func (a *Availability) MaximumLevel() int {
	for level := len(a.levels) - 1; level >= 0; level-- {
		if len(a.levels[level]) > 0 {
			return level
		}
	}
	return -1
}

// IsTileAvailable reports whether the tile exists.
func (a *Availability) IsTileAvailable(x, y, level int) bool {
	if level < 0 || level >= len(a.levels) {
		return false
	}
	for _, r := range a.levels[level] {
		if r.contains(x, y) {
			return true
		}
	}
	return false
}

// ChildMask returns the terrain child bits for the children of (x, y, level) that exist.
func (a *Availability) ChildMask(x, y, level int) uint8 {
	var mask uint8
	childLevel := level + 1
	if a.IsTileAvailable(2*x, 2*y+1, childLevel) {
		mask |= terrain.ChildSouthwest
	}
	if a.IsTileAvailable(2*x+1, 2*y+1, childLevel) {
		mask |= terrain.ChildSoutheast
	}
	if a.IsTileAvailable(2*x, 2*y, childLevel) {
		mask |= terrain.ChildNorthwest
	}
	if a.IsTileAvailable(2*x+1, 2*y, childLevel) {
		mask |= terrain.ChildNortheast
	}
	return mask
}
