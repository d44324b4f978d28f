package terrain

import (
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// InterpolateHeight returns the terrain height at a geodetic position inside rect, the rectangle this
// data was decoded for. It returns false when the position is outside rect or not covered by a triangle.
func (d *QuantizedMeshData) InterpolateHeight(rect math.Rectangle, longitude, latitude float64) (float64, bool) {
	if !rect.Contains(math.Cartographic{Longitude: longitude, Latitude: latitude}) {
		return 0, false
	}
	if longitude < rect.West {
		longitude += math.TwoPi
	}
	u := math.Clamp((longitude-rect.West)/rect.Width(), 0, 1)
	v := math.Clamp((latitude-rect.South)/rect.Height(), 0, 1)

	t := d.tile
	minHeight, maxHeight := float64(t.Header.MinimumHeight), float64(t.Header.MaximumHeight)

	for i := 0; i+2 < len(t.Indices); i += 3 {
		i0, i1, i2 := t.Indices[i], t.Indices[i+1], t.Indices[i+2]

		u0, v0 := float64(t.U[i0])/quantizedMax, float64(t.V[i0])/quantizedMax
		u1, v1 := float64(t.U[i1])/quantizedMax, float64(t.V[i1])/quantizedMax
		u2, v2 := float64(t.U[i2])/quantizedMax, float64(t.V[i2])/quantizedMax

		b0, b1, b2, ok := barycentric(u, v, u0, v0, u1, v1, u2, v2)
		if !ok {
			continue
		}

		// Barycentric weights close to zero may be slightly negative on shared edges.
		const epsilon = -1e-9
		if b0 < epsilon || b1 < epsilon || b2 < epsilon {
			continue
		}

		h := b0*float64(t.Height[i0]) + b1*float64(t.Height[i1]) + b2*float64(t.Height[i2])
		return math.Lerp(minHeight, maxHeight, h/quantizedMax), true
	}
	return 0, false
}

func barycentric(x, y, x0, y0, x1, y1, x2, y2 float64) (float64, float64, float64, bool) {
	det := (y1-y2)*(x0-x2) + (x2-x1)*(y0-y2)
	if det == 0 {
		return 0, 0, 0, false
	}
	b0 := ((y1-y2)*(x-x2) + (x2-x1)*(y-y2)) / det
	b1 := ((y2-y0)*(x-x2) + (x0-x2)*(y-y2)) / det
	return b0, b1, 1 - b0 - b1, true
}
