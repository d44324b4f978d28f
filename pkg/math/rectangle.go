package math

import "math"

// Rectangle is a geodetic extent in radians. East may be numerically less than West when the
// rectangle crosses the antimeridian.
type Rectangle struct {
	West, South, East, North float64
}

// MaxValue covers the whole globe.
var MaxValue = Rectangle{West: -math.Pi, South: -PiOver2, East: math.Pi, North: PiOver2}

// Width returns the angular width, accounting for antimeridian crossing.
func (r Rectangle) Width() float64 {
	east := r.East
	if east < r.West {
		east += TwoPi
	}
	return east - r.West
}

// Height returns the angular height.
func (r Rectangle) Height() float64 {
	return r.North - r.South
}

// UnwrappedEast returns East, shifted by a full turn when the rectangle crosses the antimeridian.
func (r Rectangle) UnwrappedEast() float64 {
	if r.East < r.West {
		return r.East + TwoPi
	}
	return r.East
}

// Southwest returns the southwest corner at height zero.
func (r Rectangle) Southwest() Cartographic {
	return Cartographic{Longitude: r.West, Latitude: r.South}
}

// Southeast returns the southeast corner at height zero.
func (r Rectangle) Southeast() Cartographic {
	return Cartographic{Longitude: r.East, Latitude: r.South}
}

// Northwest returns the northwest corner at height zero.
func (r Rectangle) Northwest() Cartographic {
	return Cartographic{Longitude: r.West, Latitude: r.North}
}

// Northeast returns the northeast corner at height zero.
func (r Rectangle) Northeast() Cartographic {
	return Cartographic{Longitude: r.East, Latitude: r.North}
}

// Center returns the center of the rectangle at height zero.
func (r Rectangle) Center() Cartographic {
	return Cartographic{
		Longitude: NegativePiToPi(r.West + r.Width()*0.5),
		Latitude:  (r.South + r.North) * 0.5,
	}
}

// Lerp returns the position at normalized coordinates (u, v) inside the rectangle.
func (r Rectangle) Lerp(u, v, height float64) Cartographic {
	return Cartographic{
		Longitude: Lerp(r.West, r.UnwrappedEast(), u),
		Latitude:  Lerp(r.South, r.North, v),
		Height:    height,
	}
}

// Contains reports whether the position lies inside the rectangle.
func (r Rectangle) Contains(c Cartographic) bool {
	lon := c.Longitude
	west, east := r.West, r.East
	if east < west {
		east += TwoPi
		if lon < 0 {
			lon += TwoPi
		}
	}
	return (lon > west || EqualsEpsilon(lon, west, Epsilon12)) &&
		(lon < east || EqualsEpsilon(lon, east, Epsilon12)) &&
		c.Latitude >= r.South && c.Latitude <= r.North
}

// SubsampleCartesian returns the corners, edge midpoints and center of the rectangle on the ellipsoid at
// the given height.
func (r Rectangle) SubsampleCartesian(e *Ellipsoid, height float64) []Cartesian3 {
	points := make([]Cartesian3, 0, 9)
	for _, v := range []float64{0, 0.5, 1} {
		for _, u := range []float64{0, 0.5, 1} {
			points = append(points, e.CartographicToCartesian(r.Lerp(u, v, height)))
		}
	}
	return points
}

// SimpleIntersection returns the overlap of two rectangles that do not cross the antimeridian.
func (r Rectangle) SimpleIntersection(other Rectangle) (Rectangle, bool) {
	out := Rectangle{
		West:  math.Max(r.West, other.West),
		South: math.Max(r.South, other.South),
		East:  math.Min(r.East, other.East),
		North: math.Min(r.North, other.North),
	}
	if out.West >= out.East || out.South >= out.North {
		return Rectangle{}, false
	}
	return out, true
}
