// Package math provides double-precision geodesy types for planet-scale terrain.
package math

import "math"

// Cartesian3 is a 3D point or vector in Earth-fixed coordinates (meters).
type Cartesian3 struct {
	X, Y, Z float64
}

// Axis vectors.
var (
	UnitX = Cartesian3{1, 0, 0}
	UnitY = Cartesian3{0, 1, 0}
	UnitZ = Cartesian3{0, 0, 1}
)

// Add returns c + other.
func (c Cartesian3) Add(other Cartesian3) Cartesian3 {
	return Cartesian3{c.X + other.X, c.Y + other.Y, c.Z + other.Z}
}

// Sub returns c - other.
func (c Cartesian3) Sub(other Cartesian3) Cartesian3 {
	return Cartesian3{c.X - other.X, c.Y - other.Y, c.Z - other.Z}
}

// Scale returns c * s.
func (c Cartesian3) Scale(s float64) Cartesian3 {
	return Cartesian3{c.X * s, c.Y * s, c.Z * s}
}

// MulComponents returns the component-wise product.
func (c Cartesian3) MulComponents(other Cartesian3) Cartesian3 {
	return Cartesian3{c.X * other.X, c.Y * other.Y, c.Z * other.Z}
}

// Negate returns -c.
func (c Cartesian3) Negate() Cartesian3 {
	return Cartesian3{-c.X, -c.Y, -c.Z}
}

// Dot returns the dot product.
func (c Cartesian3) Dot(other Cartesian3) float64 {
	return c.X*other.X + c.Y*other.Y + c.Z*other.Z
}

// Cross returns the cross product.
func (c Cartesian3) Cross(other Cartesian3) Cartesian3 {
	return Cartesian3{
		c.Y*other.Z - c.Z*other.Y,
		c.Z*other.X - c.X*other.Z,
		c.X*other.Y - c.Y*other.X,
	}
}

// MagnitudeSquared returns the squared length.
func (c Cartesian3) MagnitudeSquared() float64 {
	return c.X*c.X + c.Y*c.Y + c.Z*c.Z
}

// Magnitude returns the length.
func (c Cartesian3) Magnitude() float64 {
	return math.Sqrt(c.MagnitudeSquared())
}

// Normalize returns a unit vector. The zero vector is returned unchanged.
func (c Cartesian3) Normalize() Cartesian3 {
	m := c.Magnitude()
	if m == 0 {
		return Cartesian3{}
	}
	return Cartesian3{c.X / m, c.Y / m, c.Z / m}
}

// Distance returns the distance to another point.
func (c Cartesian3) Distance(other Cartesian3) float64 {
	return c.Sub(other).Magnitude()
}

// Lerp linearly interpolates between c and other.
func (c Cartesian3) Lerp(other Cartesian3, t float64) Cartesian3 {
	return c.Scale(1 - t).Add(other.Scale(t))
}

// EqualsEpsilon reports whether every component differs by at most epsilon.
func (c Cartesian3) EqualsEpsilon(other Cartesian3, epsilon float64) bool {
	return math.Abs(c.X-other.X) <= epsilon &&
		math.Abs(c.Y-other.Y) <= epsilon &&
		math.Abs(c.Z-other.Z) <= epsilon
}

// IsFinite reports whether no component is NaN or infinite.
func (c Cartesian3) IsFinite() bool {
	return !math.IsNaN(c.X) && !math.IsInf(c.X, 0) &&
		!math.IsNaN(c.Y) && !math.IsInf(c.Y, 0) &&
		!math.IsNaN(c.Z) && !math.IsInf(c.Z, 0)
}

// Cartesian4 is a four-component vector. Texture transforms store (translateX, translateY, scaleX, scaleY).
type Cartesian4 struct {
	X, Y, Z, W float64
}

// IdentityTranslationAndScale leaves texture coordinates unchanged.
var IdentityTranslationAndScale = Cartesian4{X: 0, Y: 0, Z: 1, W: 1}

// TranslationAndScale maps texture coordinates of inner onto the texture covering outer.
func TranslationAndScale(inner, outer Rectangle) Cartesian4 {
	innerWidth, innerHeight := inner.Width(), inner.Height()
	scaleX := innerWidth / outer.Width()
	scaleY := innerHeight / outer.Height()
	return Cartesian4{
		X: scaleX * (inner.West - outer.West) / innerWidth,
		Y: scaleY * (inner.South - outer.South) / innerHeight,
		Z: scaleX,
		W: scaleY,
	}
}
