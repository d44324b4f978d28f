package math

import "math"

// BoundingSphere encloses a set of points.
type BoundingSphere struct {
	Center Cartesian3
	Radius float64
}

// BoundingSphereFromPoints returns a sphere centered on the points' axis-aligned box.
// An empty input yields the zero sphere.
func BoundingSphereFromPoints(points []Cartesian3) BoundingSphere {
	if len(points) == 0 {
		return BoundingSphere{}
	}
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = Cartesian3{math.Min(lo.X, p.X), math.Min(lo.Y, p.Y), math.Min(lo.Z, p.Z)}
		hi = Cartesian3{math.Max(hi.X, p.X), math.Max(hi.Y, p.Y), math.Max(hi.Z, p.Z)}
	}
	center := lo.Add(hi).Scale(0.5)

	radiusSquared := 0.0
	for _, p := range points {
		radiusSquared = math.Max(radiusSquared, p.Sub(center).MagnitudeSquared())
	}
	return BoundingSphere{Center: center, Radius: math.Sqrt(radiusSquared)}
}

// BoundingSphereFromRectangle approximates the volume of a rectangle between two heights.
func BoundingSphereFromRectangle(r Rectangle, e *Ellipsoid, minHeight, maxHeight float64) BoundingSphere {
	points := r.SubsampleCartesian(e, minHeight)
	points = append(points, r.SubsampleCartesian(e, maxHeight)...)
	return BoundingSphereFromPoints(points)
}

// DistanceSquaredTo returns the squared distance from the sphere surface to p (zero inside).
func (s BoundingSphere) DistanceSquaredTo(p Cartesian3) float64 {
	d := math.Max(0, s.Center.Distance(p)-s.Radius)
	return d * d
}

// Plane is the set of points where Normal·p + Distance == 0. Points with a positive value are in front.
type Plane struct {
	Normal   Cartesian3
	Distance float64
}

// PlaneFromPointNormal builds a plane through point with the given unit normal.
func PlaneFromPointNormal(point, normal Cartesian3) Plane {
	return Plane{Normal: normal, Distance: -normal.Dot(point)}
}

// SignedDistance returns the signed distance of p from the plane.
func (pl Plane) SignedDistance(p Cartesian3) float64 {
	return pl.Normal.Dot(p) + pl.Distance
}

// Intersect classifies a sphere against the plane: 1 in front, -1 behind, 0 straddling.
func (pl Plane) Intersect(s BoundingSphere) int {
	d := pl.SignedDistance(s.Center)
	switch {
	case d < -s.Radius:
		return -1
	case d < s.Radius:
		return 0
	default:
		return 1
	}
}

// IntersectsRay reports whether a ray with a unit direction passes through the sphere.
func (s BoundingSphere) IntersectsRay(r Ray) bool {
	toCenter := s.Center.Sub(r.Origin)
	radiusSquared := s.Radius * s.Radius
	t := toCenter.Dot(r.Direction)
	if t < 0 && toCenter.MagnitudeSquared() > radiusSquared {
		return false
	}
	return toCenter.MagnitudeSquared()-t*t <= radiusSquared
}
