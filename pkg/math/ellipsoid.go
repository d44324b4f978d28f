package math

import "math"

// Cartographic is a geodetic position: longitude and latitude in radians, height in meters.
type Cartographic struct {
	Longitude float64
	Latitude  float64
	Height    float64
}

// Ellipsoid is a triaxial ellipsoid centered at the origin.
type Ellipsoid struct {
	Radii               Cartesian3
	RadiiSquared        Cartesian3
	OneOverRadii        Cartesian3
	OneOverRadiiSquared Cartesian3
	MinimumRadius       float64
	MaximumRadius       float64
}

// WGS84 is the World Geodetic System 1984 ellipsoid.
var WGS84 = NewEllipsoid(6378137.0, 6378137.0, 6356752.3142451793)

// UnitSphere is an ellipsoid with all radii equal to one.
var UnitSphere = NewEllipsoid(1, 1, 1)

// NewEllipsoid creates an ellipsoid with the given radii.
func NewEllipsoid(x, y, z float64) *Ellipsoid {
	return &Ellipsoid{
		Radii:               Cartesian3{x, y, z},
		RadiiSquared:        Cartesian3{x * x, y * y, z * z},
		OneOverRadii:        Cartesian3{1 / x, 1 / y, 1 / z},
		OneOverRadiiSquared: Cartesian3{1 / (x * x), 1 / (y * y), 1 / (z * z)},
		MinimumRadius:       math.Min(x, math.Min(y, z)),
		MaximumRadius:       math.Max(x, math.Max(y, z)),
	}
}

// GeodeticSurfaceNormalCartographic returns the outward surface normal at a geodetic position.
func (e *Ellipsoid) GeodeticSurfaceNormalCartographic(c Cartographic) Cartesian3 {
	cosLat := math.Cos(c.Latitude)
	return Cartesian3{
		cosLat * math.Cos(c.Longitude),
		cosLat * math.Sin(c.Longitude),
		math.Sin(c.Latitude),
	}.Normalize()
}

// GeodeticSurfaceNormal returns the outward surface normal at a point on the surface.
func (e *Ellipsoid) GeodeticSurfaceNormal(p Cartesian3) Cartesian3 {
	return p.MulComponents(e.OneOverRadiiSquared).Normalize()
}

// CartographicToCartesian converts a geodetic position to Earth-fixed coordinates.
func (e *Ellipsoid) CartographicToCartesian(c Cartographic) Cartesian3 {
	n := e.GeodeticSurfaceNormalCartographic(c)
	k := e.RadiiSquared.MulComponents(n)
	gamma := math.Sqrt(n.Dot(k))
	k = k.Scale(1 / gamma)
	return k.Add(n.Scale(c.Height))
}

// CartesianToCartographic converts Earth-fixed coordinates to a geodetic position.
// It returns false for points too close to the center to have a defined surface projection.
func (e *Ellipsoid) CartesianToCartographic(p Cartesian3) (Cartographic, bool) {
	surface, ok := e.ScaleToGeodeticSurface(p)
	if !ok {
		return Cartographic{}, false
	}
	n := e.GeodeticSurfaceNormal(surface)
	h := p.Sub(surface)
	height := SignNotZero(h.Dot(p)) * h.Magnitude()
	return Cartographic{
		Longitude: math.Atan2(n.Y, n.X),
		Latitude:  math.Asin(Clamp(n.Z, -1, 1)),
		Height:    height,
	}, true
}

// ScaleToGeodeticSurface projects p along the geodetic normal onto the surface (Newton iteration).
func (e *Ellipsoid) ScaleToGeodeticSurface(p Cartesian3) (Cartesian3, bool) {
	oor := e.OneOverRadii
	oors := e.OneOverRadiiSquared

	x2 := p.X * p.X * oor.X * oor.X
	y2 := p.Y * p.Y * oor.Y * oor.Y
	z2 := p.Z * p.Z * oor.Z * oor.Z

	squaredNorm := x2 + y2 + z2
	ratio := math.Sqrt(1 / squaredNorm)
	intersection := p.Scale(ratio)

	// Near the center the normal is ill-defined; the radial intersection is good enough.
	if squaredNorm < Epsilon1*Epsilon1 {
		if math.IsInf(ratio, 0) || math.IsNaN(ratio) {
			return Cartesian3{}, false
		}
		return intersection, true
	}

	gradient := Cartesian3{
		intersection.X * oors.X * 2,
		intersection.Y * oors.Y * 2,
		intersection.Z * oors.Z * 2,
	}
	lambda := (1 - ratio) * p.Magnitude() / (0.5 * gradient.Magnitude())
	correction := 0.0

	var xm, ym, zm float64
	for {
		lambda -= correction

		xm = 1 / (1 + lambda*oors.X)
		ym = 1 / (1 + lambda*oors.Y)
		zm = 1 / (1 + lambda*oors.Z)

		xm2, ym2, zm2 := xm*xm, ym*ym, zm*zm
		xm3, ym3, zm3 := xm2*xm, ym2*ym, zm2*zm

		fn := x2*xm2 + y2*ym2 + z2*zm2 - 1
		denominator := x2*xm3*oors.X + y2*ym3*oors.Y + z2*zm3*oors.Z
		derivative := -2 * denominator
		correction = fn / derivative

		if math.Abs(fn) <= Epsilon12 {
			break
		}
	}

	return Cartesian3{p.X * xm, p.Y * ym, p.Z * zm}, true
}

// TransformPositionToScaledSpace scales p so the ellipsoid becomes a unit sphere.
func (e *Ellipsoid) TransformPositionToScaledSpace(p Cartesian3) Cartesian3 {
	return p.MulComponents(e.OneOverRadii)
}

// HorizonCullingPoint computes a point in ellipsoid-scaled space along directionToPoint such that, if
// it is below the horizon as seen from a viewer, every one of positions is also below the horizon.
// It returns false when no such point exists (some position lies outside the horizon cone).
func (e *Ellipsoid) HorizonCullingPoint(directionToPoint Cartesian3, positions []Cartesian3) (Cartesian3, bool) {
	scaledDirection := e.TransformPositionToScaledSpace(directionToPoint).Normalize()

	maxMagnitude := 0.0
	for _, p := range positions {
		m, ok := e.horizonMagnitude(p, scaledDirection)
		if !ok {
			return Cartesian3{}, false
		}
		maxMagnitude = math.Max(maxMagnitude, m)
	}
	return scaledDirection.Scale(maxMagnitude), true
}

func (e *Ellipsoid) horizonMagnitude(position, scaledDirection Cartesian3) (float64, bool) {
	scaled := e.TransformPositionToScaledSpace(position)
	magnitudeSquared := scaled.MagnitudeSquared()
	magnitude := math.Sqrt(magnitudeSquared)
	if magnitude == 0 {
		return 0, false
	}
	direction := scaled.Scale(1 / magnitude)

	magnitudeSquared = math.Max(1, magnitudeSquared)
	magnitude = math.Max(1, magnitude)

	cosAlpha := direction.Dot(scaledDirection)
	sinAlpha := direction.Cross(scaledDirection).Magnitude()
	cosBeta := 1 / magnitude
	sinBeta := math.Sqrt(magnitudeSquared-1) * cosBeta

	denominator := cosAlpha*cosBeta - sinAlpha*sinBeta
	if denominator <= 0 {
		return 0, false
	}
	return 1 / denominator, true
}

// EllipsoidalOccluder tests whether points are hidden behind the ellipsoid from a camera position.
type EllipsoidalOccluder struct {
	Ellipsoid                     *Ellipsoid
	cameraPositionInScaledSpace   Cartesian3
	distanceToLimbInScaledSpaceSq float64
}

// NewEllipsoidalOccluder creates an occluder for the given ellipsoid.
func NewEllipsoidalOccluder(e *Ellipsoid) *EllipsoidalOccluder {
	return &EllipsoidalOccluder{Ellipsoid: e}
}

// SetCameraPosition updates the viewer position (Earth-fixed).
func (o *EllipsoidalOccluder) SetCameraPosition(p Cartesian3) {
	cv := o.Ellipsoid.TransformPositionToScaledSpace(p)
	o.cameraPositionInScaledSpace = cv
	o.distanceToLimbInScaledSpaceSq = cv.MagnitudeSquared() - 1
}

// IsScaledSpacePointVisible reports whether a point in ellipsoid-scaled space is above the horizon.
func (o *EllipsoidalOccluder) IsScaledSpacePointVisible(occludee Cartesian3) bool {
	cv := o.cameraPositionInScaledSpace
	vhMagnitudeSquared := o.distanceToLimbInScaledSpaceSq
	vt := occludee.Sub(cv)
	vtDotVc := -vt.Dot(cv)

	var occluded bool
	if vhMagnitudeSquared < 0 {
		occluded = vtDotVc > 0
	} else {
		occluded = vtDotVc > vhMagnitudeSquared &&
			vtDotVc*vtDotVc/vt.MagnitudeSquared() > vhMagnitudeSquared
	}
	return !occluded
}
