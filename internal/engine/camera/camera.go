// Package camera provides the viewer pose, projections and per-frame state used for tile selection.
package camera

import (
	gomath "math"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Camera is a viewer in Earth-fixed coordinates.
type Camera struct {
	Position  math.Cartesian3
	Direction math.Cartesian3 // unit view direction
	Up        math.Cartesian3 // unit, orthogonal to Direction
	Frustum   Frustum
}

// Right returns the unit vector to the right of the view direction.
func (c *Camera) Right() math.Cartesian3 {
	return c.Direction.Cross(c.Up).Normalize()
}

// CullingVolume returns the frustum planes for the current pose.
func (c *Camera) CullingVolume() CullingVolume {
	if c.Frustum == nil {
		return CullingVolume{}
	}
	return c.Frustum.CullingVolume(c.Position, c.Direction, c.Up)
}

// OrbitCamera orbits a point on the ellipsoid surface.
type OrbitCamera struct {
	Ellipsoid *math.Ellipsoid
	Target    math.Cartographic

	// Range is the distance from the target in meters.
	Range   float64
	Heading float64 // radians clockwise from north
	Pitch   float64 // radians; -π/2 looks straight down

	// Constraints
	MinRange float64
	MaxRange float64
	MinPitch float64
	MaxPitch float64

	// Sensitivity
	DragSensitivity float64
	ZoomSensitivity float64
}

// NewOrbitCamera creates an orbit camera looking straight down at target from rangeMeters.
func NewOrbitCamera(e *math.Ellipsoid, target math.Cartographic, rangeMeters float64) *OrbitCamera {
	if e == nil {
		e = math.WGS84
	}
	return &OrbitCamera{
		Ellipsoid:       e,
		Target:          target,
		Range:           rangeMeters,
		Pitch:           -math.PiOver2,
		MinRange:        10,
		MaxRange:        50_000_000,
		MinPitch:        -math.PiOver2,
		MaxPitch:        0,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
	}
}

// enu returns the east, north and up unit vectors at the target.
func (c *OrbitCamera) enu() (east, north, up math.Cartesian3) {
	up = c.Ellipsoid.GeodeticSurfaceNormalCartographic(c.Target)
	east = math.UnitZ.Cross(up)
	if east.MagnitudeSquared() < math.Epsilon12 {
		// At a pole east is arbitrary
		east = math.UnitY
	}
	east = east.Normalize()
	north = up.Cross(east)
	return east, north, up
}

// Pose returns the camera position, view direction and up vector.
func (c *OrbitCamera) Pose() (position, direction, up math.Cartesian3) {
	east, north, localUp := c.enu()
	sh, ch := gomath.Sincos(c.Heading)
	sp, cp := gomath.Sincos(c.Pitch)

	direction = east.Scale(cp * sh).Add(north.Scale(cp * ch)).Add(localUp.Scale(sp)).Normalize()
	up = east.Scale(-sp * sh).Add(north.Scale(-sp * ch)).Add(localUp.Scale(cp)).Normalize()

	target := c.Ellipsoid.CartographicToCartesian(c.Target)
	position = target.Sub(direction.Scale(c.Range))
	return position, direction, up
}

// Camera builds a camera for the current orbit with the given frustum.
func (c *OrbitCamera) Camera(f Frustum) *Camera {
	pos, dir, up := c.Pose()
	return &Camera{Position: pos, Direction: dir, Up: up, Frustum: f}
}

// HandleDrag updates heading and pitch from a pointer drag delta.
func (c *OrbitCamera) HandleDrag(deltaX, deltaY float64) {
	c.Heading = math.ZeroToTwoPi(c.Heading - deltaX*c.DragSensitivity)
	c.Pitch = math.Clamp(c.Pitch+deltaY*c.DragSensitivity, c.MinPitch, c.MaxPitch)
}

// HandleZoom scales the range by a scroll delta.
func (c *OrbitCamera) HandleZoom(delta float64) {
	c.Range = math.Clamp(c.Range-delta*c.Range*c.ZoomSensitivity, c.MinRange, c.MaxRange)
}

// Orbit moves the target along the surface by the given angles in radians.
func (c *OrbitCamera) Orbit(deltaLongitude, deltaLatitude float64) {
	c.Target.Longitude = math.NegativePiToPi(c.Target.Longitude + deltaLongitude)
	c.Target.Latitude = math.Clamp(c.Target.Latitude+deltaLatitude, -math.PiOver2, math.PiOver2)
}
