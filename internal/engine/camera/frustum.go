package camera

import (
	gomath "math"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Intersect classifies a bounding volume against a culling volume.
type Intersect int

const (
	Outside Intersect = iota
	Intersecting
	Inside
)

// Frustum produces the culling planes for a camera pose.
type Frustum interface {
	CullingVolume(position, direction, up math.Cartesian3) CullingVolume
}

// PerspectiveFrustum is a symmetric perspective projection.
type PerspectiveFrustum struct {
	FovY   float64 // vertical field of view, radians
	Aspect float64 // width / height
	Near   float64
	Far    float64
}

// NewPerspectiveFrustum returns a frustum with near and far planes suited to a globe.
func NewPerspectiveFrustum(fovY float64, width, height int) *PerspectiveFrustum {
	aspect := 1.0
	if height > 0 {
		aspect = float64(width) / float64(height)
	}
	return &PerspectiveFrustum{FovY: fovY, Aspect: aspect, Near: 1, Far: 500_000_000}
}

// CullingVolume implements Frustum. Plane normals point into the frustum.
func (f *PerspectiveFrustum) CullingVolume(position, direction, up math.Cartesian3) CullingVolume {
	t := f.Near * gomath.Tan(0.5*f.FovY)
	b := -t
	r := f.Aspect * t
	l := -r

	right := direction.Cross(up)
	nearCenter := position.Add(direction.Scale(f.Near))
	farCenter := position.Add(direction.Scale(f.Far))

	var planes [6]math.Plane

	normal := nearCenter.Add(right.Scale(l)).Sub(position).Normalize().Cross(up).Normalize()
	planes[0] = math.Plane{Normal: normal, Distance: -normal.Dot(position)}

	normal = up.Cross(nearCenter.Add(right.Scale(r)).Sub(position).Normalize()).Normalize()
	planes[1] = math.Plane{Normal: normal, Distance: -normal.Dot(position)}

	normal = right.Cross(nearCenter.Add(up.Scale(b)).Sub(position).Normalize()).Normalize()
	planes[2] = math.Plane{Normal: normal, Distance: -normal.Dot(position)}

	normal = nearCenter.Add(up.Scale(t)).Sub(position).Normalize().Cross(right).Normalize()
	planes[3] = math.Plane{Normal: normal, Distance: -normal.Dot(position)}

	planes[4] = math.Plane{Normal: direction, Distance: -direction.Dot(nearCenter)}
	planes[5] = math.Plane{Normal: direction.Negate(), Distance: direction.Dot(farCenter)}

	return CullingVolume{Planes: planes[:]}
}

// OrthographicFrustum is an off-center orthographic projection measured in meters.
type OrthographicFrustum struct {
	Left, Right, Bottom, Top float64
	Near, Far                float64
}

// NewOrthographicFrustum returns a frustum covering width meters horizontally with the viewport's aspect.
func NewOrthographicFrustum(width float64, viewportWidth, viewportHeight int) *OrthographicFrustum {
	aspect := 1.0
	if viewportWidth > 0 {
		aspect = float64(viewportHeight) / float64(viewportWidth)
	}
	halfW := width * 0.5
	halfH := halfW * aspect
	return &OrthographicFrustum{
		Left: -halfW, Right: halfW,
		Bottom: -halfH, Top: halfH,
		Near: 1, Far: 500_000_000,
	}
}

// PixelSize returns the size in meters of one pixel for the given viewport.
func (f *OrthographicFrustum) PixelSize(viewportWidth, viewportHeight int) float64 {
	return gomath.Max(f.Top-f.Bottom, f.Right-f.Left) / float64(max(viewportWidth, viewportHeight))
}

// CullingVolume implements Frustum.
func (f *OrthographicFrustum) CullingVolume(position, direction, up math.Cartesian3) CullingVolume {
	right := direction.Cross(up)
	nearCenter := position.Add(direction.Scale(f.Near))
	farCenter := position.Add(direction.Scale(f.Far))

	return CullingVolume{Planes: []math.Plane{
		math.PlaneFromPointNormal(nearCenter.Add(right.Scale(f.Left)), right),
		math.PlaneFromPointNormal(nearCenter.Add(right.Scale(f.Right)), right.Negate()),
		math.PlaneFromPointNormal(nearCenter.Add(up.Scale(f.Bottom)), up),
		math.PlaneFromPointNormal(nearCenter.Add(up.Scale(f.Top)), up.Negate()),
		math.PlaneFromPointNormal(nearCenter, direction),
		math.PlaneFromPointNormal(farCenter, direction.Negate()),
	}}
}

// CullingVolume is a set of inward-facing planes.
type CullingVolume struct {
	Planes []math.Plane
}

// Visibility classifies a bounding sphere. An empty volume contains everything.
func (cv CullingVolume) Visibility(s math.BoundingSphere) Intersect {
	intersecting := false
	for _, p := range cv.Planes {
		switch p.Intersect(s) {
		case -1:
			return Outside
		case 0:
			intersecting = true
		}
	}
	if intersecting {
		return Intersecting
	}
	return Inside
}
