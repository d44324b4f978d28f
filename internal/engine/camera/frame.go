package camera

import (
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// FrameState is the per-frame view information shared by tile selection and loading.
type FrameState struct {
	Camera         *Camera
	CullingVolume  CullingVolume
	ViewportWidth  int
	ViewportHeight int
	FrameNumber    uint64
}

// NewFrameState snapshots the camera for one frame.
func NewFrameState(c *Camera, viewportWidth, viewportHeight int, frameNumber uint64) *FrameState {
	return &FrameState{
		Camera:         c,
		CullingVolume:  c.CullingVolume(),
		ViewportWidth:  viewportWidth,
		ViewportHeight: viewportHeight,
		FrameNumber:    frameNumber,
	}
}

// Orthographic reports whether the frame uses a planar projection.
func (f *FrameState) Orthographic() (*OrthographicFrustum, bool) {
	o, ok := f.Camera.Frustum.(*OrthographicFrustum)
	return o, ok
}

// FovY returns the vertical field of view, or zero for planar projections.
func (f *FrameState) FovY() float64 {
	if p, ok := f.Camera.Frustum.(*PerspectiveFrustum); ok {
		return p.FovY
	}
	return 0
}

// CameraPosition returns the viewer position in Earth-fixed coordinates.
func (f *FrameState) CameraPosition() math.Cartesian3 {
	return f.Camera.Position
}
