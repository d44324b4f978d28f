package camera

import (
	gomath "math"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// PickRay returns the ray through a window position given in pixels from the top-left corner.
func (c *Camera) PickRay(x, y float64, viewportWidth, viewportHeight int) math.Ray {
	if viewportWidth <= 0 || viewportHeight <= 0 {
		return math.Ray{Origin: c.Position, Direction: c.Direction}
	}
	// Normalized device coordinates, Y up.
	ndcX := 2*x/float64(viewportWidth) - 1
	ndcY := 1 - 2*y/float64(viewportHeight)
	right := c.Right()

	switch f := c.Frustum.(type) {
	case *PerspectiveFrustum:
		tanY := gomath.Tan(0.5 * f.FovY)
		tanX := f.Aspect * tanY
		dir := c.Direction.
			Add(right.Scale(ndcX * tanX)).
			Add(c.Up.Scale(ndcY * tanY)).
			Normalize()
		return math.Ray{Origin: c.Position, Direction: dir}
	case *OrthographicFrustum:
		offsetX := math.Lerp(f.Left, f.Right, 0.5*(ndcX+1))
		offsetY := math.Lerp(f.Bottom, f.Top, 0.5*(ndcY+1))
		origin := c.Position.Add(right.Scale(offsetX)).Add(c.Up.Scale(offsetY))
		return math.Ray{Origin: origin, Direction: c.Direction}
	default:
		return math.Ray{Origin: c.Position, Direction: c.Direction}
	}
}
