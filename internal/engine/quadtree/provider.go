package quadtree

import (
	"context"

	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// Visibility is the result of testing a tile against the view.
type Visibility int

const (
	VisibilityNone Visibility = iota
	VisibilityPartial
	VisibilityFull
)

func (v Visibility) String() string {
	switch v {
	case VisibilityNone:
		return "none"
	case VisibilityPartial:
		return "partial"
	case VisibilityFull:
		return "full"
	}
	return "unknown"
}

// Occluders holds the bodies that can hide tiles from the camera.
type Occluders struct {
	Ellipsoid *math.EllipsoidalOccluder
}

// NewOccluders creates occluders for the given ellipsoid.
func NewOccluders(e *math.Ellipsoid) *Occluders {
	return &Occluders{Ellipsoid: math.NewEllipsoidalOccluder(e)}
}

// TileProvider supplies tile content and the view-dependent metrics used for selection.
type TileProvider interface {
	// Ready reports whether the tiling scheme and level-zero tiles can be used.
	Ready() bool
	TilingScheme() *math.GeographicTilingScheme
	LevelMaximumGeometricError(level int) float64

	// LoadTile advances the tile's loading by one step. It must not block.
	LoadTile(ctx context.Context, frame *camera.FrameState, tile *Tile)

	ComputeTileVisibility(tile *Tile, frame *camera.FrameState, occluders *Occluders) Visibility
	ComputeDistanceToTile(tile *Tile, frame *camera.FrameState) float64
}
