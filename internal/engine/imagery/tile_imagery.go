package imagery

import (
	"context"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// TileImagery attaches one imagery tile to one terrain tile.
type TileImagery struct {
	// LoadingImagery is the imagery being loaded, nil once it is ready.
	LoadingImagery *Imagery
	// ReadyImagery is the best imagery available to draw, possibly an ancestor of LoadingImagery.
	ReadyImagery *Imagery

	// TextureCoordinateRectangle is the part of the terrain tile covered by the imagery,
	// as (minU, minV, maxU, maxV).
	TextureCoordinateRectangle math.Cartesian4
	// TextureTranslationAndScale maps terrain texture coordinates onto ReadyImagery.
	TextureTranslationAndScale math.Cartesian4

	tileRectangle math.Rectangle
}

// NewTileImagery attaches imagery to a terrain tile covering tileRectangle.
func NewTileImagery(im *Imagery, tileRectangle math.Rectangle, texCoords math.Cartesian4) *TileImagery {
	return &TileImagery{
		LoadingImagery:             im,
		TextureCoordinateRectangle: texCoords,
		tileRectangle:              tileRectangle,
	}
}

// ProcessStateMachine advances the loading imagery and reports whether nothing more will load.
// While loading, ReadyImagery falls back to the nearest ready ancestor.
func (ti *TileImagery) ProcessStateMachine(ctx context.Context) bool {
	loading := ti.LoadingImagery
	if loading == nil {
		return true
	}
	loading.processStateMachine(ctx)

	if loading.State == Ready {
		if ti.ReadyImagery != nil {
			ti.ReadyImagery.ReleaseReference()
		}
		ti.ReadyImagery = loading
		ti.LoadingImagery = nil
		ti.TextureTranslationAndScale = math.TranslationAndScale(ti.tileRectangle, loading.Rectangle)
		return true
	}

	// Find an ancestor to show while this imagery loads.
	ancestor := loading.Parent
	var closestAncestorThatNeedsLoading *Imagery
	for ancestor != nil && ancestor.State != Ready {
		if ancestor.State != Failed && ancestor.State != Invalid && closestAncestorThatNeedsLoading == nil {
			closestAncestorThatNeedsLoading = ancestor
		}
		ancestor = ancestor.Parent
	}

	if ti.ReadyImagery != ancestor {
		if ti.ReadyImagery != nil {
			ti.ReadyImagery.ReleaseReference()
		}
		ti.ReadyImagery = ancestor
		if ancestor != nil {
			ancestor.AddReference()
			ti.TextureTranslationAndScale = math.TranslationAndScale(ti.tileRectangle, ancestor.Rectangle)
		}
	}

	if loading.State == Failed || loading.State == Invalid {
		// Ancestors not attached to any terrain tile only load if pushed from here.
		if closestAncestorThatNeedsLoading != nil {
			closestAncestorThatNeedsLoading.processStateMachine(ctx)
			return false
		}
		// The ready ancestor, if any, is the best this tile will get.
		return true
	}
	return false
}

// FreeResources releases both imagery references.
func (ti *TileImagery) FreeResources() {
	if ti.ReadyImagery != nil {
		ti.ReadyImagery.ReleaseReference()
		ti.ReadyImagery = nil
	}
	if ti.LoadingImagery != nil {
		ti.LoadingImagery.ReleaseReference()
		ti.LoadingImagery = nil
	}
}

// Transitioning reports whether a request is in flight for the loading imagery. A response
// waiting to be polled does not count.
func (ti *TileImagery) Transitioning() bool {
	im := ti.LoadingImagery
	return im != nil && im.State == Transitioning && len(im.result) == 0
}
