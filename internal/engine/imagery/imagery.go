// Package imagery tracks the raster tiles draped over terrain tiles and their load state.
package imagery

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// State is the load state of one imagery tile.
type State int

const (
	Unloaded State = iota
	Transitioning
	Received
	Ready
	Failed
	Invalid
	PlaceHolder
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Transitioning:
		return "transitioning"
	case Received:
		return "received"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Invalid:
		return "invalid"
	case PlaceHolder:
		return "placeholder"
	}
	return "unknown"
}

// Provider serves raster tiles.
type Provider interface {
	Ready() bool
	TilingScheme() *math.GeographicTilingScheme
	MaximumLevel() int
	// RequestImage fetches one tile. A nil image with a nil error means the tile has no imagery.
	RequestImage(ctx context.Context, x, y, level int) (image.Image, error)
}

type imageResult struct {
	img image.Image
	err error
}

// Imagery is one imagery tile, shared by every terrain tile it covers.
type Imagery struct {
	Layer     *Layer
	X, Y      int
	Level     int
	Rectangle math.Rectangle
	Parent    *Imagery
	State     State
	Image     image.Image

	refCount int
	result   chan imageResult
	cancel   context.CancelFunc
}

// AddReference records a new user of the imagery.
func (im *Imagery) AddReference() {
	im.refCount++
}

// ReleaseReference drops a user. The last release cancels any request, removes the imagery
// from its layer's cache and releases the parent.
func (im *Imagery) ReleaseReference() {
	if im.State == PlaceHolder {
		return
	}
	im.refCount--
	if im.refCount > 0 {
		return
	}
	if im.cancel != nil {
		im.cancel()
		im.cancel = nil
	}
	im.result = nil
	im.Image = nil
	im.Layer.removeFromCache(im)
	if im.Parent != nil {
		im.Parent.ReleaseReference()
	}
}

// processStateMachine advances the imagery by one step without blocking.
func (im *Imagery) processStateMachine(ctx context.Context) {
	if im.State == Unloaded {
		im.requestImage(ctx)
	}
	if im.State == Transitioning {
		select {
		case r := <-im.result:
			im.result = nil
			im.cancel = nil
			switch {
			case r.err != nil:
				im.State = Failed
				im.Layer.log.Warn("imagery request failed",
					logger.Tile(im.X, im.Y, im.Level), zap.Error(r.err))
			case r.img == nil:
				im.State = Invalid
			default:
				im.Image = r.img
				im.State = Received
			}
		default:
		}
	}
	if im.State == Received {
		im.State = Ready
	}
}

func (im *Imagery) requestImage(ctx context.Context) {
	reqCtx, cancel := context.WithCancel(ctx)
	ch := make(chan imageResult, 1)
	provider := im.Layer.Provider
	x, y, level := im.X, im.Y, im.Level

	if !im.Layer.dispatcher.TryGo(func() error {
		img, err := provider.RequestImage(reqCtx, x, y, level)
		ch <- imageResult{img: img, err: err}
		return nil
	}) {
		// Pool is full; retry next frame.
		cancel()
		return
	}
	im.result = ch
	im.cancel = cancel
	im.State = Transitioning
}
