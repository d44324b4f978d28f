package mbtiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	_ "golang.org/x/image/webp"

	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// ImageryProvider serves raster tiles (PNG, JPEG or WebP) laid out in the geographic scheme.
type ImageryProvider struct {
	store    *Store
	scheme   *math.GeographicTilingScheme
	format   string
	maxLevel int
}

var _ imagery.Provider = (*ImageryProvider)(nil)

// NewImageryProvider reads the format and zoom range from the store metadata.
func NewImageryProvider(ctx context.Context, store *Store) (*ImageryProvider, error) {
	meta, err := store.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	p := &ImageryProvider{
		store:  store,
		scheme: math.NewGeographicTilingScheme(nil),
		format: meta[MetaFormat],
	}
	switch p.format {
	case "png", "jpg", "jpeg", "webp":
	default:
		return nil, fmt.Errorf("%s: unsupported imagery format %q", store.Path(), p.format)
	}
	if v, ok := meta[MetaMaxZoom]; ok {
		if p.maxLevel, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%s: maxzoom %q: %w", store.Path(), v, err)
		}
	}
	return p, nil
}

func (p *ImageryProvider) Ready() bool                                { return true }
func (p *ImageryProvider) TilingScheme() *math.GeographicTilingScheme { return p.scheme }
func (p *ImageryProvider) MaximumLevel() int                          { return p.maxLevel }

// Format returns the raster encoding named in the metadata.
func (p *ImageryProvider) Format() string {
	return p.format
}

// RequestImage decodes one tile. Missing tiles yield a nil image and no error.
func (p *ImageryProvider) RequestImage(ctx context.Context, x, y, level int) (image.Image, error) {
	data, err := p.store.ReadTile(ctx, TileID{Level: level, Column: x, Row: TMSRow(p.scheme, y, level)})
	if errors.Is(err, ErrTileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode imagery %d/%d/%d: %w", level, x, y, err)
	}
	return img, nil
}
