package imagery

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// GridProvider renders a debug grid with each tile's coordinates. It needs no network or files.
type GridProvider struct {
	Scheme     *math.GeographicTilingScheme
	TileSize   int
	Cells      int
	MaxLevel   int
	Background color.RGBA
	Line       color.RGBA
	Label      bool
}

// NewGridProvider returns a 256px grid with eight cells per tile.
func NewGridProvider(scheme *math.GeographicTilingScheme) *GridProvider {
	return &GridProvider{
		Scheme:     scheme,
		TileSize:   256,
		Cells:      8,
		MaxLevel:   18,
		Background: color.RGBA{R: 20, G: 40, B: 60, A: 255},
		Line:       color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Label:      true,
	}
}

func (g *GridProvider) Ready() bool { return true }

func (g *GridProvider) TilingScheme() *math.GeographicTilingScheme { return g.Scheme }

func (g *GridProvider) MaximumLevel() int { return g.MaxLevel }

// RequestImage implements Provider.
func (g *GridProvider) RequestImage(ctx context.Context, x, y, level int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := g.TileSize
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: g.Background}, image.Point{}, draw.Src)

	cells := g.Cells
	if cells < 1 {
		cells = 1
	}
	for c := 0; c <= cells; c++ {
		p := c * (size - 1) / cells
		for i := 0; i < size; i++ {
			img.SetRGBA(p, i, g.Line)
			img.SetRGBA(i, p, g.Line)
		}
	}

	if g.Label {
		if face, err := labelFace(); err == nil {
			d := font.Drawer{
				Dst:  img,
				Src:  image.NewUniform(g.Line),
				Face: face,
				Dot:  fixed.P(size/8, size/2),
			}
			d.DrawString(fmt.Sprintf("L%d X%d Y%d", level, x, y))
			face.Close()
		}
	}
	return img, nil
}

var (
	labelFontOnce sync.Once
	labelFont     *opentype.Font
	labelFontErr  error
)

// labelFace returns a new face over the embedded Go Regular font. Faces are not safe for
// concurrent use, so each request gets its own.
func labelFace() (font.Face, error) {
	labelFontOnce.Do(func() {
		labelFont, labelFontErr = opentype.Parse(goregular.TTF)
	})
	if labelFontErr != nil {
		return nil, fmt.Errorf("parsing label font: %w", labelFontErr)
	}
	return opentype.NewFace(labelFont, &opentype.FaceOptions{
		Size:    20,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
