// Package debug provides debug visualization utilities.
package debug

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	gomath "math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

// TileRect is one selected tile to draw.
type TileRect struct {
	Rectangle math.Rectangle
	Level     int
	X, Y      int
}

var (
	mapBackground = color.RGBA{R: 16, G: 16, B: 24, A: 255}
	mapOutline    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// LevelColor returns the fill used for tiles of a level. Colors repeat every eight levels.
func LevelColor(level int) color.RGBA {
	palette := [...]color.RGBA{
		{R: 49, G: 54, B: 149, A: 255},
		{R: 69, G: 117, B: 180, A: 255},
		{R: 116, G: 173, B: 209, A: 255},
		{R: 171, G: 217, B: 233, A: 255},
		{R: 254, G: 224, B: 144, A: 255},
		{R: 253, G: 174, B: 97, A: 255},
		{R: 244, G: 109, B: 67, A: 255},
		{R: 215, G: 48, B: 39, A: 255},
	}
	if level < 0 {
		level = 0
	}
	return palette[level%len(palette)]
}

// TileMap draws tiles on an equirectangular map width pixels wide and width/2 high.
// Each tile is filled with its level color and outlined. Tiles large enough for text are labeled.
func TileMap(tiles []TileRect, width int) *image.RGBA {
	if width < 2 {
		width = 2
	}
	height := width / 2
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: mapBackground}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	for _, t := range tiles {
		for _, r := range pixelRects(t.Rectangle, width, height) {
			draw.Draw(img, r, &image.Uniform{C: LevelColor(t.Level)}, image.Point{}, draw.Src)
			outline(img, r, mapOutline)

			label := fmt.Sprintf("%d", t.Level)
			if r.Dx() > font.MeasureString(face, label).Ceil()+4 && r.Dy() > face.Height+4 {
				d := font.Drawer{
					Dst:  img,
					Src:  image.NewUniform(mapOutline),
					Face: face,
					Dot:  fixed.P(r.Min.X+3, r.Min.Y+face.Ascent+2),
				}
				d.DrawString(label)
			}
		}
	}
	return img
}

// pixelRects maps a geodetic rectangle to image rectangles, splitting at the antimeridian.
func pixelRects(rect math.Rectangle, width, height int) []image.Rectangle {
	toX := func(lon float64) int {
		return int(gomath.Round((lon + gomath.Pi) / math.TwoPi * float64(width)))
	}
	toY := func(lat float64) int {
		return int(gomath.Round((math.PiOver2 - lat) / gomath.Pi * float64(height)))
	}
	top, bottom := toY(rect.North), toY(rect.South)
	if rect.East < rect.West {
		return []image.Rectangle{
			image.Rect(toX(rect.West), top, width, bottom),
			image.Rect(0, top, toX(rect.East), bottom),
		}
	}
	return []image.Rectangle{image.Rect(toX(rect.West), top, toX(rect.East), bottom)}
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}
