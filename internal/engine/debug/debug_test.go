package debug

import (
	"image"
	"image/png"
	gomath "math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/midgard-globe/pkg/math"
)

func TestPixelRects(t *testing.T) {
	tests := []struct {
		name string
		rect math.Rectangle
		want []image.Rectangle
	}{
		{"whole globe", math.MaxValue, []image.Rectangle{image.Rect(0, 0, 360, 180)}},
		{"western hemisphere", math.Rectangle{West: -gomath.Pi, South: -math.PiOver2, East: 0, North: math.PiOver2},
			[]image.Rectangle{image.Rect(0, 0, 180, 180)}},
		{"northeast quadrant", math.Rectangle{West: 0, South: 0, East: gomath.Pi, North: math.PiOver2},
			[]image.Rectangle{image.Rect(180, 0, 360, 90)}},
		{"antimeridian", math.Rectangle{West: gomath.Pi / 2, South: 0, East: -gomath.Pi / 2, North: math.PiOver2},
			[]image.Rectangle{image.Rect(270, 0, 360, 90), image.Rect(0, 0, 90, 90)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pixelRects(tt.rect, 360, 180)
			if len(got) != len(tt.want) {
				t.Fatalf("pixelRects() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("pixelRects()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTileMap(t *testing.T) {
	scheme := math.NewGeographicTilingScheme(nil)
	tiles := []TileRect{
		{Rectangle: scheme.TileXYToRectangle(0, 0, 0), Level: 0},
		{Rectangle: scheme.TileXYToRectangle(3, 1, 1), Level: 1, X: 3, Y: 1},
	}
	img := TileMap(tiles, 400)
	if img.Bounds() != image.Rect(0, 0, 400, 200) {
		t.Fatalf("bounds = %v", img.Bounds())
	}

	// Interior pixels away from labels and outlines.
	if got := img.RGBAAt(150, 150); got != LevelColor(0) {
		t.Errorf("western tile = %v, want %v", got, LevelColor(0))
	}
	if got := img.RGBAAt(380, 180); got != LevelColor(1) {
		t.Errorf("southeast tile = %v, want %v", got, LevelColor(1))
	}
	if got := img.RGBAAt(250, 50); got != mapBackground {
		t.Errorf("unselected area = %v, want background", got)
	}
	if got := img.RGBAAt(0, 100); got != mapOutline {
		t.Errorf("tile edge = %v, want outline", got)
	}
}

func TestLevelColor(t *testing.T) {
	if LevelColor(3) != LevelColor(11) {
		t.Error("palette should repeat every eight levels")
	}
	if LevelColor(-1) != LevelColor(0) {
		t.Error("negative levels should use the first color")
	}
	if LevelColor(0) == LevelColor(1) {
		t.Error("adjacent levels share a color")
	}
}

func TestSnapshotter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	s := NewSnapshotter(dir, "tiles")
	if got, want := s.Filename(42), filepath.Join(dir, "tiles_000042.png"); got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}

	path, err := s.Save(TileMap(nil, 64), 7)
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 32 {
		t.Errorf("snapshot bounds = %v", img.Bounds())
	}

	if got := NewSnapshotter("", "x").Filename(1); got != "x_000001.png" {
		t.Errorf("Filename() without dir = %q", got)
	}
}
