// Package renderer turns the tiles selected by the globe into backend-neutral draw commands.
package renderer

import (
	"image"

	"github.com/Faultbox/midgard-globe/internal/engine/globe"
	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// DefaultMaxTexturesPerCommand matches the texture unit limit of common desktop GPUs.
const DefaultMaxTexturesPerCommand = 8

// Options configures BuildDrawCommands.
type Options struct {
	// MaxTexturesPerCommand splits tiles with more imagery into several blended commands.
	MaxTexturesPerCommand int
	ShowWaterEffect       bool
	EnableLighting        bool
}

// DefaultOptions returns the standard command settings.
func DefaultOptions() Options {
	return Options{MaxTexturesPerCommand: DefaultMaxTexturesPerCommand, ShowWaterEffect: true}
}

// DayTexture is one imagery tile drawn over the terrain.
type DayTexture struct {
	Image image.Image
	Alpha float64

	// TranslationAndScale maps tile texture coordinates into the imagery.
	TranslationAndScale math.Cartesian4
	// TextureCoordinateRectangle is the part of the tile the imagery covers.
	TextureCoordinateRectangle math.Cartesian4
}

// DrawCommand draws one tile, or one slice of its imagery.
type DrawCommand struct {
	X, Y, Level int
	Distance    float64

	Mesh   *terrain.Mesh
	Center math.Cartesian3

	DayTextures []DayTexture

	WaterMask                    []byte
	WaterMaskTranslationAndScale math.Cartesian4

	// Blend is set on every command after the first for a tile.
	Blend    bool
	Pipeline PipelineKey
}

// BuildDrawCommands creates the commands for a render list. Tiles without a mesh are skipped.
func BuildDrawCommands(renderList []*quadtree.Tile, opts Options) []DrawCommand {
	maxTextures := opts.MaxTexturesPerCommand
	if maxTextures <= 0 {
		maxTextures = DefaultMaxTexturesPerCommand
	}

	var commands []DrawCommand
	for _, tile := range renderList {
		st := globe.SurfaceTileOf(tile)
		if st == nil || st.Mesh == nil {
			continue
		}

		textures := dayTextures(st.Imagery)

		var flags PipelineFlags
		if opts.ShowWaterEffect && st.WaterMask != nil {
			flags |= FlagWaterMask
		}
		if opts.EnableLighting && st.Mesh.Stride == terrain.StrideWithNormals {
			flags |= FlagVertexNormals
		}

		// At least one command per tile, even with no imagery.
		start := 0
		for {
			end := min(start+maxTextures, len(textures))
			batch := textures[start:end]

			commandFlags := flags
			for _, t := range batch {
				if t.Alpha < 1 {
					commandFlags |= FlagAlpha
					break
				}
			}

			commands = append(commands, DrawCommand{
				X:                            tile.X,
				Y:                            tile.Y,
				Level:                        tile.Level,
				Distance:                     tile.Distance,
				Mesh:                         st.Mesh,
				Center:                       st.Center,
				DayTextures:                  batch,
				WaterMask:                    st.WaterMask,
				WaterMaskTranslationAndScale: st.WaterMaskTranslationAndScale,
				Blend:                        start > 0,
				Pipeline:                     PipelineKey{DayTextures: len(batch), Flags: commandFlags},
			})

			start = end
			if start >= len(textures) {
				break
			}
		}
	}
	return commands
}

func dayTextures(list []*imagery.TileImagery) []DayTexture {
	var textures []DayTexture
	for _, ti := range list {
		im := ti.ReadyImagery
		if im == nil || im.State != imagery.Ready || im.Image == nil {
			continue
		}
		layer := im.Layer
		if layer == nil || !layer.Show || layer.Alpha == 0 {
			continue
		}
		textures = append(textures, DayTexture{
			Image:                      im.Image,
			Alpha:                      layer.Alpha,
			TranslationAndScale:        ti.TextureTranslationAndScale,
			TextureCoordinateRectangle: ti.TextureCoordinateRectangle,
		})
	}
	return textures
}
