package renderer

import (
	"fmt"
	"strings"
	"sync"
)

// PipelineFlags select optional shader features.
type PipelineFlags uint32

const (
	FlagWaterMask PipelineFlags = 1 << iota
	FlagVertexNormals
	FlagAlpha
)

// PipelineKey identifies one shader variant.
type PipelineKey struct {
	DayTextures int
	Flags       PipelineFlags
}

func (k PipelineKey) String() string {
	var parts []string
	if k.Flags&FlagWaterMask != 0 {
		parts = append(parts, "water")
	}
	if k.Flags&FlagVertexNormals != 0 {
		parts = append(parts, "normals")
	}
	if k.Flags&FlagAlpha != 0 {
		parts = append(parts, "alpha")
	}
	return fmt.Sprintf("textures=%d[%s]", k.DayTextures, strings.Join(parts, ","))
}

// PipelineFactory builds the pipeline for a key. It is called at most once per key unless it fails.
type PipelineFactory[P any] func(key PipelineKey) (P, error)

// PipelineCache memoizes pipelines by key.
type PipelineCache[P any] struct {
	mu        sync.Mutex
	factory   PipelineFactory[P]
	pipelines map[PipelineKey]P

	hits   int
	misses int
}

// NewPipelineCache creates an empty cache around factory.
func NewPipelineCache[P any](factory PipelineFactory[P]) *PipelineCache[P] {
	return &PipelineCache[P]{
		factory:   factory,
		pipelines: make(map[PipelineKey]P),
	}
}

// Get returns the pipeline for key, building it on first use. Failed builds are not cached.
func (c *PipelineCache[P]) Get(key PipelineKey) (P, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pipelines[key]; ok {
		c.hits++
		return p, nil
	}
	c.misses++
	p, err := c.factory(key)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("build pipeline %s: %w", key, err)
	}
	c.pipelines[key] = p
	return p, nil
}

// Len returns the number of cached pipelines.
func (c *PipelineCache[P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipelines)
}

// Stats returns the hit and miss counts.
func (c *PipelineCache[P]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// ShaderSource is the GLSL for one pipeline variant.
type ShaderSource struct {
	Vertex   string
	Fragment string
}

// GenerateShaderSource writes the surface shaders for key. It is the default factory for
// renderers that compile GLSL themselves.
func GenerateShaderSource(key PipelineKey) (ShaderSource, error) {
	if key.DayTextures < 0 {
		return ShaderSource{}, fmt.Errorf("negative texture count %d", key.DayTextures)
	}

	var vs strings.Builder
	vs.WriteString("#version 410 core\n")
	vs.WriteString("layout(location = 0) in vec3 aPosition;\n")
	vs.WriteString("layout(location = 1) in vec2 aTexCoord;\n")
	if key.Flags&FlagVertexNormals != 0 {
		vs.WriteString("layout(location = 2) in vec3 aNormal;\nout vec3 vNormal;\n")
	}
	vs.WriteString("uniform mat4 uModelViewProjectionRTC;\n")
	vs.WriteString("out vec2 vTexCoord;\n")
	vs.WriteString("void main() {\n")
	vs.WriteString("    vTexCoord = aTexCoord;\n")
	if key.Flags&FlagVertexNormals != 0 {
		vs.WriteString("    vNormal = aNormal;\n")
	}
	vs.WriteString("    gl_Position = uModelViewProjectionRTC * vec4(aPosition, 1.0);\n")
	vs.WriteString("}\n")

	var fs strings.Builder
	fs.WriteString("#version 410 core\n")
	fs.WriteString("in vec2 vTexCoord;\n")
	if key.Flags&FlagVertexNormals != 0 {
		fs.WriteString("in vec3 vNormal;\nuniform vec3 uLightDirection;\n")
	}
	fs.WriteString("out vec4 FragColor;\n")
	if key.DayTextures > 0 {
		fmt.Fprintf(&fs, "uniform sampler2D uDayTextures[%d];\n", key.DayTextures)
		fmt.Fprintf(&fs, "uniform vec4 uDayTextureTranslationAndScale[%d];\n", key.DayTextures)
		fmt.Fprintf(&fs, "uniform vec4 uDayTextureTexCoordsRectangle[%d];\n", key.DayTextures)
		if key.Flags&FlagAlpha != 0 {
			fmt.Fprintf(&fs, "uniform float uDayTextureAlpha[%d];\n", key.DayTextures)
		}
	}
	if key.Flags&FlagWaterMask != 0 {
		fs.WriteString("uniform sampler2D uWaterMask;\nuniform vec4 uWaterMaskTranslationAndScale;\n")
	}
	fs.WriteString("uniform vec4 uInitialColor;\n")
	fs.WriteString("void main() {\n")
	fs.WriteString("    vec4 color = uInitialColor;\n")
	for i := 0; i < key.DayTextures; i++ {
		fmt.Fprintf(&fs, "    {\n")
		fmt.Fprintf(&fs, "        vec4 r = uDayTextureTexCoordsRectangle[%d];\n", i)
		fmt.Fprintf(&fs, "        if (all(greaterThanEqual(vTexCoord, r.xy)) && all(lessThanEqual(vTexCoord, r.zw))) {\n")
		fmt.Fprintf(&fs, "            vec4 ts = uDayTextureTranslationAndScale[%d];\n", i)
		fmt.Fprintf(&fs, "            vec4 c = texture(uDayTextures[%d], vTexCoord * ts.zw + ts.xy);\n", i)
		if key.Flags&FlagAlpha != 0 {
			fmt.Fprintf(&fs, "            c.a *= uDayTextureAlpha[%d];\n", i)
		}
		fmt.Fprintf(&fs, "            color = vec4(mix(color.rgb, c.rgb, c.a), 1.0);\n")
		fmt.Fprintf(&fs, "        }\n")
		fmt.Fprintf(&fs, "    }\n")
	}
	if key.Flags&FlagWaterMask != 0 {
		fs.WriteString("    float water = texture(uWaterMask, vTexCoord * uWaterMaskTranslationAndScale.zw + uWaterMaskTranslationAndScale.xy).r;\n")
		fs.WriteString("    color.rgb = mix(color.rgb, vec3(0.1, 0.25, 0.45), water * 0.6);\n")
	}
	if key.Flags&FlagVertexNormals != 0 {
		fs.WriteString("    color.rgb *= max(dot(normalize(vNormal), uLightDirection), 0.2);\n")
	}
	fs.WriteString("    FragColor = color;\n")
	fs.WriteString("}\n")

	return ShaderSource{Vertex: vs.String(), Fragment: fs.String()}, nil
}
