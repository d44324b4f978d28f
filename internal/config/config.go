// Package config handles viewer configuration loading and management.
package config

import "time"

// Terrain sources.
const (
	SourceHTTP      = "http"
	SourceMBTiles   = "mbtiles"
	SourceEllipsoid = "ellipsoid"
)

// Config holds all viewer settings.
type Config struct {
	Render   RenderConfig   `yaml:"render"`
	Camera   CameraConfig   `yaml:"camera"`
	Quadtree QuadtreeConfig `yaml:"quadtree"`
	Terrain  TerrainConfig  `yaml:"terrain"`
	Imagery  ImageryConfig  `yaml:"imagery"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RenderConfig holds viewport and projection settings.
type RenderConfig struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	FovDegrees   float64 `yaml:"fov_degrees"`
	Orthographic bool    `yaml:"orthographic"`
	Frames       int     `yaml:"frames"`     // frames to run; 0 runs until interrupted
	FrameRate    int     `yaml:"frame_rate"` // target frames per second
}

// CameraConfig holds the initial orbit of the camera.
type CameraConfig struct {
	LongitudeDegrees float64 `yaml:"longitude_degrees"`
	LatitudeDegrees  float64 `yaml:"latitude_degrees"`
	Altitude         float64 `yaml:"altitude"` // meters above the ellipsoid
	HeadingDegrees   float64 `yaml:"heading_degrees"`
	PitchDegrees     float64 `yaml:"pitch_degrees"`
	OrbitDegreesPerS float64 `yaml:"orbit_degrees_per_second"`
}

// QuadtreeConfig holds level-of-detail selection settings.
type QuadtreeConfig struct {
	MaximumScreenSpaceError float64       `yaml:"maximum_screen_space_error"`
	TileCacheSize           int           `yaml:"tile_cache_size"`
	LoadQueueTimeSlice      time.Duration `yaml:"load_queue_time_slice"`
	DebugOutput             bool          `yaml:"debug_output"`
}

// TerrainConfig holds terrain source settings.
type TerrainConfig struct {
	Source                string        `yaml:"source"` // http, mbtiles or ellipsoid
	URL                   string        `yaml:"url"`    // base URL of a layer.json tileset
	MBTilesPath           string        `yaml:"mbtiles_path"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	DecodeWorkers         int           `yaml:"decode_workers"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	RequestVertexNormals  bool          `yaml:"request_vertex_normals"`
	RequestWaterMask      bool          `yaml:"request_water_mask"`
	EllipsoidMaxLevel     int           `yaml:"ellipsoid_max_level"`
	EllipsoidGridSize     int           `yaml:"ellipsoid_grid_size"`
}

// ImageryConfig holds imagery layer settings.
type ImageryConfig struct {
	MBTilesPath string `yaml:"mbtiles_path"` // raster tiles; empty disables the layer
	Grid        bool   `yaml:"grid"`         // add a generated grid layer
}

// DebugConfig holds diagnostics settings.
type DebugConfig struct {
	StreamAddr  string `yaml:"stream_addr"`  // loopback address of the websocket stats stream
	SnapshotDir string `yaml:"snapshot_dir"` // where to write a map of the final frame's tiles
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Render: RenderConfig{
			Width:      1280,
			Height:     720,
			FovDegrees: 60,
			Frames:     600,
			FrameRate:  60,
		},
		Camera: CameraConfig{
			LongitudeDegrees: 0,
			LatitudeDegrees:  20,
			Altitude:         20_000_000,
			PitchDegrees:     -90,
			OrbitDegreesPerS: 2,
		},
		Quadtree: QuadtreeConfig{
			MaximumScreenSpaceError: 2,
			TileCacheSize:           100,
			LoadQueueTimeSlice:      5 * time.Millisecond,
		},
		Terrain: TerrainConfig{
			Source:                SourceEllipsoid,
			MaxConcurrentRequests: 12,
			DecodeWorkers:         4,
			RequestTimeout:        30 * time.Second,
			EllipsoidMaxLevel:     16,
			EllipsoidGridSize:     17,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
