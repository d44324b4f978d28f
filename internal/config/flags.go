package config

import "flag"

var (
	flagConfig       = flag.String("config", "", "Path to config file")
	flagDebug        = flag.Bool("debug", false, "Enable debug logging and per-frame statistics")
	flagSource       = flag.String("source", "", "Terrain source: http, mbtiles or ellipsoid")
	flagURL          = flag.String("url", "", "Terrain tileset base URL (implies -source http)")
	flagMBTiles      = flag.String("mbtiles", "", "Terrain MBTiles file (implies -source mbtiles)")
	flagWidth        = flag.Int("width", 0, "Viewport width")
	flagHeight       = flag.Int("height", 0, "Viewport height")
	flagFrames       = flag.Int("frames", -1, "Number of frames to run (0 = until interrupted)")
	flagSSE          = flag.Float64("sse", 0, "Maximum screen-space error in pixels")
	flagStream       = flag.String("stream", "", "Debug stream listen address, e.g. 127.0.0.1:7070")
	flagOrthographic = flag.Bool("ortho", false, "Use an orthographic projection")
	flagSnapshot     = flag.String("snapshot", "", "Directory for a PNG map of the last frame's tiles")
	flagWriteConfig  = flag.String("write-config", "", "Write the effective config to this path and exit")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// WriteConfigPath returns the path given with --write-config, if any.
func WriteConfigPath() string {
	return *flagWriteConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
		cfg.Quadtree.DebugOutput = true
	}
	if *flagURL != "" {
		cfg.Terrain.URL = *flagURL
		cfg.Terrain.Source = SourceHTTP
	}
	if *flagMBTiles != "" {
		cfg.Terrain.MBTilesPath = *flagMBTiles
		cfg.Terrain.Source = SourceMBTiles
	}
	if *flagSource != "" {
		cfg.Terrain.Source = *flagSource
	}
	if *flagWidth > 0 {
		cfg.Render.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Render.Height = *flagHeight
	}
	if *flagFrames >= 0 {
		cfg.Render.Frames = *flagFrames
	}
	if *flagSSE > 0 {
		cfg.Quadtree.MaximumScreenSpaceError = *flagSSE
	}
	if *flagStream != "" {
		cfg.Debug.StreamAddr = *flagStream
	}
	if *flagSnapshot != "" {
		cfg.Debug.SnapshotDir = *flagSnapshot
	}
	if *flagOrthographic {
		cfg.Render.Orthographic = true
	}
}
