package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when loaded settings cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// Load loads configuration with priority: defaults < file < GLOBE_* environment < flags.
func Load() (*Config, error) {
	cfg := Default()

	path := ConfigPath()
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings can drive a viewer.
func (c *Config) Validate() error {
	switch c.Terrain.Source {
	case SourceHTTP:
		if c.Terrain.URL == "" {
			return fmt.Errorf("%w: terrain source http needs terrain.url", ErrInvalidConfig)
		}
	case SourceMBTiles:
		if c.Terrain.MBTilesPath == "" {
			return fmt.Errorf("%w: terrain source mbtiles needs terrain.mbtiles_path", ErrInvalidConfig)
		}
	case SourceEllipsoid:
	default:
		return fmt.Errorf("%w: unknown terrain source %q", ErrInvalidConfig, c.Terrain.Source)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidConfig, c.Render.Width, c.Render.Height)
	}
	if c.Render.FovDegrees <= 0 || c.Render.FovDegrees >= 180 {
		return fmt.Errorf("%w: field of view %v", ErrInvalidConfig, c.Render.FovDegrees)
	}
	if c.Quadtree.MaximumScreenSpaceError <= 0 {
		return fmt.Errorf("%w: maximum screen space error %v", ErrInvalidConfig, c.Quadtree.MaximumScreenSpaceError)
	}
	return nil
}

// findConfigFile returns the first existing candidate: globe.yaml or config.yaml in the working
// directory, then config.yaml in ConfigDir.
func findConfigFile() string {
	for _, path := range []string{
		"globe.yaml",
		"config.yaml",
		filepath.Join(ConfigDir(), "config.yaml"),
	} {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "MidgardGlobe")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "MidgardGlobe")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "midgard-globe")
	}
	return filepath.Join(home, ".config", "midgard-globe")
}

// loadFromFile merges a YAML file into cfg. Keys that match no setting are an error.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	return nil
}

// envPrefix starts every environment override.
const envPrefix = "GLOBE_"

// applyEnv applies GLOBE_* overrides read through lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TERRAIN_SOURCE":  &cfg.Terrain.Source,
		"TERRAIN_URL":     &cfg.Terrain.URL,
		"TERRAIN_MBTILES": &cfg.Terrain.MBTilesPath,
		"IMAGERY_MBTILES": &cfg.Imagery.MBTilesPath,
		"STREAM_ADDR":     &cfg.Debug.StreamAddr,
		"LOG_LEVEL":       &cfg.Logging.Level,
		"LOG_FILE":        &cfg.Logging.LogFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_REQUESTS":   &cfg.Terrain.MaxConcurrentRequests,
		"DECODE_WORKERS": &cfg.Terrain.DecodeWorkers,
	}
	for key, dst := range ints {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s%s=%q is not a positive integer", ErrInvalidConfig, envPrefix, key, v)
		}
		*dst = n
	}

	if v, ok := lookup(envPrefix + "REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sREQUEST_TIMEOUT: %v", ErrInvalidConfig, envPrefix, err)
		}
		cfg.Terrain.RequestTimeout = d
	}
	return nil
}
