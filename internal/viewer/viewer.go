// Package viewer drives a globe from a configuration: it opens the terrain and imagery sources,
// orbits the camera and turns every frame's render list into draw commands.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-globe/internal/config"
	"github.com/Faultbox/midgard-globe/internal/debugstream"
	"github.com/Faultbox/midgard-globe/internal/engine/camera"
	"github.com/Faultbox/midgard-globe/internal/engine/debug"
	"github.com/Faultbox/midgard-globe/internal/engine/globe"
	"github.com/Faultbox/midgard-globe/internal/engine/imagery"
	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/engine/renderer"
	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/internal/provider/ellipsoid"
	"github.com/Faultbox/midgard-globe/internal/provider/httpterrain"
	"github.com/Faultbox/midgard-globe/internal/provider/mbtiles"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

const snapshotWidth = 1024

// Viewer is a running globe session.
type Viewer struct {
	cfg     *config.Config
	workers *worker.Workers
	globe   *globe.Globe
	orbit   *camera.OrbitCamera
	frustum camera.Frustum
	camera  *camera.Camera

	pipelines *renderer.PipelineCache[renderer.ShaderSource]
	renderOpt renderer.Options
	commands  []renderer.DrawCommand

	hub     *debugstream.Hub
	closers []io.Closer
	frame   uint64
	log     *zap.Logger
}

// New opens the configured sources and builds the globe.
func New(ctx context.Context, cfg *config.Config) (*Viewer, error) {
	v := &Viewer{
		cfg:       cfg,
		workers:   worker.NewWorkers(cfg.Terrain.MaxConcurrentRequests, cfg.Terrain.DecodeWorkers),
		pipelines: renderer.NewPipelineCache(renderer.GenerateShaderSource),
		renderOpt: renderer.DefaultOptions(),
		log:       logger.Named("viewer"),
	}
	v.log.Info("initializing viewer",
		zap.String("terrain", cfg.Terrain.Source),
		zap.Int("width", cfg.Render.Width),
		zap.Int("height", cfg.Render.Height))

	terrainProvider, err := v.openTerrain(ctx)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("open terrain: %w", err)
	}
	layers, err := v.openImagery(ctx, terrainProvider.TilingScheme())
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("open imagery: %w", err)
	}
	v.renderOpt.EnableLighting = terrainProvider.HasVertexNormals()
	v.renderOpt.ShowWaterEffect = terrainProvider.HasWaterMask()

	v.globe = globe.New(terrainProvider, layers, v.workers, quadtree.Options{
		MaximumScreenSpaceError: cfg.Quadtree.MaximumScreenSpaceError,
		TileCacheSize:           cfg.Quadtree.TileCacheSize,
		LoadQueueTimeSlice:      cfg.Quadtree.LoadQueueTimeSlice,
		DebugOutput:             cfg.Quadtree.DebugOutput,
	})

	if cfg.Debug.StreamAddr != "" {
		v.hub = debugstream.NewHub()
		v.globe.Primitive().SetStatsSink(v.hub)
	}

	v.orbit = camera.NewOrbitCamera(v.globe.Ellipsoid(), math.Cartographic{
		Longitude: math.ToRadians(cfg.Camera.LongitudeDegrees),
		Latitude:  math.ToRadians(cfg.Camera.LatitudeDegrees),
	}, cfg.Camera.Altitude)
	v.orbit.Heading = math.ZeroToTwoPi(math.ToRadians(cfg.Camera.HeadingDegrees))
	v.orbit.Pitch = math.Clamp(math.ToRadians(cfg.Camera.PitchDegrees), v.orbit.MinPitch, v.orbit.MaxPitch)

	if cfg.Render.Orthographic {
		v.frustum = camera.NewOrthographicFrustum(2*cfg.Camera.Altitude, cfg.Render.Width, cfg.Render.Height)
	} else {
		v.frustum = camera.NewPerspectiveFrustum(math.ToRadians(cfg.Render.FovDegrees), cfg.Render.Width, cfg.Render.Height)
	}

	v.log.Info("viewer initialized")
	return v, nil
}

func (v *Viewer) openTerrain(ctx context.Context) (globe.TerrainProvider, error) {
	t := v.cfg.Terrain
	switch t.Source {
	case config.SourceHTTP:
		return httpterrain.Open(ctx, t.URL, httpterrain.Options{
			Client:               &http.Client{Timeout: t.RequestTimeout},
			RequestVertexNormals: t.RequestVertexNormals,
			RequestWaterMask:     t.RequestWaterMask,
		})
	case config.SourceMBTiles:
		store, err := mbtiles.Open(t.MBTilesPath)
		if err != nil {
			return nil, err
		}
		v.closers = append(v.closers, store)
		return mbtiles.NewProvider(ctx, store)
	case config.SourceEllipsoid:
		return ellipsoid.New(ellipsoid.Options{MaxLevel: t.EllipsoidMaxLevel, GridSize: t.EllipsoidGridSize}), nil
	default:
		return nil, fmt.Errorf("%w: unknown terrain source %q", config.ErrInvalidConfig, t.Source)
	}
}

func (v *Viewer) openImagery(ctx context.Context, scheme *math.GeographicTilingScheme) (*imagery.Collection, error) {
	layers := &imagery.Collection{}
	if path := v.cfg.Imagery.MBTilesPath; path != "" {
		store, err := mbtiles.Open(path)
		if err != nil {
			return nil, err
		}
		v.closers = append(v.closers, store)
		p, err := mbtiles.NewImageryProvider(ctx, store)
		if err != nil {
			return nil, err
		}
		layers.Add(imagery.NewLayer(p, v.workers.Fetch))
		v.log.Info("imagery layer added", zap.String("path", path), zap.String("format", p.Format()))
	}
	if v.cfg.Imagery.Grid {
		l := imagery.NewLayer(imagery.NewGridProvider(scheme), v.workers.Decode)
		if layers.Len() > 0 {
			l.Alpha = 0.5
		}
		layers.Add(l)
	}
	return layers, nil
}

// Globe returns the globe being viewed.
func (v *Viewer) Globe() *globe.Globe {
	return v.globe
}

// Orbit returns the camera controller.
func (v *Viewer) Orbit() *camera.OrbitCamera {
	return v.orbit
}

// Hub returns the debug stream hub, or nil when streaming is off.
func (v *Viewer) Hub() *debugstream.Hub {
	return v.hub
}

// Commands returns the draw commands of the last frame.
func (v *Viewer) Commands() []renderer.DrawCommand {
	return v.commands
}

// Frame returns the number of frames stepped so far.
func (v *Viewer) Frame() uint64 {
	return v.frame
}

// Run steps frames until the configured count is reached or ctx is canceled.
// With a debug stream address set, the stream is served for the duration of the run.
func (v *Viewer) Run(ctx context.Context) error {
	if v.hub == nil {
		return v.loop(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopServer := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopServer()
		return v.loop(gctx)
	})
	g.Go(func() error {
		return debugstream.ListenAndServe(loopCtx, v.cfg.Debug.StreamAddr, v.hub)
	})
	return g.Wait()
}

func (v *Viewer) loop(ctx context.Context) error {
	var tick <-chan time.Time
	if v.cfg.Render.FrameRate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(v.cfg.Render.FrameRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	lastTime := time.Now()
	frameCount := 0
	fpsTimer := lastTime
	v.log.Info("starting frame loop", zap.Int("frames", v.cfg.Render.Frames))

	for v.cfg.Render.Frames == 0 || v.frame < uint64(v.cfg.Render.Frames) {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				v.log.Info("frame loop stopped", zap.Uint64("frame", v.frame))
				return v.finish()
			}
			return err
		}

		now := time.Now()
		dt := now.Sub(lastTime).Seconds()
		lastTime = now

		if err := v.Step(ctx, dt); err != nil {
			return fmt.Errorf("frame %d: %w", v.frame, err)
		}

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			s := v.globe.Primitive().Stats()
			fields := []zap.Field{
				zap.Int("count", frameCount),
				zap.Int("rendered", s.TilesRendered),
				zap.Int("resident", s.TilesResident),
				zap.Int("draw_commands", len(v.commands)),
			}
			if c, ok := v.PickCenter(); ok {
				fields = append(fields, zap.Float64("center_height", c.Height))
			}
			v.log.Debug("fps", fields...)
			frameCount = 0
			fpsTimer = time.Now()
		}

		if tick != nil {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
	}
	v.log.Info("frame loop finished", zap.Uint64("frames", v.frame))
	return v.finish()
}

func (v *Viewer) finish() error {
	if v.cfg.Debug.SnapshotDir == "" || v.frame == 0 {
		return nil
	}
	path, err := v.SaveSnapshot(v.cfg.Debug.SnapshotDir)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	v.log.Info("snapshot written", zap.String("path", path))
	return nil
}

// Step advances the camera by dt seconds and renders one frame.
func (v *Viewer) Step(ctx context.Context, dt float64) error {
	v.update(ctx, dt)
	return v.render()
}

func (v *Viewer) update(ctx context.Context, dt float64) {
	v.orbit.Orbit(math.ToRadians(v.cfg.Camera.OrbitDegreesPerS)*dt, 0)
	v.camera = v.orbit.Camera(v.frustum)
	v.frame++
	v.globe.Update(ctx, camera.NewFrameState(v.camera, v.cfg.Render.Width, v.cfg.Render.Height, v.frame))
}

// PickCenter returns the terrain position under the center of the viewport in the last frame.
func (v *Viewer) PickCenter() (math.Cartographic, bool) {
	if v.camera == nil {
		return math.Cartographic{}, false
	}
	w, h := v.cfg.Render.Width, v.cfg.Render.Height
	p, ok := v.globe.Pick(v.camera.PickRay(float64(w)/2, float64(h)/2, w, h))
	if !ok {
		return math.Cartographic{}, false
	}
	return v.globe.Ellipsoid().CartesianToCartographic(p)
}

// SaveSnapshot writes a map of the tiles rendered in the last frame to dir.
func (v *Viewer) SaveSnapshot(dir string) (string, error) {
	renderList := v.globe.Primitive().RenderList()
	rects := make([]debug.TileRect, 0, len(renderList))
	for _, t := range renderList {
		rects = append(rects, debug.TileRect{Rectangle: t.Rectangle, Level: t.Level, X: t.X, Y: t.Y})
	}
	return debug.NewSnapshotter(dir, "tiles").Save(debug.TileMap(rects, snapshotWidth), v.frame)
}

func (v *Viewer) render() error {
	v.commands = renderer.BuildDrawCommands(v.globe.Primitive().RenderList(), v.renderOpt)
	for i := range v.commands {
		if _, err := v.pipelines.Get(v.commands[i].Pipeline); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for in-flight requests and releases the sources.
func (v *Viewer) Close() error {
	v.log.Info("closing viewer")
	v.workers.Wait()
	var errs []error
	for _, c := range v.closers {
		errs = append(errs, c.Close())
	}
	if hits, misses := v.pipelines.Stats(); misses > 0 {
		v.log.Debug("pipeline cache", zap.Int("hits", hits), zap.Int("misses", misses))
	}
	return errors.Join(errs...)
}
