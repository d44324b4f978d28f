package globe

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/internal/engine/worker"
	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/pkg/math"
)

// ErrNoTerrainData is logged when a provider returns neither data nor an error.
var ErrNoTerrainData = errors.New("provider returned no terrain data")

// TerrainState is the progress of one TileTerrain.
type TerrainState int

const (
	TerrainUnloaded TerrainState = iota
	TerrainReceiving
	TerrainReceived
	TerrainTransforming
	TerrainTransformed
	TerrainReady
	TerrainFailed
)

func (s TerrainState) String() string {
	switch s {
	case TerrainUnloaded:
		return "unloaded"
	case TerrainReceiving:
		return "receiving"
	case TerrainReceived:
		return "received"
	case TerrainTransforming:
		return "transforming"
	case TerrainTransformed:
		return "transformed"
	case TerrainReady:
		return "ready"
	case TerrainFailed:
		return "failed"
	}
	return "unknown"
}

// Transitioning reports whether asynchronous work is in flight.
func (s TerrainState) Transitioning() bool {
	return s == TerrainReceiving || s == TerrainTransforming
}

// UpsampleDetails names the ancestor data a tile is derived from.
type UpsampleDetails struct {
	Data  terrain.Data
	X, Y  int
	Level int
}

type dataResult struct {
	data terrain.Data
	err  error
}

type meshResult struct {
	mesh *terrain.Mesh
	err  error
}

// TileTerrain loads or upsamples the terrain of one tile. It is driven from the frame goroutine
// and never blocks; fetches and decodes run on the worker pools.
type TileTerrain struct {
	State TerrainState
	Data  terrain.Data
	Mesh  *terrain.Mesh

	upsample *UpsampleDetails
	workers  *worker.Workers

	// Each instance owns its channels, so results for a freed instance are never observed.
	dataCh chan dataResult
	meshCh chan meshResult
	cancel context.CancelFunc

	log *zap.Logger
}

// NewTileTerrain creates an instance that loads the tile's own data.
func NewTileTerrain(workers *worker.Workers) *TileTerrain {
	return &TileTerrain{workers: workers, log: logger.Named("terrain")}
}

// NewUpsampledTileTerrain creates an instance that derives the tile's data from an ancestor.
func NewUpsampledTileTerrain(workers *worker.Workers, details UpsampleDetails) *TileTerrain {
	tt := NewTileTerrain(workers)
	tt.upsample = &details
	return tt
}

// Upsampled reports whether the instance derives data from an ancestor.
func (tt *TileTerrain) Upsampled() bool {
	return tt.upsample != nil
}

// InFlight reports whether the instance still waits on a worker. A result that has been
// delivered but not yet polled does not count.
func (tt *TileTerrain) InFlight() bool {
	if !tt.State.Transitioning() {
		return false
	}
	if tt.State == TerrainReceiving {
		return len(tt.dataCh) == 0
	}
	return len(tt.meshCh) == 0
}

// ProcessLoadStateMachine advances a loading instance as far as possible without blocking.
func (tt *TileTerrain) ProcessLoadStateMachine(ctx context.Context, provider TerrainProvider, x, y, level int) {
	if tt.State == TerrainUnloaded {
		tt.requestTileGeometry(ctx, provider, x, y, level)
	}
	if tt.State == TerrainReceiving {
		tt.pollData(x, y, level)
	}
	tt.processTransform(provider.TilingScheme(), x, y, level)
}

// ProcessUpsampleStateMachine advances an upsampling instance as far as possible without blocking.
func (tt *TileTerrain) ProcessUpsampleStateMachine(ctx context.Context, provider TerrainProvider, x, y, level int) {
	scheme := provider.TilingScheme()
	if tt.State == TerrainUnloaded {
		tt.upsampleFrom(ctx, scheme, x, y, level)
	}
	if tt.State == TerrainReceiving {
		tt.pollData(x, y, level)
	}
	tt.processTransform(scheme, x, y, level)
}

func (tt *TileTerrain) processTransform(scheme *math.GeographicTilingScheme, x, y, level int) {
	if tt.State == TerrainReceived {
		tt.transform(scheme, x, y, level)
	}
	if tt.State == TerrainTransforming {
		tt.pollMesh(x, y, level)
	}
	if tt.State == TerrainTransformed {
		tt.State = TerrainReady
	}
}

func (tt *TileTerrain) requestTileGeometry(ctx context.Context, provider TerrainProvider, x, y, level int) {
	reqCtx, cancel := context.WithCancel(ctx)
	ch := make(chan dataResult, 1)
	if !tt.workers.Fetch.TryGo(func() error {
		data, err := provider.RequestTileGeometry(reqCtx, x, y, level)
		ch <- dataResult{data: data, err: err}
		return nil
	}) {
		// Too many requests in flight; try again next frame.
		cancel()
		return
	}
	tt.dataCh = ch
	tt.cancel = cancel
	tt.State = TerrainReceiving
}

func (tt *TileTerrain) upsampleFrom(ctx context.Context, scheme *math.GeographicTilingScheme, x, y, level int) {
	d := *tt.upsample
	reqCtx, cancel := context.WithCancel(ctx)
	ch := make(chan dataResult, 1)
	if !tt.workers.Decode.TryGo(func() error {
		if err := reqCtx.Err(); err != nil {
			ch <- dataResult{err: err}
			return nil
		}
		data, err := d.Data.Upsample(scheme, d.X, d.Y, d.Level, x, y, level)
		ch <- dataResult{data: data, err: err}
		return nil
	}) {
		cancel()
		return
	}
	tt.dataCh = ch
	tt.cancel = cancel
	tt.State = TerrainReceiving
}

func (tt *TileTerrain) pollData(x, y, level int) {
	select {
	case r := <-tt.dataCh:
		tt.dataCh = nil
		tt.releaseRequest()
		if r.err == nil && r.data == nil {
			r.err = ErrNoTerrainData
		}
		if r.err != nil {
			tt.fail("receiving terrain", r.err, x, y, level)
			return
		}
		tt.Data = r.data
		tt.State = TerrainReceived
	default:
	}
}

func (tt *TileTerrain) transform(scheme *math.GeographicTilingScheme, x, y, level int) {
	data := tt.Data
	ch := make(chan meshResult, 1)
	if !tt.workers.Decode.TryGo(func() error {
		mesh, err := data.CreateMesh(scheme, x, y, level)
		ch <- meshResult{mesh: mesh, err: err}
		return nil
	}) {
		return
	}
	tt.meshCh = ch
	tt.State = TerrainTransforming
}

func (tt *TileTerrain) pollMesh(x, y, level int) {
	select {
	case r := <-tt.meshCh:
		tt.meshCh = nil
		if r.err != nil {
			tt.fail("decoding terrain", r.err, x, y, level)
			return
		}
		tt.Mesh = r.mesh
		tt.State = TerrainTransformed
	default:
	}
}

func (tt *TileTerrain) fail(msg string, err error, x, y, level int) {
	tt.State = TerrainFailed
	tt.releaseRequest()
	tt.log.Warn(msg,
		logger.Tile(x, y, level),
		zap.Bool("upsampled", tt.Upsampled()),
		zap.Error(err))
}

// PublishToTile copies the decoded geometry onto the surface tile.
func (tt *TileTerrain) PublishToTile(st *SurfaceTile) {
	m := tt.Mesh
	st.Mesh = m
	st.Center = m.Center
	st.MinimumHeight = m.MinimumHeight
	st.MaximumHeight = m.MaximumHeight
	st.BoundingSphere = m.BoundingSphere
	st.OccludeePointInScaledSpace = m.OccludeePointInScaledSpace
	st.HasOccludeePoint = m.HasOccludeePoint
}

// FreeResources drops the data and mesh and abandons in-flight work without waiting for it.
func (tt *TileTerrain) FreeResources() {
	tt.releaseRequest()
	tt.dataCh = nil
	tt.meshCh = nil
	tt.Data = nil
	tt.Mesh = nil
}

func (tt *TileTerrain) releaseRequest() {
	if tt.cancel != nil {
		tt.cancel()
		tt.cancel = nil
	}
}
