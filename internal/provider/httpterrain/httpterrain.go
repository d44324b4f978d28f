// Package httpterrain serves quantized-mesh terrain from a static or dynamic HTTP tile server.
package httpterrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/globe"
	"github.com/Faultbox/midgard-globe/internal/engine/terrain"
	"github.com/Faultbox/midgard-globe/internal/logger"
	"github.com/Faultbox/midgard-globe/internal/provider/layer"
	"github.com/Faultbox/midgard-globe/pkg/math"
	"github.com/Faultbox/midgard-globe/pkg/qmesh"
)

// ErrTileNotFound is returned when the server has no tile at the requested address.
var ErrTileNotFound = errors.New("terrain tile not found")

// maxTileBytes bounds a single response body.
const maxTileBytes = 32 << 20

// skirtFactor scales a level's geometric error into its skirt depth.
const skirtFactor = 5

// Options configures a Provider.
type Options struct {
	Client               *http.Client
	RequestVertexNormals bool
	RequestWaterMask     bool
}

// Provider implements globe.TerrainProvider over HTTP.
type Provider struct {
	base         *url.URL
	client       *http.Client
	layer        *layer.Layer
	availability *layer.Availability
	scheme       *math.GeographicTilingScheme

	levelZeroError float64
	normals        bool
	waterMask      bool
	accept         string

	log *zap.Logger
}

var _ globe.TerrainProvider = (*Provider)(nil)

// Open fetches and validates layer.json under baseURL.
func Open(ctx context.Context, baseURL string, opts Options) (*Provider, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse terrain url: %w", err)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := get(ctx, opts.Client, base.ResolveReference(&url.URL{Path: "layer.json"}).String(), "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch layer.json: %w", err)
	}
	l, err := layer.Parse(body)
	if err != nil {
		return nil, err
	}
	return New(base, l, opts), nil
}

// New creates a provider for an already parsed layer.
func New(base *url.URL, l *layer.Layer, opts Options) *Provider {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	scheme := math.NewGeographicTilingScheme(nil)
	p := &Provider{
		base:           base,
		client:         client,
		layer:          l,
		availability:   l.Availability(),
		scheme:         scheme,
		levelZeroError: globe.EstimatedLevelZeroGeometricError(scheme.Ellipsoid, 65, scheme.NumberOfXTilesAtLevel(0)),
		normals:        opts.RequestVertexNormals && l.HasExtension(layer.ExtensionOctVertexNormals),
		waterMask:      opts.RequestWaterMask && l.HasExtension(layer.ExtensionWaterMask),
		log:            logger.Named("httpterrain"),
	}
	p.accept = acceptHeader(p.normals, p.waterMask, l.HasExtension(layer.ExtensionMetadata))
	p.log.Info("terrain layer opened",
		zap.String("url", base.String()),
		zap.String("format", l.Format),
		zap.Strings("extensions", l.Extensions),
		zap.Bool("normals", p.normals),
		zap.Bool("water_mask", p.waterMask))
	return p
}

func acceptHeader(normals, waterMask, metadata bool) string {
	var ext []string
	if normals {
		ext = append(ext, layer.ExtensionOctVertexNormals)
	}
	if waterMask {
		ext = append(ext, layer.ExtensionWaterMask)
	}
	if metadata {
		ext = append(ext, layer.ExtensionMetadata)
	}
	media := "application/vnd.quantized-mesh"
	if len(ext) > 0 {
		media += ";extensions=" + strings.Join(ext, "-")
	}
	return media + ",application/octet-stream;q=0.9,*/*;q=0.01"
}

// Layer returns the parsed layer.json.
func (p *Provider) Layer() *layer.Layer {
	return p.layer
}

func (p *Provider) Ready() bool                                { return true }
func (p *Provider) TilingScheme() *math.GeographicTilingScheme { return p.scheme }
func (p *Provider) HasWaterMask() bool                         { return p.waterMask }
func (p *Provider) HasVertexNormals() bool                     { return p.normals }

func (p *Provider) LevelMaximumGeometricError(level int) float64 {
	return globe.LevelMaximumGeometricError(p.levelZeroError, level)
}

// TileDataAvailable answers from layer.json; levels it does not list are unknown.
func (p *Provider) TileDataAvailable(x, y, level int) (available, known bool) {
	if p.availability == nil || level > p.availability.MaximumLevel() {
		return false, false
	}
	return p.availability.IsTileAvailable(x, y, level), true
}

// RequestTileGeometry downloads and parses one tile. Tiles are addressed in the geographic scheme.
func (p *Provider) RequestTileGeometry(ctx context.Context, x, y, level int) (terrain.Data, error) {
	u := p.base.ResolveReference(tileRef(p.layer.TileURL(x+y, x, y, level))).String()

	start := time.Now()
	body, err := get(ctx, p.client, u, p.accept)
	if err != nil {
		return nil, err
	}
	raw, err := qmesh.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", level, x, y, err)
	}
	tile, err := qmesh.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", level, x, y, err)
	}

	p.log.Debug("tile received",
		logger.Tile(x, y, level),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	mask := uint8(terrain.ChildAll)
	if p.availability != nil && level < p.availability.MaximumLevel() {
		mask = p.availability.ChildMask(x, y, level)
	}
	if !p.waterMask {
		tile.WaterMask = nil
	}
	return terrain.NewQuantizedMeshData(tile, terrain.QuantizedMeshOptions{
		ChildTileMask: mask,
		SkirtHeight:   skirtFactor * p.LevelMaximumGeometricError(level),
	}), nil
}

// tileRef parses an expanded template relative to the layer's base URL.
func tileRef(ref string) *url.URL {
	u, err := url.Parse(ref)
	if err != nil {
		return &url.URL{Path: ref}
	}
	return u
}

func get(ctx context.Context, client *http.Client, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, u)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: unexpected status %s", u, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	return body, nil
}
