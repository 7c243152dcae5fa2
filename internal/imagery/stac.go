package imagery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/planetlabs/go-stac"

	"github.com/pantierra/efast-tool/internal/raster"
	"github.com/pantierra/efast-tool/pkg/geojson"
)

// SourceConfig wires one STACSource to a catalog service.
type SourceConfig struct {
	Sensor     string
	BaseURL    string
	Collection string
	// Bands lists asset keys in scene band order (blue, green, red, nir).
	Bands   []string
	Token   string
	Timeout time.Duration
	// Retries and Backoff bound the per-call retry loop inside one
	// invocation. Units that still fail are picked up by the next run.
	Retries int
	Backoff time.Duration
	// PageLimit caps search result paging.
	PageLimit int
}

// STACSource fetches scenes through a STAC item-search API. The same
// type serves both sensors; only the configuration differs.
type STACSource struct {
	cfg        SourceConfig
	httpClient *http.Client
	codec      raster.Codec
	proj       raster.Projector
	logger     *slog.Logger
}

// NewSTACSource creates a source over one catalog collection. The codec
// decodes downloaded band assets and encodes the assembled scene; the
// projector maps the WGS84 crop extent into asset grids.
func NewSTACSource(cfg SourceConfig, codec raster.Codec, proj raster.Projector) *STACSource {
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 20
	}
	return &STACSource{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		codec:  codec,
		proj:   proj,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the source.
func (s *STACSource) WithLogger(logger *slog.Logger) *STACSource {
	s.logger = logger
	return s
}

func (s *STACSource) Sensor() string {
	return s.cfg.Sensor
}

// searchResponse is the subset of a STAC item collection the source
// consumes.
type searchResponse struct {
	Features []*stac.Item `json:"features"`
	Links    []*stac.Link `json:"links"`
}

// Catalog lists every acquisition of the collection intersecting the
// query bbox and time range, following pagination links.
func (s *STACSource) Catalog(ctx context.Context, q Query) ([]CatalogEntry, error) {
	searchURL, err := s.buildSearchURL(q)
	if err != nil {
		return nil, err
	}

	var entries []CatalogEntry
	for page := 0; searchURL != ""; page++ {
		if page >= s.cfg.PageLimit {
			return nil, fmt.Errorf("catalog paging exceeded %d pages", s.cfg.PageLimit)
		}

		s.logger.DebugContext(ctx, "executing catalog search",
			slog.String("sensor", s.cfg.Sensor),
			slog.String("url", searchURL),
		)

		var resp searchResponse
		err := retry(ctx, s.cfg.Retries, s.cfg.Backoff, func() error {
			return s.getJSON(ctx, searchURL, &resp)
		})
		if err != nil {
			return nil, fmt.Errorf("catalog search failed: %w", err)
		}

		for _, item := range resp.Features {
			entry, err := s.toEntry(item, q)
			if err != nil {
				s.logger.WarnContext(ctx, "skipping catalog item",
					slog.String("item_id", item.Id),
					slog.String("error", err.Error()),
				)
				continue
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}

		searchURL = nextLink(resp.Links)
		resp = searchResponse{}
	}

	s.logger.DebugContext(ctx, "catalog search completed",
		slog.String("sensor", s.cfg.Sensor),
		slog.Int("entry_count", len(entries)),
	)
	return entries, nil
}

// toEntry maps a STAC item to a catalog entry, or nil when the item
// falls outside the query extent.
func (s *STACSource) toEntry(item *stac.Item, q Query) (*CatalogEntry, error) {
	if item.Id == "" {
		return nil, fmt.Errorf("item has no id")
	}

	acquired, err := itemTime(item)
	if err != nil {
		return nil, err
	}

	bbox := item.Bbox
	if len(bbox) == 0 {
		if bbox, err = itemGeometryBBox(item); err != nil {
			return nil, err
		}
	}
	if len(bbox) >= 4 && !geojson.Intersects(bbox, q.BBox[:]) {
		return nil, nil
	}

	assets := make(map[string]string, len(s.cfg.Bands))
	for _, band := range s.cfg.Bands {
		asset, ok := item.Assets[band]
		if !ok || asset.Href == "" {
			return nil, fmt.Errorf("item %s has no asset %q", item.Id, band)
		}
		assets[band] = asset.Href
	}

	return &CatalogEntry{
		ID:     item.Id,
		Sensor: s.cfg.Sensor,
		Time:   acquired,
		Assets: assets,
		BBox:   q.BBox,
	}, nil
}

// itemTimeFormats covers the datetime spellings observed across catalog
// services.
var itemTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
}

func itemTime(item *stac.Item) (time.Time, error) {
	raw, ok := item.Properties["datetime"].(string)
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("item %s has no datetime", item.Id)
	}
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, format := range itemTimeFormats {
		t, err := time.Parse(format, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse item datetime %q: %w", raw, lastErr)
}

func itemGeometryBBox(item *stac.Item) ([]float64, error) {
	if item.Geometry == nil {
		return nil, nil
	}
	raw, err := json.Marshal(item.Geometry)
	if err != nil {
		return nil, fmt.Errorf("encode item geometry: %w", err)
	}
	var geom geojson.Geometry
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil, fmt.Errorf("parse item geometry: %w", err)
	}
	return geojson.ComputeBBox(&geom)
}

// Fetch downloads the band assets of one entry, crops them to the entry
// extent and assembles the multiband scene file at dest.
func (s *STACSource) Fetch(ctx context.Context, entry CatalogEntry, dest string) (Scene, error) {
	layers := make([]*raster.Raster, 0, len(s.cfg.Bands))
	for _, band := range s.cfg.Bands {
		layer, err := s.fetchBand(ctx, entry, band, filepath.Dir(dest))
		if err != nil {
			return Scene{}, fmt.Errorf("band %s: %w", band, err)
		}
		layers = append(layers, layer)
	}

	scene, err := raster.Stack(layers...)
	if err != nil {
		return Scene{}, fmt.Errorf("assemble scene %s: %w", entry.ID, err)
	}
	if err := s.codec.Encode(dest, scene); err != nil {
		return Scene{}, fmt.Errorf("write scene %s: %w", entry.ID, err)
	}

	s.logger.DebugContext(ctx, "scene fetched",
		slog.String("sensor", s.cfg.Sensor),
		slog.String("item_id", entry.ID),
		slog.String("file", filepath.Base(dest)),
	)

	return Scene{ID: entry.ID, Sensor: entry.Sensor, Time: entry.Time, File: dest}, nil
}

func (s *STACSource) fetchBand(ctx context.Context, entry CatalogEntry, band, dir string) (*raster.Raster, error) {
	tmp, err := os.CreateTemp(dir, ".asset-*")
	if err != nil {
		return nil, fmt.Errorf("create asset file: %w", err)
	}
	defer os.Remove(tmp.Name())
	tmp.Close()

	href := entry.Assets[band]
	err = retry(ctx, s.cfg.Retries, s.cfg.Backoff, func() error {
		return s.download(ctx, href, tmp.Name())
	})
	if err != nil {
		return nil, err
	}

	full, err := s.codec.Decode(tmp.Name())
	if err != nil {
		return nil, err
	}
	return s.cropToExtent(full, entry.BBox)
}

// cropToExtent cuts a decoded asset down to the site extent, projecting
// the WGS84 corners into the asset grid first. Assets that do not reach
// the extent at all are an error; the catalog said they intersect.
func (s *STACSource) cropToExtent(r *raster.Raster, bbox [4]float64) (*raster.Raster, error) {
	minX, minY, err := s.proj.Project(r.Grid.CRS, bbox[0], bbox[1])
	if err != nil {
		return nil, fmt.Errorf("project crop extent: %w", err)
	}
	maxX, maxY, err := s.proj.Project(r.Grid.CRS, bbox[2], bbox[3])
	if err != nil {
		return nil, fmt.Errorf("project crop extent: %w", err)
	}
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	col, row, width, height, ok := r.Grid.Window(minX, minY, maxX, maxY)
	if !ok {
		return nil, fmt.Errorf("asset does not cover the requested extent")
	}
	return r.Crop(col, row, width, height)
}

func (s *STACSource) buildSearchURL(q Query) (string, error) {
	base, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid catalog URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/search"

	params := url.Values{}
	params.Set("collections", s.cfg.Collection)
	params.Set("bbox", fmt.Sprintf("%g,%g,%g,%g", q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3]))
	params.Set("datetime", fmt.Sprintf("%s/%s",
		q.Start.UTC().Format(time.RFC3339), q.End.UTC().Format(time.RFC3339)))
	params.Set("limit", "100")
	base.RawQuery = params.Encode()

	return base.String(), nil
}

func nextLink(links []*stac.Link) string {
	for _, link := range links {
		if link != nil && link.Rel == "next" && link.Href != "" {
			return link.Href
		}
	}
	return ""
}

func (s *STACSource) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

func (s *STACSource) download(ctx context.Context, href, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("asset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("asset returned status %d: %s", resp.StatusCode, string(body))
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create asset file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write asset: %w", err)
	}
	return f.Close()
}

func (s *STACSource) authorize(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}
