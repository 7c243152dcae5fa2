// Package ndvi derives normalized difference vegetation index rasters
// from multiband scenes and samples them into per-directory time
// series. The index encoding tags invalid pixels with 0, so a value of
// exactly 0 always means "no data".
package ndvi

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pantierra/efast-tool/internal/imagery"
	"github.com/pantierra/efast-tool/internal/raster"
	"github.com/pantierra/efast-tool/internal/store"
)

// Band positions in the blue, green, red, nir scene layout.
const (
	redBand = 2
	nirBand = 3
)

// TimeseriesFile is the name of the per-directory time series index.
const TimeseriesFile = "timeseries.json"

const entryTimeLayout = "2006-01-02T15:04:05"

// Compute derives the index raster of a scene: (nir − red)/(nir + red)
// over pixels where both bands are positive, 0 everywhere else. The
// result is a single band raster on the source grid with values
// strictly inside (−1, 1).
func Compute(src *raster.Raster) (*raster.Raster, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if len(src.Bands) <= nirBand {
		return nil, fmt.Errorf("index needs %d bands, raster has %d", nirBand+1, len(src.Bands))
	}

	out := raster.New(src.Grid, 1, 0)
	red, nir := src.Bands[redBand], src.Bands[nirBand]
	for i := range red {
		r, n := red[i], nir[i]
		if r > 0 && n > 0 {
			out.Bands[0][i] = (n - r) / (n + r)
		}
	}
	return out, nil
}

// OutputName maps a source raster filename to its index raster
// filename. Files that carry no reflectance, like cloud distance
// masks, report false.
func OutputName(name string) (string, bool) {
	if strings.HasSuffix(name, ".geotiff") {
		return name, true
	}
	if !strings.HasSuffix(name, ".tif") {
		return "", false
	}

	date, ok := imagery.FileDate(name)
	if !ok {
		return "", false
	}
	key := imagery.DateKey(date)

	stem := strings.TrimSuffix(name, ".tif")
	switch {
	case strings.Contains(stem, "DIST_CLOUD"):
		return "", false
	case strings.Contains(stem, "REFL"):
		return key + "_ndvi.geotiff", true
	case strings.HasPrefix(stem, "composite_"):
		return "composite_" + key + ".geotiff", true
	}
	return "", false
}

// Entry is one time series sample. NDVI is null when the raster holds
// no valid value at the site position.
type Entry struct {
	Date     string   `json:"date"`
	Filename string   `json:"filename"`
	NDVI     *float64 `json:"ndvi"`
}

// Calculator turns source rasters into index rasters and time series.
type Calculator struct {
	Codec   raster.Codec
	Sampler raster.PointSampler
}

// Process computes the index raster for one source file.
func (c Calculator) Process(src, dst string) error {
	scene, err := c.Codec.Decode(src)
	if err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}
	out, err := Compute(scene)
	if err != nil {
		return fmt.Errorf("index %s: %w", filepath.Base(src), err)
	}
	return c.Codec.Encode(dst, out)
}

// Timeseries samples every index raster in dir at the site position.
// Entries come back sorted by date. A raster that cannot be read or
// sampled still gets an entry, with a null value.
func (c Calculator) Timeseries(dir string, lon, lat float64) ([]Entry, error) {
	files, err := store.ListFiles(dir, ".geotiff")
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, file := range files {
		date, ok := imagery.FileDate(file)
		if !ok {
			continue
		}
		entry := Entry{
			Date:     date.Format(entryTimeLayout),
			Filename: file,
		}
		if v, ok := c.sample(filepath.Join(dir, file), lon, lat); ok {
			entry.NDVI = &v
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}
		return entries[i].Filename < entries[j].Filename
	})
	return entries, nil
}

// WriteTimeseries builds the time series of dir and writes it next to
// the rasters as timeseries.json.
func (c Calculator) WriteTimeseries(dir string, lon, lat float64) ([]Entry, error) {
	entries, err := c.Timeseries(dir, lon, lat)
	if err != nil {
		return nil, err
	}
	if err := store.WriteJSON(filepath.Join(dir, TimeseriesFile), entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c Calculator) sample(path string, lon, lat float64) (float64, bool) {
	r, err := c.Codec.Decode(path)
	if err != nil {
		return 0, false
	}
	v, ok, err := c.Sampler.Sample(r, 0, lon, lat)
	if err != nil || !ok {
		return 0, false
	}
	f := float64(v)
	if f == 0 || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
