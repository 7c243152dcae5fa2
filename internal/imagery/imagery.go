// Package imagery lists and fetches satellite scenes from catalog
// services. A fetched scene lands in the raster store as one multiband
// file, bands ordered blue, green, red, nir, named so the acquisition
// date leads the filename.
package imagery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Query describes one catalog listing request.
type Query struct {
	BBox  [4]float64 // west, south, east, north (WGS84)
	Start time.Time
	End   time.Time
}

// CatalogEntry is one acquisition a source can fetch. Assets maps band
// keys to downloadable hrefs. BBox carries the query extent the scene
// will be cropped to.
type CatalogEntry struct {
	ID     string
	Sensor string
	Time   time.Time
	Assets map[string]string
	BBox   [4]float64
}

// Scene is one fetched acquisition.
type Scene struct {
	ID     string
	Sensor string
	Time   time.Time
	File   string // absolute path of the scene raster
}

// Source lists a sensor catalog and fetches scenes from it. Catalog must
// be cheap; Fetch does the heavy lifting. Implementations report errors
// per call, leaving retry policy to the caller.
type Source interface {
	Sensor() string
	Catalog(ctx context.Context, q Query) ([]CatalogEntry, error)
	Fetch(ctx context.Context, entry CatalogEntry, dest string) (Scene, error)
}

var sceneIDSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SceneFilename derives the store filename for a catalog entry. The
// timestamp prefix is what every later stage parses dates from.
func SceneFilename(entry CatalogEntry) string {
	id := sceneIDSanitizer.ReplaceAllString(entry.ID, "-")
	return fmt.Sprintf("%s_%s.geotiff", entry.Time.UTC().Format("20060102T150405"), id)
}

var fileDatePattern = regexp.MustCompile(`(\d{8})(T\d{6})?`)

// FileDate extracts the acquisition date encoded in an artifact
// filename. It accepts both scene names (20240512T103021_...) and
// derived names (composite_20240512.tif, REFL_20240512.tif).
func FileDate(name string) (time.Time, bool) {
	m := fileDatePattern.FindString(name)
	if m == "" {
		return time.Time{}, false
	}
	layout := "20060102"
	if strings.Contains(m, "T") {
		layout = "20060102T150405"
	}
	t, err := time.Parse(layout, m)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// DateKey formats a date the way derived filenames encode it.
func DateKey(t time.Time) string {
	return t.UTC().Format("20060102")
}
