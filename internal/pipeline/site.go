package pipeline

import (
	"fmt"
	"regexp"

	"github.com/pantierra/efast-tool/pkg/geojson"
)

// Site is one processing location. The name doubles as the top level
// storage directory, so it has to stay path-safe.
type Site struct {
	Name string  `yaml:"name" json:"name"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
}

var siteNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Validate checks that the site can be processed and stored.
func (s Site) Validate() error {
	if !siteNamePattern.MatchString(s.Name) {
		return fmt.Errorf("site name %q is not usable as a directory name", s.Name)
	}
	if s.Lat < -90 || s.Lat > 90 {
		return fmt.Errorf("site latitude %v out of range", s.Lat)
	}
	if s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("site longitude %v out of range", s.Lon)
	}
	return nil
}

// BBox returns the square query box of size degrees centered on the
// site position.
func (s Site) BBox(size float64) [4]float64 {
	return geojson.BBoxAround(s.Lon, s.Lat, size)
}
