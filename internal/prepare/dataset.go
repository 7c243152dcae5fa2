package prepare

import (
	"sort"

	"github.com/pantierra/efast-tool/internal/raster"
)

// IndexFile names the per-sensor dataset index inside a prepared
// directory.
const IndexFile = "index.json"

// Prepared artifact names, keyed by the YYYYMMDD date. The viewer and
// the fusion transform parse these, so the shape is load-bearing.
func FineName(date string) string {
	return "S2A_MSIL2A_" + date + "_REFL.tif"
}

func CloudDistanceName(date string) string {
	return "S2A_MSIL2A_" + date + "_DIST_CLOUD.tif"
}

func CompositeName(date string) string {
	return "composite_" + date + ".tif"
}

// FusedName is the transform's output name for a fusion date.
func FusedName(date string) string {
	return "REFL_" + date + ".tif"
}

// Slot binds one temporal index date to a sensor artifact, or marks
// the date explicitly missing for that sensor.
type Slot struct {
	Date    string `json:"date"`
	File    string `json:"file,omitempty"`
	Missing bool   `json:"missing,omitempty"`
}

// Dataset describes one prepared sensor series: the grid every raster
// sits on and a slot per temporal index date.
type Dataset struct {
	Sensor string      `json:"sensor"`
	Grid   raster.Grid `json:"grid"`
	Slots  []Slot      `json:"slots"`
}

// Dates returns the dates the sensor actually covers.
func (d Dataset) Dates() []string {
	var dates []string
	for _, s := range d.Slots {
		if !s.Missing {
			dates = append(dates, s.Date)
		}
	}
	return dates
}

// Files returns the artifact filenames of the covered slots.
func (d Dataset) Files() []string {
	var files []string
	for _, s := range d.Slots {
		if !s.Missing {
			files = append(files, s.File)
		}
	}
	return files
}

// BuildIndex assembles a sensor dataset over the temporal index. Dates
// the sensor has no artifact for become explicit missing slots, never
// interpolated ones.
func BuildIndex(sensor string, grid raster.Grid, index []string, files map[string]string) Dataset {
	slots := make([]Slot, 0, len(index))
	for _, date := range index {
		if f, ok := files[date]; ok {
			slots = append(slots, Slot{Date: date, File: f})
		} else {
			slots = append(slots, Slot{Date: date, Missing: true})
		}
	}
	return Dataset{Sensor: sensor, Grid: grid, Slots: slots}
}

// UnionDates merges per-sensor date lists into one sorted temporal
// index.
func UnionDates(lists ...[]string) []string {
	seen := make(map[string]bool)
	var union []string
	for _, list := range lists {
		for _, date := range list {
			if !seen[date] {
				seen[date] = true
				union = append(union, date)
			}
		}
	}
	sort.Strings(union)
	return union
}
