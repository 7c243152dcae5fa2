package raster

import "fmt"

// Resampling selects the kernel used when warping between grids.
type Resampling string

const (
	ResampleNearest  Resampling = "near"
	ResampleBilinear Resampling = "bilinear"
	ResampleCubic    Resampling = "cubic"
	ResampleAverage  Resampling = "average"
)

// Codec reads and writes rasters as files. Encode must be atomic: a file
// that exists is complete.
type Codec interface {
	Decode(path string) (*Raster, error)
	Encode(path string, r *Raster) error
}

// Warper resamples a raster onto a target grid. The result carries
// exactly the requested grid, and identical inputs produce identical
// outputs.
type Warper interface {
	Warp(src *Raster, target Grid, rs Resampling) (*Raster, error)
}

// Projector transforms WGS84 positions into a grid coordinate system.
type Projector interface {
	Project(crs string, lon, lat float64) (x, y float64, err error)
}

// PointSampler reads single pixel values at geographic positions,
// projecting through the configured Projector first.
type PointSampler struct {
	Proj Projector
}

// Sample returns the pixel value of one band at a WGS84 position. ok is
// false when the position falls outside the raster or hits nodata.
func (s PointSampler) Sample(r *Raster, band int, lon, lat float64) (float32, bool, error) {
	if band < 0 || band >= len(r.Bands) {
		return 0, false, fmt.Errorf("band %d out of range (raster has %d)", band+1, len(r.Bands))
	}
	x, y, err := s.Proj.Project(r.Grid.CRS, lon, lat)
	if err != nil {
		return 0, false, err
	}
	col, row, ok := r.Grid.PixelAt(x, y)
	if !ok {
		return 0, false, nil
	}
	v := r.At(band, col, row)
	if v == r.NoData {
		return 0, false, nil
	}
	return v, true, nil
}
