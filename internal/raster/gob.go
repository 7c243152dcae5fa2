package raster

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// GobCodec stores rasters in gob encoding. It implements the same Codec
// contract as the GeoTIFF codec and backs tests and local tooling that
// run without GDAL.
type GobCodec struct{}

func (GobCodec) Decode(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()
	var r Raster
	if err := gob.NewDecoder(f).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode raster %s: %w", filepath.Base(path), err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("raster %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

func (GobCodec) Encode(path string, r *Raster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".raster-*")
	if err != nil {
		return fmt.Errorf("create raster file: %w", err)
	}
	if err := gob.NewEncoder(tmp).Encode(r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode raster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize raster file: %w", err)
	}
	return nil
}

// GeographicProjector treats every grid as already being in WGS84
// longitude/latitude, so projection is the identity. Counterpart of the
// GDAL-backed projector for grids that never leave EPSG:4326.
type GeographicProjector struct{}

func (GeographicProjector) Project(crs string, lon, lat float64) (float64, float64, error) {
	return lon, lat, nil
}

// AffineWarper resamples between grids that share a coordinate system
// using plain grid arithmetic. It refuses cross-CRS work; reprojection
// is the GDAL warper's job.
type AffineWarper struct{}

func (AffineWarper) Warp(src *Raster, target Grid, rs Resampling) (*Raster, error) {
	if src.Grid.CRS != target.CRS {
		return nil, fmt.Errorf("affine warp cannot reproject %q to %q", src.Grid.CRS, target.CRS)
	}
	out := New(target, len(src.Bands), src.NoData)
	switch rs {
	case ResampleAverage:
		warpAverage(src, out)
	case ResampleNearest:
		warpPointwise(src, out, sampleNearest)
	default:
		// Bilinear stands in for every interpolating kernel.
		warpPointwise(src, out, sampleBilinear)
	}
	out.Grid = target
	return out, nil
}

func warpPointwise(src, out *Raster, sample func(*Raster, int, float64, float64) (float32, bool)) {
	for row := 0; row < out.Grid.Height; row++ {
		for col := 0; col < out.Grid.Width; col++ {
			x, y := out.Grid.CellCenter(col, row)
			for b := range src.Bands {
				if v, ok := sample(src, b, x, y); ok {
					out.Set(b, col, row, v)
				}
			}
		}
	}
}

func sampleNearest(src *Raster, band int, x, y float64) (float32, bool) {
	col, row, ok := src.Grid.PixelAt(x, y)
	if !ok {
		return 0, false
	}
	v := src.At(band, col, row)
	return v, v != src.NoData
}

func sampleBilinear(src *Raster, band int, x, y float64) (float32, bool) {
	t := src.Grid.Transform
	if t[2] != 0 || t[4] != 0 {
		return sampleNearest(src, band, x, y)
	}
	fc := (x-t[0])/t[1] - 0.5
	fr := (y-t[3])/t[5] - 0.5
	c0, r0 := int(math.Floor(fc)), int(math.Floor(fr))
	wc, wr := fc-float64(c0), fr-float64(r0)

	var sum, weight float64
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			c, r := c0+dc, r0+dr
			if c < 0 || c >= src.Grid.Width || r < 0 || r >= src.Grid.Height {
				continue
			}
			v := src.At(band, c, r)
			if v == src.NoData {
				continue
			}
			w := (1 - math.Abs(float64(dc)-wc)) * (1 - math.Abs(float64(dr)-wr))
			sum += float64(v) * w
			weight += w
		}
	}
	if weight == 0 {
		return 0, false
	}
	return float32(sum / weight), true
}

// warpAverage distributes every source pixel into the target cell that
// contains its center, then averages. Exact for integer-ratio
// downsampling.
func warpAverage(src, out *Raster) {
	n := out.Grid.Width * out.Grid.Height
	for b := range src.Bands {
		sums := make([]float64, n)
		counts := make([]int, n)
		for row := 0; row < src.Grid.Height; row++ {
			for col := 0; col < src.Grid.Width; col++ {
				v := src.At(b, col, row)
				if v == src.NoData {
					continue
				}
				x, y := src.Grid.CellCenter(col, row)
				tc, tr, ok := out.Grid.PixelAt(x, y)
				if !ok {
					continue
				}
				sums[tr*out.Grid.Width+tc] += float64(v)
				counts[tr*out.Grid.Width+tc]++
			}
		}
		for i := range sums {
			if counts[i] > 0 {
				out.Bands[b][i] = float32(sums[i] / float64(counts[i]))
			}
		}
	}
}
