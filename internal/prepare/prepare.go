// Package prepare aligns raw sensor scenes onto the shared fusion
// grids. The coarse grid comes from a reference scene of the coarse
// sensor; the fine grid covers the same extent at Ratio times the
// pixel count. Everything the fusion transform reads is produced here.
package prepare

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/pantierra/efast-tool/internal/raster"
)

// Preparer resamples scenes onto the fusion grids.
type Preparer struct {
	Codec  raster.Codec
	Warper raster.Warper
	// Ratio is the fine grid refinement over the coarse reference.
	Ratio int
	// ReflectanceScale normalizes fine sensor digital numbers to
	// reflectance.
	ReflectanceScale float32
	// SpikeLimit invalidates composite input pixels whose band mean
	// reads abnormally high.
	SpikeLimit float64
	// MaxDistance caps the cloud distance layer.
	MaxDistance float64
}

// ReferenceGrids derives the coarse and fine target grids from the
// reference scene.
func (p Preparer) ReferenceGrids(refPath string) (coarse, fine raster.Grid, err error) {
	ref, err := p.Codec.Decode(refPath)
	if err != nil {
		return raster.Grid{}, raster.Grid{}, fmt.Errorf("reference scene: %w", err)
	}
	coarse = ref.Grid
	return coarse, coarse.Refine(p.Ratio), nil
}

// PrepareFine normalizes one fine sensor scene to reflectance and
// resamples it onto the fine grid. The output tags missing pixels 0.
func (p Preparer) PrepareFine(src, dst string, fine raster.Grid) error {
	scene, err := p.Codec.Decode(src)
	if err != nil {
		return err
	}
	scene.Scale(p.ReflectanceScale)

	warped, err := p.Warper.Warp(scene, fine, raster.ResampleCubic)
	if err != nil {
		return fmt.Errorf("warp %s: %w", filepath.Base(src), err)
	}
	warped.Retag(0)
	return p.Codec.Encode(dst, warped)
}

// CloudDistance derives the coarse cloud distance layer of a prepared
// reflectance raster: per fine pixel the euclidean distance to the
// nearest missing pixel, capped at MaxDistance, averaged down to the
// coarse grid. The fusion transform weighs fine observations by it.
func (p Preparer) CloudDistance(reflPath, dst string, coarse raster.Grid) error {
	refl, err := p.Codec.Decode(reflPath)
	if err != nil {
		return err
	}

	band := refl.Bands[0]
	invalid := make([]bool, len(band))
	for i, v := range band {
		invalid[i] = v == refl.NoData
	}

	dist := distanceTransform(invalid, refl.Grid.Width, refl.Grid.Height)
	hr := raster.New(refl.Grid, 1, -9999)
	for i, d := range dist {
		hr.Bands[0][i] = float32(math.Min(d, p.MaxDistance))
	}

	lr, err := p.Warper.Warp(hr, coarse, raster.ResampleAverage)
	if err != nil {
		return fmt.Errorf("warp %s: %w", filepath.Base(reflPath), err)
	}
	return p.Codec.Encode(dst, lr)
}

// Composite blends all same-date coarse sensor scenes onto the coarse
// grid. A single scene is resampled as is. With several scenes, a
// pixel of one scene is dropped when any band is missing or the band
// mean spikes past SpikeLimit; remaining contributions average
// per band, and pixels nobody covers stay tagged.
func (p Preparer) Composite(srcs []string, dst string, coarse raster.Grid) error {
	if len(srcs) == 0 {
		return fmt.Errorf("composite needs at least one scene")
	}

	warped := make([]*raster.Raster, 0, len(srcs))
	for _, src := range srcs {
		scene, err := p.Codec.Decode(src)
		if err != nil {
			return err
		}
		w, err := p.Warper.Warp(scene, coarse, raster.ResampleCubic)
		if err != nil {
			return fmt.Errorf("warp %s: %w", filepath.Base(src), err)
		}
		warped = append(warped, w)
	}

	if len(warped) == 1 {
		return p.Codec.Encode(dst, warped[0])
	}

	nbands := len(warped[0].Bands)
	for i, w := range warped[1:] {
		if len(w.Bands) != nbands {
			return fmt.Errorf("composite %s: %d bands, first scene has %d",
				filepath.Base(srcs[i+1]), len(w.Bands), nbands)
		}
	}

	out := raster.New(coarse, nbands, warped[0].NoData)
	sums := make([]float64, nbands)
	for px := 0; px < coarse.Width*coarse.Height; px++ {
		for b := range sums {
			sums[b] = 0
		}
		contributions := 0
		for _, w := range warped {
			mean, ok := pixelMean(w, px)
			if !ok || math.Abs(mean) >= p.SpikeLimit {
				continue
			}
			for b := 0; b < nbands; b++ {
				sums[b] += float64(w.Bands[b][px])
			}
			contributions++
		}
		if contributions == 0 {
			continue
		}
		for b := 0; b < nbands; b++ {
			out.Bands[b][px] = float32(sums[b] / float64(contributions))
		}
	}
	return p.Codec.Encode(dst, out)
}

func pixelMean(r *raster.Raster, px int) (float64, bool) {
	var sum float64
	for _, band := range r.Bands {
		v := band[px]
		if v == r.NoData {
			return 0, false
		}
		sum += float64(v)
	}
	return sum / float64(len(r.Bands)), true
}

// VerifyGrids checks that every file sits exactly on the wanted grid.
func (p Preparer) VerifyGrids(dir string, files []string, want raster.Grid) error {
	for _, f := range files {
		r, err := p.Codec.Decode(filepath.Join(dir, f))
		if err != nil {
			return fmt.Errorf("verify %s: %w", f, err)
		}
		if !r.Grid.Equal(want) {
			return fmt.Errorf("grid mismatch: %s is not on the dataset grid", f)
		}
	}
	return nil
}
