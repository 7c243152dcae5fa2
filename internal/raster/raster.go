// Package raster holds the in-memory raster model shared by the pipeline
// stages. Grids are plain value types so stages can check two rasters for
// exact alignment with a single comparison.
package raster

import (
	"fmt"
	"math"
)

// Grid describes the georeferencing of a raster: coordinate reference
// system, affine transform and pixel dimensions. The transform uses the
// GDAL ordering [x0, dx, rx, y0, ry, dy]; dy is negative for north-up
// grids.
type Grid struct {
	CRS       string     `json:"crs"`
	Transform [6]float64 `json:"transform"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
}

// GridFromBounds builds a north-up grid covering [minX, maxX] x [minY, maxY]
// with the given pixel dimensions.
func GridFromBounds(crs string, minX, minY, maxX, maxY float64, width, height int) Grid {
	return Grid{
		CRS:       crs,
		Transform: [6]float64{minX, (maxX - minX) / float64(width), 0, maxY, 0, -(maxY - minY) / float64(height)},
		Width:     width,
		Height:    height,
	}
}

// Equal reports whether two grids are exactly identical, including the
// transform coefficients bit for bit.
func (g Grid) Equal(o Grid) bool {
	return g == o
}

// Bounds returns the grid extent as (minX, minY, maxX, maxY).
func (g Grid) Bounds() (minX, minY, maxX, maxY float64) {
	x0, y0 := g.Transform[0], g.Transform[3]
	x1 := g.Transform[0] + float64(g.Width)*g.Transform[1] + float64(g.Height)*g.Transform[2]
	y1 := g.Transform[3] + float64(g.Width)*g.Transform[4] + float64(g.Height)*g.Transform[5]
	return math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)
}

// PixelAt maps a coordinate in the grid CRS to the containing pixel.
// ok is false when the coordinate falls outside the grid.
func (g Grid) PixelAt(x, y float64) (col, row int, ok bool) {
	t := g.Transform
	det := t[1]*t[5] - t[2]*t[4]
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := x-t[0], y-t[3]
	fc := (dx*t[5] - dy*t[2]) / det
	fr := (dy*t[1] - dx*t[4]) / det
	col, row = int(math.Floor(fc)), int(math.Floor(fr))
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return col, row, false
	}
	return col, row, true
}

// CellCenter returns the coordinate of a pixel center in the grid CRS.
func (g Grid) CellCenter(col, row int) (x, y float64) {
	t := g.Transform
	fc, fr := float64(col)+0.5, float64(row)+0.5
	return t[0] + fc*t[1] + fr*t[2], t[3] + fc*t[4] + fr*t[5]
}

// Refine subdivides every pixel into ratio x ratio pixels. The extent is
// unchanged.
func (g Grid) Refine(ratio int) Grid {
	r := float64(ratio)
	return Grid{
		CRS:       g.CRS,
		Transform: [6]float64{g.Transform[0], g.Transform[1] / r, g.Transform[2] / r, g.Transform[3], g.Transform[4] / r, g.Transform[5] / r},
		Width:     g.Width * ratio,
		Height:    g.Height * ratio,
	}
}

// Coarsen is the inverse of Refine. It fails when the dimensions are not
// divisible by the ratio.
func (g Grid) Coarsen(ratio int) (Grid, error) {
	if g.Width%ratio != 0 || g.Height%ratio != 0 {
		return Grid{}, fmt.Errorf("grid %dx%d not divisible by ratio %d", g.Width, g.Height, ratio)
	}
	r := float64(ratio)
	return Grid{
		CRS:       g.CRS,
		Transform: [6]float64{g.Transform[0], g.Transform[1] * r, g.Transform[2] * r, g.Transform[3], g.Transform[4] * r, g.Transform[5] * r},
		Width:     g.Width / ratio,
		Height:    g.Height / ratio,
	}, nil
}

// windowEps absorbs floating point noise when snapping extents to pixel
// boundaries.
const windowEps = 1e-9

// Window returns the pixel window covering the intersection of the given
// extent with the grid. ok is false when they do not overlap. Only
// north-up grids (no rotation terms) are supported.
func (g Grid) Window(minX, minY, maxX, maxY float64) (col, row, width, height int, ok bool) {
	if g.Transform[2] != 0 || g.Transform[4] != 0 {
		return 0, 0, 0, 0, false
	}
	gMinX, gMinY, gMaxX, gMaxY := g.Bounds()
	minX, minY = math.Max(minX, gMinX), math.Max(minY, gMinY)
	maxX, maxY = math.Min(maxX, gMaxX), math.Min(maxY, gMaxY)
	if minX >= maxX || minY >= maxY {
		return 0, 0, 0, 0, false
	}
	c0 := int(math.Floor((minX-g.Transform[0])/g.Transform[1] + windowEps))
	r0 := int(math.Floor((maxY-g.Transform[3])/g.Transform[5] + windowEps))
	c1 := int(math.Ceil((maxX-g.Transform[0])/g.Transform[1] - windowEps))
	r1 := int(math.Ceil((minY-g.Transform[3])/g.Transform[5] - windowEps))
	c0, r0 = max(c0, 0), max(r0, 0)
	c1, r1 = min(c1, g.Width), min(r1, g.Height)
	if c1 <= c0 || r1 <= r0 {
		return 0, 0, 0, 0, false
	}
	return c0, r0, c1 - c0, r1 - r0, true
}

// Raster is an in-memory multiband raster. Bands are stored row-major
// with index row*Grid.Width + col, and every band shares the grid.
type Raster struct {
	Grid   Grid
	Bands  [][]float32
	NoData float32
}

// New allocates a raster with the given number of bands, filled with the
// nodata value.
func New(g Grid, nbands int, nodata float32) *Raster {
	bands := make([][]float32, nbands)
	for i := range bands {
		b := make([]float32, g.Width*g.Height)
		if nodata != 0 {
			for j := range b {
				b[j] = nodata
			}
		}
		bands[i] = b
	}
	return &Raster{Grid: g, Bands: bands, NoData: nodata}
}

// At returns the value of one pixel.
func (r *Raster) At(band, col, row int) float32 {
	return r.Bands[band][row*r.Grid.Width+col]
}

// Set assigns the value of one pixel.
func (r *Raster) Set(band, col, row int, v float32) {
	r.Bands[band][row*r.Grid.Width+col] = v
}

// Validate checks structural consistency between the grid and the pixel
// buffers.
func (r *Raster) Validate() error {
	if r.Grid.Width <= 0 || r.Grid.Height <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%d", r.Grid.Width, r.Grid.Height)
	}
	if len(r.Bands) == 0 {
		return fmt.Errorf("raster has no bands")
	}
	want := r.Grid.Width * r.Grid.Height
	for i, b := range r.Bands {
		if len(b) != want {
			return fmt.Errorf("band %d has %d pixels, grid requires %d", i+1, len(b), want)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	bands := make([][]float32, len(r.Bands))
	for i, b := range r.Bands {
		bands[i] = make([]float32, len(b))
		copy(bands[i], b)
	}
	return &Raster{Grid: r.Grid, Bands: bands, NoData: r.NoData}
}

// Scale multiplies every data pixel by the factor. Nodata pixels keep
// their value.
func (r *Raster) Scale(factor float32) {
	for _, b := range r.Bands {
		for i, v := range b {
			if v != r.NoData {
				b[i] = v * factor
			}
		}
	}
}

// Retag switches the no-data tag, rewriting every tagged pixel to the
// new value.
func (r *Raster) Retag(nodata float32) {
	if r.NoData == nodata {
		return
	}
	for _, b := range r.Bands {
		for i, v := range b {
			if v == r.NoData {
				b[i] = nodata
			}
		}
	}
	r.NoData = nodata
}

// Crop extracts a pixel window into a new raster with a shifted origin.
func (r *Raster) Crop(col, row, width, height int) (*Raster, error) {
	if col < 0 || row < 0 || width <= 0 || height <= 0 ||
		col+width > r.Grid.Width || row+height > r.Grid.Height {
		return nil, fmt.Errorf("window %d,%d %dx%d outside grid %dx%d", col, row, width, height, r.Grid.Width, r.Grid.Height)
	}
	t := r.Grid.Transform
	g := Grid{
		CRS: r.Grid.CRS,
		Transform: [6]float64{
			t[0] + float64(col)*t[1] + float64(row)*t[2], t[1], t[2],
			t[3] + float64(col)*t[4] + float64(row)*t[5], t[4], t[5],
		},
		Width:  width,
		Height: height,
	}
	out := New(g, len(r.Bands), r.NoData)
	for b := range r.Bands {
		for y := 0; y < height; y++ {
			src := r.Bands[b][(row+y)*r.Grid.Width+col:]
			copy(out.Bands[b][y*width:(y+1)*width], src[:width])
		}
	}
	return out, nil
}

// Stack combines single-band layers into one multiband raster. All layers
// must share the grid of the first one.
func Stack(layers ...*Raster) (*Raster, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	out := &Raster{Grid: layers[0].Grid, NoData: layers[0].NoData}
	for i, l := range layers {
		if !l.Grid.Equal(out.Grid) {
			return nil, fmt.Errorf("layer %d grid does not match layer 0", i+1)
		}
		out.Bands = append(out.Bands, l.Bands...)
	}
	return out, nil
}
