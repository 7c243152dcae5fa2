// Package gtiff implements the raster codec, warper and projector on
// top of GDAL through godal. Scenes and prepared rasters are GeoTIFF
// files; grids can live in any coordinate system GDAL understands.
package gtiff

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/pantierra/efast-tool/internal/raster"
)

var registerOnce sync.Once

// register loads the GDAL drivers. Safe to call from every entry point;
// only the first call does work.
func register() {
	registerOnce.Do(godal.RegisterAll)
}

// Codec reads and writes GeoTIFF rasters. Band data is handled as
// float32 regardless of the stored data type.
type Codec struct{}

func (Codec) Decode(path string) (*raster.Raster, error) {
	register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster %s: %w", filepath.Base(path), err)
	}
	defer ds.Close()

	transform, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("raster %s has no geotransform: %w", filepath.Base(path), err)
	}
	structure := ds.Structure()
	grid := raster.Grid{
		CRS:       ds.Projection(),
		Transform: transform,
		Width:     structure.SizeX,
		Height:    structure.SizeY,
	}

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster %s has no bands", filepath.Base(path))
	}
	var nodata float32
	if v, ok := bands[0].NoData(); ok {
		nodata = float32(v)
	}

	out := raster.New(grid, len(bands), nodata)
	for i, band := range bands {
		if err := band.Read(0, 0, out.Bands[i], grid.Width, grid.Height); err != nil {
			return nil, fmt.Errorf("read band %d of %s: %w", i+1, filepath.Base(path), err)
		}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("raster %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func (Codec) Encode(path string, r *raster.Raster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	register()

	// Write into a temporary file first so a file that exists under the
	// final name is always complete.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gtiff-*")
	if err != nil {
		return fmt.Errorf("create raster file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	ds, err := godal.Create(godal.GTiff, tmp.Name(), len(r.Bands), godal.Float32,
		r.Grid.Width, r.Grid.Height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"))
	if err != nil {
		return fmt.Errorf("create raster %s: %w", filepath.Base(path), err)
	}
	if err := fillDataset(ds, r); err != nil {
		ds.Close()
		return fmt.Errorf("write raster %s: %w", filepath.Base(path), err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("finalize raster %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("finalize raster file: %w", err)
	}
	return nil
}

// fillDataset copies grid, nodata and pixel data onto a freshly created
// dataset whose dimensions already match.
func fillDataset(ds *godal.Dataset, r *raster.Raster) error {
	if err := ds.SetGeoTransform(r.Grid.Transform); err != nil {
		return fmt.Errorf("set geotransform: %w", err)
	}
	if r.Grid.CRS != "" {
		sr, err := spatialRef(r.Grid.CRS)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return fmt.Errorf("set spatial reference: %w", err)
		}
	}
	for i, band := range ds.Bands() {
		if err := band.SetNoData(float64(r.NoData)); err != nil {
			return fmt.Errorf("set band %d nodata: %w", i+1, err)
		}
		if err := band.Write(0, 0, r.Bands[i], r.Grid.Width, r.Grid.Height); err != nil {
			return fmt.Errorf("write band %d: %w", i+1, err)
		}
	}
	return nil
}

// wgs84 is spelled as a proj4 string so the source side of every
// transform uses longitude/latitude axis order.
const wgs84 = "+proj=longlat +datum=WGS84 +no_defs"

// Projector transforms WGS84 positions into arbitrary grid coordinate
// systems through GDAL.
type Projector struct{}

func (Projector) Project(crs string, lon, lat float64) (float64, float64, error) {
	register()
	src, err := godal.NewSpatialRefFromProj4(wgs84)
	if err != nil {
		return 0, 0, fmt.Errorf("wgs84 reference: %w", err)
	}
	defer src.Close()
	dst, err := spatialRef(crs)
	if err != nil {
		return 0, 0, err
	}
	defer dst.Close()

	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		return 0, 0, fmt.Errorf("transform to %q: %w", compactCRS(crs), err)
	}
	defer trn.Close()

	x := []float64{lon}
	y := []float64{lat}
	if err := trn.TransformEx(x, y, nil, nil); err != nil {
		return 0, 0, fmt.Errorf("project %g,%g to %q: %w", lon, lat, compactCRS(crs), err)
	}
	// EPSG orders geographic axes latitude first; grids address pixels x,y.
	if dst.EPSGTreatsAsLatLong() {
		x[0], y[0] = y[0], x[0]
	}
	return x[0], y[0], nil
}

// Warper resamples through GDAL's warp machinery, reprojecting when the
// source and target coordinate systems differ.
type Warper struct{}

func (Warper) Warp(src *raster.Raster, target raster.Grid, rs raster.Resampling) (*raster.Raster, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	register()

	srcDS, err := memDataset(src)
	if err != nil {
		return nil, fmt.Errorf("warp source: %w", err)
	}
	defer srcDS.Close()

	// The output raster carries the requested grid verbatim; the warp
	// only fills its pixels.
	out := raster.New(target, len(src.Bands), src.NoData)
	dstDS, err := memDataset(out)
	if err != nil {
		return nil, fmt.Errorf("warp target: %w", err)
	}
	defer dstDS.Close()

	if err := dstDS.WarpInto([]*godal.Dataset{srcDS}, []string{"-r", string(rs)}); err != nil {
		return nil, fmt.Errorf("warp onto %dx%d grid: %w", target.Width, target.Height, err)
	}
	for i, band := range dstDS.Bands() {
		if err := band.Read(0, 0, out.Bands[i], target.Width, target.Height); err != nil {
			return nil, fmt.Errorf("read warped band %d: %w", i+1, err)
		}
	}
	return out, nil
}

// memDataset mirrors a raster into an in-memory GDAL dataset.
func memDataset(r *raster.Raster) (*godal.Dataset, error) {
	ds, err := godal.Create(godal.Memory, "", len(r.Bands), godal.Float32,
		r.Grid.Width, r.Grid.Height)
	if err != nil {
		return nil, err
	}
	if err := fillDataset(ds, r); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

// spatialRef parses the CRS spellings the pipeline encounters: EPSG
// codes, proj4 strings and WKT from decoded files.
func spatialRef(crs string) (*godal.SpatialRef, error) {
	switch {
	case crs == "":
		return nil, fmt.Errorf("raster carries no coordinate reference system")
	case strings.HasPrefix(strings.ToUpper(crs), "EPSG:"):
		code, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(crs), "EPSG:"))
		if err != nil {
			return nil, fmt.Errorf("invalid EPSG reference %q", crs)
		}
		return godal.NewSpatialRefFromEPSG(code)
	case strings.HasPrefix(crs, "+"):
		return godal.NewSpatialRefFromProj4(crs)
	default:
		return godal.NewSpatialRefFromWKT(crs)
	}
}

// compactCRS keeps WKT blobs out of error messages.
func compactCRS(crs string) string {
	if len(crs) > 32 {
		return crs[:32] + "..."
	}
	return crs
}
