// Package store owns the on-disk artifact layout of the pipeline. Every
// path under the data root is derived here; the layout below one site and
// season is a compatibility contract read by external viewers:
//
//	{root}/{site}/{season}/
//	    raw/{s2,s3}/              downloaded scenes
//	    raw/ndvi/{s2,s3}/         per-scene NDVI + timeseries.json
//	    prepared/{s2,s3}/         resampled inputs + index.json
//	    prepared/fusion/          fused reflectance rasters
//	    prepared/ndvi/{s2,s3,fusion}/
//	    clouds.json
//	    records/                  stage completion records
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Sensor keys the per-product subtrees of the layout. Fused carries the
// fusion outputs through the same NDVI directory scheme as the two real
// sensors.
type Sensor string

const (
	S2    Sensor = "s2"
	S3    Sensor = "s3"
	Fused Sensor = "fusion"
)

// Sensors lists the two acquisition sensors in layout order.
func Sensors() []Sensor {
	return []Sensor{S2, S3}
}

// Store resolves artifact paths below a single data root.
type Store struct {
	root string
}

// New opens a store rooted at dir, creating it when absent.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data root is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute data root.
func (s *Store) Root() string {
	return s.root
}

// Layout addresses every artifact of one (site, season) run.
func (s *Store) Layout(site string, season int) Layout {
	return Layout{root: s.root, site: site, season: season}
}

// Layout is a path view over one site and season. All returned paths are
// absolute.
type Layout struct {
	root   string
	site   string
	season int
}

func (l Layout) seasonDir() string {
	return filepath.Join(l.root, l.site, strconv.Itoa(l.season))
}

// Dir returns the season directory itself.
func (l Layout) Dir() string { return l.seasonDir() }

// RawScenes returns the directory of downloaded scenes for one sensor.
func (l Layout) RawScenes(sensor Sensor) string {
	return filepath.Join(l.seasonDir(), "raw", string(sensor))
}

// RawNDVI returns the directory of per-scene NDVI rasters for one sensor.
func (l Layout) RawNDVI(sensor Sensor) string {
	return filepath.Join(l.seasonDir(), "raw", "ndvi", string(sensor))
}

// Prepared returns the directory of resampled inputs for one sensor.
func (l Layout) Prepared(sensor Sensor) string {
	return filepath.Join(l.seasonDir(), "prepared", string(sensor))
}

// FusionDir returns the directory of fused reflectance rasters.
func (l Layout) FusionDir() string {
	return filepath.Join(l.seasonDir(), "prepared", "fusion")
}

// PreparedNDVI returns the NDVI directory for prepared or fused rasters.
func (l Layout) PreparedNDVI(sensor Sensor) string {
	return filepath.Join(l.seasonDir(), "prepared", "ndvi", string(sensor))
}

// CloudsFile returns the path of the cloud verdict file.
func (l Layout) CloudsFile() string {
	return filepath.Join(l.seasonDir(), "clouds.json")
}

// RecordsDir returns the directory of stage completion records.
func (l Layout) RecordsDir() string {
	return filepath.Join(l.seasonDir(), "records")
}

// Rel rebases an absolute artifact path onto the season directory, for
// stable manifests.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.seasonDir(), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Abs resolves a manifest path back to an absolute one.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.seasonDir(), filepath.FromSlash(rel))
}

// Ensure creates the full directory skeleton.
func (l Layout) Ensure() error {
	dirs := []string{l.FusionDir(), l.RecordsDir()}
	for _, sensor := range Sensors() {
		dirs = append(dirs, l.RawScenes(sensor), l.RawNDVI(sensor), l.Prepared(sensor), l.PreparedNDVI(sensor))
	}
	dirs = append(dirs, l.PreparedNDVI(Fused))
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// ListFiles returns the names of regular files in dir carrying one of the
// given suffixes, sorted. A missing directory lists as empty.
func ListFiles(dir string, suffixes ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(suffixes) == 0 {
			names = append(names, e.Name())
			continue
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(e.Name(), suffix) {
				names = append(names, e.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// NonEmpty reports whether path names a regular file with content.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// WriteFileAtomic writes data to path through a temp file and rename, so
// readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON reads a JSON file into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
