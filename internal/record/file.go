package record

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pantierra/efast-tool/internal/store"
)

// FileStore keeps one JSON file per stage under the records directory of
// the owning season. This is the default backend; the files sit next to
// the artifacts they describe and survive partial copies of the tree.
type FileStore struct {
	store *store.Store
}

// NewFileStore creates a file-backed record store over the data root.
func NewFileStore(s *store.Store) *FileStore {
	return &FileStore{store: s}
}

func (f *FileStore) path(site string, season int, stage string) string {
	return filepath.Join(f.store.Layout(site, season).RecordsDir(), stage+".json")
}

func (f *FileStore) Get(site string, season int, stage string) (*StageRecord, error) {
	var rec StageRecord
	err := store.ReadJSON(f.path(site, season, stage), &rec)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read stage record: %w", err)
	}
	return &rec, nil
}

func (f *FileStore) Put(rec StageRecord) error {
	dir := f.store.Layout(rec.Site, rec.Season).RecordsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create records dir: %w", err)
	}
	return store.WriteJSON(f.path(rec.Site, rec.Season, rec.Stage), rec)
}

func (f *FileStore) Delete(site string, season int, stage string) error {
	err := os.Remove(f.path(site, season, stage))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
