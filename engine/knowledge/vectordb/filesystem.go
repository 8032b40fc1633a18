package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// fileStore is a memoryStore backed by a JSON snapshot. The snapshot on disk
// is authoritative: every write reloads it under an exclusive file lock,
// applies the change and commits a new snapshot before releasing the lock, so
// processes sharing path never drop each other's records.
type fileStore struct {
	*memoryStore
	path string
	lock *flock.Flock
	// seen identifies the snapshot currently held in memory.
	seen snapshotStamp
}

type snapshotStamp struct {
	info os.FileInfo
}

// same reports whether both stamps describe the same committed snapshot.
// Every commit renames a fresh file into place, so the inode changes too.
func (a snapshotStamp) same(b snapshotStamp) bool {
	if a.info == nil || b.info == nil {
		return a.info == nil && b.info == nil
	}
	return os.SameFile(a.info, b.info) && a.info.ModTime().Equal(b.info.ModTime()) && a.info.Size() == b.info.Size()
}

func newFileStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("filesystem: config is required")
	}
	storePath := filepath.Clean(cfg.Path)
	dir := filepath.Dir(storePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory %q: %w", dir, err)
	}
	fs := &fileStore{memoryStore: newMemoryStore(cfg), path: storePath, lock: flock.New(storePath + ".lock")}
	if err := fs.refresh(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *fileStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension(ProviderFilesystem, records[i].ID, len(records[i].Embedding), s.dimension); err != nil {
			return err
		}
	}
	return s.mutate(func() bool {
		s.putLocked(s.namespace, records)
		return true
	})
}

func (s *fileStore) Delete(_ context.Context, filter Filter) error {
	return s.mutate(func() bool { return s.deleteLocked(filter) })
}

func (s *fileStore) Fetch(ctx context.Context, ids []string) ([]string, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.memoryStore.Fetch(ctx, ids)
}

func (s *fileStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s.memoryStore.Search(ctx, query, opts)
}

// mutate applies change to the latest snapshot while holding the exclusive
// lock. change reports whether anything needs to be written.
func (s *fileStore) mutate(change func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("filesystem: lock %q: %w", s.path, err)
	}
	defer func() { _ = s.lock.Unlock() }()
	if err := s.reloadLocked(true); err != nil {
		return err
	}
	if !change() {
		return nil
	}
	return s.writeLocked()
}

// refresh picks up snapshots committed by other processes.
func (s *fileStore) refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("filesystem: lock %q: %w", s.path, err)
	}
	defer func() { _ = s.lock.Unlock() }()
	return s.reloadLocked(false)
}

func (s *fileStore) stat() (snapshotStamp, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snapshotStamp{}, nil
	}
	if err != nil {
		return snapshotStamp{}, fmt.Errorf("filesystem: stat %q: %w", s.path, err)
	}
	return snapshotStamp{info: info}, nil
}

// reloadLocked replaces the in-memory records with the snapshot on disk. It
// skips unchanged snapshots unless force is set. Callers hold s.mu and the
// file lock.
func (s *fileStore) reloadLocked(force bool) error {
	stamp, err := s.stat()
	if err != nil {
		return err
	}
	if !force && stamp.same(s.seen) {
		return nil
	}
	namespaces := make(map[string]map[string]Record)
	if stamp.info != nil {
		payload, err := s.readPayload()
		if err != nil {
			return err
		}
		for namespace, records := range payload.Namespaces {
			bucket := make(map[string]Record, len(records))
			for i := range records {
				bucket[records[i].ID] = Record{
					ID:        records[i].ID,
					Text:      records[i].Text,
					Embedding: toFloat32(records[i].Embedding),
					Metadata:  records[i].Metadata,
				}
			}
			namespaces[namespace] = bucket
		}
	}
	s.namespaces = namespaces
	s.seen = stamp
	return nil
}

func (s *fileStore) readPayload() (*fileStorePayload, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("filesystem: read %q: %w", s.path, err)
	}
	var payload fileStorePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("filesystem: decode %q: %w", s.path, err)
	}
	if payload.Dimension > 0 && s.dimension != payload.Dimension {
		return nil, fmt.Errorf(
			"filesystem: stored dimension %d does not match config %d for %q",
			payload.Dimension,
			s.dimension,
			s.path,
		)
	}
	return &payload, nil
}

func (s *fileStore) writeLocked() error {
	payload := fileStorePayload{
		Dimension:  s.dimension,
		Namespaces: make(map[string][]fileStoreRecord, len(s.namespaces)),
	}
	for namespace, bucket := range s.namespaces {
		records := make([]fileStoreRecord, 0, len(bucket))
		for _, rec := range bucket {
			records = append(records, fileStoreRecord{
				ID:        rec.ID,
				Text:      rec.Text,
				Embedding: toFloat64(rec.Embedding),
				Metadata:  rec.Metadata,
			})
		}
		payload.Namespaces[namespace] = records
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("filesystem: encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filesystem: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("filesystem: commit snapshot: %w", err)
	}
	stamp, err := s.stat()
	if err != nil {
		return err
	}
	s.seen = stamp
	return nil
}

type fileStorePayload struct {
	Dimension  int                          `json:"dimension"`
	Namespaces map[string][]fileStoreRecord `json:"namespaces"`
}

type fileStoreRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float64      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i := range values {
		out[i] = float32(values[i])
	}
	return out
}
