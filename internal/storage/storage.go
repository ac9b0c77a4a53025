package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/maltedev/inventory-harvester/internal/models"
)

// Snapshot is the on-disk document for one source.
type Snapshot struct {
	Source      string                `json:"source"`
	GeneratedAt time.Time             `json:"generated_at"`
	Rows        []models.CanonicalRow `json:"rows"`
}

// SnapshotFile buffers rows per source and writes <dir>/<source>.json on
// Flush. Files are replaced atomically, so readers never see a partial
// document.
type SnapshotFile struct {
	mu    sync.Mutex
	dir   string
	rows  map[string][]models.CanonicalRow
	dirty map[string]bool
}

func NewSnapshotFile(dir string) (*SnapshotFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &SnapshotFile{
		dir:   dir,
		rows:  make(map[string][]models.CanonicalRow),
		dirty: make(map[string]bool),
	}, nil
}

func (s *SnapshotFile) Write(_ context.Context, rows []models.CanonicalRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		s.rows[row.Source] = append(s.rows[row.Source], row)
		s.dirty[row.Source] = true
	}
	return nil
}

// Flush rewrites the file of every source that received rows since the
// last flush.
func (s *SnapshotFile) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for source := range s.dirty {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := Snapshot{
			Source:      source,
			GeneratedAt: time.Now().UTC(),
			Rows:        s.rows[source],
		}
		if err := writeJSON(s.Path(source), doc); err != nil {
			return fmt.Errorf("failed to write snapshot for %s: %w", source, err)
		}
		delete(s.dirty, source)
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Path is where the snapshot of source is written.
func (s *SnapshotFile) Path(source string) string {
	name := unsafeName.ReplaceAllString(source, "_")
	if name == "" {
		name = "_"
	}
	return filepath.Join(s.dir, name+".json")
}

// Load reads a snapshot written by SnapshotFile.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return &doc, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, path)
}
