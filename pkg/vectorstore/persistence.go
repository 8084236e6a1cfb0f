package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/appcorner/vexdb/pkg/hnsw"
)

// catalogFile lists every collection's configuration under the root.
const catalogFile = "collections.json"

// snapshotExt is the per-collection snapshot suffix.
const snapshotExt = ".hnsw"

// SaveAll persists every collection: one snapshot file each plus the
// catalog, each replaced atomically via temp file and rename.
func (s *Storage) SaveAll() error {
	if s.root == "" {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, c := range s.collections {
		if err := c.index.Save(s.snapshotPath(name)); err != nil {
			return fmt.Errorf("saving collection %q: %w", name, err)
		}
	}
	return s.writeCatalogLocked()
}

// LoadAll restores every collection listed in the catalog. A collection
// whose snapshot fails validation is skipped with a log line unless
// StrictLoad is set, in which case LoadAll fails.
func (s *Storage) LoadAll() error {
	if s.root == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(s.root, catalogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil // nothing persisted yet
	}
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}

	var configs []CollectionConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cfg := range configs {
		index, err := s.openIndex(cfg)
		if err != nil {
			if s.opts.StrictLoad {
				return fmt.Errorf("loading collection %q: %w", cfg.Name, err)
			}
			log.Printf("⚠️  Skipping collection %q: %v", cfg.Name, err)
			continue
		}
		s.collections[cfg.Name] = &collection{cfg: cfg, index: index}
	}
	return nil
}

// openIndex builds an index from a catalog entry and loads its snapshot.
func (s *Storage) openIndex(cfg CollectionConfig) (*hnsw.Index, error) {
	metric, err := hnsw.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	hcfg := hnsw.DefaultConfig()
	hcfg.Metric = metric
	if cfg.HNSW.M > 0 {
		hcfg.M = cfg.HNSW.M
		hcfg.Mmax0 = 2 * cfg.HNSW.M
		hcfg.ML = 0
	}
	if cfg.HNSW.EfConstruction > 0 {
		hcfg.EfConstruction = cfg.HNSW.EfConstruction
	}
	if cfg.HNSW.EfSearch > 0 {
		hcfg.EfSearch = cfg.HNSW.EfSearch
	}

	index, err := hnsw.New(cfg.Dimension, hcfg)
	if err != nil {
		return nil, err
	}

	path := s.snapshotPath(cfg.Name)
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return index, nil // listed but never saved; start empty
	}
	if err := index.Load(path); err != nil {
		return nil, err
	}
	return index, nil
}

// writeCatalogLocked writes collections.json. Callers hold at least the
// reader lock.
func (s *Storage) writeCatalogLocked() error {
	configs := make([]CollectionConfig, 0, len(s.collections))
	for _, c := range s.collections {
		configs = append(configs, c.cfg)
	}

	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	path := filepath.Join(s.root, catalogFile)
	tmp, err := os.CreateTemp(s.root, catalogFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating catalog temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing catalog: %w", err)
	}
	return os.Rename(tmpName, path)
}

// IndexFileSize returns the on-disk snapshot size for a collection, or 0
// when persistence is disabled or nothing has been saved yet.
func (s *Storage) IndexFileSize(name string) int64 {
	if s.root == "" {
		return 0
	}
	info, err := os.Stat(s.snapshotPath(name))
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Storage) snapshotPath(name string) string {
	return filepath.Join(s.root, sanitizeName(name)+snapshotExt)
}

func (s *Storage) removeSnapshot(name string) {
	if err := os.Remove(s.snapshotPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️  Removing snapshot for %q: %v", name, err)
	}
}

// sanitizeName maps a collection name to a filename-safe form: letters,
// digits, dot, dash, and underscore pass through; everything else becomes an
// underscore.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
