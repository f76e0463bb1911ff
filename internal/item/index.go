package item

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Index is the derived view over the store, kept at .wreckit/index.json so
// list and selection never need a full directory scan. It is a cache:
// deleting it is always safe, and a fingerprint mismatch triggers a rebuild.
type Index struct {
	// Fingerprint is the xxhash of every item file's id and mtime; see
	// fingerprint below.
	Fingerprint string    `json:"fingerprint"`
	GeneratedAt time.Time `json:"generated_at"`
	Items       []Summary `json:"items"`
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, ".wreckit", "index.json")
}

// fingerprint hashes the sorted "id|mtime" lines of every item.json under
// the store. Any create, mutate, or remove changes the digest.
func (s *Store) fingerprint() (string, error) {
	var lines []string
	err := filepath.WalkDir(s.ItemsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != itemFile {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.ItemsDir(), filepath.Dir(path))
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%s|%d", filepath.ToSlash(rel), info.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "empty", nil
		}
		return "", werr.Wrap(werr.KindUnknown, err, "fingerprint store")
	}
	sort.Strings(lines)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(lines, "\n"))), nil
}

// Reindex rebuilds the index from the item directories and writes it
// atomically. Returns the fresh index.
func (s *Store) Reindex() (*Index, error) {
	items, err := s.List()
	if err != nil {
		return nil, err
	}
	fp, err := s.fingerprint()
	if err != nil {
		return nil, err
	}

	idx := &Index{
		Fingerprint: fp,
		GeneratedAt: s.now().UTC(),
		Items:       make([]Summary, 0, len(items)),
	}
	for _, it := range items {
		idx.Items = append(idx.Items, it.Summary())
	}

	if err := os.MkdirAll(filepath.Dir(s.indexPath()), 0o755); err != nil {
		return nil, werr.Wrap(werr.KindUnknown, err, "create .wreckit directory")
	}
	if err := writeJSON(s.indexPath(), idx); err != nil {
		return nil, err
	}
	s.log.Debug("reindexed", "items", len(idx.Items), "fingerprint", fp)
	return idx, nil
}

// Index returns the current index, rebuilding it when the file is missing,
// unreadable, or stale against the directory fingerprint.
func (s *Store) Index() (*Index, error) {
	fp, err := s.fingerprint()
	if err != nil {
		return nil, err
	}

	var idx Index
	if err := readJSON(s.indexPath(), &idx); err == nil && idx.Fingerprint == fp {
		return &idx, nil
	}
	return s.Reindex()
}
