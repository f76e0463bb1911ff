package item

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Artifact file names inside an item directory.
const (
	itemFile     = "item.json"
	prdFile      = "prd.json"
	ResearchFile = "research.md"
	PlanFile     = "plan.md"
	PRFile       = "pr.md"
	logsDir      = "logs"
)

const maxSeq = 999

// Store is the durable item store rooted at <repo>/.wreckit. All writes go
// through a temp-file-and-rename so a crash never leaves a half-written
// record behind. The mutex serializes writers within this process; the
// rename gives atomicity against readers.
type Store struct {
	root string
	mu   sync.Mutex
	log  *log.Logger

	now func() time.Time
}

// NewStore returns a store for the repository rooted at root. The .wreckit
// directory is created lazily on first write.
func NewStore(root string) *Store {
	return &Store{
		root: root,
		log:  logging.New("store"),
		now:  time.Now,
	}
}

// ItemsDir is the directory holding one subdirectory per section.
func (s *Store) ItemsDir() string {
	return filepath.Join(s.root, ".wreckit", "items")
}

// Dir returns the directory for an item id.
func (s *Store) Dir(id string) (string, error) {
	section, _, _, err := ParseID(id)
	if err != nil {
		return "", werr.Wrap(werr.KindUsage, err, "bad item id")
	}
	rel := id[len(section)+1:]
	return filepath.Join(s.ItemsDir(), section, rel), nil
}

// Create allocates the next sequence number in section and persists a new
// item in the idea state. Allocation scans the section directory for the
// highest existing number, then claims the successor with an exclusive
// mkdir; a concurrent creator losing the race simply rescans.
func (s *Store) Create(section, title, overview string) (*Item, error) {
	if !ValidSection(section) {
		return nil, werr.Newf(werr.KindUsage, "invalid section name %q", section)
	}
	if strings.TrimSpace(title) == "" {
		return nil, werr.New(werr.KindUsage, "item title must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slug := Slugify(title)
	sectionDir := filepath.Join(s.ItemsDir(), section)
	if err := os.MkdirAll(sectionDir, 0o755); err != nil {
		return nil, werr.Wrap(werr.KindUnknown, err, "create section directory")
	}

	for {
		seq, err := nextSeq(sectionDir)
		if err != nil {
			return nil, err
		}
		if seq > maxSeq {
			return nil, werr.Newf(werr.KindUsage, "section %q is full (%d items)", section, maxSeq)
		}
		dirName := fmt.Sprintf("%03d-%s", seq, slug)
		dir := filepath.Join(sectionDir, dirName)
		if err := os.Mkdir(dir, 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, werr.Wrap(werr.KindUnknown, err, "claim item directory")
		}

		now := s.now().UTC()
		it := &Item{
			ID:        section + "/" + dirName,
			Section:   section,
			Title:     title,
			Overview:  overview,
			State:     StateIdea,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := writeJSON(filepath.Join(dir, itemFile), it); err != nil {
			// Roll the claim back so a rescan does not trip over an empty dir.
			_ = os.RemoveAll(dir)
			return nil, err
		}
		s.log.Debug("created item", "id", it.ID)
		return it, nil
	}
}

// nextSeq returns one past the highest sequence number present in sectionDir.
// Malformed directory names are skipped, not errors.
func nextSeq(sectionDir string) (int, error) {
	entries, err := os.ReadDir(sectionDir)
	if err != nil {
		return 0, werr.Wrap(werr.KindUnknown, err, "scan section directory")
	}
	max := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < 5 || name[3] != '-' {
			continue
		}
		n := 0
		ok := true
		for _, ch := range name[:3] {
			if ch < '0' || ch > '9' {
				ok = false
				break
			}
			n = n*10 + int(ch-'0')
		}
		if ok && n > max {
			max = n
		}
	}
	return max + 1, nil
}

// Read loads a single item by id.
func (s *Store) Read(id string) (*Item, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	var it Item
	if err := readJSON(filepath.Join(dir, itemFile), &it); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, werr.Newf(werr.KindNotFound, "item %q not found", id)
		}
		return nil, err
	}
	return &it, nil
}

// Mutate applies fn to the item under the store lock and persists the result
// atomically. fn returning an error aborts the write. UpdatedAt is bumped on
// every successful mutation.
func (s *Store) Mutate(id string, fn func(*Item) error) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(it); err != nil {
		return nil, err
	}
	it.UpdatedAt = s.now().UTC()

	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, itemFile), it); err != nil {
		return nil, err
	}
	s.log.Debug("updated item", "id", id, "state", it.State)
	return it, nil
}

// Transition applies a state machine event to the item, using the persisted
// story list for the guard predicates.
func (s *Store) Transition(id string, ev Event) (*Item, error) {
	stories, err := s.Stories(id)
	if err != nil {
		return nil, err
	}
	return s.Mutate(id, func(it *Item) error {
		return Apply(it, ev, stories)
	})
}

// List returns every item in the store, sorted by id. Directories without an
// item.json are skipped with a warning rather than failing the listing.
func (s *Store) List() ([]*Item, error) {
	sections, err := os.ReadDir(s.ItemsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, werr.Wrap(werr.KindUnknown, err, "scan items directory")
	}

	var items []*Item
	for _, sec := range sections {
		if !sec.IsDir() {
			continue
		}
		dirs, err := os.ReadDir(filepath.Join(s.ItemsDir(), sec.Name()))
		if err != nil {
			return nil, werr.Wrap(werr.KindUnknown, err, "scan section %s", sec.Name())
		}
		for _, d := range dirs {
			if !d.IsDir() {
				continue
			}
			var it Item
			path := filepath.Join(s.ItemsDir(), sec.Name(), d.Name(), itemFile)
			if err := readJSON(path, &it); err != nil {
				s.log.Warn("skipping unreadable item", "dir", d.Name(), "err", err)
				continue
			}
			items = append(items, &it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Remove deletes an item directory and everything in it.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return werr.Newf(werr.KindNotFound, "item %q not found", id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return werr.Wrap(werr.KindUnknown, err, "remove item directory")
	}
	return nil
}

// SavePRD persists the PRD for an item, assigning stable sequential story
// ids (S-001, S-002, ...) to stories that arrive without one. Existing ids
// are preserved so re-planning never renumbers finished work.
func (s *Store) SavePRD(id string, prd *PRD) error {
	if len(prd.Stories) == 0 {
		return werr.New(werr.KindArtifact, "prd has no stories").WithSub(werr.SubMalformedPRD)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.Dir(id)
	if err != nil {
		return err
	}

	next := 1
	seen := map[string]bool{}
	for _, st := range prd.Stories {
		if st.StoryID != "" {
			seen[st.StoryID] = true
		}
	}
	for i := range prd.Stories {
		st := &prd.Stories[i]
		if st.StoryID == "" {
			for {
				candidate := fmt.Sprintf("S-%03d", next)
				next++
				if !seen[candidate] {
					st.StoryID = candidate
					seen[candidate] = true
					break
				}
			}
		}
		if st.Status == "" {
			st.Status = StoryPending
		}
		if !ValidStoryStatus(st.Status) {
			return werr.Newf(werr.KindArtifact, "story %s has invalid status %q", st.StoryID, st.Status).
				WithSub(werr.SubMalformedPRD)
		}
		if strings.TrimSpace(st.Title) == "" {
			return werr.Newf(werr.KindArtifact, "story %s has no title", st.StoryID).
				WithSub(werr.SubMalformedPRD)
		}
	}

	return writeJSON(filepath.Join(dir, prdFile), prd)
}

// PRD loads the persisted PRD, or a MissingArtifact error when the plan
// phase has not produced one yet.
func (s *Store) PRD(id string) (*PRD, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	var prd PRD
	if err := readJSON(filepath.Join(dir, prdFile), &prd); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, werr.Newf(werr.KindArtifact, "item %s has no prd", id).
				WithSub(werr.SubMissingArtifact)
		}
		return nil, err
	}
	return &prd, nil
}

// Stories returns the story list from the PRD, or nil when no PRD exists.
func (s *Store) Stories(id string) ([]Story, error) {
	prd, err := s.PRD(id)
	if err != nil {
		if werr.SubkindOf(err) == werr.SubMissingArtifact {
			return nil, nil
		}
		return nil, err
	}
	return prd.Stories, nil
}

// UpdateStoryStatus sets one story's status, appending notes when given.
func (s *Store) UpdateStoryStatus(id, storyID string, status StoryStatus, notes string) error {
	if !ValidStoryStatus(status) {
		return werr.Newf(werr.KindUsage, "invalid story status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	var prd PRD
	if err := readJSON(filepath.Join(dir, prdFile), &prd); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return werr.Newf(werr.KindArtifact, "item %s has no prd", id).
				WithSub(werr.SubMissingArtifact)
		}
		return err
	}
	for i := range prd.Stories {
		if prd.Stories[i].StoryID != storyID {
			continue
		}
		prd.Stories[i].Status = status
		if notes != "" {
			if prd.Stories[i].Notes != "" {
				prd.Stories[i].Notes += "\n"
			}
			prd.Stories[i].Notes += notes
		}
		return writeJSON(filepath.Join(dir, prdFile), &prd)
	}
	return werr.Newf(werr.KindNotFound, "story %q not found in item %s", storyID, id)
}

// WriteArtifact atomically replaces a markdown artifact (research.md,
// plan.md, pr.md).
func (s *Store) WriteArtifact(id, name string, content []byte) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(filepath.Join(dir, name), content)
}

// ReadArtifact loads a markdown artifact, or a MissingArtifact error.
func (s *Store) ReadArtifact(id, name string) ([]byte, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, werr.Newf(werr.KindArtifact, "item %s has no %s", id, name).
				WithSub(werr.SubMissingArtifact)
		}
		return nil, werr.Wrap(werr.KindUnknown, err, "read artifact")
	}
	return data, nil
}

// AppendPhaseLog appends raw agent output to logs/<phase>.log. Logs are
// append-only history, not state, so plain O_APPEND is enough here.
func (s *Store) AppendPhaseLog(id string, phase Phase, data []byte) error {
	dir, err := s.Dir(id)
	if err != nil {
		return err
	}
	logDir := filepath.Join(dir, logsDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return werr.Wrap(werr.KindUnknown, err, "create logs directory")
	}
	f, err := os.OpenFile(filepath.Join(logDir, string(phase)+".log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return werr.Wrap(werr.KindUnknown, err, "open phase log")
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return werr.Wrap(werr.KindUnknown, err, "append phase log")
	}
	return nil
}

// writeJSON marshals v with indentation and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return werr.Wrap(werr.KindUnknown, err, "marshal %s", filepath.Base(path))
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// readJSON loads path into target, passing fs.ErrNotExist through for
// callers that treat absence specially.
func readJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return werr.Wrap(werr.KindArtifact, err, "parse %s", filepath.Base(path))
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory, fsyncs, then
// renames over the destination.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return werr.Wrap(werr.KindUnknown, err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return werr.Wrap(werr.KindUnknown, err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return werr.Wrap(werr.KindUnknown, err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return werr.Wrap(werr.KindUnknown, err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return werr.Wrap(werr.KindUnknown, err, "rename into place")
	}
	return nil
}
