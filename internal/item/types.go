// Package item implements the durable per-item store, the derived index,
// and the item state machine. One directory per item is the canonical
// storage; the global index is a derived convenience that is reconstructable
// at any time by scanning directories.
package item

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Item is the unit of work tracked through the pipeline.
type Item struct {
	// ID is "section/NNN-kebab-slug", unique across the store.
	ID       string `json:"id"`
	Section  string `json:"section"`
	Title    string `json:"title"`
	Overview string `json:"overview,omitempty"`

	State State `json:"state"`

	// Branch is empty until the implement phase starts.
	Branch   string `json:"branch,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRNumber int    `json:"pr_number,omitempty"`

	// LastError holds the most recent failure; cleared on every successful
	// transition.
	LastError string `json:"last_error,omitempty"`

	// Retries counts rollback and critique re-runs across the item's life.
	Retries int `json:"retries,omitempty"`

	// CritiqueRounds counts critique invocations for the most recent phase.
	CritiqueRounds int `json:"critique_rounds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoryStatus is the lifecycle status of a single story.
type StoryStatus string

const (
	StoryPending    StoryStatus = "pending"
	StoryInProgress StoryStatus = "in_progress"
	StoryDone       StoryStatus = "done"
	StoryBlocked    StoryStatus = "blocked"
)

// ValidStoryStatus reports whether s is a member of the status enum.
func ValidStoryStatus(s StoryStatus) bool {
	switch s {
	case StoryPending, StoryInProgress, StoryDone, StoryBlocked:
		return true
	}
	return false
}

// Story is one sub-task the plan decomposes an item into. StoryID is stable
// across the item's life.
type Story struct {
	StoryID            string      `json:"story_id"`
	Title              string      `json:"title"`
	Status             StoryStatus `json:"status"`
	AcceptanceCriteria []string    `json:"acceptance_criteria,omitempty"`
	Notes              string      `json:"notes,omitempty"`
}

// PRD is the structured product requirements record written once by the
// plan phase.
type PRD struct {
	ProblemStatement string   `json:"problem_statement"`
	Goals            []string `json:"goals,omitempty"`
	NonGoals         []string `json:"non_goals,omitempty"`
	Stories          []Story  `json:"stories"`
	OpenQuestions    []string `json:"open_questions,omitempty"`
	References       []string `json:"references,omitempty"`
}

// AllStoriesDone reports whether every story has reached done. An empty
// story list is not done.
func AllStoriesDone(stories []Story) bool {
	if len(stories) == 0 {
		return false
	}
	for _, s := range stories {
		if s.Status != StoryDone {
			return false
		}
	}
	return true
}

// Summary is the per-item record kept in the derived index.
type Summary struct {
	ID        string    `json:"id"`
	Section   string    `json:"section"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	Branch    string    `json:"branch,omitempty"`
	PRURL     string    `json:"pr_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary returns the index record for an item.
func (it *Item) Summary() Summary {
	return Summary{
		ID:        it.ID,
		Section:   it.Section,
		Title:     it.Title,
		State:     it.State,
		Branch:    it.Branch,
		PRURL:     it.PRURL,
		UpdatedAt: it.UpdatedAt,
	}
}

var (
	reSlugStrip    = regexp.MustCompile(`[^a-z0-9]+`)
	reSectionValid = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	reItemID       = regexp.MustCompile(`^([a-z0-9][a-z0-9-]*)/(\d{3})-([a-z0-9-]+)$`)
)

// maxSlugLen bounds the slug so ids stay usable as branch names and paths.
const maxSlugLen = 48

// Slugify derives the kebab-case slug for a title.
func Slugify(title string) string {
	slug := strings.ToLower(title)
	slug = reSlugStrip.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "item"
	}
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	return slug
}

// ValidSection reports whether a section name is usable as a directory name.
func ValidSection(section string) bool {
	return reSectionValid.MatchString(section)
}

// ParseID splits an item id into section, sequence number, and slug.
func ParseID(id string) (section string, seq int, slug string, err error) {
	m := reItemID.FindStringSubmatch(id)
	if m == nil {
		return "", 0, "", fmt.Errorf("invalid item id %q", id)
	}
	n := 0
	for _, ch := range m[2] {
		n = n*10 + int(ch-'0')
	}
	return m[1], n, m[3], nil
}

// BranchName returns the git branch for an item: prefix + id with the
// section separator normalized for git ref syntax.
func BranchName(prefix, id string) string {
	return prefix + strings.ReplaceAll(id, "/", "-")
}
