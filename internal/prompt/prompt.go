// Package prompt assembles the text sent to an agent at the start of each
// phase. Templates are purely substitutional: named {{placeholders}} map 1:1
// onto a flat variable table, with no conditionals and no code execution, so
// rendering a frozen table is deterministic. A placeholder without a binding
// fails assembly before any agent is spawned.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/wreckit-dev/wreckit/internal/logging"
	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Vars is the flat variable table a template renders against.
type Vars map[string]string

// rePlaceholder matches {{name}} with optional inner whitespace. Placeholder
// names are identifier-like on purpose; anything else passes through as
// literal text.
var rePlaceholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Render substitutes every placeholder in tmpl from vars. Any placeholder
// without a binding makes the whole render fail; the error lists every
// unbound name so a bad custom template surfaces all its problems at once.
func Render(tmpl string, vars Vars) (string, error) {
	var missing []string
	out := rePlaceholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := rePlaceholder.FindStringSubmatch(m)[1]
		val, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", werr.Newf(werr.KindArtifact, "unbound template placeholders: %s",
			strings.Join(dedupe(missing), ", ")).WithSub(werr.SubTemplate)
	}
	return out, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// Template names resolvable by a Library. The phase names double as
// override file names under .wreckit/prompts/.
const (
	NameResearch       = "research"
	NamePlan           = "plan"
	NameImplement      = "implement"
	NameImplementRetry = "implement_retry"
	NamePR             = "pr"
	NameComplete       = "complete"
	NameCritique       = "critique"
	NameIdeas          = "ideas"
)

// Library resolves template names to template text, preferring override
// files under <root>/.wreckit/prompts/<name>.md and falling back to the
// built-ins. Loaded overrides are cached for the library's lifetime.
type Library struct {
	root string
	log  *log.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewLibrary returns a library rooted at the repository root.
func NewLibrary(root string) *Library {
	return &Library{
		root:  root,
		log:   logging.New("prompt"),
		cache: make(map[string]string),
	}
}

// Template returns the template text for name.
func (l *Library) Template(name string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.cache[name]; ok {
		return cached, nil
	}

	builtin, ok := builtins[name]
	if !ok {
		return "", werr.Newf(werr.KindArtifact, "unknown prompt template %q", name).
			WithSub(werr.SubTemplate)
	}

	text := builtin
	override := filepath.Join(l.root, ".wreckit", "prompts", name+".md")
	if data, err := os.ReadFile(override); err == nil {
		l.log.Debug("using prompt override", "name", name, "path", override)
		text = string(data)
	}
	l.cache[name] = text
	return text, nil
}

// Assemble resolves and renders a template in one step.
func (l *Library) Assemble(name string, vars Vars) (string, error) {
	tmpl, err := l.Template(name)
	if err != nil {
		return "", err
	}
	rendered, err := Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("assembling %s prompt: %w", name, err)
	}
	return rendered, nil
}
