package safety

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Severity grades how much damage a destructive command can do.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Entry describes one family of destructive commands.
type Entry struct {
	Name         string   `yaml:"name"`
	Severity     Severity `yaml:"severity"`
	Patterns     []string `yaml:"patterns"`
	Risks        []string `yaml:"risks"`
	Checklist    []Item   `yaml:"checklist"`
	Alternatives []string `yaml:"alternatives"`

	res []*regexp.Regexp
}

// Matches reports whether command falls under this entry.
func (e *Entry) Matches(command string) bool {
	for _, re := range e.res {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// Catalog is an ordered list of destructive command entries.
type Catalog struct {
	entries []*Entry
}

// DefaultCatalog returns the built-in catalog. It panics if the embedded
// data is malformed, which a test guards against.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("safety: built-in catalog: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog and compiles its patterns.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []*Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("entry %d: missing name", i)
		}
		switch e.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			return nil, fmt.Errorf("entry %q: unknown severity %q", e.Name, e.Severity)
		}
		if len(e.Patterns) == 0 {
			return nil, fmt.Errorf("entry %q: no patterns", e.Name)
		}
		seen := make(map[string]bool, len(e.Checklist))
		for _, it := range e.Checklist {
			if it.Key == "" || seen[it.Key] {
				return nil, fmt.Errorf("entry %q: checklist key %q empty or duplicated", e.Name, it.Key)
			}
			seen[it.Key] = true
		}
		for _, p := range e.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("entry %q: pattern %q: %w", e.Name, p, err)
			}
			e.res = append(e.res, re)
		}
	}
	return &Catalog{entries: entries}, nil
}

// Entries returns the catalog entries in match order.
func (c *Catalog) Entries() []*Entry {
	return append([]*Entry(nil), c.entries...)
}

// Classify returns the first entry matching command, or nil when the
// command is not known to be destructive.
func (c *Catalog) Classify(command string) *Entry {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}
	for _, e := range c.entries {
		if e.Matches(command) {
			return e
		}
	}
	return nil
}

// GateFor classifies command and, when it is destructive, opens a fresh
// gate over the entry's checklist. It returns nil for safe commands.
func (c *Catalog) GateFor(command string, opts Options) *Gate {
	e := c.Classify(command)
	if e == nil {
		return nil
	}
	return NewGate(Action{
		Command:  strings.TrimSpace(command),
		Pattern:  e.Name,
		Severity: e.Severity,
	}, e.Checklist, opts)
}
