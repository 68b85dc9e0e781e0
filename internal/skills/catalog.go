package skills

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"mcpgate/pkg/logging"
)

// SkillDefinition describes one entry of the permission catalog.
type SkillDefinition struct {
	// ID is the stable identifier carried through the OAuth state.
	ID string `yaml:"id" json:"id"`

	// Name and Description are shown on the consent dialog.
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`

	// DefaultEnabled pre-checks the skill's checkbox on the dialog.
	DefaultEnabled bool `yaml:"defaultEnabled" json:"default_enabled,omitempty"`

	// Scopes are the OAuth scopes a grant of this skill translates to.
	// Kept for consumers that predate the skill model.
	Scopes []string `yaml:"scopes" json:"scopes,omitempty"`

	// Tools lists the MCP tool names the skill covers. Used to compute
	// ToolCount against the live server; informational only.
	Tools []string `yaml:"tools" json:"tools,omitempty"`

	// ToolCount is how many of the skill's tools the MCP server actually
	// exposes. Zero when enrichment did not run.
	ToolCount int `yaml:"-" json:"tool_count,omitempty"`
}

// Catalog is a thread-safe view of the skill catalog, optionally backed by
// a YAML file that can be reloaded while serving.
type Catalog struct {
	mu     sync.RWMutex
	skills []SkillDefinition
	path   string
}

// NewCatalog creates a catalog from a fixed skill list.
func NewCatalog(skills []SkillDefinition) *Catalog {
	return &Catalog{skills: slices.Clone(skills)}
}

// LoadCatalog reads the skill catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

type catalogFile struct {
	Skills []SkillDefinition `yaml:"skills"`
}

// Reload re-reads the backing file. On failure the previous snapshot stays
// active.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read skill catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse skill catalog %s: %w", c.path, err)
	}

	seen := make(map[string]bool, len(file.Skills))
	for _, s := range file.Skills {
		if s.ID == "" {
			return fmt.Errorf("skill catalog %s: entry without id", c.path)
		}
		if seen[s.ID] {
			return fmt.Errorf("skill catalog %s: duplicate skill %q", c.path, s.ID)
		}
		seen[s.ID] = true
	}

	c.mu.Lock()
	c.skills = file.Skills
	c.mu.Unlock()

	logging.Info("Skills", "Loaded %d skills from %s", len(file.Skills), c.path)
	return nil
}

// All returns a snapshot of the catalog in file order.
func (c *Catalog) All() []SkillDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.skills)
}

// Known reports whether id is in the catalog.
func (c *Catalog) Known(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.skills {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Filter drops unknown skill ids from requested, logging a warning per
// dropped entry. The result preserves the order of requested and never
// contains duplicates.
func (c *Catalog) Filter(requested []string) []string {
	valid := make([]string, 0, len(requested))
	for _, id := range requested {
		if !c.Known(id) {
			logging.Warn("Skills", "Dropping unknown skill %q from grant request", id)
			continue
		}
		if !slices.Contains(valid, id) {
			valid = append(valid, id)
		}
	}
	return valid
}

// Scopes derives the backward-compatible scope list for a set of granted
// skills: the union of each skill's scopes, in catalog order, deduplicated.
func (c *Catalog) Scopes(granted []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var scopes []string
	for _, s := range c.skills {
		if !slices.Contains(granted, s.ID) {
			continue
		}
		for _, scope := range s.Scopes {
			if !slices.Contains(scopes, scope) {
				scopes = append(scopes, scope)
			}
		}
	}
	return scopes
}

// SetToolCounts applies tool counts computed by enrichment. Unmatched
// skill ids are ignored.
func (c *Catalog) SetToolCounts(counts map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.skills {
		if n, ok := counts[c.skills[i].ID]; ok {
			c.skills[i].ToolCount = n
		}
	}
}

// Path returns the backing file path, if any.
func (c *Catalog) Path() string {
	return c.path
}
