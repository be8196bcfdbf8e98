// Package catalog loads the static scenario catalog.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aexy-app/aexy/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrScenarioNotFound is returned when no scenario has the requested ID.
var ErrScenarioNotFound = errors.New("scenario not found")

//go:embed scenarios.yaml
var defaultCatalog []byte

type file struct {
	Scenarios []domain.Scenario `yaml:"scenarios"`
}

// Catalog is an immutable, ID-indexed set of scenarios.
type Catalog struct {
	ordered []domain.Scenario
	byID    map[int]domain.Scenario
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file. An empty path loads the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("catalog has no scenarios")
	}

	c := &Catalog{
		ordered: make([]domain.Scenario, 0, len(f.Scenarios)),
		byID:    make(map[int]domain.Scenario, len(f.Scenarios)),
	}
	for i, s := range f.Scenarios {
		if err := validate(s); err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("scenario %d: duplicate id %d", i, s.ID)
		}
		c.byID[s.ID] = s
		c.ordered = append(c.ordered, s)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c, nil
}

func validate(s domain.Scenario) error {
	if s.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", s.ID)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !s.Difficulty.Valid() {
		return fmt.Errorf("unknown difficulty %q", s.Difficulty)
	}
	if strings.TrimSpace(s.InitialPrompt) == "" {
		return fmt.Errorf("initial_prompt is required")
	}
	return nil
}

// Get returns the scenario with the given ID.
func (c *Catalog) Get(id int) (domain.Scenario, error) {
	s, ok := c.byID[id]
	if !ok {
		return domain.Scenario{}, fmt.Errorf("%w: %d", ErrScenarioNotFound, id)
	}
	return s, nil
}

// All returns the scenarios ordered by ID.
func (c *Catalog) All() []domain.Scenario {
	out := make([]domain.Scenario, len(c.ordered))
	copy(out, c.ordered)
	return out
}
