package npc

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/simverse/internal/game/grid"
)

// Spec describes one NPC present at startup.
type Spec struct {
	ID    string  `yaml:"id"`
	Name  string  `yaml:"name"`
	Kind  string  `yaml:"kind"`
	Color string  `yaml:"color"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
}

// Validate reports whether the spec can be registered.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("npc id must not be empty")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("npc %q: name must not be empty", s.ID)
	}
	return nil
}

// Roster is the set of NPCs loaded at startup.
type Roster struct {
	NPCs []Spec `yaml:"npcs"`
}

// Validate checks every spec and id uniqueness, reporting every violation.
func (r Roster) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(r.NPCs))
	for i, s := range r.NPCs {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("npc %d: %v", i, err))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("npc %d: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid roster: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CheckPlacement reports every NPC whose start position lies outside m or on
// an impassable cell. Such an NPC could never be given a path.
func (r Roster) CheckPlacement(m *grid.Map) error {
	var errs []string
	for _, s := range r.NPCs {
		p := grid.Point{X: s.X, Y: s.Y}
		if !m.Contains(p) || !m.Passable(m.WorldToCell(p)) {
			errs = append(errs, fmt.Sprintf("npc %q starts on impassable position (%v, %v)", s.ID, s.X, s.Y))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid roster placement: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadRosterFromBytes parses and validates a roster from YAML bytes.
//
// Postcondition: Returns a valid Roster or a non-nil error.
func LoadRosterFromBytes(data []byte) (Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Roster{}, fmt.Errorf("parsing roster YAML: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Roster{}, err
	}
	return r, nil
}

// LoadRoster reads a roster file.
//
// Precondition: path must point to a readable roster.
// Postcondition: Returns a valid Roster or a non-nil error.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("reading roster file %s: %w", path, err)
	}
	r, err := LoadRosterFromBytes(data)
	if err != nil {
		return Roster{}, fmt.Errorf("loading roster from %s: %w", path, err)
	}
	return r, nil
}

// Populate adds every roster entry to reg.
//
// Postcondition: Returns the first registration error, if any.
func (r Roster) Populate(reg *Registry) error {
	for _, s := range r.NPCs {
		if err := reg.Add(s); err != nil {
			return err
		}
	}
	return nil
}
