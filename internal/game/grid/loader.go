package grid

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Obstacle is a rectangle of blocked cells, in cell coordinates.
type Obstacle struct {
	Name string `yaml:"name"`
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
	W    int    `yaml:"w"`
	H    int    `yaml:"h"`
}

// Definition is the static map description loaded once at startup.
type Definition struct {
	Width     int        `yaml:"width"`
	Height    int        `yaml:"height"`
	CellSize  float64    `yaml:"cell_size"`
	Obstacles []Obstacle `yaml:"obstacles"`
	Blocked   []Cell     `yaml:"blocked"`
}

// Validate checks the definition's invariants, reporting every violation.
//
// Postcondition: Returns nil iff dimensions and cell size are positive and
// every obstacle has positive extent.
func (d Definition) Validate() error {
	var errs []string
	if d.Width <= 0 {
		errs = append(errs, fmt.Sprintf("width must be > 0, got %d", d.Width))
	}
	if d.Height <= 0 {
		errs = append(errs, fmt.Sprintf("height must be > 0, got %d", d.Height))
	}
	if d.CellSize <= 0 {
		errs = append(errs, fmt.Sprintf("cell_size must be > 0, got %v", d.CellSize))
	}
	for i, o := range d.Obstacles {
		if o.W <= 0 || o.H <= 0 {
			errs = append(errs, fmt.Sprintf("obstacle %d (%q) must have positive w and h, got %dx%d", i, o.Name, o.W, o.H))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid map definition: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Build rasterizes the definition into a Map. Obstacles are clipped to the grid.
//
// Precondition: d must pass Validate.
// Postcondition: Returns an immutable Map or a non-nil error.
func (d Definition) Build() (*Map, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	cells := make([]Cell, 0, len(d.Blocked))
	cells = append(cells, d.Blocked...)
	for _, o := range d.Obstacles {
		for y := max(0, o.Y); y < min(d.Height, o.Y+o.H); y++ {
			for x := max(0, o.X); x < min(d.Width, o.X+o.W); x++ {
				cells = append(cells, Cell{X: x, Y: y})
			}
		}
	}
	return New(d.Width, d.Height, d.CellSize, cells)
}

// LoadFromBytes parses and builds a Map from YAML bytes.
//
// Precondition: data must be YAML conforming to Definition.
// Postcondition: Returns a Map or a non-nil error.
func LoadFromBytes(data []byte) (*Map, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}
	return def.Build()
}

// LoadFromFile reads and builds a Map from a YAML file.
//
// Precondition: path must point to a readable map definition.
// Postcondition: Returns a Map or a non-nil error.
func LoadFromFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	m, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading map from %s: %w", path, err)
	}
	return m, nil
}
