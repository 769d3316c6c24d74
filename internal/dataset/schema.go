package dataset

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnType is the expected cell type of a schema column.
type ColumnType string

const (
	Numeric ColumnType = "numeric"
	Text    ColumnType = "text"
)

// Column is one required column of a dataset.
type Column struct {
	Name string     `yaml:"name"`
	Type ColumnType `yaml:"type"`
}

// Schema is the ordered list of columns a dataset must carry.
type Schema struct {
	Columns []Column `yaml:"columns"`
}

//go:embed default_schema.yaml
var defaultSchemaYAML []byte

// DefaultSchema returns the embedded stroke feature schema.
func DefaultSchema() (*Schema, error) {
	return ParseSchema(defaultSchemaYAML)
}

// LoadSchema reads a schema from a YAML file. An empty path yields the
// default schema.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// ParseSchema decodes and validates a YAML schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if len(s.Columns) == 0 {
		return nil, fmt.Errorf("schema declares no columns")
	}

	seen := make(map[string]bool, len(s.Columns))
	for i := range s.Columns {
		c := &s.Columns[i]
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true

		switch c.Type {
		case "":
			c.Type = Numeric
		case Numeric, Text:
		default:
			return nil, fmt.Errorf("column %q: unknown type %q", c.Name, c.Type)
		}
	}
	return &s, nil
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
