// Package catalog loads the learning content catalog from YAML.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	"github.com/kerdos/kerdos-api/internal/ports"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Source serves a catalog loaded once at startup.
type Source struct {
	catalog *model.Catalog
}

var _ ports.CatalogSource = (*Source)(nil)

// Catalog returns the loaded catalog. Callers must not mutate it.
func (s *Source) Catalog() *model.Catalog { return s.catalog }

// Load reads the catalog at path, or the embedded catalog when path is empty.
func Load(path string) (*Source, error) {
	data := embeddedCatalog
	name := "embedded catalog"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		data, name = b, path
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &Source{catalog: c}, nil
}

// Parse decodes and validates a catalog document. Unknown keys are rejected.
func Parse(data []byte) (*model.Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c model.Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Marshal renders a catalog as YAML.
func Marshal(c *model.Catalog) ([]byte, error) {
	return yaml.Marshal(c)
}
