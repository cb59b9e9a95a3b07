package normalize

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Category is a scored product category with its keyword and brand signals.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Brands   []string `yaml:"brands"`
}

// Catalog is the reference data for brand and category resolution.
type Catalog struct {
	Brands        []string          `yaml:"brands"`
	CategoryHints map[string]string `yaml:"category_hints"`
	Categories    []Category        `yaml:"categories"`
}

var (
	catalogOnce sync.Once
	catalog     *Catalog
	catalogErr  error
)

// LoadCatalog parses the embedded reference catalog. The result is cached;
// subsequent calls return the same instance.
func LoadCatalog() (*Catalog, error) {
	catalogOnce.Do(func() {
		var c Catalog
		if err := yaml.Unmarshal(catalogYAML, &c); err != nil {
			catalogErr = fmt.Errorf("parsing embedded catalog: %w", err)
			return
		}
		if len(c.Brands) == 0 || len(c.Categories) == 0 {
			catalogErr = fmt.Errorf("embedded catalog is incomplete")
			return
		}
		catalog = &c
	})
	return catalog, catalogErr
}

// CategoryNames returns the known category names in catalog order.
func (c *Catalog) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	return names
}
