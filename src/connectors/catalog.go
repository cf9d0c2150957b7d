package connectors

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CatalogEntry describes one exchange the engine can route to.
type CatalogEntry struct {
	ID            uint     `yaml:"id"`
	Name          string   `yaml:"name"`
	Aliases       []string `yaml:"aliases"`
	BaseURL       string   `yaml:"base_url"`
	TestnetURL    string   `yaml:"testnet_url"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Burst         int      `yaml:"burst"`
	Enabled       bool     `yaml:"enabled"`
}

// Catalog is the set of known exchanges, indexed by id and by name.
type Catalog struct {
	Exchanges []CatalogEntry `yaml:"exchanges"`

	byName map[string]uint
}

// LoadCatalog reads the catalog from path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read exchange catalog %s: %w", path, err)
		}
		data = raw
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a yaml catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode exchange catalog: %w", err)
	}

	c.byName = make(map[string]uint)
	seen := make(map[uint]bool)
	for _, e := range c.Exchanges {
		if e.ID == 0 {
			return nil, fmt.Errorf("exchange %q: id 0 is reserved", e.Name)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("exchange id %d declared twice", e.ID)
		}
		seen[e.ID] = true
		for _, name := range append([]string{e.Name}, e.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if other, ok := c.byName[key]; ok && other != e.ID {
				return nil, fmt.Errorf("exchange name %q maps to ids %d and %d", key, other, e.ID)
			}
			c.byName[key] = e.ID
		}
	}
	return &c, nil
}

// Entry returns the catalog entry for an exchange id.
func (c *Catalog) Entry(id uint) (CatalogEntry, bool) {
	for _, e := range c.Exchanges {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// Resolve maps a numeric id or a case-insensitive name/alias to an exchange id.
// Unknown selectors resolve to 0.
func (c *Catalog) Resolve(selector string) uint {
	s := strings.ToLower(strings.TrimSpace(selector))
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if _, ok := c.Entry(uint(n)); ok {
			return uint(n)
		}
		return 0
	}
	return c.byName[s]
}
