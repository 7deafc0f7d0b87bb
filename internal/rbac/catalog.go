package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Pair identifies a permission by resource and action.
type Pair struct {
	Resource string `json:"resource" yaml:"resource" validate:"required,max=64"`
	Action   string `json:"action" yaml:"action" validate:"required,max=64"`
}

// P is shorthand for building a Pair in route declarations.
func P(resource, action string) Pair {
	return Pair{Resource: resource, Action: action}
}

// String renders the pair as "resource:action".
func (p Pair) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePair parses "resource:action".
func ParsePair(raw string) (Pair, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || strings.TrimSpace(resource) == "" || strings.TrimSpace(action) == "" {
		return Pair{}, fmt.Errorf("%w: %q is not resource:action", ErrInvalidInput, raw)
	}
	return normalizePair(Pair{Resource: resource, Action: action}), nil
}

var folder = cases.Fold()

func normalizeName(s string) string {
	return folder.String(strings.TrimSpace(s))
}

func normalizePair(p Pair) Pair {
	return Pair{Resource: normalizeName(p.Resource), Action: normalizeName(p.Action)}
}

type catalogFile struct {
	Permissions []struct {
		Resource    string   `yaml:"resource"`
		Description string   `yaml:"description"`
		Actions     []string `yaml:"actions"`
	} `yaml:"permissions"`
}

// Catalog is the closed set of resource/action pairs the application recognises.
// It is populated at startup; grants and guards for unregistered pairs are rejected.
type Catalog struct {
	mu           sync.RWMutex
	descriptions map[Pair]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{descriptions: make(map[Pair]string)}
}

// DefaultCatalog returns the catalog shipped with the binary.
func DefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	if err := c.LoadYAML(defaultCatalogYAML); err != nil {
		return nil, fmt.Errorf("rbac: default catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog builds the default catalog and merges the optional file at path.
func LoadCatalog(path string) (*Catalog, error) {
	c, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rbac: read catalog %s: %w", path, err)
	}
	if err := c.LoadYAML(data); err != nil {
		return nil, fmt.Errorf("rbac: catalog %s: %w", path, err)
	}
	return c, nil
}

// LoadYAML registers every pair declared in the YAML document.
func (c *Catalog) LoadYAML(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for _, entry := range file.Permissions {
		if len(entry.Actions) == 0 {
			return fmt.Errorf("%w: resource %q declares no actions", ErrInvalidInput, entry.Resource)
		}
		for _, action := range entry.Actions {
			desc := strings.TrimSpace(entry.Description)
			if desc != "" {
				desc = desc + " (" + action + ")"
			}
			if err := c.Register(Pair{Resource: entry.Resource, Action: action}, desc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Register adds a pair to the catalog.
func (c *Catalog) Register(p Pair, description string) error {
	p = normalizePair(p)
	if p.Resource == "" || p.Action == "" || strings.Contains(p.Resource, ":") || strings.Contains(p.Action, ":") {
		return fmt.Errorf("%w: bad pair %q", ErrInvalidInput, p.String())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.descriptions == nil {
		c.descriptions = make(map[Pair]string)
	}
	c.descriptions[p] = strings.TrimSpace(description)
	return nil
}

// Resolve normalises p and reports whether it is registered. A nil catalog accepts everything.
func (c *Catalog) Resolve(p Pair) (Pair, bool) {
	p = normalizePair(p)
	if c == nil {
		return p, p.Resource != "" && p.Action != ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.descriptions[p]
	return p, ok
}

// Description returns the registered description, falling back to a generated one.
func (c *Catalog) Description(p Pair) string {
	p = normalizePair(p)
	if c != nil {
		c.mu.RLock()
		desc := c.descriptions[p]
		c.mu.RUnlock()
		if desc != "" {
			return desc
		}
	}
	return fmt.Sprintf("Permission %s on %s", p.Action, p.Resource)
}

// Pairs lists the registered pairs sorted by key.
func (c *Catalog) Pairs() []Pair {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	pairs := make([]Pair, 0, len(c.descriptions))
	for p := range c.descriptions {
		pairs = append(pairs, p)
	}
	c.mu.RUnlock()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// MustResolve panics when p is not registered. Used while mounting routes so
// misspelled guards fail at startup instead of denying at runtime.
func (c *Catalog) MustResolve(p Pair) Pair {
	resolved, ok := c.Resolve(p)
	if !ok {
		panic(fmt.Sprintf("rbac: guard references unregistered permission %q", p.String()))
	}
	return resolved
}
