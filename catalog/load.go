package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// document is the raw YAML shape of a catalog file.
type document struct {
	Resources map[string]*ResourceDefinition `yaml:"resources"`
	Processes map[string]*ProcessDefinition  `yaml:"processes"`
	Manager   ManagerSettings                `yaml:"manager"`
}

// Catalog is the immutable registry of resource and process definitions.
// It is built once by Load and never mutated afterwards; lookups are safe
// for concurrent use.
type Catalog struct {
	resources map[string]*ResourceDefinition
	processes map[string]*ProcessDefinition
	manager   ManagerSettings
}

// Load parses and validates a catalog document. Unknown YAML keys and any
// malformed entry fail the load; a partially-valid catalog is never
// returned.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	c := &Catalog{
		resources: make(map[string]*ResourceDefinition, len(doc.Resources)),
		processes: make(map[string]*ProcessDefinition, len(doc.Processes)),
		manager:   doc.Manager,
	}

	for rid, def := range doc.Resources {
		if def == nil {
			return nil, fmt.Errorf("catalog: resource %q: empty definition", rid)
		}
		def.ID = rid
		if err := def.Validate(); err != nil {
			return nil, err
		}
		c.resources[rid] = def
	}

	for pid, def := range doc.Processes {
		if def == nil {
			return nil, fmt.Errorf("catalog: process %q: empty definition", pid)
		}
		def.ID = pid
		if err := def.Validate(); err != nil {
			return nil, err
		}
		c.processes[pid] = def
	}

	return c, nil
}

// Parse loads a catalog from an in-memory YAML document.
func Parse(data []byte) (*Catalog, error) {
	return Load(bytes.NewReader(data))
}

// LoadFile loads a catalog from a file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	return Load(f)
}

// Resource returns the resource definition for the given identifier.
func (c *Catalog) Resource(rid string) (*ResourceDefinition, bool) {
	def, ok := c.resources[rid]
	return def, ok
}

// Resources returns all resource definitions sorted by identifier.
func (c *Catalog) Resources() []*ResourceDefinition {
	out := make([]*ResourceDefinition, 0, len(c.resources))
	for _, def := range c.resources {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Process returns the process definition for the given identifier.
func (c *Catalog) Process(pid string) (*ProcessDefinition, bool) {
	def, ok := c.processes[pid]
	return def, ok
}

// Processes returns all process definitions sorted by identifier.
func (c *Catalog) Processes() []*ProcessDefinition {
	out := make([]*ProcessDefinition, 0, len(c.processes))
	for _, def := range c.processes {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Manager returns the manager settings block.
func (c *Catalog) Manager() ManagerSettings {
	return c.manager
}
