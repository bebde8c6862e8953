package namespace

import (
	"fmt"
	"strings"
)

var partitions = []Partition{Static, Fonts, Generic}

// Registry holds the namespaces that are current for a single version.
// It is immutable once created.
type Registry struct {
	version string
	ids     map[Partition]NamespaceId
}

// Prefixes names the storage prefix of every partition.
type Prefixes struct {
	Static  string `yaml:"static" env:"STATIC"`
	Fonts   string `yaml:"fonts" env:"FONTS"`
	Generic string `yaml:"generic" env:"GENERIC"`
}

// NewRegistry creates the registry for the given version.
// Every prefix must be set and unique.
func NewRegistry(version string, prefixes Prefixes) (*Registry, error) {
	if version == "" {
		return nil, fmt.Errorf("namespace version must not be empty")
	}
	byPartition := map[Partition]string{
		Static:  prefixes.Static,
		Fonts:   prefixes.Fonts,
		Generic: prefixes.Generic,
	}
	r := &Registry{
		version: version,
		ids:     make(map[Partition]NamespaceId, len(byPartition)),
	}
	seen := make(map[string]Partition)
	for _, p := range partitions {
		prefix := byPartition[p]
		if prefix == "" {
			return nil, fmt.Errorf("missing namespace prefix for %s partition", p)
		}
		if other, ok := seen[prefix]; ok {
			return nil, fmt.Errorf("namespace prefix %q used by both %s and %s", prefix, other, p)
		}
		seen[prefix] = p
		r.ids[p] = NamespaceId{Prefix: prefix, Version: version}
	}
	return r, nil
}

func (r *Registry) Version() string {
	return r.version
}

// ID returns the current namespace of a partition.
func (r *Registry) ID(p Partition) NamespaceId {
	return r.ids[p]
}

// Current returns all current namespaces, ordered static, fonts, generic.
func (r *Registry) Current() []NamespaceId {
	ids := make([]NamespaceId, 0, len(partitions))
	for _, p := range partitions {
		ids = append(ids, r.ids[p])
	}
	return ids
}

// Parse splits a storage name using the registry's known prefixes,
// so versions of any shape are recognized for them. The longest matching
// prefix wins. Names with an unknown prefix are split by the package-level Parse.
func (r *Registry) Parse(name string) NamespaceId {
	var best NamespaceId
	for _, p := range partitions {
		prefix := r.ids[p].Prefix
		version, ok := strings.CutPrefix(name, prefix+versionSeparator)
		if ok && version != "" && len(prefix) > len(best.Prefix) {
			best = NamespaceId{Prefix: prefix, Version: version}
		}
	}
	if best.IsZero() {
		return Parse(name)
	}
	return best
}

// IsCurrent reports whether the storage name belongs to this registry.
func (r *Registry) IsCurrent(name string) bool {
	id := r.Parse(name)
	for _, current := range r.ids {
		if current.Equal(id) {
			return true
		}
	}
	return false
}
