package namespace

import (
	"fmt"
	"strings"
)

// Partition is one of the logical cache partitions.
type Partition int

const (
	Static Partition = iota
	Fonts
	Generic
)

func (p Partition) String() string {
	switch p {
	case Static:
		return "static"
	case Fonts:
		return "fonts"
	case Generic:
		return "generic"
	}
	return fmt.Sprintf("partition(%d)", int(p))
}

const versionSeparator = "-"

// NamespaceId identifies a versioned cache namespace.
// Two ids are the same namespace only if both prefix and version match.
type NamespaceId struct {
	Prefix  string
	Version string
}

// String returns the storage name of the namespace, e.g. `panjika-static-v1.1`.
func (id NamespaceId) String() string {
	if id.Version == "" {
		return id.Prefix
	}
	return id.Prefix + versionSeparator + id.Version
}

func (id NamespaceId) Equal(other NamespaceId) bool {
	return id.Prefix == other.Prefix && id.Version == other.Version
}

// IsZero reports whether the id has neither prefix nor version.
func (id NamespaceId) IsZero() bool {
	return id.Prefix == "" && id.Version == ""
}

// Parse splits a storage name into prefix and version.
// The version is the part after the last `-v` followed by a digit.
// Names without such a suffix get an empty version.
func Parse(name string) NamespaceId {
	for i := strings.LastIndex(name, versionSeparator+"v"); i > 0; i = strings.LastIndex(name[:i], versionSeparator+"v") {
		rest := name[i+2:]
		if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
			return NamespaceId{Prefix: name[:i], Version: name[i+1:]}
		}
	}
	return NamespaceId{Prefix: name}
}
