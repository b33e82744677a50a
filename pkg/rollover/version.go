package rollover

import (
	"fmt"

	"github.com/juju/version/v2"
)

// Version is one software release a member can run
type Version struct {
	Tag         version.Number
	StoreFormat int    // store format the release writes
	Binary      string // member executable; empty for in-process members
}

// ParseVersion builds a Version from its textual tag
func ParseVersion(tag string, storeFormat int, binary string) (Version, error) {
	n, err := version.Parse(tag)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", tag, err)
	}
	return Version{Tag: n, StoreFormat: storeFormat, Binary: binary}, nil
}

// MustParseVersion is ParseVersion for constants
func MustParseVersion(tag string, storeFormat int) Version {
	v, err := ParseVersion(tag, storeFormat, "")
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return v.Tag.String()
}

// Newer reports whether v is a later release than other
func (v Version) Newer(other Version) bool {
	return v.Tag.Compare(other.Tag) > 0
}
