// Package blendshape merges the keyframe timelines of blendshapes that
// several source sub-meshes contribute to one destination mesh.
package blendshape

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCopyMode is returned by ParseCopyMode for an unknown stream name.
var ErrUnknownCopyMode = errors.New("blendshape: unknown copy mode")

// CopyMode selects which delta streams are copied into the destination.
type CopyMode uint8

const (
	CopyVertices CopyMode = 1 << iota
	CopyNormals
	CopyTangents

	CopyNone CopyMode = 0
	CopyAll           = CopyVertices | CopyNormals | CopyTangents
)

// Has reports whether every bit of f is set.
func (m CopyMode) Has(f CopyMode) bool {
	return m&f == f
}

func (m CopyMode) String() string {
	if m == CopyNone {
		return "none"
	}
	var parts []string
	if m.Has(CopyVertices) {
		parts = append(parts, "vertices")
	}
	if m.Has(CopyNormals) {
		parts = append(parts, "normals")
	}
	if m.Has(CopyTangents) {
		parts = append(parts, "tangents")
	}
	return strings.Join(parts, "|")
}

// ParseCopyMode builds a mode from stream names ("vertices", "normals",
// "tangents", "all" or "none").
func ParseCopyMode(names []string) (CopyMode, error) {
	var mode CopyMode
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "vertices", "positions":
			mode |= CopyVertices
		case "normals":
			mode |= CopyNormals
		case "tangents":
			mode |= CopyTangents
		case "all":
			mode |= CopyAll
		case "none", "":
		default:
			return CopyNone, fmt.Errorf("%w: %q", ErrUnknownCopyMode, n)
		}
	}
	return mode, nil
}
