// Package resolution implements the naming convention of conflict resolution
// branches and the dependency graph it encodes.
//
// A resolution branch is named after the branches it reconciles:
// "conflict-" followed by the sorted, deduplicated base branch names joined
// with "+". The trunk is the base of every merge and never appears in a name.
package resolution

import (
	"sort"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
)

// DefaultPrefix marks resolution branches
const DefaultPrefix = "conflict-"

// DefaultTrunk is the universal merge base
const DefaultTrunk = "master"

const separator = "+"

// Scheme names and decodes resolution branches
type Scheme struct {
	Prefix string
	Trunk  string
}

// DefaultScheme returns the scheme used when nothing is configured
func DefaultScheme() Scheme {
	return Scheme{Prefix: DefaultPrefix, Trunk: DefaultTrunk}
}

// IsResolution reports whether the branch name follows the resolution convention
func (s Scheme) IsResolution(name string) bool {
	return strings.HasPrefix(name, s.Prefix)
}

// Components returns the base branch names encoded in a resolution name, or
// nothing for a regular branch.
func (s Scheme) Components(name string) []string {
	if !s.IsResolution(name) {
		return nil
	}
	encoded := strings.TrimPrefix(name, s.Prefix)
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, separator)
}

// Parts returns the components of a resolution, or the name itself for a
// regular branch.
func (s Scheme) Parts(name string) []string {
	if s.IsResolution(name) {
		return s.Components(name)
	}
	return []string{name}
}

// Name builds the canonical resolution name for the given branches. Names of
// resolution branches are expanded into their components, so the result does
// not depend on the order in which conflicts were discovered.
func (s Scheme) Name(names ...string) string {
	seen := make(map[string]bool)
	var components []string
	for _, name := range names {
		for _, part := range s.Parts(name) {
			if part == s.Trunk || part == "" || seen[part] {
				continue
			}
			seen[part] = true
			components = append(components, part)
		}
	}
	sort.Strings(components)
	return s.Prefix + strings.Join(components, separator)
}

// NameFor builds the canonical resolution name for a base branch and the
// branches merged on top of it
func (s Scheme) NameFor(base string, merged branchlist.List) string {
	return s.Name(append([]string{base}, merged.Names()...)...)
}
