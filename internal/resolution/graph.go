package resolution

import (
	"shipit.dev/shipit/internal/branchlist"
)

// Graph is the dependency structure decoded from a branch list: every
// resolution branch points at the base branches it reconciles, and every base
// branch knows the resolutions that depend on it.
type Graph struct {
	scheme     Scheme
	edges      map[string][]string
	dependents map[string]branchlist.List
}

// NewGraph decodes the resolution names of the list once
func NewGraph(scheme Scheme, list branchlist.List) *Graph {
	g := &Graph{
		scheme:     scheme,
		edges:      make(map[string][]string),
		dependents: make(map[string]branchlist.List),
	}
	for _, b := range list {
		g.Add(b)
	}
	return g
}

// Scheme returns the naming scheme the graph was decoded with
func (g *Graph) Scheme() Scheme {
	return g.scheme
}

// Add registers a branch and, for resolutions, its dependency edges
func (g *Graph) Add(b branchlist.Branch) {
	components := g.Components(b.Name)
	for _, name := range components {
		g.dependents[name] = append(g.dependents[name], b)
	}
}

// Components returns the decoded components of a resolution branch
func (g *Graph) Components(name string) []string {
	if components, ok := g.edges[name]; ok {
		return components
	}
	components := g.scheme.Components(name)
	g.edges[name] = components
	return components
}

// Parts returns the components of a resolution, or the name of a regular branch
func (g *Graph) Parts(name string) []string {
	if g.scheme.IsResolution(name) {
		return g.Components(name)
	}
	return []string{name}
}

// IsResolution reports whether the name is a resolution branch
func (g *Graph) IsResolution(name string) bool {
	return g.scheme.IsResolution(name)
}

// Dependents returns the resolutions referencing a base branch, in the order
// they were added
func (g *Graph) Dependents(name string) branchlist.List {
	return g.dependents[name]
}

// Missing returns the components of b that are not in present
func (g *Graph) Missing(b branchlist.Branch, present map[string]bool) []string {
	var missing []string
	for _, name := range g.Components(b.Name) {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
