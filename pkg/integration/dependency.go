package integration

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// DependencyGraph maps each domain to the domains it depends on.
type DependencyGraph struct {
	Nodes map[string]*Manifest
	Edges map[string][]string
}

// DependencyResolver orders integrations so dependencies are set up first.
type DependencyResolver struct {
	logger zerolog.Logger
}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver(logger zerolog.Logger) *DependencyResolver {
	return &DependencyResolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// BuildDependencyGraph builds a dependency graph from manifests keyed by domain.
func (r *DependencyResolver) BuildDependencyGraph(manifests map[string]*Manifest) *DependencyGraph {
	graph := &DependencyGraph{
		Nodes: make(map[string]*Manifest, len(manifests)),
		Edges: make(map[string][]string, len(manifests)),
	}

	for domain, manifest := range manifests {
		graph.Nodes[domain] = manifest
		graph.Edges[domain] = manifest.DependsOn()
	}

	return graph
}

// sortedNodes makes traversal order independent of map iteration.
func (g *DependencyGraph) sortedNodes() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DetectCycles detects cycles in the dependency graph using DFS.
func (r *DependencyResolver) DetectCycles(graph *DependencyGraph) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := []string{}

	var dfs func(string)
	dfs = func(domain string) {
		visited[domain] = true
		recStack[domain] = true
		path = append(path, domain)

		for _, dep := range graph.Edges[domain] {
			if _, known := graph.Nodes[dep]; !known {
				continue
			}
			if !visited[dep] {
				dfs(dep)
			} else if recStack[dep] {
				for i, id := range path {
					if id == dep {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		path = path[:len(path)-1]
		recStack[domain] = false
	}

	for _, domain := range graph.sortedNodes() {
		if !visited[domain] {
			dfs(domain)
		}
	}

	if len(cycles) > 0 {
		r.logger.Warn().Int("count", len(cycles)).Msg("Detected dependency cycles")
	}

	return cycles
}

// ValidateDependencies checks that every dependency exists and satisfies its
// version constraint. The result maps a domain to its first problem.
func (r *DependencyResolver) ValidateDependencies(graph *DependencyGraph) map[string]error {
	errs := make(map[string]error)

	for _, domain := range graph.sortedNodes() {
		manifest := graph.Nodes[domain]
		for _, dep := range manifest.Dependencies {
			depManifest, exists := graph.Nodes[dep.Domain]
			if !exists {
				errs[domain] = fmt.Errorf("missing dependency: %s", dep.Domain)
				r.logger.Error().
					Str("integration", domain).
					Str("dependency", dep.Domain).
					Msg("Missing dependency")
				break
			}

			if dep.Version != "" {
				if err := checkVersionCompatibility(depManifest.Version, dep.Version); err != nil {
					errs[domain] = fmt.Errorf("incompatible dependency version for %s: %w", dep.Domain, err)
					r.logger.Error().
						Str("integration", domain).
						Str("dependency", dep.Domain).
						Str("required", dep.Version).
						Str("actual", depManifest.Version).
						Msg("Incompatible dependency version")
					break
				}
			}
		}
	}

	return errs
}

func checkVersionCompatibility(version, constraint string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid version %s: %w", version, err)
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %s: %w", constraint, err)
	}

	if !c.Check(v) {
		return fmt.Errorf("version %s does not satisfy constraint %s", version, constraint)
	}

	return nil
}

// TopologicalSort returns domains with dependencies before dependents. Edges to
// unknown domains are ignored here; ValidateDependencies reports them.
func (r *DependencyResolver) TopologicalSort(graph *DependencyGraph) ([]string, error) {
	if cycles := r.DetectCycles(graph); len(cycles) > 0 {
		return nil, fmt.Errorf("cannot sort graph with cycles: %v", cycles)
	}

	var sorted []string
	visited := make(map[string]bool)

	var visit func(string)
	visit = func(domain string) {
		if visited[domain] {
			return
		}
		visited[domain] = true

		for _, dep := range graph.Edges[domain] {
			if _, known := graph.Nodes[dep]; known {
				visit(dep)
			}
		}

		sorted = append(sorted, domain)
	}

	for _, domain := range graph.sortedNodes() {
		visit(domain)
	}

	r.logger.Debug().
		Int("count", len(sorted)).
		Strs("order", sorted).
		Msg("Computed setup order")

	return sorted, nil
}

// GetDependents returns the domains that directly depend on domain, sorted.
func (r *DependencyResolver) GetDependents(graph *DependencyGraph, domain string) []string {
	var dependents []string

	for id, deps := range graph.Edges {
		for _, dep := range deps {
			if dep == domain {
				dependents = append(dependents, id)
				break
			}
		}
	}

	sort.Strings(dependents)
	return dependents
}
