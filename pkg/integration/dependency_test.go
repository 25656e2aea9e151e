package integration

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(domain, version string, deps ...Dependency) *Manifest {
	return &Manifest{Domain: domain, Name: domain, Version: version, Dependencies: deps}
}

func TestDependencyResolver_TopologicalSort(t *testing.T) {
	resolver := NewDependencyResolver(zerolog.Nop())

	graph := resolver.BuildDependencyGraph(map[string]*Manifest{
		"microsoft_graph_exchange": manifest("microsoft_graph_exchange", "1.0.0", Dependency{Domain: "microsoft_graph"}),
		"microsoft_graph":          manifest("microsoft_graph", "1.0.0"),
		"bot_consumer":             manifest("bot_consumer", "1.0.0", Dependency{Domain: "microsoft_graph_exchange"}),
		"slack":                    manifest("slack", "1.0.0"),
	})

	order, err := resolver.TopologicalSort(graph)
	require.NoError(t, err)
	require.Len(t, order, 4)

	index := make(map[string]int)
	for i, d := range order {
		index[d] = i
	}
	assert.Less(t, index["microsoft_graph"], index["microsoft_graph_exchange"])
	assert.Less(t, index["microsoft_graph_exchange"], index["bot_consumer"])

	again, err := resolver.TopologicalSort(graph)
	require.NoError(t, err)
	assert.Equal(t, order, again, "order must be deterministic")
}

func TestDependencyResolver_DetectCycles(t *testing.T) {
	resolver := NewDependencyResolver(zerolog.Nop())

	graph := resolver.BuildDependencyGraph(map[string]*Manifest{
		"a": manifest("a", "1.0.0", Dependency{Domain: "b"}),
		"b": manifest("b", "1.0.0", Dependency{Domain: "a"}),
		"c": manifest("c", "1.0.0"),
	})

	cycles := resolver.DetectCycles(graph)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, cycles[0])

	_, err := resolver.TopologicalSort(graph)
	assert.Error(t, err)
}

func TestDependencyResolver_ValidateDependencies(t *testing.T) {
	resolver := NewDependencyResolver(zerolog.Nop())

	graph := resolver.BuildDependencyGraph(map[string]*Manifest{
		"base":     manifest("base", "1.4.0"),
		"ok":       manifest("ok", "1.0.0", Dependency{Domain: "base", Version: "^1.0.0"}),
		"too_new":  manifest("too_new", "1.0.0", Dependency{Domain: "base", Version: ">=2.0.0"}),
		"orphaned": manifest("orphaned", "1.0.0", Dependency{Domain: "missing"}),
	})

	errs := resolver.ValidateDependencies(graph)
	assert.Len(t, errs, 2)
	assert.ErrorContains(t, errs["too_new"], "does not satisfy")
	assert.ErrorContains(t, errs["orphaned"], "missing dependency: missing")
	assert.NotContains(t, errs, "ok")
}

func TestDependencyResolver_GetDependents(t *testing.T) {
	resolver := NewDependencyResolver(zerolog.Nop())

	graph := resolver.BuildDependencyGraph(map[string]*Manifest{
		"base": manifest("base", "1.0.0"),
		"x":    manifest("x", "1.0.0", Dependency{Domain: "base"}),
		"y":    manifest("y", "1.0.0", Dependency{Domain: "base"}),
	})

	assert.Equal(t, []string{"x", "y"}, resolver.GetDependents(graph, "base"))
	assert.Empty(t, resolver.GetDependents(graph, "x"))
}
