package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/ir"
)

func edges(pairs ...string) []ir.Edge {
	var out []ir.Edge
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ir.Edge{AtomUID: pairs[i], DependsOn: pairs[i+1]})
	}
	return out
}

func TestFindCycles_Empty(t *testing.T) {
	assert.Empty(t, FindCycles(nil))
	assert.False(t, DetectCycle(nil))
}

func TestFindCycles_DAG(t *testing.T) {
	// A depends on B and C, both depend on D
	g := edges("A", "B", "A", "C", "B", "D", "C", "D")
	assert.Empty(t, FindCycles(g))
	assert.False(t, DetectCycle(g))
}

func TestFindCycles_SelfLoop(t *testing.T) {
	cycles := FindCycles(edges("A", "A", "A", "B"))
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"A", "A"}, cycles[0])
}

func TestFindCycles_ThreeNodeCycle(t *testing.T) {
	cycles := FindCycles(edges("C", "A", "A", "B", "B", "C", "C", "D"))
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cycles[0])
}

func TestFindCycles_MultipleCycles(t *testing.T) {
	g := edges(
		"A", "B", "B", "A", // first cycle
		"X", "Y", "Y", "Z", "Z", "X", // second cycle
		"B", "X", // bridge, not part of a cycle
	)
	cycles := FindCycles(g)
	require.Len(t, cycles, 2)
	assert.Equal(t, []string{"A", "B", "A"}, cycles[0])
	assert.Equal(t, []string{"X", "Y", "Z", "X"}, cycles[1])
	assert.True(t, DetectCycle(g))
}

func TestFindCycles_PathNeedsBacktracking(t *testing.T) {
	// From A the first sorted neighbor B is a dead end inside the
	// component walk unless the path backtracks through C.
	g := edges("A", "B", "A", "C", "B", "C", "C", "A")
	cycles := FindCycles(g)
	require.Len(t, cycles, 1)
	path := cycles[0]
	assert.Equal(t, "A", path[0])
	assert.Equal(t, "A", path[len(path)-1])
	for i := 0; i+1 < len(path); i++ {
		assert.Contains(t, g, ir.Edge{AtomUID: path[i], DependsOn: path[i+1]})
	}
}

func TestFindCycles_Deterministic(t *testing.T) {
	g := edges("Q", "P", "P", "Q", "M", "N", "N", "M")
	first := FindCycles(g)
	for range 20 {
		assert.Equal(t, first, FindCycles(g))
	}
}
