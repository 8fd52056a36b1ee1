package engine

import (
	"testing"

	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func res(id string, deps ...string) *ir.Resource {
	return &ir.Resource{ID: id, Kind: ir.KindFile, State: ir.Present, Stage: ir.StageMain, DependsOn: deps}
}

func lastRes(id string, deps ...string) *ir.Resource {
	r := res(id, deps...)
	r.Stage = ir.StageLast
	return r
}

func TestBuildDAG_NoDependencies(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{res("a"), res("b"), res("c")})
	require.NoError(t, err)
	assert.Equal(t, 3, dag.Len())
	assert.Empty(t, dag.Dependencies("a"))
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{
		res("a", "b"),
		res("b"),
		res("c", "a"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, dag.Dependencies("a"))
	assert.Equal(t, []string{"a"}, dag.Dependents("b"))
	assert.Equal(t, []string{"a", "c"}, dag.TransitiveDependents("b"))
	assert.Equal(t, []string{"a", "b"}, dag.TransitiveDeps("c"))
}

func TestBuildDAG_DuplicateDependencyCollapsed(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{res("a"), res("b", "a", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dag.Dependencies("b"))
}

func TestBuildDAG_UnknownDependency(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{res("a", "missing")})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestBuildDAG_DuplicateID(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{res("a"), res("a")})
	var dup *DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.ID)
}

func TestBuildDAG_MainDependsOnLast(t *testing.T) {
	_, err := BuildDAG([]*ir.Resource{lastRes("agg"), res("a", "agg")})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "main-stage resource cannot depend on last-stage")
}

func TestBuildDAG_LastDependsOnMain(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{res("a"), lastRes("agg", "a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dag.Dependencies("agg"))
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	tests := []struct {
		name      string
		resources []*ir.Resource
		cycle     []string
	}{
		{
			name:      "self",
			resources: []*ir.Resource{res("a", "a")},
			cycle:     []string{"a", "a"},
		},
		{
			name:      "pair",
			resources: []*ir.Resource{res("a", "b"), res("b", "a")},
			cycle:     []string{"a", "b", "a"},
		},
		{
			name:      "triangle behind a clean node",
			resources: []*ir.Resource{res("x"), res("a", "c"), res("b", "a"), res("c", "b")},
			cycle:     []string{"a", "c", "b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDAG(tt.resources)
			var cycleErr *CycleError
			require.ErrorAs(t, err, &cycleErr)
			assert.Equal(t, tt.cycle, cycleErr.Cycle)
			assert.False(t, IsValidation(err))
		})
	}
}

func TestBuildDAG_DeclarationOrderImpliesNothing(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{res("b"), res("a")})
	require.NoError(t, err)
	assert.Empty(t, dag.Dependencies("a"))
	assert.Empty(t, dag.Dependents("b"))
}

func TestDAG_Resources(t *testing.T) {
	dag, err := BuildDAG([]*ir.Resource{res("b"), res("a")})
	require.NoError(t, err)

	var ids []string
	for _, r := range dag.Resources() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.Equal(t, "a", dag.Resource("a").ID)
	assert.Nil(t, dag.Resource("zzz"))
}
