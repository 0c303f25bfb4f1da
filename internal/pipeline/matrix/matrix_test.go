package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/tollgate/internal/pipeline"
)

func ids(instances []Instance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.ID
	}
	return out
}

func TestExpandTwoByTwoOrder(t *testing.T) {
	tmpl := pipeline.JobTemplate{
		Name: "test",
		Matrix: pipeline.Axes{
			{Name: "os", Values: []string{"A", "B"}},
			{Name: "toolchain", Values: []string{"X", "Y"}},
		},
	}
	instances, err := Expand(tmpl)
	require.NoError(t, err)
	require.Len(t, instances, 4)

	want := [][2]string{{"A", "X"}, {"A", "Y"}, {"B", "X"}, {"B", "Y"}}
	for i, inst := range instances {
		os, _ := inst.Assignment.Get("os")
		tc, _ := inst.Assignment.Get("toolchain")
		assert.Equal(t, want[i], [2]string{os, tc})
		assert.Equal(t, i, inst.Index)
		assert.Equal(t, "test", inst.Template)
	}
	assert.Equal(t, []string{"test (A, X)", "test (A, Y)", "test (B, X)", "test (B, Y)"}, ids(instances))
	assert.Equal(t, "os=A, toolchain=X", instances[0].Assignment.String())
}

func TestExpandZeroAxesYieldsOneInstance(t *testing.T) {
	instances, err := Expand(pipeline.JobTemplate{Name: "fmt", Tolerant: true})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "fmt", instances[0].ID)
	assert.Empty(t, instances[0].Assignment)
	assert.True(t, instances[0].Tolerant())
}

func TestExpandEmptyAxisIsConfigurationError(t *testing.T) {
	_, err := Expand(pipeline.JobTemplate{
		Name:   "test",
		Matrix: pipeline.Axes{{Name: "os", Values: []string{"A"}}, {Name: "target"}},
	})
	require.Error(t, err)
	var cfgErr *pipeline.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "jobs[test].matrix.target", cfgErr.Field)
}

func TestExpandThreeAxesFirstSlowest(t *testing.T) {
	assignments, err := Product(pipeline.Axes{
		{Name: "a", Values: []string{"1", "2"}},
		{Name: "b", Values: []string{"x"}},
		{Name: "c", Values: []string{"p", "q", "r"}},
	})
	require.NoError(t, err)
	require.Len(t, assignments, 6)
	var got []string
	for _, a := range assignments {
		got = append(got, a.Values()[0]+a.Values()[1]+a.Values()[2])
	}
	assert.Equal(t, []string{"1xp", "1xq", "1xr", "2xp", "2xq", "2xr"}, got)
}

func TestExpandExcludeAndInclude(t *testing.T) {
	tmpl := pipeline.JobTemplate{
		Name: "build",
		Matrix: pipeline.Axes{
			{Name: "os", Values: []string{"linux", "windows"}},
			{Name: "target", Values: []string{"x86_64", "wasm32"}},
		},
		Exclude: []map[string]string{{"os": "windows", "target": "wasm32"}},
		Include: []map[string]string{
			{"os": "linux", "target": "x86_64"},
			{"os": "macos", "target": "aarch64"},
		},
	}
	instances, err := Expand(tmpl)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"build (linux, x86_64)",
		"build (linux, wasm32)",
		"build (windows, x86_64)",
		"build (macos, aarch64)",
	}, ids(instances))
	assert.Equal(t, 3, instances[3].Index)
}

func TestExpandIsDeterministic(t *testing.T) {
	tmpl := pipeline.JobTemplate{
		Name:   "t",
		Matrix: pipeline.Axes{{Name: "x", Values: []string{"3", "1", "2"}}},
	}
	first, err := Expand(tmpl)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := Expand(tmpl)
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(again))
	}
	assert.Equal(t, []string{"t (3)", "t (1)", "t (2)"}, ids(first))
}

func TestExpandAllKeepsTemplateOrder(t *testing.T) {
	def := pipeline.Definition{
		ID: "ci",
		Jobs: []pipeline.JobTemplate{
			{Name: "lint"},
			{Name: "test", Matrix: pipeline.Axes{{Name: "os", Values: []string{"A", "B"}}}},
		},
	}
	instances, err := ExpandAll(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "test (A)", "test (B)"}, ids(instances))

	def.Jobs = append(def.Jobs, pipeline.JobTemplate{Name: "bad", Matrix: pipeline.Axes{{Name: "os"}}})
	_, err = ExpandAll(def)
	var cfgErr *pipeline.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ci", cfgErr.Pipeline)
}

func TestExpandAllRejectsCollidingInstanceIDs(t *testing.T) {
	def := pipeline.Definition{
		ID: "ci",
		Jobs: []pipeline.JobTemplate{
			{Name: "a (b)"},
			{Name: "a", Matrix: pipeline.Axes{{Name: "x", Values: []string{"b"}}}},
		},
	}
	_, err := ExpandAll(def)
	var cfgErr *pipeline.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ci", cfgErr.Pipeline)
	assert.Contains(t, cfgErr.Error(), `"a (b)"`)
}

func TestExpandDoesNotShareTemplateState(t *testing.T) {
	tmpl := pipeline.JobTemplate{Name: "t", Command: []string{"go", "test"}, Matrix: pipeline.Axes{{Name: "x", Values: []string{"1", "2"}}}}
	instances, err := Expand(tmpl)
	require.NoError(t, err)
	instances[0].Job.Command[0] = "changed"
	assert.Equal(t, "go", instances[1].Job.Command[0])
	assert.Equal(t, "go", tmpl.Command[0])
}
