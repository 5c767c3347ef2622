package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/mckenziephagen/mindboggle/internal/graph"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
	"github.com/mckenziephagen/mindboggle/internal/registry"
	"github.com/mckenziephagen/mindboggle/internal/router"
	"github.com/mckenziephagen/mindboggle/internal/sweep"
)

type emitInput struct {
	Value string `mb:"value"`
}

type concatInput struct {
	Left  string `mb:"left"`
	Right string `mb:"right"`
}

type failOnInput struct {
	Value   string `mb:"value"`
	Trigger string `mb:"trigger"`
}

// testModel declares the transform types the executor tests run against.
func testModel() *manifest.Model {
	return &manifest.Model{
		Tools: map[string]*manifest.Tool{},
		Transforms: map[string]*manifest.Transform{
			"emit": {
				Type:    "emit",
				Handler: "Emit",
				Inputs:  map[string]*manifest.Input{"value": {Name: "value"}},
				Outputs: []*manifest.Output{{Name: "out"}},
			},
			"concat": {
				Type:    "concat",
				Handler: "Concat",
				Inputs: map[string]*manifest.Input{
					"left":  {Name: "left"},
					"right": {Name: "right"},
				},
				Outputs: []*manifest.Output{{Name: "out"}},
			},
			"fail_on": {
				Type:    "fail_on",
				Handler: "FailOn",
				Inputs: map[string]*manifest.Input{
					"value":   {Name: "value"},
					"trigger": {Name: "trigger"},
				},
				Outputs: []*manifest.Output{{Name: "out"}},
			},
		},
	}
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.RegisterHandler("Emit", &registry.Handler{
		NewInput: func() any { return new(emitInput) },
		Fn: func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
			in := input.(*emitInput)
			return map[string]cty.Value{"out": cty.StringVal(in.Value)}, nil
		},
	})
	r.RegisterHandler("Concat", &registry.Handler{
		NewInput: func() any { return new(concatInput) },
		Fn: func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
			in := input.(*concatInput)
			return map[string]cty.Value{"out": cty.StringVal(in.Left + in.Right)}, nil
		},
	})
	r.RegisterHandler("FailOn", &registry.Handler{
		NewInput: func() any { return new(failOnInput) },
		Fn: func(ctx context.Context, input any, workdir string) (map[string]cty.Value, error) {
			in := input.(*failOnInput)
			if in.Value == in.Trigger {
				return nil, fmt.Errorf("refusing value %q", in.Value)
			}
			return map[string]cty.Value{"out": cty.StringVal(in.Value)}, nil
		},
	})
	return r
}

func testEnv(t *testing.T) Env {
	t.Helper()
	return Env{
		Model:     testModel(),
		Registry:  testRegistry(),
		Converter: manifest.NewConverter(),
		Router:    router.New(t.TempDir(), nil),
		WorkRoot:  t.TempDir(),
	}
}

// command parses argv template strings the way the manifest loader would.
func command(tmpls ...string) []hcl.Expression {
	out := make([]hcl.Expression, len(tmpls))
	for i, tmpl := range tmpls {
		out[i] = manifest.MustTemplate(tmpl)
	}
	return out
}

func ports(names ...string) []graph.Port {
	out := make([]graph.Port, len(names))
	for i, n := range names {
		out[i] = graph.Port{Name: n, Required: true}
	}
	return out
}

// chainGraph builds a -> b where a emits a constant and b appends to it.
func chainGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("chain")
	require.NoError(t, g.AddStage(graph.TransformStage("a", "emit", ports("value"), ports("out"))))
	require.NoError(t, g.AddStage(graph.TransformStage("b", "concat", ports("left", "right"), ports("out"))))
	require.NoError(t, g.BindConstant("a", "value", cty.StringVal("x")))
	require.NoError(t, g.Connect("a", "out", "b", "left"))
	require.NoError(t, g.BindConstant("b", "right", cty.StringVal("y")))
	require.NoError(t, g.Freeze())
	return g
}

func TestSequentialChain(t *testing.T) {
	plan, err := NewPlan(chainGraph(t), nil, testEnv(t))
	require.NoError(t, err)

	report, err := Sequential{}.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, Done, report.Contexts[0].Stages["a"].Status)
	assert.Equal(t, Done, report.Contexts[0].Stages["b"].Status)

	outputs, err := loadOutputs(plan.workdirFor(0, "b"))
	require.NoError(t, err)
	assert.Equal(t, "xy", outputs["out"].AsString())
}

func TestParallelFailureIsolation(t *testing.T) {
	g := graph.New("cohort")
	require.NoError(t, g.AddStage(graph.TransformStage("subject_source", "identity", nil, ports("subject"))))
	require.NoError(t, g.AddStage(graph.TransformStage("b", "fail_on", ports("value", "trigger"), ports("out"))))
	require.NoError(t, g.AddStage(graph.TransformStage("c", "concat", ports("left", "right"), ports("out"))))
	require.NoError(t, g.AddStage(graph.TransformStage("d", "emit", ports("value"), ports("out"))))
	require.NoError(t, g.Connect("subject_source", "subject", "b", "value"))
	require.NoError(t, g.BindConstant("b", "trigger", cty.StringVal("S1")))
	require.NoError(t, g.Connect("b", "out", "c", "left"))
	require.NoError(t, g.BindConstant("c", "right", cty.StringVal("!")))
	require.NoError(t, g.BindConstant("d", "value", cty.StringVal("independent")))
	require.NoError(t, g.Freeze())

	exp := sweep.NewExpander()
	require.NoError(t, exp.Attach(sweep.Dimension{Name: "subject", Values: []string{"S1", "S2"}}, "subject_source"))

	env := testEnv(t)
	env.DimensionSources = map[string]string{"subject_source": "subject"}
	plan, err := NewPlan(g, exp.Expand(), env)
	require.NoError(t, err)

	report, err := Parallel{Workers: 4}.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, report.Contexts, 2)

	// The S1 context loses b and everything downstream of it, nothing else.
	s1 := report.Contexts[0].Stages
	assert.Equal(t, Done, s1["subject_source"].Status)
	assert.Equal(t, Failed, s1["b"].Status)
	assert.Equal(t, Skipped, s1["c"].Status)
	assert.Equal(t, Done, s1["d"].Status)

	// The S2 context is untouched by the S1 failure.
	s2 := report.Contexts[1].Stages
	for stage, result := range s2 {
		assert.Equal(t, Done, result.Status, "stage %s in S2", stage)
	}

	assert.True(t, report.Failed())
	require.Error(t, report.Err())
	var stageErr *StageExecutionError
	assert.ErrorAs(t, report.Err(), &stageErr)
	assert.Equal(t, "b", stageErr.Stage)
}

func TestPlanFlattensEmbeddedGraph(t *testing.T) {
	// The child's scale.left input is wired by the parent after embedding.
	child := graph.New("prep")
	require.NoError(t, child.AddStage(graph.TransformStage("scale", "concat", ports("left", "right"), ports("out"))))
	require.NoError(t, child.BindConstant("scale", "right", cty.StringVal("!")))

	g := graph.New("parent")
	require.NoError(t, g.AddStage(graph.TransformStage("a", "emit", ports("value"), ports("out"))))
	require.NoError(t, g.BindConstant("a", "value", cty.StringVal("v")))
	_, err := g.Embed(child, "prep")
	require.NoError(t, err)
	require.NoError(t, g.Connect("a", "out", "prep", "scale.left"))
	require.NoError(t, g.AddStage(graph.TransformStage("consumer", "concat", ports("left", "right"), ports("out"))))
	require.NoError(t, g.Connect("prep", "scale.out", "consumer", "left"))
	require.NoError(t, g.BindConstant("consumer", "right", cty.StringVal("?")))
	require.NoError(t, g.Freeze())

	plan, err := NewPlan(g, nil, testEnv(t))
	require.NoError(t, err)
	assert.Contains(t, plan.StageNames(), "prep.scale")

	report, err := Sequential{}.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, report.Failed(), "%v", report.Err())

	outputs, err := loadOutputs(plan.workdirFor(0, "consumer"))
	require.NoError(t, err)
	assert.Equal(t, "v!?", outputs["out"].AsString())
}

func TestRunJobReplaysPersistedOutputs(t *testing.T) {
	plan, err := NewPlan(chainGraph(t), nil, testEnv(t))
	require.NoError(t, err)

	// Each job runs in its own call, as queue workers would.
	require.NoError(t, plan.RunJob(context.Background(), "0:a"))
	require.NoError(t, plan.RunJob(context.Background(), "0:b"))

	outputs, err := loadOutputs(plan.workdirFor(0, "b"))
	require.NoError(t, err)
	assert.Equal(t, "xy", outputs["out"].AsString())

	t.Run("malformed id", func(t *testing.T) {
		assert.Error(t, plan.RunJob(context.Background(), "nope"))
	})

	t.Run("failure leaves a marker", func(t *testing.T) {
		g := graph.New("failing")
		require.NoError(t, g.AddStage(graph.TransformStage("boom", "fail_on", ports("value", "trigger"), ports("out"))))
		require.NoError(t, g.BindConstant("boom", "value", cty.StringVal("S1")))
		require.NoError(t, g.BindConstant("boom", "trigger", cty.StringVal("S1")))
		require.NoError(t, g.Freeze())

		plan, err := NewPlan(g, nil, testEnv(t))
		require.NoError(t, err)
		require.Error(t, plan.RunJob(context.Background(), "0:boom"))
		assert.True(t, hasFailed(plan.workdirFor(0, "boom")))
	})
}

func TestClusterWithMemQueue(t *testing.T) {
	plan, err := NewPlan(chainGraph(t), nil, testEnv(t))
	require.NoError(t, err)

	policy := Cluster{
		Queue:        NewMemQueue(2, plan.RunJob),
		PollInterval: 10 * time.Millisecond,
	}
	report, err := policy.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, Done, report.Contexts[0].Stages["a"].Status)
	assert.Equal(t, Done, report.Contexts[0].Stages["b"].Status)
}

func TestMemQueueSkipsDependentsOfFailures(t *testing.T) {
	g := graph.New("failing")
	require.NoError(t, g.AddStage(graph.TransformStage("boom", "fail_on", ports("value", "trigger"), ports("out"))))
	require.NoError(t, g.AddStage(graph.TransformStage("after", "concat", ports("left", "right"), ports("out"))))
	require.NoError(t, g.BindConstant("boom", "value", cty.StringVal("S1")))
	require.NoError(t, g.BindConstant("boom", "trigger", cty.StringVal("S1")))
	require.NoError(t, g.Connect("boom", "out", "after", "left"))
	require.NoError(t, g.BindConstant("after", "right", cty.StringVal("!")))
	require.NoError(t, g.Freeze())

	plan, err := NewPlan(g, nil, testEnv(t))
	require.NoError(t, err)

	policy := Cluster{
		Queue:        NewMemQueue(2, plan.RunJob),
		PollInterval: 10 * time.Millisecond,
	}
	report, err := policy.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Equal(t, Failed, report.Contexts[0].Stages["boom"].Status)
	assert.Equal(t, Skipped, report.Contexts[0].Stages["after"].Status)
}

func TestCondorQueueWritesDAG(t *testing.T) {
	plan, err := NewPlan(chainGraph(t), nil, testEnv(t))
	require.NoError(t, err)

	workspace := t.TempDir()
	queue := &CondorQueue{
		Workspace:     workspace,
		WorkerArgs:    []string{"/opt/mindboggle/bin/mindboggle", "--output", "/results"},
		SubmitCommand: []string{"true"},
		Plan:          plan,
	}

	jobs := plan.Jobs()
	require.NoError(t, queue.Submit(context.Background(), "run1", jobs))

	dag, err := os.ReadFile(filepath.Join(workspace, "run1", "pipeline.dag"))
	require.NoError(t, err)
	assert.Contains(t, string(dag), "JOB 0_a")
	assert.Contains(t, string(dag), "PARENT 0_a CHILD 0_b")

	sub, err := os.ReadFile(filepath.Join(workspace, "run1", "0_b.sub"))
	require.NoError(t, err)
	assert.Contains(t, string(sub), "executable = /opt/mindboggle/bin/mindboggle")
	assert.Contains(t, string(sub), "--run_stage 0:b")

	states, terminal, err := queue.Poll(context.Background(), "run1")
	require.NoError(t, err)
	assert.False(t, terminal)
	assert.Equal(t, JobPending, states["0:a"])

	// Complete the jobs the way condor workers would, then poll again.
	require.NoError(t, plan.RunJob(context.Background(), "0:a"))
	require.NoError(t, plan.RunJob(context.Background(), "0:b"))
	states, terminal, err = queue.Poll(context.Background(), "run1")
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.Equal(t, JobDone, states["0:b"])
}

func TestToolExecution(t *testing.T) {
	env := testEnv(t)
	env.Model.Tools["greet"] = &manifest.Tool{
		Type:    "greet",
		Binary:  "sh",
		Inputs:  map[string]*manifest.Input{},
		Outputs: []*manifest.Output{{Name: "out_file", Filename: manifest.MustTemplate("greeting.txt")}},
		Command: command("${binary}", "-c", "printf hi > ${out_file}"),
	}
	env.Router.Register("greet", "out_file", "greetings")

	g := graph.New("tools")
	require.NoError(t, g.AddStage(graph.ExecStage("greet", "greet", nil, ports("out_file"))))
	require.NoError(t, g.Freeze())

	plan, err := NewPlan(g, nil, env)
	require.NoError(t, err)
	report, err := Sequential{}.Run(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, report.Failed(), "%v", report.Err())

	// The declared output exists in the work directory and was routed.
	data, err := os.ReadFile(filepath.Join(plan.workdirFor(0, "greet"), "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	routed, err := os.ReadFile(filepath.Join(env.Router.Root(), "greetings", "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(routed))

	t.Run("templated filename and defaulted input", func(t *testing.T) {
		def := cty.StringVal("hi")
		env := testEnv(t)
		env.Model.Tools["echo"] = &manifest.Tool{
			Type:   "echo",
			Binary: "sh",
			Inputs: map[string]*manifest.Input{
				"output_name": {Name: "output_name"},
				"content":     {Name: "content", Optional: true, Default: &def},
			},
			Outputs: []*manifest.Output{{Name: "out_file", Filename: manifest.MustTemplate("${output_name}")}},
			Command: command("${binary}", "-c", "printf ${content} > ${out_file}"),
		}

		g := graph.New("tools")
		require.NoError(t, g.AddStage(graph.ExecStage("echo", "echo",
			[]graph.Port{{Name: "output_name", Required: true}, {Name: "content"}},
			ports("out_file"))))
		require.NoError(t, g.BindConstant("echo", "output_name", cty.StringVal("named.txt")))
		require.NoError(t, g.Freeze())

		plan, err := NewPlan(g, nil, env)
		require.NoError(t, err)
		report, err := Sequential{}.Run(context.Background(), plan)
		require.NoError(t, err)
		require.False(t, report.Failed(), "%v", report.Err())

		data, err := os.ReadFile(filepath.Join(plan.workdirFor(0, "echo"), "named.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))
	})

	t.Run("missing declared output fails the stage", func(t *testing.T) {
		env := testEnv(t)
		env.Model.Tools["silent"] = &manifest.Tool{
			Type:    "silent",
			Binary:  "true",
			Inputs:  map[string]*manifest.Input{},
			Outputs: []*manifest.Output{{Name: "out_file", Filename: manifest.MustTemplate("never.txt")}},
			Command: command("${binary}", "${out_file}"),
		}
		g := graph.New("tools")
		require.NoError(t, g.AddStage(graph.ExecStage("silent", "silent", nil, ports("out_file"))))
		require.NoError(t, g.Freeze())

		plan, err := NewPlan(g, nil, env)
		require.NoError(t, err)
		report, err := Sequential{}.Run(context.Background(), plan)
		require.NoError(t, err)
		assert.True(t, report.Failed())
		assert.ErrorContains(t, report.Err(), "declared output")
	})
}

func TestPlanRejectsUnfrozenGraph(t *testing.T) {
	g := graph.New("raw")
	require.NoError(t, g.AddStage(graph.TransformStage("a", "emit", ports("value"), ports("out"))))
	_, err := NewPlan(g, nil, testEnv(t))
	assert.ErrorContains(t, err, "unfrozen")
}
