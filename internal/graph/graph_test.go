package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newTestStage(name string, ins, outs []string) *Stage {
	var inputs, outputs []Port
	for _, n := range ins {
		inputs = append(inputs, Port{Name: n, Required: true})
	}
	for _, n := range outs {
		outputs = append(outputs, Port{Name: n})
	}
	return ExecStage(name, "noop", inputs, outputs)
}

func TestAddStage(t *testing.T) {
	g := New("test")

	require.NoError(t, g.AddStage(newTestStage("a", nil, []string{"out"})))
	_, ok := g.Stage("a")
	assert.True(t, ok)

	err := g.AddStage(newTestStage("a", nil, nil))
	assert.ErrorContains(t, err, "duplicate stage name")
}

func TestConnect(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New("test")
		require.NoError(t, g.AddStage(newTestStage("a", nil, []string{"out"})))
		require.NoError(t, g.AddStage(newTestStage("b", []string{"in"}, nil)))

		require.NoError(t, g.Connect("a", "out", "b", "in"))

		b, _ := g.Stage("b")
		binding := b.Binding("in")
		assert.Equal(t, Upstream, binding.Kind)
		assert.Equal(t, "a", binding.Stage)
		assert.Equal(t, "out", binding.Port)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New("test")
		require.NoError(t, g.AddStage(newTestStage("a", nil, []string{"out"})))
		require.NoError(t, g.AddStage(newTestStage("b", []string{"in"}, nil)))

		var dangling *DanglingReferenceError
		err := g.Connect("dne", "out", "b", "in")
		require.ErrorAs(t, err, &dangling)
		assert.Equal(t, "dne", dangling.Stage)

		err = g.Connect("a", "out", "dne", "in")
		assert.ErrorAs(t, err, &dangling)

		var binding *PortBindingError
		err = g.Connect("a", "nope", "b", "in")
		require.ErrorAs(t, err, &binding)
		assert.Equal(t, "no such output port", binding.Reason)

		require.NoError(t, g.Connect("a", "out", "b", "in"))
		err = g.Connect("a", "out", "b", "in")
		require.ErrorAs(t, err, &binding)
		assert.Equal(t, "port already bound", binding.Reason)
	})
}

func TestBindConstant(t *testing.T) {
	g := New("test")
	require.NoError(t, g.AddStage(newTestStage("a", []string{"in"}, nil)))

	require.NoError(t, g.BindConstant("a", "in", cty.StringVal("value")))

	a, _ := g.Stage("a")
	binding := a.Binding("in")
	assert.Equal(t, Constant, binding.Kind)
	assert.Equal(t, "value", binding.Value.AsString())

	var pbe *PortBindingError
	err := g.BindConstant("a", "in", cty.StringVal("again"))
	require.ErrorAs(t, err, &pbe)
	assert.Equal(t, "port already bound", pbe.Reason)

	var dangling *DanglingReferenceError
	err = g.BindConstant("dne", "in", cty.True)
	assert.ErrorAs(t, err, &dangling)
}

func TestFreeze(t *testing.T) {
	t.Run("valid dag freezes and orders stages", func(t *testing.T) {
		g := New("test")
		require.NoError(t, g.AddStage(newTestStage("c", []string{"in"}, nil)))
		require.NoError(t, g.AddStage(newTestStage("a", nil, []string{"out"})))
		require.NoError(t, g.AddStage(newTestStage("b", []string{"in"}, []string{"out"})))
		require.NoError(t, g.Connect("a", "out", "b", "in"))
		require.NoError(t, g.Connect("b", "out", "c", "in"))

		require.NoError(t, g.Freeze())
		assert.True(t, g.Frozen())
		assert.Equal(t, []string{"a", "b", "c"}, g.TopoOrder())

		err := g.AddStage(newTestStage("d", nil, nil))
		assert.ErrorContains(t, err, "frozen")
	})

	t.Run("unbound required ports are all enumerated", func(t *testing.T) {
		g := New("test")
		require.NoError(t, g.AddStage(newTestStage("a", []string{"x", "y"}, nil)))
		require.NoError(t, g.AddStage(newTestStage("b", []string{"z"}, nil)))

		var verr *ValidationError
		err := g.Freeze()
		require.ErrorAs(t, err, &verr)
		assert.ElementsMatch(t, []PortRef{
			{Stage: "a", Port: "x"},
			{Stage: "a", Port: "y"},
			{Stage: "b", Port: "z"},
		}, verr.Unbound)
		assert.False(t, g.Frozen())
	})

	t.Run("cycle is detected", func(t *testing.T) {
		g := New("test")
		require.NoError(t, g.AddStage(newTestStage("a", []string{"in"}, []string{"out"})))
		require.NoError(t, g.AddStage(newTestStage("b", []string{"in"}, []string{"out"})))
		require.NoError(t, g.Connect("a", "out", "b", "in"))
		require.NoError(t, g.Connect("b", "out", "a", "in"))

		var verr *ValidationError
		err := g.Freeze()
		require.ErrorAs(t, err, &verr)
		assert.ErrorContains(t, verr.Cycle, "cycle detected")
	})

	t.Run("optional ports may stay unbound", func(t *testing.T) {
		g := New("test")
		s := NewStage("a", []Port{{Name: "maybe"}}, nil, Invocation{Kind: KindExec, Tool: "noop"})
		require.NoError(t, g.AddStage(s))
		assert.NoError(t, g.Freeze())
	})

	t.Run("dangling upstream output port", func(t *testing.T) {
		g := New("test")
		require.NoError(t, g.AddStage(newTestStage("a", nil, []string{"out"})))
		require.NoError(t, g.AddStage(newTestStage("b", []string{"in"}, nil)))
		stage, _ := g.Stage("b")
		stage.bindings["in"] = Binding{Kind: Upstream, Stage: "a", Port: "gone"}

		// The defect is on the producer side, not an unbound consumer port.
		var dangling *DanglingReferenceError
		err := g.Freeze()
		require.ErrorAs(t, err, &dangling)
		assert.Equal(t, "a", dangling.Stage)
		assert.Equal(t, "gone", dangling.Port)
		assert.NotContains(t, err.Error(), "unbound")
	})
}

func TestClone(t *testing.T) {
	g := New("test")
	require.NoError(t, g.AddStage(newTestStage("src", nil, []string{"out"})))
	require.NoError(t, g.AddStage(newTestStage("other", nil, []string{"out"})))
	require.NoError(t, g.AddStage(newTestStage("orig", []string{"in"}, []string{"out"})))
	require.NoError(t, g.Connect("src", "out", "orig", "in"))

	clone, err := g.Clone("orig", "copy")
	require.NoError(t, err)
	assert.Equal(t, "copy", clone.Name)

	// The clone carries the origin's bindings by value, and rewiring it
	// must never touch the origin.
	assert.Equal(t, "src", clone.Binding("in").Stage)

	g2 := New("rewire")
	require.NoError(t, g2.AddStage(newTestStage("other", nil, []string{"out"})))
	require.NoError(t, g2.AddStage(newTestStage("orig", []string{"in"}, []string{"out"})))
	orig, _ := g2.Stage("orig")
	fresh := orig.clone("copy")
	require.NoError(t, g2.AddStage(fresh))
	require.NoError(t, g2.Connect("other", "out", "copy", "in"))
	assert.Equal(t, Unbound, orig.Binding("in").Kind)

	var dangling *DanglingReferenceError
	_, err = g.Clone("dne", "copy2")
	assert.ErrorAs(t, err, &dangling)
}

func TestEmbed(t *testing.T) {
	// The child deliberately leaves a required input unbound; the parent
	// wires it through the composite stage after embedding.
	child := New("child")
	require.NoError(t, child.AddStage(newTestStage("inner", []string{"in"}, []string{"out"})))

	parent := New("parent")
	require.NoError(t, parent.AddStage(newTestStage("feeder", nil, []string{"out"})))

	embedded, err := parent.Embed(child, "sub")
	require.NoError(t, err)
	assert.Equal(t, KindSubgraph, embedded.Invocation.Kind)

	// Embedding freezes the child, so its internal wiring can no longer
	// change, and exposes the unbound required input and the output
	// namespaced on the embedded stage.
	assert.True(t, child.Frozen())
	_, ok := embedded.In("inner.in")
	assert.True(t, ok)
	_, ok = embedded.Out("inner.out")
	assert.True(t, ok)

	require.NoError(t, parent.Connect("feeder", "out", "sub", "inner.in"))
	require.NoError(t, parent.Freeze())

	t.Run("unwired exposed port fails the root freeze", func(t *testing.T) {
		child := New("child")
		require.NoError(t, child.AddStage(newTestStage("inner", []string{"in"}, []string{"out"})))

		parent := New("parent")
		_, err := parent.Embed(child, "sub")
		require.NoError(t, err)

		var verr *ValidationError
		require.ErrorAs(t, parent.Freeze(), &verr)
		assert.ElementsMatch(t, []PortRef{{Stage: "sub", Port: "inner.in"}}, verr.Unbound)
	})

	t.Run("cyclic child is rejected", func(t *testing.T) {
		child := New("cyclic")
		require.NoError(t, child.AddStage(newTestStage("x", []string{"in"}, []string{"out"})))
		require.NoError(t, child.AddStage(newTestStage("y", []string{"in"}, []string{"out"})))
		require.NoError(t, child.Connect("x", "out", "y", "in"))
		require.NoError(t, child.Connect("y", "out", "x", "in"))

		parent := New("parent")
		_, err := parent.Embed(child, "sub")
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("already frozen child embeds as-is", func(t *testing.T) {
		child := New("closed")
		require.NoError(t, child.AddStage(newTestStage("a", nil, []string{"out"})))
		require.NoError(t, child.Freeze())

		parent := New("parent")
		embedded, err := parent.Embed(child, "sub")
		require.NoError(t, err)
		_, ok := embedded.Out("a.out")
		assert.True(t, ok)
	})
}

func TestWriteDot(t *testing.T) {
	child := New("shapes")
	require.NoError(t, child.AddStage(newTestStage("area", []string{"surface"}, []string{"table"})))

	g := New("pipeline")
	require.NoError(t, g.AddStage(newTestStage("convert", nil, []string{"vtk"})))
	_, err := g.Embed(child, "shape_flow")
	require.NoError(t, err)
	require.NoError(t, g.Connect("convert", "vtk", "shape_flow", "area.surface"))
	require.NoError(t, g.Freeze())

	var hier bytes.Buffer
	require.NoError(t, g.WriteDot(&hier, "hier", 0))
	assert.Contains(t, hier.String(), "compound=true")
	assert.Contains(t, hier.String(), "cluster_shape_flow")
	// Edges into a cluster land on a real node inside it, clipped at the
	// cluster border; a bare cluster name would render as a phantom node.
	assert.Contains(t, hier.String(), `"convert" -> "shape_flow.area"`)
	assert.Contains(t, hier.String(), `lhead="cluster_shape_flow"`)
	assert.NotContains(t, hier.String(), `-> "shape_flow" [`)

	var flat bytes.Buffer
	require.NoError(t, g.WriteDot(&flat, "flat", 0))
	assert.Contains(t, flat.String(), `"shape_flow.area"`)

	var exec bytes.Buffer
	require.NoError(t, g.WriteDot(&exec, "exec", 4))
	assert.Contains(t, exec.String(), "4 contexts")
}
