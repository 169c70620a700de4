// Copyright (C) 2024 the da Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package executor is the tensor computation graph executor (spec.md
// §4.10): it wires graph construction, the peephole pass manager,
// kernel binding against a device's registry, and the pipeline runner
// together behind the BeginGraph/.../EndGraph/OptGraph/BuildKernels/
// RunGraph surface the VM's DoCall drives.
package executor

import (
	"fmt"

	"github.com/dalang/da/device"
	"github.com/dalang/da/graph"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/op"
	"github.com/dalang/da/passes"
	"github.com/dalang/da/pipeline"
	"github.com/dalang/da/value"
)

type buildState int

const (
	idle buildState = iota
	building
)

// GraphExecutor owns one graph under construction (or, once EndGraph
// has run, one built graph awaiting OptGraph/BuildKernels/RunGraph) for
// a single target device.
type GraphExecutor struct {
	mgr    *device.Manager
	reg    *kernel.Registry
	opt    *passes.Manager
	dev    value.Device
	runner *pipeline.Runner

	state     buildState
	g         *graph.Graph
	kernels   map[*graph.Node]kernel.Kernel
	useCounts map[*graph.Node]int
}

// New builds an executor targeting dev, binding kernels through reg and
// allocating through mgr's per-device pool.
func New(mgr *device.Manager, reg *kernel.Registry, dev value.Device) *GraphExecutor {
	return &GraphExecutor{
		mgr:    mgr,
		reg:    reg,
		opt:    passes.StandardManager(),
		dev:    dev,
		runner: pipeline.NewRunner(mgr),
	}
}

// Close stops the executor's pipeline runner. An executor must not be
// used again afterward.
func (e *GraphExecutor) Close() { e.runner.Stop() }

// Building reports whether a graph is between BeginGraph and EndGraph.
func (e *GraphExecutor) Building() bool { return e.state == building }

// CurrentGraph returns the graph under construction, or the most
// recently completed one; nil before the first BeginGraph.
func (e *GraphExecutor) CurrentGraph() *graph.Graph { return e.g }

// BeginGraph starts building a new graph named name. Calling it while
// another graph is already building is a programming error (spec.md
// §4.9 requires the VM to enforce single-frame graph-building
// discipline before ever reaching here).
func (e *GraphExecutor) BeginGraph(name string) error {
	if e.state == building {
		return fmt.Errorf("executor: BeginGraph(%q): graph %q is still building", name, e.g.Name())
	}
	e.g = graph.BeginGraph(name)
	e.kernels = nil
	e.useCounts = nil
	e.state = building
	return nil
}

func (e *GraphExecutor) requireBuilding(op string) error {
	if e.state != building {
		return fmt.Errorf("executor: %s called outside BeginGraph/EndGraph", op)
	}
	return nil
}

// AddParameter appends a parameter node to the graph under construction.
func (e *GraphExecutor) AddParameter(name string) (*graph.Node, error) {
	if err := e.requireBuilding("AddParameter"); err != nil {
		return nil, err
	}
	return e.g.AddParameter(name), nil
}

// AddValueNode appends a constant node to the graph under construction.
func (e *GraphExecutor) AddValueNode(v value.Value) (*graph.Node, error) {
	if err := e.requireBuilding("AddValueNode"); err != nil {
		return nil, err
	}
	return e.g.AddValueNode(v), nil
}

// AddOpNode appends an operator node computing o over inputs.
func (e *GraphExecutor) AddOpNode(o op.Op, inputs []*graph.Node) (*graph.Node, error) {
	if err := e.requireBuilding("AddOpNode"); err != nil {
		return nil, err
	}
	return e.g.AddOpNode(o, inputs)
}

// AddReturn wraps top as the graph's return node.
func (e *GraphExecutor) AddReturn(top *graph.Node) error {
	if err := e.requireBuilding("AddReturn"); err != nil {
		return err
	}
	_, err := e.g.AddReturn(top)
	return err
}

// EndGraph finalizes construction, checking the invariants graph.Graph
// enforces, and returns the executor to the idle state.
func (e *GraphExecutor) EndGraph() error {
	if err := e.requireBuilding("EndGraph"); err != nil {
		return err
	}
	if err := e.g.EndGraph(); err != nil {
		return err
	}
	e.state = idle
	return nil
}

// OptGraph runs the standard peephole simplification passes over the
// built graph. It may be called any number of times; the pass manager
// is idempotent at its fixpoint.
func (e *GraphExecutor) OptGraph() error {
	if e.g == nil {
		return fmt.Errorf("executor: OptGraph called with no graph built")
	}
	return e.opt.Run(e.g)
}

// BuildKernels binds a kernel.Kernel to every data-producing node,
// shares storage for every output-aliases-input node (spec.md §4.10),
// and seeds each node's output storage refcount from its static use
// count (spec.md §4.11).
func (e *GraphExecutor) BuildKernels() error {
	if e.g == nil {
		return fmt.Errorf("executor: BuildKernels called with no graph built")
	}
	e.kernels = make(map[*graph.Node]kernel.Kernel)
	e.useCounts = pipeline.ComputeUseCounts(e.g.Nodes())

	for _, n := range e.g.Nodes() {
		switch n.Kind() {
		case graph.KindParameter, graph.KindValue:
			continue
		}
		o := n.Op()
		if idx, ok := op.AliasesInput(o); ok {
			n.SetOutput(n.InputNode(idx).Output())
			e.kernels[n] = kernel.PassThrough()
			continue
		}
		if op.IsStructural(o) {
			// No kernel launches for a structural, non-aliasing node
			// (MakeTuple/TupleGetItem): RunGraph skips it entirely.
			continue
		}
		k, err := e.reg.CreateKernel(n)
		if err != nil {
			return fmt.Errorf("executor: binding kernel for %s: %w", op.ToStr(o), err)
		}
		if k == nil {
			return fmt.Errorf("executor: no registered library implements op %s", op.ToStr(o))
		}
		if err := k.Init(n); err != nil {
			return fmt.Errorf("executor: Init(%s): %w", op.ToStr(o), err)
		}
		if n.Output().Storage() == nil {
			st, err := value.NewStorage(e.mgr, e.dev, 0)
			if err != nil {
				return fmt.Errorf("executor: allocating output for %s: %w", op.ToStr(o), err)
			}
			n.Output().UpdateData(st)
		}
		if cnt := e.useCounts[n]; cnt > 1 {
			for i := 1; i < cnt; i++ {
				n.Output().Storage().Ref()
			}
		}
		e.kernels[n] = k
	}
	return nil
}

// RunGraph binds args to the graph's parameters (in declaration order)
// and drives every data-producing node through the pipeline runner in
// topological order, returning the return node's output wrapped as a
// value.Value. BuildKernels must have already run.
func (e *GraphExecutor) RunGraph(args []value.Value) (value.Value, error) {
	if e.g == nil {
		return value.None(), fmt.Errorf("executor: RunGraph called with no graph built")
	}
	if e.kernels == nil {
		return value.None(), fmt.Errorf("executor: RunGraph called before BuildKernels")
	}
	params := e.g.Params()
	if len(args) != len(params) {
		return value.None(), fmt.Errorf("executor: graph %q takes %d parameter(s), got %d", e.g.Name(), len(params), len(args))
	}
	for i, p := range params {
		if !args[i].IsTensor() {
			return value.None(), fmt.Errorf("executor: parameter %q requires a tensor argument, got %s", p.Name(), args[i].Kind())
		}
		p.SetOutput(args[i].ToTensor())
	}
	// BuildKernels pointed each output-aliases-input node at its input's
	// output tensor as it stood then; re-point them at this run's tensors
	// (Nodes is topological, so an alias of an alias follows along).
	for _, n := range e.g.Nodes() {
		if n.Kind() == graph.KindParameter || n.Kind() == graph.KindValue {
			continue
		}
		if idx, ok := op.AliasesInput(n.Op()); ok {
			n.SetOutput(n.InputNode(idx).Output())
		}
	}

	ret := e.g.Return()

	// Unpause the pipeline's three stage queues for the duration of this
	// run and pause them again once every submitted node has drained
	// (spec.md §4.11: "RunGraph waits for both queues to drain, pauses
	// them, then synchronizes every device stream before returning").
	// Between runs the queues stay paused, so their consumer goroutines
	// take nothing off them until the next BeginRun.
	e.runner.BeginRun()

	// Submit every data-producing node's infer+workspace+launch task up
	// front (spec.md §4.11's run loop), instead of waiting for node N to
	// finish its full trip through the pipeline before node N+1 is even
	// handed to the infer queue. The three stage goroutines each drain
	// their own queue in submission order, so this alone lets an early
	// node's launch overlap with a later node's infer/workspace stages.
	type pending struct {
		node *graph.Node
		done <-chan error
	}
	submitted := make([]pending, 0, len(e.g.Nodes()))
	for _, n := range e.g.Nodes() {
		switch n.Kind() {
		case graph.KindParameter, graph.KindValue:
			continue
		}
		k, ok := e.kernels[n]
		if !ok {
			// structural, non-aliasing node: no execution step.
			continue
		}
		submitted = append(submitted, pending{node: n, done: e.runner.Submit(n, k, e.dev, device.DefaultStream)})
	}

	for _, p := range submitted {
		n := p.node
		if err := <-p.done; err != nil {
			e.runner.EndRun()
			return value.None(), fmt.Errorf("executor: running %s: %w", op.ToStr(n.Op()), err)
		}
		if n == ret {
			// The caller's returned Value takes its own reference on the
			// result storage before this node's own use of its input is
			// released below, so the two cancel out and the net count
			// reflects exactly "one reference, now owned by the caller".
			n.InputNode(0).Output().Storage().Ref()
		}
		pipeline.ReleaseInputs(n)
	}
	// Every submitted node has drained; pause the queues again before
	// the stream sync below, per spec.md §4.11's stated ordering.
	e.runner.EndRun()
	if err := e.mgr.SyncAllStreamsOn(e.dev); err != nil {
		return value.None(), err
	}
	if ret == nil {
		return value.None(), fmt.Errorf("executor: graph %q has no return node", e.g.Name())
	}
	return value.FromTensor(ret.Output()), nil
}
