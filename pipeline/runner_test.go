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

package pipeline

import (
	"fmt"
	"testing"

	"github.com/dalang/da/device"
	"github.com/dalang/da/graph"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

type fakeKernel struct {
	workspaceBytes int
	launchErr      error
	launched       bool
}

func (k *fakeKernel) Init(n kernel.Node) error { return nil }

func (k *fakeKernel) InferShape(n kernel.Node) error {
	n.Output().SetShape(n.Input(0).Shape())
	return nil
}

func (k *fakeKernel) Resize(n kernel.Node) (int, error) { return k.workspaceBytes, nil }

func (k *fakeKernel) Launch(n kernel.Node, inputs []*value.Tensor, workspace, output *value.Tensor, stream device.StreamID) error {
	k.launched = true
	if k.workspaceBytes > 0 && workspace == nil {
		return fmt.Errorf("Launch called with no workspace despite Resize reporting %d bytes", k.workspaceBytes)
	}
	return k.launchErr
}

func newFloatTensor(mgr *device.Manager, dev value.Device, n int64) *value.Tensor {
	st, err := value.NewStorage(mgr, dev, int(n)*value.Float32.Size())
	if err != nil {
		panic(err)
	}
	return value.NewTensor(value.Float32, []int64{n}, st)
}

func TestRunnerRunNodeDrivesAllThreeStages(t *testing.T) {
	mgr := device.NewManager()
	dev := value.Device{Type: value.CPU}
	r := NewRunner(mgr)
	defer r.Stop()
	r.BeginRun()

	g := graph.BeginGraph("f")
	p := g.AddParameter("x")
	p.SetOutput(newFloatTensor(mgr, dev, 4))
	n, err := g.AddOpNode(op.Relu, []*graph.Node{p})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	n.SetOutput(newFloatTensor(mgr, dev, 4))

	k := &fakeKernel{workspaceBytes: 16}
	if err := r.RunNode(n, k, dev, device.DefaultStream); err != nil {
		t.Fatalf("RunNode: %v", err)
	}
	if !k.launched {
		t.Fatal("Launch was never called")
	}
	if n.Output().Shape()[0] != 4 {
		t.Fatalf("InferShape did not propagate shape: got %v", n.Output().Shape())
	}
	if !mgr.Idle(dev, device.DefaultStream) {
		t.Fatal("stream still reports pending work after RunNode returned")
	}
}

func TestRunnerRunNodePropagatesLaunchError(t *testing.T) {
	mgr := device.NewManager()
	dev := value.Device{Type: value.CPU}
	r := NewRunner(mgr)
	defer r.Stop()
	r.BeginRun()

	g := graph.BeginGraph("f")
	p := g.AddParameter("x")
	p.SetOutput(newFloatTensor(mgr, dev, 2))
	n, err := g.AddOpNode(op.Neg, []*graph.Node{p})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	n.SetOutput(newFloatTensor(mgr, dev, 2))

	k := &fakeKernel{launchErr: fmt.Errorf("boom")}
	if err := r.RunNode(n, k, dev, device.DefaultStream); err == nil {
		t.Fatal("RunNode did not propagate the kernel's Launch error")
	}
}

// blockingKernel's Launch waits on release before returning, letting a
// test hold one node in the launch stage while submitting the next.
type blockingKernel struct {
	release  chan struct{}
	inferred chan struct{}
}

func (k *blockingKernel) Init(n kernel.Node) error { return nil }

func (k *blockingKernel) InferShape(n kernel.Node) error {
	n.Output().SetShape(n.Input(0).Shape())
	if k.inferred != nil {
		close(k.inferred)
	}
	return nil
}

func (k *blockingKernel) Resize(n kernel.Node) (int, error) { return 0, nil }

func (k *blockingKernel) Launch(n kernel.Node, inputs []*value.Tensor, workspace, output *value.Tensor, stream device.StreamID) error {
	<-k.release
	return nil
}

// TestRunnerSubmitOverlapsStages is spec.md §8 scenario 4 ("Pipeline
// ordering"): node b's infer stage must be able to complete while node
// a, submitted earlier, is still stuck in its launch stage. A runner
// whose Submit blocked until a's launch finished would deadlock this
// test, since nothing would ever close aKernel.release.
func TestRunnerSubmitOverlapsStages(t *testing.T) {
	mgr := device.NewManager()
	dev := value.Device{Type: value.CPU}
	r := NewRunner(mgr)
	defer r.Stop()
	r.BeginRun()

	g := graph.BeginGraph("f")
	p := g.AddParameter("x")
	p.SetOutput(newFloatTensor(mgr, dev, 2))
	a, err := g.AddOpNode(op.Relu, []*graph.Node{p})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	a.SetOutput(newFloatTensor(mgr, dev, 2))
	b, err := g.AddOpNode(op.Neg, []*graph.Node{p})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	b.SetOutput(newFloatTensor(mgr, dev, 2))

	aKernel := &blockingKernel{release: make(chan struct{})}
	bKernel := &blockingKernel{release: make(chan struct{}), inferred: make(chan struct{})}
	close(bKernel.release) // b's launch is free to finish as soon as it's reached

	aDone := r.Submit(a, aKernel, dev, device.DefaultStream)
	bDone := r.Submit(b, bKernel, dev, device.DefaultStream)

	select {
	case <-bKernel.inferred:
	case <-aDone:
		t.Fatal("a's launch finished before b's infer stage ran; submission serialized the pipeline")
	}

	close(aKernel.release)
	if err := <-aDone; err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := <-bDone; err != nil {
		t.Fatalf("b: %v", err)
	}
}

func TestComputeUseCountsAndReleaseInputs(t *testing.T) {
	mgr := device.NewManager()
	dev := value.Device{Type: value.CPU}
	g := graph.BeginGraph("f")
	p := g.AddParameter("x")
	p.SetOutput(newFloatTensor(mgr, dev, 1))
	a, err := g.AddOpNode(op.Relu, []*graph.Node{p})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	b, err := g.AddOpNode(op.Sigmoid, []*graph.Node{p})
	if err != nil {
		t.Fatalf("AddOpNode: %v", err)
	}
	counts := ComputeUseCounts(g.Nodes())
	if counts[p] != 2 {
		t.Fatalf("Users(p) = %d, want 2 (consumed by %v and %v)", counts[p], a, b)
	}

	st := p.Output().Storage()
	st.Ref() // seed the second reference ComputeUseCounts implies
	before := st.Refcount()
	ReleaseInputs(a)
	if st.Refcount() != before-1 {
		t.Fatalf("ReleaseInputs(a) left refcount %d, want %d", st.Refcount(), before-1)
	}
}
