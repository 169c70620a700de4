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

	"github.com/dalang/da/device"
	"github.com/dalang/da/graph"
	"github.com/dalang/da/kernel"
	"github.com/dalang/da/op"
	"github.com/dalang/da/value"
)

// item is one node's trip through infer -> workspace -> launch.
type item struct {
	node   *graph.Node
	kern   kernel.Kernel
	dev    value.Device
	stream device.StreamID

	wsStorage *value.Storage
	workspace *value.Tensor

	done chan error
}

// Runner owns the three pipeline stages (spec.md §4.11), each its own
// goroutine reading from the previous stage's Queue. A graph executor
// calls Submit once per node in graph order; Submit only enqueues the
// node's infer+workspace task and returns immediately, so node N+1 can
// be handed to the infer queue while node N is still somewhere in the
// infer/workspace/launch pipeline. Each stage's single-consumer queue
// preserves submission order on its own, so a later node's infer stage
// still only starts once an earlier node's infer stage has finished
// (spec.md §8 scenario 4: "infer stage is always ahead of launch stage
// by at most queue depth"). RunGraph waits on the returned handles only
// after every node in the graph has been submitted.
type Runner struct {
	mgr *device.Manager

	inferQ  *Queue[*item]
	wsQ     *Queue[*item]
	launchQ *Queue[*item]
}

// NewRunner starts the three stage goroutines, backed by mgr for
// workspace allocation and stream bookkeeping. Every queue starts
// paused (spec.md §4.11), so the three goroutines immediately block on
// their condition variable instead of spinning until the first
// BeginRun.
func NewRunner(mgr *device.Manager) *Runner {
	r := &Runner{
		mgr:     mgr,
		inferQ:  NewQueue[*item](64),
		wsQ:     NewQueue[*item](64),
		launchQ: NewQueue[*item](64),
	}
	go r.inferWorker()
	go r.workspaceWorker()
	go r.launchWorker()
	return r
}

// BeginRun unpauses the three stage queues so their consumer
// goroutines resume popping work, waking anything already blocked on
// the condition variable. A GraphExecutor calls this immediately
// before submitting a graph's nodes.
func (r *Runner) BeginRun() {
	r.inferQ.Continue()
	r.wsQ.Continue()
	r.launchQ.Continue()
}

// EndRun pauses the three stage queues again once a run has drained,
// per spec.md §4.11: "RunGraph waits for both queues to drain, pauses
// them, then synchronizes every device stream before returning." While
// paused, a stage goroutine takes nothing off its queue, so anything
// pushed between runs waits for the next BeginRun.
func (r *Runner) EndRun() {
	r.inferQ.Pause()
	r.wsQ.Pause()
	r.launchQ.Pause()
}

// Stop shuts down the three stage goroutines (spec.md §4.11's
// cancellation: "Shutdown sets a per-queue alive=false; consumers
// observing this return"). A stopped Runner must not be used again.
func (r *Runner) Stop() {
	r.inferQ.Finalize()
	r.wsQ.Finalize()
	r.launchQ.Finalize()
}

// Submit enqueues n's kernel for InferShape, Resize, and Launch on
// dev/stream and returns immediately; the caller reads the returned
// channel to learn the launch's outcome whenever it chooses to. This
// is what lets a graph's nodes be handed to the infer stage back to
// back, so the infer stage for one node can run while an earlier
// node's workspace or launch stage is still in flight.
func (r *Runner) Submit(n *graph.Node, k kernel.Kernel, dev value.Device, stream device.StreamID) <-chan error {
	it := &item{node: n, kern: k, dev: dev, stream: stream, done: make(chan error, 1)}
	r.inferQ.Push(it)
	return it.done
}

// RunNode drives n's kernel through InferShape, Resize, and Launch on
// dev/stream, blocking until the launch completes. It is Submit
// followed by an immediate wait, for callers that only ever have one
// node in flight at a time.
func (r *Runner) RunNode(n *graph.Node, k kernel.Kernel, dev value.Device, stream device.StreamID) error {
	return <-r.Submit(n, k, dev, stream)
}

func (r *Runner) inferWorker() {
	for {
		it, ok := r.inferQ.Front()
		if !ok {
			return
		}
		if err := it.kern.InferShape(it.node); err != nil {
			it.done <- fmt.Errorf("pipeline: infer stage: %w", err)
			continue
		}
		r.wsQ.Push(it)
	}
}

func (r *Runner) workspaceWorker() {
	for {
		it, ok := r.wsQ.Front()
		if !ok {
			return
		}
		n := it.node
		wsBytes, err := it.kern.Resize(n)
		if err != nil {
			it.done <- fmt.Errorf("pipeline: workspace stage: %w", err)
			continue
		}
		if wsBytes > 0 {
			st, err := value.NewStorage(r.mgr, it.dev, wsBytes)
			if err != nil {
				it.done <- fmt.Errorf("pipeline: workspace stage: allocating %d bytes: %w", wsBytes, err)
				continue
			}
			it.wsStorage = st
			it.workspace = value.NewTensor(n.Output().Dtype(), []int64{int64(wsBytes)}, st)
		}
		r.launchQ.Push(it)
	}
}

func (r *Runner) launchWorker() {
	for {
		it, ok := r.launchQ.Front()
		if !ok {
			return
		}
		n := it.node
		inputs := make([]*value.Tensor, n.NumInputs())
		for i := range inputs {
			inputs[i] = n.Input(i)
		}
		var err error
		if err = r.mgr.Submit(it.dev, it.stream); err == nil {
			err = it.kern.Launch(n, inputs, it.workspace, n.Output(), it.stream)
			if err == nil && op.InfoOf(n.Op()).SyncBeforeReturn {
				// This op's kernel may have rewritten the output shape
				// during Launch (e.g. Unique); sync the owning stream
				// before any downstream consumer observes that shape
				// (spec.md §9's open question, op.Info.SyncBeforeReturn).
				err = r.mgr.SyncStream(it.dev, it.stream)
			}
			r.mgr.Complete(it.dev, it.stream)
		}
		if it.wsStorage != nil {
			it.wsStorage.Unref()
		}
		if err != nil {
			err = fmt.Errorf("pipeline: launch stage: %w", err)
		}
		it.done <- err
	}
}
