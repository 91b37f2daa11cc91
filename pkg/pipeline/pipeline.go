// Package pipeline executes directed graphs of named stages over a
// shared state value. Graphs support unconditional edges, labelled
// conditional routing, and fan-out nodes whose branch results merge
// back in submission order. The engine walks the graph iteratively
// with a step cap, so cycles are legal and recursion depth never
// grows.
package pipeline

import (
	"context"
	"time"
)

// Reserved node names. Start marks the entry edge target; routing to
// End finishes the run.
const (
	Start = "__start__"
	End   = "__end__"
)

// Stage is one unit of pipeline work. It mutates the state in place
// and returns an error only for failures that should abort the run.
type Stage[S any] func(ctx context.Context, state S) error

// Router picks the label of the outgoing edge to follow.
type Router[S any] func(state S) string

// FanOut describes a node that expands into per-item branches.
// Select yields the items; Run produces one result per item without
// mutating shared state; Merge folds the results back into the state
// in item order. Zero items skips Run and Merge entirely.
type FanOut[S any] struct {
	Select func(state S) []any
	Run    func(ctx context.Context, state S, item any, index int) (any, error)
	Merge  func(state S, results []any) error

	// Next is the join node the run proceeds to after the merge.
	Next string
}

// Emitter observes node execution. Implementations must not block;
// the engine calls them synchronously on the run goroutine.
type Emitter interface {
	NodeStart(node string, step int)
	NodeEnd(node string, step int, elapsed time.Duration)
	NodeError(node string, step int, elapsed time.Duration, err error)
	Progress(executed, estimated int)
}

type nopEmitter struct{}

func (nopEmitter) NodeStart(string, int)                       {}
func (nopEmitter) NodeEnd(string, int, time.Duration)          {}
func (nopEmitter) NodeError(string, int, time.Duration, error) {}
func (nopEmitter) Progress(int, int)                           {}
