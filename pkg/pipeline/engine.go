package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/probelab/delver/pkg/faults"
)

// Engine runs a Graph to completion.
type Engine[S any] struct {
	graph     *Graph[S]
	maxSteps  int
	estimated int
	emitter   Emitter
	runner    BranchRunner
	logger    *slog.Logger
}

// NewEngine builds an engine for the graph. maxSteps caps the number
// of node executions per run; zero or negative means no cap.
func NewEngine[S any](graph *Graph[S], maxSteps int) *Engine[S] {
	return &Engine[S]{
		graph:    graph,
		maxSteps: maxSteps,
		emitter:  nopEmitter{},
		runner:   SerialRunner{},
		logger:   slog.Default().With("component", "pipeline.engine"),
	}
}

// WithEmitter installs the execution observer.
func (e *Engine[S]) WithEmitter(emitter Emitter) *Engine[S] {
	if emitter != nil {
		e.emitter = emitter
	}
	return e
}

// WithRunner installs the fan-out branch runner.
func (e *Engine[S]) WithRunner(runner BranchRunner) *Engine[S] {
	if runner != nil {
		e.runner = runner
	}
	return e
}

// WithEstimatedSteps sets the denominator reported through progress
// events.
func (e *Engine[S]) WithEstimatedSteps(n int) *Engine[S] {
	e.estimated = n
	return e
}

// Run walks the graph from the start node until a route reaches End,
// the context is cancelled, a stage fails, or the step cap trips.
// Stage failures are returned wrapped with the failing node's name;
// the engine never retries a stage.
func (e *Engine[S]) Run(ctx context.Context, state S) error {
	current := e.graph.start
	step := 0

	for current != End {
		if err := ctx.Err(); err != nil {
			return err
		}
		step++
		if e.maxSteps > 0 && step > e.maxSteps {
			return faults.InvalidState("pipeline exceeded max steps").
				With("max_steps", e.maxSteps).
				With("node", current)
		}

		n := e.graph.nodes[current]
		e.emitter.NodeStart(n.name, step)
		e.logger.Debug("Node starting", "node", n.name, "step", step)

		started := time.Now()
		err := e.runNode(ctx, n, state)
		elapsed := time.Since(started)

		if err != nil {
			e.emitter.NodeError(n.name, step, elapsed, err)
			e.emitter.Progress(step, e.estimated)
			e.logger.Warn("Node failed", "node", n.name, "step", step, "error", err)
			return fmt.Errorf("stage %s: %w", n.name, err)
		}

		e.emitter.NodeEnd(n.name, step, elapsed)
		e.emitter.Progress(step, e.estimated)
		e.logger.Debug("Node finished", "node", n.name, "step", step,
			"elapsed", elapsed.Round(time.Millisecond))

		next, err := e.route(n, state)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

func (e *Engine[S]) runNode(ctx context.Context, n *node[S], state S) error {
	if n.fanOut != nil {
		return e.runFanOut(ctx, n, state)
	}
	return n.stage(ctx, state)
}

// runFanOut expands the node into branches and merges the results in
// item order. With no items the node is a no-op and the run proceeds
// straight to the join.
func (e *Engine[S]) runFanOut(ctx context.Context, n *node[S], state S) error {
	items := n.fanOut.Select(state)
	if len(items) == 0 {
		return nil
	}

	e.logger.Debug("Fanning out", "node", n.name, "branches", len(items))
	results, err := e.runner.RunBranches(ctx, len(items), func(ctx context.Context, i int) (any, error) {
		return n.fanOut.Run(ctx, state, items[i], i)
	})
	if err != nil {
		return err
	}
	return n.fanOut.Merge(state, results)
}

func (e *Engine[S]) route(n *node[S], state S) (string, error) {
	if n.fanOut != nil {
		return n.fanOut.Next, nil
	}
	if n.router != nil {
		label := n.router(state)
		target, ok := n.routes[label]
		if !ok {
			return "", faults.InvalidState("router returned unknown label").
				With("node", n.name).
				With("label", label)
		}
		return target, nil
	}
	if n.to != "" {
		return n.to, nil
	}
	return "", faults.InvalidState("no route from node").With("node", n.name)
}
