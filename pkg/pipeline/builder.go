package pipeline

import (
	"fmt"

	"github.com/probelab/delver/pkg/faults"
)

type node[S any] struct {
	name   string
	stage  Stage[S]
	fanOut *FanOut[S]

	to     string
	router Router[S]
	routes map[string]string
}

// Graph is a validated, immutable pipeline topology.
type Graph[S any] struct {
	start string
	nodes map[string]*node[S]
}

// Start returns the entry node name.
func (g *Graph[S]) Start() string { return g.start }

// Nodes returns the node names in no particular order.
func (g *Graph[S]) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	return names
}

// Builder assembles a Graph. Construction errors accumulate and
// surface from Build, so topologies read as one fluent chain.
type Builder[S any] struct {
	nodes map[string]*node[S]
	start string
	errs  []error
}

// NewBuilder creates an empty graph builder.
func NewBuilder[S any]() *Builder[S] {
	return &Builder[S]{nodes: make(map[string]*node[S])}
}

// AddStage registers a stage node.
func (b *Builder[S]) AddStage(name string, stage Stage[S]) *Builder[S] {
	if stage == nil {
		b.errs = append(b.errs, fmt.Errorf("node %q: stage is nil", name))
		return b
	}
	b.addNode(name, &node[S]{name: name, stage: stage})
	return b
}

// AddFanOut registers a fan-out node.
func (b *Builder[S]) AddFanOut(name string, fanOut FanOut[S]) *Builder[S] {
	switch {
	case fanOut.Select == nil:
		b.errs = append(b.errs, fmt.Errorf("fan-out %q: Select is nil", name))
	case fanOut.Run == nil:
		b.errs = append(b.errs, fmt.Errorf("fan-out %q: Run is nil", name))
	case fanOut.Merge == nil:
		b.errs = append(b.errs, fmt.Errorf("fan-out %q: Merge is nil", name))
	case fanOut.Next == "":
		b.errs = append(b.errs, fmt.Errorf("fan-out %q: Next is empty", name))
	default:
		b.addNode(name, &node[S]{name: name, fanOut: &fanOut})
	}
	return b
}

func (b *Builder[S]) addNode(name string, n *node[S]) {
	if name == "" || name == Start || name == End {
		b.errs = append(b.errs, fmt.Errorf("node name %q is reserved or empty", name))
		return
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", name))
		return
	}
	b.nodes[name] = n
}

// SetStart names the entry node.
func (b *Builder[S]) SetStart(name string) *Builder[S] {
	b.start = name
	return b
}

// To adds an unconditional edge.
func (b *Builder[S]) To(from, to string) *Builder[S] {
	n, ok := b.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("edge from unknown node %q", from))
		return b
	}
	if n.fanOut != nil {
		b.errs = append(b.errs, fmt.Errorf("fan-out %q routes via Next, not To", from))
		return b
	}
	n.to = to
	return b
}

// Route adds a conditional edge: the router returns a label and the
// run follows the target mapped to it.
func (b *Builder[S]) Route(from string, router Router[S], targets map[string]string) *Builder[S] {
	n, ok := b.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("route from unknown node %q", from))
		return b
	}
	if router == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("route from %q: router and targets are required", from))
		return b
	}
	n.router = router
	n.routes = targets
	return b
}

// Build validates the topology and returns the immutable graph:
// the start node must exist, every edge target must be a known node
// or End, every node needs an outgoing edge, and End must be
// reachable from the start.
func (b *Builder[S]) Build() (*Graph[S], error) {
	if len(b.errs) > 0 {
		return nil, faults.Wrap(faults.KindValidation, "invalid pipeline graph", b.errs[0])
	}
	if b.start == "" {
		return nil, faults.Validation("pipeline graph has no start node")
	}
	if _, ok := b.nodes[b.start]; !ok {
		return nil, faults.Validation(fmt.Sprintf("start node %q does not exist", b.start))
	}

	for name, n := range b.nodes {
		for _, target := range b.targets(n) {
			if target == End {
				continue
			}
			if _, ok := b.nodes[target]; !ok {
				return nil, faults.Validation(fmt.Sprintf("node %q routes to unknown node %q", name, target))
			}
		}
		if len(b.targets(n)) == 0 {
			return nil, faults.Validation(fmt.Sprintf("node %q has no outgoing edge", name))
		}
	}

	if !b.endReachable() {
		return nil, faults.Validation("pipeline graph cannot reach the end node")
	}

	return &Graph[S]{start: b.start, nodes: b.nodes}, nil
}

func (b *Builder[S]) targets(n *node[S]) []string {
	if n.fanOut != nil {
		return []string{n.fanOut.Next}
	}
	var out []string
	if n.to != "" {
		out = append(out, n.to)
	}
	for _, target := range n.routes {
		out = append(out, target)
	}
	return out
}

// endReachable walks every possible edge from the start looking for
// End.
func (b *Builder[S]) endReachable() bool {
	seen := map[string]bool{b.start: true}
	frontier := []string{b.start}
	for len(frontier) > 0 {
		name := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for _, target := range b.targets(b.nodes[name]) {
			if target == End {
				return true
			}
			if !seen[target] {
				seen[target] = true
				frontier = append(frontier, target)
			}
		}
	}
	return false
}
