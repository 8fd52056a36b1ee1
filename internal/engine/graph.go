package engine

import (
	"fmt"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes map[string]*dagNode
	order []string // registration order, the scheduler's tie-break
}

type dagNode struct {
	res      *ir.Resource
	index    int
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from the explicit DependsOn edges of
// resources. Declaration order never implies an edge.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode, len(resources)),
	}

	for i, res := range resources {
		if _, exists := dag.nodes[res.ID]; exists {
			return nil, &DuplicateIDError{ID: res.ID}
		}
		dag.nodes[res.ID] = &dagNode{res: res, index: i}
		dag.order = append(dag.order, res.ID)
	}

	for _, addr := range dag.order {
		node := dag.nodes[addr]
		seen := make(map[string]bool, len(node.res.DependsOn))

		for _, dep := range node.res.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			depNode, ok := dag.nodes[dep]
			if !ok {
				return nil, &ValidationError{ID: addr, Msg: fmt.Sprintf("depends on unknown resource %q", dep)}
			}
			if depNode.res.Stage.Rank() > node.res.Stage.Rank() {
				return nil, &ValidationError{
					ID:  addr,
					Msg: fmt.Sprintf("%s-stage resource cannot depend on %s-stage resource %q", node.res.Stage, depNode.res.Stage, dep),
				}
			}

			node.edges = append(node.edges, dep)
			depNode.revEdges = append(depNode.revEdges, addr)
		}
	}

	if err := dag.detectCycles(); err != nil {
		return nil, err
	}

	return dag, nil
}

const (
	unvisited = iota
	inProgress
	done
)

// detectCycles walks dependency edges depth-first, marking nodes unvisited,
// in progress or done. An edge back to an in-progress node closes a cycle.
func (d *DAG) detectCycles() error {
	color := make(map[string]int, len(d.nodes))
	var path []string

	var visit func(addr string) error
	visit = func(addr string) error {
		color[addr] = inProgress
		path = append(path, addr)

		for _, dep := range d.nodes[addr].edges {
			switch color[dep] {
			case inProgress:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return &CycleError{Cycle: cycle}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[addr] = done
		return nil
	}

	for _, addr := range d.order {
		if color[addr] == unvisited {
			if err := visit(addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of resources in the graph.
func (d *DAG) Len() int {
	return len(d.order)
}

// Resource returns the resource stored under addr, or nil.
func (d *DAG) Resource(addr string) *ir.Resource {
	if node, ok := d.nodes[addr]; ok {
		return node.res
	}
	return nil
}

// Resources returns every resource in registration order.
func (d *DAG) Resources() []*ir.Resource {
	out := make([]*ir.Resource, 0, len(d.order))
	for _, addr := range d.order {
		out = append(out, d.nodes[addr].res)
	}
	return out
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that directly depend on addr.
func (d *DAG) Dependents(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDependents returns every resource reachable through reverse
// edges from addr, in breadth-first order.
func (d *DAG) TransitiveDependents(addr string) []string {
	return d.walk(addr, func(n *dagNode) []string { return n.revEdges })
}

// TransitiveDeps returns every resource addr depends on, directly or not.
func (d *DAG) TransitiveDeps(addr string) []string {
	return d.walk(addr, func(n *dagNode) []string { return n.edges })
}

func (d *DAG) walk(addr string, next func(*dagNode) []string) []string {
	start, ok := d.nodes[addr]
	if !ok {
		return nil
	}

	visited := map[string]bool{addr: true}
	queue := append([]string{}, next(start)...)
	var out []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)
		queue = append(queue, next(d.nodes[cur])...)
	}
	return out
}
