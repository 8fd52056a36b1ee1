package engine

import (
	"container/heap"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// Stages lists the execution stages in the order they run.
var Stages = []ir.Stage{ir.StageMain, ir.StageLast}

// StageGraph is the ordered execution sequence of each stage.
type StageGraph struct {
	dag    *DAG
	stages map[ir.Stage][]*ir.Resource
}

// Schedule orders the graph stage by stage with Kahn's algorithm. Among
// resources that are ready at the same time, the one registered first runs
// first, so identical input always produces identical ordering.
func Schedule(dag *DAG) *StageGraph {
	sg := &StageGraph{
		dag:    dag,
		stages: make(map[ir.Stage][]*ir.Resource, len(Stages)),
	}
	for _, stage := range Stages {
		sg.stages[stage] = dag.topoSort(stage)
	}
	return sg
}

// topoSort sorts the resources of one stage. Edges to earlier stages are
// satisfied by the stage barrier and do not count towards in-degree.
func (d *DAG) topoSort(stage ir.Stage) []*ir.Resource {
	inDegree := make(map[string]int)
	for _, addr := range d.order {
		node := d.nodes[addr]
		if node.res.Stage != stage {
			continue
		}
		inDegree[addr] = 0
		for _, dep := range node.edges {
			if d.nodes[dep].res.Stage == stage {
				inDegree[addr]++
			}
		}
	}

	ready := &indexHeap{}
	for addr, deg := range inDegree {
		if deg == 0 {
			heap.Push(ready, d.nodes[addr].index)
		}
	}

	sorted := make([]*ir.Resource, 0, len(inDegree))
	for ready.Len() > 0 {
		node := d.nodes[d.order[heap.Pop(ready).(int)]]
		sorted = append(sorted, node.res)

		for _, dependent := range node.revEdges {
			if _, inStage := inDegree[dependent]; !inStage {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, d.nodes[dependent].index)
			}
		}
	}

	return sorted
}

// Stage returns the ordered resources of one stage.
func (s *StageGraph) Stage(stage ir.Stage) []*ir.Resource {
	return s.stages[stage]
}

// Ordered returns every resource, main stage first.
func (s *StageGraph) Ordered() []*ir.Resource {
	var out []*ir.Resource
	for _, stage := range Stages {
		out = append(out, s.stages[stage]...)
	}
	return out
}

// IDs returns the ordered resource ids, main stage first.
func (s *StageGraph) IDs() []string {
	ordered := s.Ordered()
	ids := make([]string, len(ordered))
	for i, res := range ordered {
		ids[i] = res.ID
	}
	return ids
}

// Graph returns the dependency graph the schedule was built from.
func (s *StageGraph) Graph() *DAG {
	return s.dag
}

// indexHeap is a min-heap of registration indexes.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
