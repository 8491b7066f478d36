// Package wave schedules a task DAG as a sequence of atomic waves.
package wave

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// Graph is a validated, acyclic task dependency graph. Node indices follow
// ascending task ID, which makes every traversal deterministic.
type Graph struct {
	tasks    []domain.Task
	index    map[string]int
	outgoing [][]int // dependency -> dependents, ascending
	incoming [][]int // dependent -> dependencies, ascending
}

// CycleError reports tasks that cannot be ordered. It matches
// domain.ErrCyclicDependency under errors.Is.
type CycleError struct {
	// Unordered lists every task Kahn's algorithm could not place.
	Unordered []string
	// Witness is one cycle, first element repeated at the end.
	Witness []string
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("%s: unordered tasks [%s]", domain.ErrCyclicDependency.Message, strings.Join(e.Unordered, ", "))
	if len(e.Witness) > 0 {
		msg += "; cycle " + strings.Join(e.Witness, " -> ")
	}
	return msg
}

func (e *CycleError) Unwrap() error { return domain.ErrCyclicDependency }

// BuildGraph validates tasks and returns their dependency graph. Empty IDs,
// duplicate IDs, unknown dependencies and cycles are rejected.
func BuildGraph(tasks []domain.Task) (*Graph, error) {
	sorted := make([]domain.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	g := &Graph{
		tasks:    sorted,
		index:    make(map[string]int, len(sorted)),
		outgoing: make([][]int, len(sorted)),
		incoming: make([][]int, len(sorted)),
	}
	for i, t := range sorted {
		if strings.TrimSpace(t.ID) == "" {
			return nil, domain.NewEngineError(domain.ErrInvalidTask.Code, domain.ErrInvalidTask.Message+": empty task id")
		}
		if _, dup := g.index[t.ID]; dup {
			return nil, domain.NewEngineError(domain.ErrDuplicateTask.Code, fmt.Sprintf("%s: %s", domain.ErrDuplicateTask.Message, t.ID))
		}
		g.index[t.ID] = i
	}

	for i, t := range sorted {
		seen := make(map[int]bool, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, domain.NewEngineError(domain.ErrUnknownDependency.Code,
					fmt.Sprintf("%s: %s -> %s", domain.ErrUnknownDependency.Message, t.ID, dep))
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.incoming[i] = append(g.incoming[i], j)
			g.outgoing[j] = append(g.outgoing[j], i)
		}
	}
	for i := range sorted {
		sort.Ints(g.incoming[i])
		sort.Ints(g.outgoing[i])
	}

	if order := g.topoOrder(); len(order) != len(sorted) {
		placed := make([]bool, len(sorted))
		for _, i := range order {
			placed[i] = true
		}
		cerr := &CycleError{Witness: g.findCycle()}
		for i, ok := range placed {
			if !ok {
				cerr.Unordered = append(cerr.Unordered, sorted[i].ID)
			}
		}
		return nil, cerr
	}
	return g, nil
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Tasks returns the tasks in ascending ID order.
func (g *Graph) Tasks() []domain.Task {
	out := make([]domain.Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Task looks up a task by ID.
func (g *Graph) Task(id string) (domain.Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return g.tasks[i], true
}

// order returns a deterministic topological order of task IDs.
func (g *Graph) order() []string {
	order := g.topoOrder()
	out := make([]string, len(order))
	for k, i := range order {
		out[k] = g.tasks[i].ID
	}
	return out
}

// Ready returns, in ascending ID order, the pending tasks whose dependencies
// have all succeeded.
func (g *Graph) Ready(states map[string]domain.TaskState) []string {
	var out []string
	for i, t := range g.tasks {
		if states[t.ID] != domain.TaskPending {
			continue
		}
		ok := true
		for _, j := range g.incoming[i] {
			if states[g.tasks[j].ID] != domain.TaskSucceeded {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t.ID)
		}
	}
	return out
}

// Descendants returns every task that transitively depends on id, ascending.
func (g *Graph) Descendants(id string) []string {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.tasks))
	stack := append([]int(nil), g.outgoing[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.outgoing[n]...)
	}
	var out []string
	for i, s := range seen {
		if s {
			out = append(out, g.tasks[i].ID)
		}
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap ready queue. A result
// shorter than the task count means a cycle.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.tasks))
	for i := range g.tasks {
		indeg[i] = len(g.incoming[i])
	}
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(g.tasks))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle extracts one cycle via DFS over dependency edges in index order.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.tasks))
	parent := make([]int, len(g.tasks))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v: walk parents from u back to v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.tasks {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.tasks[cycle[i]].ID)
	}
	return out
}
