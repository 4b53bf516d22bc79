package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskflow/internal/datanode"
)

// NodeKind distinguishes the two sides of the bipartite graph.
type NodeKind int

const (
	KindTask NodeKind = iota
	KindDataNode
)

func (k NodeKind) String() string {
	if k == KindTask {
		return "task"
	}
	return "data node"
}

// nodeKey keeps task and data node ids in separate namespaces.
type nodeKey struct {
	kind NodeKind
	id   string
}

func (k nodeKey) String() string { return k.kind.String() + " " + k.id }

// Graph is the bipartite Task <-> DataNode dependency graph of a submittable.
// Edges run from each input data node to its task and from each task to its
// outputs. A Graph is immutable once built.
type Graph struct {
	tasks     map[string]*Task
	dataNodes map[string]datanode.DataNode
	order     []nodeKey // insertion order, for deterministic iteration
	succ      map[nodeKey][]nodeKey
	pred      map[nodeKey][]nodeKey
}

// BuildGraph builds and validates the dependency graph of tasks.
// Returns ErrInvalidGraph for nil or inconsistently bound entities and
// ErrCyclicGraph if the graph is not acyclic.
func BuildGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:     make(map[string]*Task),
		dataNodes: make(map[string]datanode.DataNode),
		succ:      make(map[nodeKey][]nodeKey),
		pred:      make(map[nodeKey][]nodeKey),
	}

	for _, t := range tasks {
		if t == nil {
			return nil, invalidf("nil task")
		}
		tk, err := g.addTask(t)
		if err != nil {
			return nil, err
		}
		for _, dn := range t.inputs {
			dk, err := g.addDataNode(t, dn)
			if err != nil {
				return nil, err
			}
			g.addEdge(dk, tk)
		}
		for _, dn := range t.outputs {
			dk, err := g.addDataNode(t, dn)
			if err != nil {
				return nil, err
			}
			g.addEdge(tk, dk)
		}
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) addTask(t *Task) (nodeKey, error) {
	k := nodeKey{KindTask, t.ID()}
	if existing, ok := g.tasks[t.ID()]; ok {
		if existing != t {
			return k, invalidf("task id %q bound to two different tasks", t.ID())
		}
		return k, nil
	}
	g.tasks[t.ID()] = t
	g.order = append(g.order, k)
	return k, nil
}

func (g *Graph) addDataNode(owner *Task, dn datanode.DataNode) (nodeKey, error) {
	if dn == nil {
		return nodeKey{}, invalidf("task %q references a non-existent data node", owner.ID())
	}
	k := nodeKey{KindDataNode, dn.ID()}
	if existing, ok := g.dataNodes[dn.ID()]; ok {
		if existing != dn {
			return k, invalidf("data node id %q bound to two different data nodes", dn.ID())
		}
		return k, nil
	}
	g.dataNodes[dn.ID()] = dn
	g.order = append(g.order, k)
	return k, nil
}

func (g *Graph) addEdge(from, to nodeKey) {
	for _, existing := range g.succ[from] {
		if existing == to {
			return
		}
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
}

// validate runs a topological sort over every node and checks the bipartite
// alternation of all edges.
func (g *Graph) validate() error {
	var edges []toposort.Edge
	for _, k := range g.order {
		for _, next := range g.succ[k] {
			if next.kind == k.kind {
				return invalidf("edge %s -> %s does not alternate between tasks and data nodes", k, next)
			}
			edges = append(edges, toposort.Edge{k, next})
		}
		if len(g.succ[k]) == 0 && len(g.pred[k]) == 0 {
			// Isolated node - edge from nil keeps it in the sort
			edges = append(edges, toposort.Edge{nil, k})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return cyclef("%v", err)
	}

	seen := 0
	for _, n := range sorted {
		if n != nil {
			seen++
		}
	}
	if seen != len(g.order) {
		missing := []string{}
		found := make(map[nodeKey]bool, len(sorted))
		for _, n := range sorted {
			if k, ok := n.(nodeKey); ok {
				found[k] = true
			}
		}
		for _, k := range g.order {
			if !found[k] {
				missing = append(missing, k.String())
			}
		}
		return cyclef("topological sort lost %d nodes: %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}

// Generations groups tasks by dependency depth. External input data nodes
// (in-degree zero) are removed first, then topological layers are computed
// over the rest and only the task members of each layer are kept. Tasks in
// the same generation have no path between them.
func (g *Graph) Generations() [][]*Task {
	indegree := make(map[nodeKey]int, len(g.order))
	removed := make(map[nodeKey]bool)
	for _, k := range g.order {
		if k.kind == KindDataNode && len(g.pred[k]) == 0 {
			removed[k] = true
		}
	}
	var layer []nodeKey
	for _, k := range g.order {
		if removed[k] {
			continue
		}
		for _, p := range g.pred[k] {
			if !removed[p] {
				indegree[k]++
			}
		}
		if indegree[k] == 0 {
			layer = append(layer, k)
		}
	}

	var generations [][]*Task
	for len(layer) > 0 {
		var tasks []*Task
		var next []nodeKey
		for _, k := range layer {
			if k.kind == KindTask {
				tasks = append(tasks, g.tasks[k.id])
			}
			for _, s := range g.succ[k] {
				indegree[s]--
				if indegree[s] == 0 {
					next = append(next, s)
				}
			}
		}
		if len(tasks) > 0 {
			generations = append(generations, tasks)
		}
		layer = g.sortByInsertion(next)
	}
	return generations
}

// Inputs returns the data nodes no task writes: the external data the whole
// graph depends on.
func (g *Graph) Inputs() []datanode.DataNode {
	var inputs []datanode.DataNode
	for _, k := range g.order {
		if k.kind == KindDataNode && len(g.pred[k]) == 0 {
			inputs = append(inputs, g.dataNodes[k.id])
		}
	}
	return inputs
}

// Tasks returns every task in insertion order.
func (g *Graph) Tasks() []*Task {
	tasks := make([]*Task, 0, len(g.tasks))
	for _, k := range g.order {
		if k.kind == KindTask {
			tasks = append(tasks, g.tasks[k.id])
		}
	}
	return tasks
}

// DataNodes returns every data node in insertion order.
func (g *Graph) DataNodes() []datanode.DataNode {
	nodes := make([]datanode.DataNode, 0, len(g.dataNodes))
	for _, k := range g.order {
		if k.kind == KindDataNode {
			nodes = append(nodes, g.dataNodes[k.id])
		}
	}
	return nodes
}

// Task returns the graph task with the given id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Predecessors returns the tasks that write at least one input of taskID.
func (g *Graph) Predecessors(taskID string) []*Task {
	seen := make(map[nodeKey]bool)
	var out []nodeKey
	for _, dn := range g.pred[nodeKey{KindTask, taskID}] {
		for _, producer := range g.pred[dn] {
			if !seen[producer] {
				seen[producer] = true
				out = append(out, producer)
			}
		}
	}
	return g.tasksOf(g.sortByInsertion(out))
}

// Descendants returns every task reachable downstream of taskID.
func (g *Graph) Descendants(taskID string) []*Task {
	start := nodeKey{KindTask, taskID}
	visited := map[nodeKey]bool{start: true}
	queue := []nodeKey{start}
	var out []nodeKey
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, s := range g.succ[k] {
			if visited[s] {
				continue
			}
			visited[s] = true
			if s.kind == KindTask {
				out = append(out, s)
			}
			queue = append(queue, s)
		}
	}
	return g.tasksOf(g.sortByInsertion(out))
}

func (g *Graph) tasksOf(keys []nodeKey) []*Task {
	tasks := make([]*Task, 0, len(keys))
	for _, k := range keys {
		tasks = append(tasks, g.tasks[k.id])
	}
	return tasks
}

func (g *Graph) sortByInsertion(keys []nodeKey) []nodeKey {
	if len(keys) < 2 {
		return keys
	}
	want := make(map[nodeKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	sorted := make([]nodeKey, 0, len(keys))
	for _, k := range g.order {
		if want[k] {
			sorted = append(sorted, k)
		}
	}
	return sorted
}

// String renders the graph one edge per line, for debugging.
func (g *Graph) String() string {
	var b strings.Builder
	for _, k := range g.order {
		for _, s := range g.succ[k] {
			fmt.Fprintf(&b, "%s -> %s\n", k, s)
		}
	}
	return b.String()
}
