package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/taskflow/internal/datanode"
)

// Entity types reported by Submittable.EntityType.
const (
	EntityTask     = "TASK"
	EntitySequence = "SEQUENCE"
	EntityScenario = "SCENARIO"
)

// Submittable is anything that reduces to a set of tasks and can build the
// dependency graph over them.
type Submittable interface {
	SubmittableID() string
	EntityType() string
	Tasks() []*Task
	BuildGraph() (*Graph, error)
}

// Sequence is an ordered subset of tasks submitted together.
type Sequence struct {
	id    string
	tasks []*Task
}

// NewSequence creates a sequence over tasks.
func NewSequence(id string, tasks ...*Task) *Sequence {
	return &Sequence{id: id, tasks: append([]*Task(nil), tasks...)}
}

func (s *Sequence) SubmittableID() string       { return s.id }
func (s *Sequence) EntityType() string          { return EntitySequence }
func (s *Sequence) Tasks() []*Task              { return append([]*Task(nil), s.tasks...) }
func (s *Sequence) BuildGraph() (*Graph, error) { return BuildGraph(s.tasks) }

// Scenario owns a set of tasks, optional extra data nodes not bound to any
// task, and named sequences over its tasks.
type Scenario struct {
	id string

	mu                  sync.RWMutex
	tasks               []*Task
	taskIndex           map[string]*Task
	additionalDataNodes map[string]datanode.DataNode
	sequences           map[string]*Sequence
}

// NewScenario creates a scenario. Task ids must be unique.
func NewScenario(id string, tasks ...*Task) (*Scenario, error) {
	s := &Scenario{
		id:                  id,
		taskIndex:           make(map[string]*Task),
		additionalDataNodes: make(map[string]datanode.DataNode),
		sequences:           make(map[string]*Sequence),
	}
	for _, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("scenario %q: nil task", id)
		}
		if _, exists := s.taskIndex[t.ID()]; exists {
			return nil, fmt.Errorf("scenario %q: task with ID %q already exists", id, t.ID())
		}
		s.taskIndex[t.ID()] = t
		s.tasks = append(s.tasks, t)
	}
	return s, nil
}

func (s *Scenario) SubmittableID() string { return s.id }
func (s *Scenario) EntityType() string    { return EntityScenario }

func (s *Scenario) Tasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Task(nil), s.tasks...)
}

func (s *Scenario) BuildGraph() (*Graph, error) { return BuildGraph(s.Tasks()) }

// Task returns the scenario task with the given id.
func (s *Scenario) Task(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.taskIndex[id]
	return t, ok
}

// AddDataNode attaches a data node that no task reads or writes.
func (s *Scenario) AddDataNode(dn datanode.DataNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.additionalDataNodes[dn.ID()] = dn
}

// DataNodes returns every data node of the scenario, bound or not, keyed by id.
func (s *Scenario) DataNodes() map[string]datanode.DataNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]datanode.DataNode, len(s.additionalDataNodes))
	for id, dn := range s.additionalDataNodes {
		out[id] = dn
	}
	for _, t := range s.tasks {
		for _, dn := range append(t.Inputs(), t.outputs...) {
			if dn != nil {
				out[dn.ID()] = dn
			}
		}
	}
	return out
}

// AddSequence registers a named sequence over existing scenario tasks.
func (s *Scenario) AddSequence(name string, taskIDs ...string) (*Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sequences[name]; exists {
		return nil, fmt.Errorf("scenario %q: sequence %q already exists", s.id, name)
	}
	tasks := make([]*Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		t, ok := s.taskIndex[id]
		if !ok {
			return nil, fmt.Errorf("scenario %q: sequence %q references non-existent task %q", s.id, name, id)
		}
		tasks = append(tasks, t)
	}
	seq := NewSequence(s.id+"_"+name, tasks...)
	s.sequences[name] = seq
	return seq, nil
}

// Sequence returns a named sequence.
func (s *Scenario) Sequence(name string) (*Sequence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.sequences[name]
	return seq, ok
}

// SequenceNames lists sequence names in sorted order.
func (s *Scenario) SequenceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sequences))
	for name := range s.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
