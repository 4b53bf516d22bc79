package scheduler

import (
	"testing"
	"time"

	"github.com/aristath/taskflow/internal/datanode"
)

// TestNeedsRun tests the skip decision across skippable flags, force and output freshness.
func TestNeedsRun(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	fresh := func(id string) datanode.DataNode {
		return datanode.NewInMemoryWithDefault(id, 1, datanode.WithClock(now))
	}
	unwritten := func(id string) datanode.DataNode {
		return datanode.NewInMemory(id, datanode.WithClock(now))
	}
	expired := func(id string) datanode.DataNode {
		dn := datanode.NewInMemory(id, datanode.WithValidity(time.Hour), datanode.WithClock(now))
		clock = clock.Add(-2 * time.Hour)
		_ = dn.Write(1)
		clock = clock.Add(2 * time.Hour)
		return dn
	}
	editing := func(id string) datanode.DataNode {
		dn := fresh(id)
		dn.SetEditInProgress(true)
		return dn
	}

	tests := []struct {
		name    string
		outputs []datanode.DataNode
		opts    []TaskOption
		force   bool
		want    bool
	}{
		{"not skippable with fresh outputs", nodes(fresh("a")), nil, false, true},
		{"skippable with fresh outputs", nodes(fresh("a"), fresh("b")), []TaskOption{Skippable()}, false, false},
		{"skippable but forced", nodes(fresh("a")), []TaskOption{Skippable()}, true, true},
		{"skippable without outputs", nil, []TaskOption{Skippable()}, false, true},
		{"skippable with one unwritten output", nodes(fresh("a"), unwritten("b")), []TaskOption{Skippable()}, false, true},
		{"skippable with expired output", nodes(expired("a")), []TaskOption{Skippable()}, false, true},
		{"skippable with output being edited", nodes(editing("a")), []TaskOption{Skippable()}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask("t", nil, nil, tt.outputs, tt.opts...)
			if got := NeedsRun(task, tt.force); got != tt.want {
				t.Errorf("NeedsRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestNeedsRun_SetSkippable verifies the flag can be flipped after construction.
func TestNeedsRun_SetSkippable(t *testing.T) {
	out := datanode.NewInMemoryWithDefault("out", "x")
	task := NewTask("t", nil, nil, nodes(out))
	if !NeedsRun(task, false) {
		t.Fatal("non-skippable task must run")
	}
	task.SetSkippable(true)
	if NeedsRun(task, false) {
		t.Error("skippable task with fresh output should be skipped")
	}
}
