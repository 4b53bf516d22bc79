package events

import (
	"testing"
	"time"
)

func jobEvent(id, status string) JobEvent {
	return JobEvent{
		JobID:     id,
		TaskID:    "t1",
		Operation: OperationUpdate,
		Attribute: AttributeStatus,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicJob, 10)

	bus.Publish(TopicJob, jobEvent("job-1", "RUNNING"))

	select {
	case received := <-ch:
		if received.EntityID() != "job-1" {
			t.Errorf("expected entity ID 'job-1', got '%s'", received.EntityID())
		}
		if received.EntityType() != EntityJob {
			t.Errorf("expected entity type '%s', got '%s'", EntityJob, received.EntityType())
		}
		if received.EventType() != EventTypeJobUpdated {
			t.Errorf("expected event type '%s', got '%s'", EventTypeJobUpdated, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestEventTypesFollowOperation verifies creation and update map to distinct types.
func TestEventTypesFollowOperation(t *testing.T) {
	created := JobEvent{JobID: "j", Operation: OperationCreation}
	if created.EventType() != EventTypeJobCreated {
		t.Errorf("expected %s, got %s", EventTypeJobCreated, created.EventType())
	}
	sub := SubmissionEvent{SubmissionID: "s", Operation: OperationCreation}
	if sub.EventType() != EventTypeSubmissionCreated {
		t.Errorf("expected %s, got %s", EventTypeSubmissionCreated, sub.EventType())
	}
	sub.Operation = OperationUpdate
	if sub.EventType() != EventTypeSubmissionUpdated {
		t.Errorf("expected %s, got %s", EventTypeSubmissionUpdated, sub.EventType())
	}
	p := ProgressEvent{SubmissionID: "s", Total: 5, Completed: 1, Skipped: 1, Failed: 1, Running: 2}
	if p.Finished() != 3 {
		t.Errorf("expected 3 finished, got %d", p.Finished())
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicJob, 10)
	ch2 := bus.Subscribe(TopicJob, 10)

	bus.Publish(TopicJob, jobEvent("job-2", "COMPLETED"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.EntityID() != "job-2" {
				t.Errorf("subscriber %d: expected entity ID 'job-2', got '%s'", i+1, received.EntityID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicJob, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicJob, jobEvent("job", "PENDING"))
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if bus.Dropped() != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", bus.Dropped())
	}
}

// TestUnsubscribe verifies a removed subscriber stops receiving and is closed.
func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	keep := bus.Subscribe(TopicJob, 10)
	drop := bus.Subscribe(TopicJob, 10)
	all := bus.SubscribeAll(10)

	bus.Unsubscribe(drop)
	bus.Unsubscribe(all)

	if _, ok := <-drop; ok {
		t.Error("expected unsubscribed channel to be closed")
	}
	if _, ok := <-all; ok {
		t.Error("expected unsubscribed all-topics channel to be closed")
	}

	bus.Publish(TopicJob, jobEvent("job-3", "RUNNING"))
	select {
	case <-keep:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("remaining subscriber did not receive event")
	}

	// Unknown and repeated unsubscribes are ignored
	bus.Unsubscribe(drop)
	bus.Unsubscribe(make(chan Event))
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicJob, 10)

	bus.Close()

	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicJob, 10)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TopicJob, jobEvent("job-1", "RUNNING"))

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	jobCh := bus.Subscribe(TopicJob, 10)
	subCh := bus.Subscribe(TopicSubmission, 10)

	bus.Publish(TopicJob, jobEvent("job-1", "RUNNING"))
	bus.Publish(TopicSubmission, ProgressEvent{SubmissionID: "sub-1", Total: 2, Running: 1, Pending: 1, Timestamp: time.Now()})

	select {
	case received := <-jobCh:
		if received.EventType() != EventTypeJobUpdated {
			t.Errorf("job channel: expected job event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("job channel: timeout waiting for event")
	}

	select {
	case received := <-subCh:
		if received.EventType() != EventTypeSubmissionProgress {
			t.Errorf("submission channel: expected progress event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("submission channel: timeout waiting for event")
	}

	select {
	case <-jobCh:
		t.Error("job channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-subCh:
		t.Error("submission channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TopicJob, jobEvent("job-1", "RUNNING"))
	bus.Publish(TopicSubmission, SubmissionEvent{SubmissionID: "sub-1", Operation: OperationUpdate, Status: "RUNNING"})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeJobUpdated] {
		t.Error("SubscribeAll did not receive job event")
	}
	if !receivedTypes[EventTypeSubmissionUpdated] {
		t.Error("SubscribeAll did not receive submission event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
