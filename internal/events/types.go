package events

import (
	"time"
)

// Event is the base interface for all events. Every event names the entity
// it is about.
type Event interface {
	EventType() string
	EntityType() string
	EntityID() string
}

// Topic constants
const (
	TopicJob        = "job"
	TopicSubmission = "submission"
)

// Entity types carried by events.
const (
	EntityJob        = "JOB"
	EntitySubmission = "SUBMISSION"
)

// Operations on an entity.
const (
	OperationCreation = "CREATION"
	OperationUpdate   = "UPDATE"
)

// AttributeStatus is the attribute name for status changes.
const AttributeStatus = "status"

// Event type constants
const (
	EventTypeJobCreated         = "job.created"
	EventTypeJobUpdated         = "job.updated"
	EventTypeSubmissionCreated  = "submission.created"
	EventTypeSubmissionUpdated  = "submission.updated"
	EventTypeSubmissionProgress = "submission.progress"
)

// JobEvent is published when a job is created and on every status change.
type JobEvent struct {
	JobID        string
	TaskID       string
	SubmissionID string
	Operation    string
	Attribute    string
	Status       string
	Stacktrace   []string
	Timestamp    time.Time
}

func (e JobEvent) EventType() string {
	if e.Operation == OperationCreation {
		return EventTypeJobCreated
	}
	return EventTypeJobUpdated
}
func (e JobEvent) EntityType() string { return EntityJob }
func (e JobEvent) EntityID() string   { return e.JobID }

// SubmissionEvent is published when a submission is created or its rollup
// status changes.
type SubmissionEvent struct {
	SubmissionID string
	Submittable  string // id of the submitted task, sequence or scenario
	Operation    string
	Attribute    string
	Status       string
	Timestamp    time.Time
}

func (e SubmissionEvent) EventType() string {
	if e.Operation == OperationCreation {
		return EventTypeSubmissionCreated
	}
	return EventTypeSubmissionUpdated
}
func (e SubmissionEvent) EntityType() string { return EntitySubmission }
func (e SubmissionEvent) EntityID() string   { return e.SubmissionID }

// ProgressEvent is published after each job transition with the job counts
// of the submission by status.
type ProgressEvent struct {
	SubmissionID string
	Total        int
	Blocked      int
	Pending      int
	Running      int
	Completed    int
	Skipped      int
	Failed       int
	Canceled     int
	Abandoned    int
	Timestamp    time.Time
}

func (e ProgressEvent) EventType() string  { return EventTypeSubmissionProgress }
func (e ProgressEvent) EntityType() string { return EntitySubmission }
func (e ProgressEvent) EntityID() string   { return e.SubmissionID }

// Finished is the number of jobs in a terminal status.
func (e ProgressEvent) Finished() int {
	return e.Completed + e.Skipped + e.Failed + e.Canceled + e.Abandoned
}
