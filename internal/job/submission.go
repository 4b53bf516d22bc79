package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus is the rollup of a submission's job statuses.
type SubmissionStatus int

const (
	SubmissionSubmitted SubmissionStatus = iota
	SubmissionUndefined
	SubmissionBlocked
	SubmissionPending
	SubmissionRunning
	SubmissionCanceled
	SubmissionFailed
	SubmissionCompleted
)

var submissionStatusNames = map[SubmissionStatus]string{
	SubmissionSubmitted: "SUBMITTED",
	SubmissionUndefined: "UNDEFINED",
	SubmissionBlocked:   "BLOCKED",
	SubmissionPending:   "PENDING",
	SubmissionRunning:   "RUNNING",
	SubmissionCanceled:  "CANCELED",
	SubmissionFailed:    "FAILED",
	SubmissionCompleted: "COMPLETED",
}

func (s SubmissionStatus) String() string {
	if name, ok := submissionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SubmissionStatus(%d)", int(s))
}

// ParseSubmissionStatus converts a name back into a SubmissionStatus.
func ParseSubmissionStatus(name string) (SubmissionStatus, error) {
	for s, n := range submissionStatusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown submission status %q", name)
}

func (s SubmissionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SubmissionStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseSubmissionStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsFinished reports whether the submission can no longer change.
func (s SubmissionStatus) IsFinished() bool {
	return s == SubmissionCompleted || s == SubmissionFailed || s == SubmissionCanceled
}

// Rollup folds job statuses into a submission status. The first matching
// rule wins: any FAILED, any CANCELED or ABANDONED, any PENDING or
// SUBMITTED, any BLOCKED, any RUNNING, any COMPLETED or SKIPPED. An empty
// set is UNDEFINED.
func Rollup(statuses []Status) SubmissionStatus {
	var seen [StatusAbandoned + 1]bool
	for _, s := range statuses {
		if s >= 0 && s <= StatusAbandoned {
			seen[s] = true
		}
	}
	switch {
	case seen[StatusFailed]:
		return SubmissionFailed
	case seen[StatusCanceled], seen[StatusAbandoned]:
		return SubmissionCanceled
	case seen[StatusPending], seen[StatusSubmitted]:
		return SubmissionPending
	case seen[StatusBlocked]:
		return SubmissionBlocked
	case seen[StatusRunning]:
		return SubmissionRunning
	case seen[StatusCompleted], seen[StatusSkipped]:
		return SubmissionCompleted
	}
	return SubmissionUndefined
}

// Resolver looks up the current status of a job by id.
type Resolver func(jobID string) (Status, bool)

// Submission aggregates the jobs created by one submit call.
type Submission struct {
	mu         sync.RWMutex
	id         string
	entityID   string
	entityType string
	jobIDs     []string
	status     SubmissionStatus
	createdAt  time.Time
}

// NewSubmission creates a SUBMITTED submission for a submittable entity.
func NewSubmission(entityID, entityType string) *Submission {
	return &Submission{
		id:         "SUBMISSION_" + entityID + "_" + uuid.NewString(),
		entityID:   entityID,
		entityType: entityType,
		status:     SubmissionSubmitted,
		createdAt:  time.Now(),
	}
}

func (s *Submission) ID() string           { return s.id }
func (s *Submission) EntityID() string     { return s.entityID }
func (s *Submission) EntityType() string   { return s.entityType }
func (s *Submission) CreatedAt() time.Time { return s.createdAt }

// AddJob appends a job reference.
func (s *Submission) AddJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobIDs = append(s.jobIDs, jobID)
}

// JobIDs returns the job references in creation order.
func (s *Submission) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.jobIDs...)
}

// Status returns the last computed rollup.
func (s *Submission) Status() SubmissionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RecomputeStatus rolls up the statuses of the jobs resolve can find and
// stores the result. Unresolvable job ids are ignored. changed reports
// whether the stored status moved.
func (s *Submission) RecomputeStatus(resolve Resolver) (status SubmissionStatus, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]Status, 0, len(s.jobIDs))
	for _, id := range s.jobIDs {
		if st, ok := resolve(id); ok {
			statuses = append(statuses, st)
		}
	}
	status = Rollup(statuses)
	changed = status != s.status
	s.status = status
	return status, changed
}

// SubmissionRecord is the persisted form of a Submission.
type SubmissionRecord struct {
	ID         string           `json:"id"`
	EntityID   string           `json:"entity_id"`
	EntityType string           `json:"entity_type"`
	JobIDs     []string         `json:"job_ids"`
	Status     SubmissionStatus `json:"submission_status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Record snapshots the submission for a repository.
func (s *Submission) Record() SubmissionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SubmissionRecord{
		ID:         s.id,
		EntityID:   s.entityID,
		EntityType: s.entityType,
		JobIDs:     append([]string(nil), s.jobIDs...),
		Status:     s.status,
		CreatedAt:  s.createdAt,
	}
}
