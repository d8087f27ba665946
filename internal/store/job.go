package store

import "time"

// Status is the lifecycle state of a job.
// Jobs move strictly forward: new -> pending -> processing -> one of
// the terminal states.
type Status string

const (
	StatusNew        Status = "new"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// Statuses lists all states, in lifecycle order.
var Statuses = []Status{
	StatusNew, StatusPending, StatusProcessing,
	StatusDone, StatusError, StatusSkipped,
}

func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// Job is one persisted unit of scheduled work.
type Job struct {
	ID          int64
	Application string
	Owner       string
	Repository  string
	// Module is empty for repository-wide events until the intake
	// loop fanned the job out.
	Module          string
	EventName       string
	ModuleEventName string
	EventData       map[string]any
	Status          Status
	// Lane is the priority lane the job was assigned to, empty while
	// the job is new.
	Lane       string
	Log        string
	OutputID   *int64
	ClaimedBy  string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// CreateJobParams collects the inputs to insert a job.
type CreateJobParams struct {
	Application     string
	Owner           string
	Repository      string
	Module          string
	EventName       string
	ModuleEventName string
	EventData       map[string]any
	// Status defaults to StatusNew. Fan-out children are inserted
	// directly as StatusPending with Lane set.
	Status Status
	Lane   string
}

// Output is an immutable artifact a module produced while processing a
// job, e.g. a rendered report. It is linked from the job via output_id.
type Output struct {
	ID         int64
	JobID      int64
	Status     string
	AccessType string
	Title      string
	Data       string
	CreatedAt  time.Time
}

// JobFilters restricts ListJobs. Zero values match everything.
type JobFilters struct {
	Status      Status
	Application string
	Module      string
	Owner       string
	Repository  string
	Limit       int
}
