package app

import "time"

// Operation status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI command for the log. Its ID is the opID column of
// every line the command writes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
	StartedAt  time.Time
}

// NewOperation creates an operation started at now. It succeeds until told otherwise.
func NewOperation(name string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z"),
		Name:      name,
		Status:    StatusSuccess,
		StartedAt: now,
	}
}

// Record stores the parameters of the operation and marks it failed if err is
// non-nil. It returns err unchanged.
func (op *Operation) Record(parameters string, err error) error {
	if parameters != "" {
		op.Parameters = parameters
	}
	if err != nil {
		op.Status = StatusError
	}
	return err
}

// Duration returns how long the operation has run as of now.
func (op *Operation) Duration(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
