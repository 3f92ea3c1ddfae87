package domain

import "time"

type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationFailed
}

type OperationKind string

const (
	OpPullImage      OperationKind = "pull-image"
	OpBuildImage     OperationKind = "build-image"
	OpRunCompose     OperationKind = "run-compose"
	OpStopCompose    OperationKind = "stop-compose"
	OpRemoveResource OperationKind = "remove-resource"
	OpGenericExec    OperationKind = "generic-exec"
)

// Operation is the durable record of one tracked background task. It is
// created pending, moved to running when the command is invoked, and parked
// in a terminal state on exit. Terminal records are never mutated again and
// never deleted; they are the audit history.
type Operation struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	Kind        OperationKind   `json:"kind"`
	Target      string          `json:"target"`
	Status      OperationStatus `json:"status"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	UserRef     string          `json:"user_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (Operation) TableName() string {
	return "operations"
}
