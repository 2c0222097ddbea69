package models

import "time"

// ExecutionStatus is the lifecycle state of a TaskExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// TriggerSource identifies what caused an execution to be created.
type TriggerSource string

const (
	TriggeredByScheduler TriggerSource = "scheduler"
	TriggeredByManual    TriggerSource = "manual"
	TriggeredBySystem    TriggerSource = "system"
)

// TaskExecution is a single firing of a ScheduledTask.
type TaskExecution struct {
	UUID               string `json:"uuid" badgerholdKey:"UUID"`
	ScheduledTaskUUID  string `json:"scheduled_task_uuid" badgerholdIndex:"ScheduledTaskUUID"`
	ExecutionNumber    int    `json:"execution_number"`
	IdempotencyKey     string `json:"idempotency_key" badgerholdUnique:"IdempotencyKey"`

	Status ExecutionStatus `json:"status" badgerholdIndex:"Status"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	TriggeredBy TriggerSource `json:"triggered_by"`

	JobUUID      string `json:"job_uuid,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarkRunning transitions a pending execution to running, attaching the
// created Job's uuid. It is a no-op if the execution is already terminal.
func (e *TaskExecution) MarkRunning(jobUUID string) {
	if e.Status.IsTerminal() {
		return
	}
	now := time.Now()
	e.Status = ExecutionRunning
	e.StartedAt = &now
	e.JobUUID = jobUUID
}

// Complete performs a one-way terminal transition. Once an execution is
// terminal, subsequent calls are no-ops so a racing double-completion
// cannot rewrite history.
func (e *TaskExecution) Complete(status ExecutionStatus, errCode, errMsg, errDetails string) {
	if e.Status.IsTerminal() {
		return
	}
	now := time.Now()
	e.Status = status
	e.CompletedAt = &now
	e.ErrorCode = errCode
	e.ErrorMessage = errMsg
	e.ErrorDetails = errDetails
}
