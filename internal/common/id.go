package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewTaskID generates a unique scheduled task id with the "task_" prefix.
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewExecutionID generates a unique task execution id with the "exec_" prefix.
func NewExecutionID() string {
	return "exec_" + uuid.New().String()
}

// NewJobID generates a unique job id with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewJobResultID generates a unique job result id.
func NewJobResultID() string {
	return "res_" + uuid.New().String()
}

// NewLedgerID generates a unique billing ledger row id.
func NewLedgerID() string {
	return "ledg_" + uuid.New().String()
}

// IdempotencyKeyForExecution builds the execution idempotency key per spec:
// "{task_uuid}-{epoch_ms}".
func IdempotencyKeyForExecution(taskUUID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", taskUUID, at.UnixMilli())
}

// IdempotencyKeyForPageCharge builds the per-page billing idempotency key:
// "crawl:page-success:{jobId}:{done}".
func IdempotencyKeyForPageCharge(jobID string, done int) string {
	return fmt.Sprintf("crawl:page-success:%s:%d", jobID, done)
}
