package models

import "time"

// TaskType enumerates the kinds of work a ScheduledTask can trigger.
type TaskType string

const (
	TaskTypeScrape   TaskType = "scrape"
	TaskTypeCrawl    TaskType = "crawl"
	TaskTypeSearch   TaskType = "search"
	TaskTypeMap      TaskType = "map"
	TaskTypeTemplate TaskType = "template"
)

// ConcurrencyMode controls whether a task may overlap with itself.
type ConcurrencyMode string

const (
	ConcurrencySkip  ConcurrencyMode = "skip"
	ConcurrencyQueue ConcurrencyMode = "queue"
)

// MaxConsecutiveFailures is the threshold at which a task is auto-paused.
const MaxConsecutiveFailures = 5

// ScheduledTask is a user's declaration of recurring work.
type ScheduledTask struct {
	UUID        string `json:"uuid" badgerholdKey:"UUID"`
	ApiKeyID    string `json:"api_key_id" badgerholdIndex:"ApiKeyID"`
	UserID      string `json:"user_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"` // IANA zone name

	TaskType    TaskType               `json:"task_type"`
	TaskPayload map[string]interface{} `json:"task_payload"` // opaque; may contain template_id

	ConcurrencyMode       ConcurrencyMode `json:"concurrency_mode"`
	MaxExecutionsPerDay   int             `json:"max_executions_per_day,omitempty"` // 0 = unlimited
	MinCreditsRequired    float64         `json:"min_credits_required"`

	IsActive    bool   `json:"is_active" badgerholdIndex:"IsActive"`
	IsPaused    bool   `json:"is_paused"`
	PauseReason string `json:"pause_reason,omitempty"`

	NextExecutionAt *time.Time `json:"next_execution_at,omitempty" badgerholdIndex:"NextExecutionAt"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`

	TotalExecutions      int `json:"total_executions"`
	SuccessfulExecutions int `json:"successful_executions"`
	FailedExecutions     int `json:"failed_executions"`
	ConsecutiveFailures  int `json:"consecutive_failures"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" badgerholdIndex:"UpdatedAt"`
}

// IsEligibleForTrigger reports whether the task should fire on its next
// cron tick: active and not paused.
func (t *ScheduledTask) IsEligibleForTrigger() bool {
	return t.IsActive && !t.IsPaused
}

// RecordFailure increments failure counters and auto-pauses the task once
// MaxConsecutiveFailures is reached.
func (t *ScheduledTask) RecordFailure(reason string) {
	t.FailedExecutions++
	t.ConsecutiveFailures++
	if t.ConsecutiveFailures >= MaxConsecutiveFailures {
		t.IsPaused = true
		t.PauseReason = reason
	}
}

// RecordSuccess increments success counters and resets the consecutive
// failure streak.
func (t *ScheduledTask) RecordSuccess() {
	t.SuccessfulExecutions++
	t.ConsecutiveFailures = 0
}

// Stop deactivates the task entirely (e.g. missing api_key or template).
func (t *ScheduledTask) Stop(reason string) {
	t.IsActive = false
	t.IsPaused = true
	t.PauseReason = reason
}

// Pause marks the task paused without deactivating it, so a future manual
// resume can re-register its trigger.
func (t *ScheduledTask) Pause(reason string) {
	t.IsPaused = true
	t.PauseReason = reason
}

// Resume clears the paused state, allowing the trigger to fire again.
func (t *ScheduledTask) Resume() {
	t.IsPaused = false
	t.PauseReason = ""
}
