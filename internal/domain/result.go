package domain

import "time"

// Outcome is the terminal classification of a task execution.
type Outcome string

// Possible task outcomes
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TaskResult records the terminal outcome of a task. Exactly one TaskResult
// is produced per task that reaches a terminal state.
type TaskResult struct {
	// TaskID identifies the task this result belongs to.
	TaskID string `json:"task_id"`

	// TaskType is the task's registered type name.
	TaskType string `json:"task_type"`

	// Outcome tags the result as a success or a failure.
	Outcome Outcome `json:"outcome"`

	// Payload carries handler output for successful executions.
	Payload map[string]any `json:"payload,omitempty"`

	// Error holds the terminal error detail for failures.
	Error string `json:"error,omitempty"`

	// Score is the regression score computed for the task, when the
	// handler scored its output. Nil when no score applies.
	Score *float64 `json:"score,omitempty"`

	// Filtered is true when the blacklist rejected the task before any
	// side-effecting work. A filtered task is a successful no-op.
	Filtered bool `json:"filtered"`

	// Attempts is the total number of execution attempts, including the
	// final one.
	Attempts int `json:"attempts"`

	// CompletedAt is when the task reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`
}

// SuccessResult builds a successful TaskResult with the given payload.
func SuccessResult(payload map[string]any) *TaskResult {
	return &TaskResult{
		Outcome: OutcomeSuccess,
		Payload: payload,
	}
}

// FilteredResult builds the successful no-op result for a blacklisted task.
func FilteredResult() *TaskResult {
	return &TaskResult{
		Outcome:  OutcomeSuccess,
		Filtered: true,
	}
}
