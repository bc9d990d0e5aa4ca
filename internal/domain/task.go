package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusExhausted TaskStatus = "exhausted"
)

// Task is a unit of work delivered by the broker. The worker engine that
// currently holds a delivery is the only mutator; once a task reaches
// TaskStatusSucceeded or TaskStatusExhausted it is never touched again.
type Task struct {
	// ID is the task's unique, opaque identifier.
	ID string `json:"id"`

	// Type selects the registered handler for this task.
	Type string `json:"type"`

	// Args is the task's argument payload, keyed by semantic name.
	Args map[string]any `json:"args"`

	// EnqueuedAt is the timestamp recorded when the task was enqueued.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// DeliveryToken is an opaque per-delivery token owned by the broker
	// client. It is set on delivery and must be echoed back on ack/nack.
	DeliveryToken string `json:"-"`

	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	// Status is the task's current lifecycle state.
	Status TaskStatus `json:"status"`
}

// StringArg returns the named argument as a string.
// The second return value reports whether the argument exists and is a string.
func (t *Task) StringArg(name string) (string, bool) {
	v, ok := t.Args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Marshal serializes the task for broker transport.
func (t *Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTask deserializes a task from its broker transport form.
func UnmarshalTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
