// Package taskqueue is a small chain/group task runner: tasks travel over a broker
// (kafka or asynq), their state lives in a result backend, and chains of tasks are
// grouped so the collective state can be read back through a single group id.
package taskqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusStarted  Status = "STARTED"
	StatusSuccess  Status = "SUCCESS"
	StatusFailure  Status = "FAILURE"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether a task in this status will not run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusRejected:
		return true
	}
	return false
}

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrGroupNotFound = errors.New("group not found")
	ErrUnknownTask   = errors.New("unknown task")

	// ErrAlreadyFinished marks a delivery of a task whose outcome is already recorded.
	ErrAlreadyFinished = errors.New("task already finished")

	// ErrPartialPublish means some chain heads reached the broker before publishing failed.
	ErrPartialPublish = errors.New("group partially published")
)

// Signature names a task and its arguments.
type Signature struct {
	Task string          `json:"task"`
	Args json.RawMessage `json:"args,omitempty"`
}

func NewSignature(task string, args any) (Signature, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Signature{}, fmt.Errorf("taskqueue.NewSignature: %s: %w", task, err)
	}
	return Signature{Task: task, Args: raw}, nil
}

// Chain runs its signatures in order; each stage receives the previous stage's result as Input.
type Chain []Signature

// Link is a not yet published chain stage whose id was assigned at submission.
type Link struct {
	ID   string          `json:"id"`
	Task string          `json:"task"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Message is the wire envelope carried by brokers.
type Message struct {
	ID       string          `json:"id"`
	Task     string          `json:"task"`
	Args     json.RawMessage `json:"args,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	GroupID  string          `json:"group_id,omitempty"`
	ParentID string          `json:"parent_id,omitempty"`
	Links    []Link          `json:"links,omitempty"`
	ETA      time.Time       `json:"eta"`
}

// TaskMeta is the state persisted in the result backend for one task.
type TaskMeta struct {
	ID        string          `json:"task_id"`
	Task      string          `json:"task"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ParentID  string          `json:"parent_id,omitempty"`
	GroupID   string          `json:"group_id,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GroupMeta lists the tail task of every chain in a group.
type GroupMeta struct {
	ID        string    `json:"group_id"`
	Tails     []string  `json:"tails"`
	CreatedAt time.Time `json:"created_at"`
}

type rejectError struct {
	err error
}

func (e *rejectError) Error() string { return "rejected: " + e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

// Reject marks err as a deliberate no-op: the task ends REJECTED, is never requeued and
// is not counted as a failure.
func Reject(err error) error {
	if err == nil {
		err = errors.New("rejected")
	}
	return &rejectError{err: err}
}

func IsRejected(err error) bool {
	var re *rejectError
	return errors.As(err, &re)
}
