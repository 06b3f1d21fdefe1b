package port

import (
	"context"
	"time"
)

// Task is a background job: a stable type name plus opaque payload bytes.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks the backend to retry, so
// handlers must be idempotent.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption controls enqueue behavior. Zero values mean unspecified;
// adapters ignore fields their backend cannot honor.
type EnqueueOption struct {
	Queue     string
	ProcessIn time.Duration
	ProcessAt time.Time // wins over ProcessIn
	MaxRetry  int
	TaskID    string // backend-level dedup key
	UniqueTTL time.Duration
	Retention time.Duration
	Deadline  time.Time
}

type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server runs workers. Run blocks until ctx is cancelled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ErrDuplicateTask is returned by Enqueue when the backend already holds a
// task with the same TaskID or uniqueness key.
var ErrDuplicateTask = errDuplicate{}

// ErrSkipRetry wrapped into a handler error marks the task as permanently
// failed, for example on a payload that can never decode.
var ErrSkipRetry = errSkipRetry{}

type errDuplicate struct{}

func (errDuplicate) Error() string { return "queue: duplicate task" }

type errSkipRetry struct{}

func (errSkipRetry) Error() string { return "queue: skip retry" }
