package concurrency

import "context"

// Task is a unit of work run by a WorkerPool.
type Task interface {
	Execute(ctx context.Context) error

	// Name identifies the task in logs.
	Name() string
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Name returns "task".
func (f TaskFunc) Name() string {
	return "task"
}

// NamedTask is a TaskFunc with a name for logging.
type NamedTask struct {
	name string
	fn   TaskFunc
}

// NewNamedTask wraps fn.
func NewNamedTask(name string, fn TaskFunc) *NamedTask {
	return &NamedTask{name: name, fn: fn}
}

// Execute calls the wrapped function.
func (nt *NamedTask) Execute(ctx context.Context) error {
	return nt.fn(ctx)
}

// Name returns the task name.
func (nt *NamedTask) Name() string {
	return nt.name
}
