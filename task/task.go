// Package task runs long lived background work, such as relay consumers and
// servers, as a group that stops together.
package task

import "context"

// Task is a unit of background work.
type Task interface {
	// Run blocks until ctx is done or the task cannot continue.
	Run(ctx context.Context) error
	// Name is used in logs.
	Name() string
}

type funcTask struct {
	name string
	run  func(ctx context.Context) error
}

// Func adapts a function to a Task.
func Func(name string, run func(ctx context.Context) error) Task {
	return funcTask{name: name, run: run}
}

func (f funcTask) Run(ctx context.Context) error {
	return f.run(ctx)
}

func (f funcTask) Name() string {
	return f.name
}
