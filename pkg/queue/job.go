package queue

import (
	"context"
	"fmt"
)

// Job handles one message type. The training job is the only one today.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type the job handles.
	Type() string

	// Handle processes one message. A context that is already done means the
	// queue is shutting down and the message will not be retried.
	Handle(ctx context.Context, payload interface{}) error
}

// safeHandle turns a job panic into an error so one bad message cannot
// take a worker down.
func safeHandle(ctx context.Context, job Job, payload interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Handle(ctx, payload)
}
