package tasks

import "context"

// TaskSchedulerInterface is what the main application uses to manage
// background task processing.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	DispatchSession(token string)
}

// SessionProcessor runs the pipeline for one session.
type SessionProcessor interface {
	ProcessSession(ctx context.Context, token string) error
}

// QueueFiller promotes a user's waiting bookmarks into free slots.
type QueueFiller interface {
	AutoFill(userID string) (int, error)
}
