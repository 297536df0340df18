package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

type ProcessSessionTask struct {
	Task
	processor SessionProcessor
}

func NewProcessSessionTask(sessionToken string, processor SessionProcessor) *ProcessSessionTask {
	return &ProcessSessionTask{
		Task:      NewTask(TaskTypeProcessSession, sessionToken),
		processor: processor,
	}
}

func (t *ProcessSessionTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.processor.ProcessSession(ctx, t.SessionToken); err != nil {
		return fmt.Errorf("failed to process session: %w", err)
	}

	slog.Info("Task completed",
		"type", "ProcessSession",
		"token", t.SessionToken,
		"duration", t.GetDuration())

	return nil
}
