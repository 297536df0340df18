package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curioread/curioread/app/database"
)

// drainBatchSize caps how many sessions one drain pass picks up.
const drainBatchSize = 100

// DrainPendingTask is the self-healing sweep: it re-runs sessions that are
// pending, errored, or stuck in a stale processing claim (crashed worker,
// lost fire-and-forget dispatch), then backfills freed slots from each
// user's waiting list.
type DrainPendingTask struct {
	Task
	sessions    database.SessionRepository
	processor   SessionProcessor
	filler      QueueFiller
	stall       time.Duration
	concurrency int
}

func NewDrainPendingTask(sessions database.SessionRepository, processor SessionProcessor,
	filler QueueFiller, stall time.Duration, concurrency int) *DrainPendingTask {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &DrainPendingTask{
		Task:        NewTask(TaskTypeDrainPending, ""),
		sessions:    sessions,
		processor:   processor,
		filler:      filler,
		stall:       stall,
		concurrency: concurrency,
	}
}

func (t *DrainPendingTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stalledBefore := time.Now().UTC().Add(-t.stall)
	unfinished, err := t.sessions.ListUnfinished(drainBatchSize, stalledBefore)
	if err != nil {
		return fmt.Errorf("failed to list unfinished sessions: %w", err)
	}

	users := make(map[string]struct{})
	for _, session := range unfinished {
		users[session.UserID] = struct{}{}
	}

	processed := 0
	if len(unfinished) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(t.concurrency)

		for _, session := range unfinished {
			token := session.SessionToken
			g.Go(func() error {
				if err := t.processor.ProcessSession(gctx, token); err != nil {
					// Leave the session errored; the next sweep retries it.
					slog.Warn("Drain failed to process session", "token", token, "error", err)
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return fmt.Errorf("drain pass aborted: %w", err)
		}
		processed = len(unfinished)
	}

	// Terminal fan-outs free slots without any API call, so backfill every
	// user with bookmarks waiting, not just those touched above.
	waiting, err := t.sessions.ListUsersWithWaiting()
	if err != nil {
		return fmt.Errorf("failed to list users with waiting sessions: %w", err)
	}
	for _, userID := range waiting {
		users[userID] = struct{}{}
	}

	promoted := 0
	for userID := range users {
		n, err := t.filler.AutoFill(userID)
		if err != nil {
			slog.Warn("Drain failed to backfill queue", "user", userID, "error", err)
			continue
		}
		promoted += n
	}

	if processed > 0 || promoted > 0 {
		slog.Info("Task completed",
			"type", "DrainPending",
			"duration", t.GetDuration(),
			"processed", processed,
			"promoted", promoted)
	}

	return nil
}
