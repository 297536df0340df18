package queue

import (
	"fmt"
	"log/slog"

	"github.com/curioread/curioread/app/database"
	"github.com/curioread/curioread/app/scrape"
)

// Dispatcher hands an admitted session to the background workers.
type Dispatcher interface {
	DispatchSession(token string)
}

// Controller is the per-user admission gate: at most `slots` sessions per
// user occupy the active queue at once; the rest wait as bookmarks and get
// promoted in submission order as slots free up.
type Controller struct {
	sessions   database.SessionRepository
	dispatcher Dispatcher
	slots      int
}

func NewController(sessions database.SessionRepository, dispatcher Dispatcher, slots int) *Controller {
	if slots <= 0 {
		slots = 2
	}

	return &Controller{sessions: sessions, dispatcher: dispatcher, slots: slots}
}

func (c *Controller) Slots() int {
	return c.slots
}

// SubmitResult reports what a submission did: Created is false on
// resubmission of a known URL, WorkerInvoked is true when the session was
// admitted and dispatched in this call.
type SubmitResult struct {
	Session       *database.Session
	Created       bool
	WorkerInvoked bool
}

// Submit registers a URL for a user. Submissions are idempotent per
// (user, normalized URL): a resubmission returns the existing session
// token. A new session is admitted immediately when the user has a free
// slot, otherwise it waits as a bookmark.
func (c *Controller) Submit(userID, rawURL string) (*SubmitResult, error) {
	normalized, err := scrape.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	session, created, err := c.sessions.UpsertByUserURL(userID, rawURL, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	result := &SubmitResult{Session: session, Created: created}

	switch session.Status {
	case database.SessionStatusBookmarked:
		admitted, err := c.tryAdmit(session)
		if err != nil {
			return nil, err
		}
		result.WorkerInvoked = admitted
	case database.SessionStatusPending, database.SessionStatusErrored:
		// Already admitted but unfinished; a resubmission nudges it along.
		c.dispatcher.DispatchSession(session.SessionToken)
		result.WorkerInvoked = true
	}

	slog.Info("Session submitted",
		"token", session.SessionToken,
		"user", userID,
		"created", created,
		"worker_invoked", result.WorkerInvoked)

	return result, nil
}

// tryAdmit moves a bookmarked session into the active queue when the user
// has a free slot. The occupancy check and the transition are separate
// statements, so a concurrent admit can race past the cap check; the CAS
// on 'bookmarked' keeps each session admitted at most once, and AutoFill
// never overfills because it re-counts per iteration.
func (c *Controller) tryAdmit(session *database.Session) (bool, error) {
	occupied, err := c.sessions.CountOccupying(session.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to count active sessions: %w", err)
	}
	if occupied >= c.slots {
		return false, nil
	}

	admitted, err := c.sessions.UpdateStatusIf(session.ID,
		[]database.SessionStatus{database.SessionStatusBookmarked},
		database.SessionStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to admit session: %w", err)
	}
	if !admitted {
		return false, nil
	}

	session.Status = database.SessionStatusPending
	c.dispatcher.DispatchSession(session.SessionToken)

	slog.Debug("Session admitted", "token", session.SessionToken, "user", session.UserID)

	return true, nil
}

// AutoFill promotes waiting bookmarks, oldest first, until the user's
// slots are full or no bookmarks remain. Returns how many were admitted.
func (c *Controller) AutoFill(userID string) (int, error) {
	promoted := 0

	for {
		occupied, err := c.sessions.CountOccupying(userID)
		if err != nil {
			return promoted, fmt.Errorf("failed to count active sessions: %w", err)
		}
		if occupied >= c.slots {
			return promoted, nil
		}

		waiting, err := c.sessions.OldestWaiting(userID)
		if err != nil {
			return promoted, fmt.Errorf("failed to find waiting session: %w", err)
		}
		if waiting == nil {
			return promoted, nil
		}

		admitted, err := c.tryAdmit(waiting)
		if err != nil {
			return promoted, err
		}
		if admitted {
			promoted++
		}
	}
}

// OnArchive frees the slot a finished session held and backfills it from
// the waiting list.
func (c *Controller) OnArchive(userID string) {
	promoted, err := c.AutoFill(userID)
	if err != nil {
		slog.Error("Failed to backfill queue after archive", "user", userID, "error", err)
		return
	}
	if promoted > 0 {
		slog.Info("Promoted waiting sessions", "user", userID, "count", promoted)
	}
}
