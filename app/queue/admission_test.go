package queue

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/curioread/curioread/app/database"
)

// recordingDispatcher captures the tokens handed to the workers.
type recordingDispatcher struct {
	mu     sync.Mutex
	tokens []string
}

func (d *recordingDispatcher) DispatchSession(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func newTestController(t *testing.T) (*Controller, database.SessionRepository, *recordingDispatcher) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	sessions := database.NewSessionRepository(db)
	dispatcher := &recordingDispatcher{}
	return NewController(sessions, dispatcher, 2), sessions, dispatcher
}

func TestSubmitAdmitsUpToSlotLimit(t *testing.T) {
	controller, _, dispatcher := newTestController(t)

	first, err := controller.Submit("user-1", "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created || !first.WorkerInvoked {
		t.Errorf("Expected first submission created and dispatched, got created=%v invoked=%v", first.Created, first.WorkerInvoked)
	}
	if first.Session.Status != database.SessionStatusPending {
		t.Errorf("Expected status pending, got %s", first.Session.Status)
	}

	second, err := controller.Submit("user-1", "https://example.com/b")
	if err != nil {
		t.Fatal(err)
	}
	if !second.WorkerInvoked {
		t.Error("Expected second submission to be admitted")
	}

	// Both slots taken: the third submission waits as a bookmark.
	third, err := controller.Submit("user-1", "https://example.com/c")
	if err != nil {
		t.Fatal(err)
	}
	if third.WorkerInvoked {
		t.Error("Expected third submission to wait")
	}
	if third.Session.Status != database.SessionStatusBookmarked {
		t.Errorf("Expected status bookmarked, got %s", third.Session.Status)
	}

	if dispatcher.count() != 2 {
		t.Errorf("Expected 2 dispatches, got %d", dispatcher.count())
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	controller, _, _ := newTestController(t)

	first, err := controller.Submit("user-1", "https://example.com/post?utm_source=mail")
	if err != nil {
		t.Fatal(err)
	}
	second, err := controller.Submit("user-1", "https://example.com/post")
	if err != nil {
		t.Fatal(err)
	}

	if second.Created {
		t.Error("Expected resubmission to reuse the session")
	}
	if first.Session.SessionToken != second.Session.SessionToken {
		t.Errorf("Expected same token, got %s and %s", first.Session.SessionToken, second.Session.SessionToken)
	}
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	controller, _, dispatcher := newTestController(t)

	if _, err := controller.Submit("user-1", "ftp://example.com/file"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
	if _, err := controller.Submit("user-1", ""); err == nil {
		t.Error("Expected error for empty URL")
	}
	if dispatcher.count() != 0 {
		t.Errorf("Expected no dispatches, got %d", dispatcher.count())
	}
}

func TestSlotCountsOnlyOccupyingSessions(t *testing.T) {
	controller, sessions, _ := newTestController(t)

	first, _ := controller.Submit("user-1", "https://example.com/a")
	controller.Submit("user-1", "https://example.com/b")

	// Finishing one read frees its slot for the next submission.
	sessions.UpdateStatus(first.Session.ID, database.SessionStatusReady)
	if _, err := sessions.SetStudyStatus(first.Session.SessionToken, database.StudyStatusArchived); err != nil {
		t.Fatal(err)
	}

	third, err := controller.Submit("user-1", "https://example.com/c")
	if err != nil {
		t.Fatal(err)
	}
	if !third.WorkerInvoked {
		t.Error("Expected submission into the freed slot to be admitted")
	}
}

func TestAutoFillPromotesOldestFirst(t *testing.T) {
	controller, sessions, dispatcher := newTestController(t)

	controller.Submit("user-1", "https://example.com/a")
	controller.Submit("user-1", "https://example.com/b")
	third, _ := controller.Submit("user-1", "https://example.com/c")
	fourth, _ := controller.Submit("user-1", "https://example.com/d")

	promoted, err := controller.AutoFill("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if promoted != 0 {
		t.Errorf("Expected no promotions while slots are full, got %d", promoted)
	}

	// Both active reads finish.
	for _, result := range []string{dispatcher.tokens[0], dispatcher.tokens[1]} {
		session, _ := sessions.GetByToken(result)
		sessions.UpdateStatus(session.ID, database.SessionStatusReady)
		if _, err := sessions.SetStudyStatus(session.SessionToken, database.StudyStatusArchived); err != nil {
			t.Fatal(err)
		}
	}

	promoted, err = controller.AutoFill("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if promoted != 2 {
		t.Errorf("Expected 2 promotions, got %d", promoted)
	}

	gotThird, _ := sessions.GetByToken(third.Session.SessionToken)
	gotFourth, _ := sessions.GetByToken(fourth.Session.SessionToken)
	if gotThird.Status != database.SessionStatusPending {
		t.Errorf("Expected oldest bookmark promoted, got %s", gotThird.Status)
	}
	if gotFourth.Status != database.SessionStatusPending {
		t.Errorf("Expected second bookmark promoted, got %s", gotFourth.Status)
	}
}

func TestOnArchivePromotesWaitingSession(t *testing.T) {
	controller, sessions, dispatcher := newTestController(t)

	first, _ := controller.Submit("user-1", "https://example.com/a")
	controller.Submit("user-1", "https://example.com/b")
	waiting, _ := controller.Submit("user-1", "https://example.com/c")

	sessions.UpdateStatus(first.Session.ID, database.SessionStatusReady)
	if _, err := sessions.SetStudyStatus(first.Session.SessionToken, database.StudyStatusArchived); err != nil {
		t.Fatal(err)
	}

	controller.OnArchive("user-1")

	got, _ := sessions.GetByToken(waiting.Session.SessionToken)
	if got.Status != database.SessionStatusPending {
		t.Errorf("Expected waiting session promoted on archive, got %s", got.Status)
	}
	if dispatcher.count() != 3 {
		t.Errorf("Expected 3 dispatches total, got %d", dispatcher.count())
	}
}

func TestAdmissionIsBoundedPerUser(t *testing.T) {
	controller, sessions, _ := newTestController(t)

	for i := 0; i < 5; i++ {
		url := "https://example.com/post-" + string(rune('a'+i))
		if _, err := controller.Submit("user-1", url); err != nil {
			t.Fatal(err)
		}
	}

	count, err := sessions.CountOccupying("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Expected exactly 2 admitted sessions, got %d", count)
	}

	// A different user gets their own slots.
	result, err := controller.Submit("user-2", "https://example.com/other")
	if err != nil {
		t.Fatal(err)
	}
	if !result.WorkerInvoked {
		t.Error("Expected another user's submission to be admitted")
	}
}
