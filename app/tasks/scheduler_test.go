package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/curioread/curioread/app/cfg"
	"github.com/curioread/curioread/app/database"
)

type signallingProcessor struct {
	mu     sync.Mutex
	tokens []string
	done   chan string
}

func (p *signallingProcessor) ProcessSession(ctx context.Context, token string) error {
	p.mu.Lock()
	p.tokens = append(p.tokens, token)
	p.mu.Unlock()
	p.done <- token
	return nil
}

func TestSchedulerDispatchesSessions(t *testing.T) {
	cfg.Set(&cfg.Cfg{
		WorkerCount:       2,
		DrainWorkerCount:  1,
		SchedulerInterval: 3600, // keep the periodic drain out of this test
		StallMinutes:      10,
	})

	db, err := database.NewConnection(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatal(err)
	}
	sessions := database.NewSessionRepository(db)

	processor := &signallingProcessor{done: make(chan string, 10)}
	scheduler := NewScheduler(sessions, processor)
	scheduler.SetQueueFiller(&recordingFiller{})

	scheduler.Start()
	defer scheduler.Stop()

	scheduler.DispatchSession("token-1")
	scheduler.DispatchSession("token-2")

	received := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for len(received) < 2 {
		select {
		case token := <-processor.done:
			received[token] = true
		case <-timeout:
			t.Fatalf("Timed out waiting for dispatches, got %v", received)
		}
	}

	if !received["token-1"] || !received["token-2"] {
		t.Errorf("Expected both tokens processed, got %v", received)
	}
}

func TestSchedulerDrainsOnStartup(t *testing.T) {
	cfg.Set(&cfg.Cfg{
		WorkerCount:       1,
		DrainWorkerCount:  1,
		SchedulerInterval: 3600,
		StallMinutes:      10,
	})

	db, err := database.NewConnection(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatal(err)
	}
	sessions := database.NewSessionRepository(db)

	// A session left pending by a previous run must be picked up without
	// any new submission.
	orphan, _, err := sessions.UpsertByUserURL("user-1", "https://example.com/a", "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if err := sessions.UpdateStatus(orphan.ID, database.SessionStatusPending); err != nil {
		t.Fatal(err)
	}

	processor := &signallingProcessor{done: make(chan string, 10)}
	scheduler := NewScheduler(sessions, processor)
	scheduler.SetQueueFiller(&recordingFiller{})

	scheduler.Start()
	defer scheduler.Stop()

	select {
	case token := <-processor.done:
		if token != orphan.SessionToken {
			t.Errorf("Expected orphaned session %s, got %s", orphan.SessionToken, token)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the startup drain")
	}
}
