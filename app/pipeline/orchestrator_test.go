package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/curioread/curioread/app/content"
	"github.com/curioread/curioread/app/database"
	"github.com/curioread/curioread/app/llm"
	"github.com/curioread/curioread/app/scrape"
)

type fakeScraper struct {
	mu     sync.Mutex
	calls  int
	result *scrape.Result
	err    error
}

func (f *fakeScraper) Run(ctx context.Context, url string) (*scrape.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    int
	analysis *llm.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*llm.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu        sync.Mutex
	calls     int
	questions []llm.Question
	err       error
}

func (f *fakeGenerator) Generate(ctx context.Context, analysis *llm.Analysis, text string) ([]llm.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.questions, nil
}

func (f *fakeGenerator) Model() string { return "fake-model" }

type fixture struct {
	articles  database.ArticleRepository
	quizzes   database.QuizRepository
	hookSets  database.HookSetRepository
	sessions  database.SessionRepository
	scraper   *fakeScraper
	analyzer  *fakeAnalyzer
	generator *fakeGenerator
	orch      *Orchestrator
}

func goodScrapeResult() *scrape.Result {
	return &scrape.Result{
		Kind:  scrape.KindArticle,
		HTML:  "<article><p>tides and gravity</p></article>",
		Text:  "tides and gravity, explained at length",
		Title: "How Tides Work",
	}
}

func goodAnalysis() *llm.Analysis {
	return &llm.Analysis{
		Archetype:   "explainer",
		Complexity:  "introductory",
		Thesis:      "Tides follow the moon.",
		KeyConcepts: []string{"tidal bulge"},
		Language:    "en",
	}
}

func goodQuestions() []llm.Question {
	return []llm.Question{
		{Order: 1, Question: "What force drives tides?", Concept: "tidal bulge"},
		{Order: 2, Question: "Why does geography matter?", Concept: "tidal bulge"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	store, err := content.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		articles:  database.NewArticleRepository(db),
		quizzes:   database.NewQuizRepository(db),
		hookSets:  database.NewHookSetRepository(db),
		sessions:  database.NewSessionRepository(db),
		scraper:   &fakeScraper{result: goodScrapeResult()},
		analyzer:  &fakeAnalyzer{analysis: goodAnalysis()},
		generator: &fakeGenerator{questions: goodQuestions()},
	}

	f.orch = NewOrchestrator(Deps{
		Articles:       f.articles,
		Quizzes:        f.quizzes,
		HookSets:       f.hookSets,
		Sessions:       f.sessions,
		Store:          store,
		Scraper:        f.scraper,
		Analyzer:       f.analyzer,
		Generator:      f.generator,
		Freshness:      30 * 24 * time.Hour,
		StallThreshold: 10 * time.Minute,
		MaxRetries:     3,
	})

	return f
}

// admit creates a session already moved past the bookmark stage.
func (f *fixture) admit(t *testing.T, userID, url string) *database.Session {
	t.Helper()

	session, _, err := f.sessions.UpsertByUserURL(userID, url, url)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status == database.SessionStatusBookmarked {
		if _, err := f.sessions.UpdateStatusIf(session.ID,
			[]database.SessionStatus{database.SessionStatusBookmarked}, database.SessionStatusPending); err != nil {
			t.Fatal(err)
		}
	}
	return session
}

func (f *fixture) sessionStatus(t *testing.T, token string) *database.Session {
	t.Helper()
	session, err := f.sessions.GetByToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if session == nil {
		t.Fatalf("Session %s not found", token)
	}
	return session
}

func TestProcessSessionHappyPath(t *testing.T) {
	f := newFixture(t)
	session := f.admit(t, "user-1", "https://example.com/tides")

	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusReady {
		t.Errorf("Expected session ready, got %s", got.Status)
	}
	if got.QuizID == nil {
		t.Fatal("Expected session linked to a quiz")
	}

	quiz, _ := f.quizzes.GetByID(*got.QuizID)
	if quiz.Status != database.QuizStatusReady {
		t.Errorf("Expected quiz ready, got %s", quiz.Status)
	}
	if quiz.ModelUsed != "fake-model" {
		t.Errorf("Expected model recorded on quiz, got %q", quiz.ModelUsed)
	}

	hookSet, _ := f.hookSets.GetByQuiz(*got.QuizID)
	if hookSet.Status != database.HookSetStatusReady {
		t.Errorf("Expected hook set ready, got %s", hookSet.Status)
	}
	if hookSet.Questions == nil {
		t.Error("Expected questions stored on hook set")
	}
	if hookSet.Pedagogy == nil {
		t.Error("Expected pedagogy snapshot stored on hook set")
	}

	article, _ := f.articles.GetByURL("https://example.com/tides")
	if article.Status != database.ArticleStatusReady {
		t.Errorf("Expected article ready, got %s", article.Status)
	}
	if article.Analysis == nil {
		t.Error("Expected analysis cached on article")
	}
	if article.TextPath == "" || article.StoragePath == "" {
		t.Error("Expected content paths on article")
	}
}

func TestProcessSessionIsIdempotentWhenReady(t *testing.T) {
	f := newFixture(t)
	session := f.admit(t, "user-1", "https://example.com/tides")

	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatal(err)
	}

	if f.scraper.callCount() != 1 {
		t.Errorf("Expected 1 scrape, got %d", f.scraper.callCount())
	}
	if f.analyzer.callCount() != 1 {
		t.Errorf("Expected 1 analysis, got %d", f.analyzer.callCount())
	}
}

func TestFreshArticleShortCircuitsScrapeAndAnalysis(t *testing.T) {
	f := newFixture(t)

	first := f.admit(t, "user-1", "https://example.com/tides")
	if err := f.orch.ProcessSession(context.Background(), first.SessionToken); err != nil {
		t.Fatal(err)
	}

	// Second reader submits the same article: content and analysis are
	// reused, and the shared quiz is already ready.
	second := f.admit(t, "user-2", "https://example.com/tides")
	if err := f.orch.ProcessSession(context.Background(), second.SessionToken); err != nil {
		t.Fatal(err)
	}

	if f.scraper.callCount() != 1 {
		t.Errorf("Expected content reuse with 1 scrape, got %d", f.scraper.callCount())
	}
	if f.analyzer.callCount() != 1 {
		t.Errorf("Expected analysis reuse with 1 call, got %d", f.analyzer.callCount())
	}

	got := f.sessionStatus(t, second.SessionToken)
	if got.Status != database.SessionStatusReady {
		t.Errorf("Expected second session ready, got %s", got.Status)
	}
	if got.QuizID == nil {
		t.Fatal("Expected second session linked to the shared quiz")
	}
	firstGot := f.sessionStatus(t, first.SessionToken)
	if *got.QuizID != *firstGot.QuizID {
		t.Error("Expected both sessions to share one quiz")
	}
}

func TestTerminalScrapeFailureSkipsAfterOneAttempt(t *testing.T) {
	f := newFixture(t)
	f.scraper.err = &scrape.Error{Code: scrape.CodeContentTooShort, Err: fmt.Errorf("too short")}

	session := f.admit(t, "user-1", "https://example.com/stub")

	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Expected terminal failure to be swallowed, got %v", err)
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusSkipByFailure {
		t.Errorf("Expected session skip_by_failure, got %s", got.Status)
	}
	if got.LastErrorStep != StepArticle {
		t.Errorf("Expected error step %q, got %q", StepArticle, got.LastErrorStep)
	}

	article, _ := f.articles.GetByURL("https://example.com/stub")
	if article.Status != database.ArticleStatusSkipByFailure {
		t.Errorf("Expected article skip_by_failure, got %s", article.Status)
	}
	if f.scraper.callCount() != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", f.scraper.callCount())
	}

	// Re-processing a terminally skipped session is a no-op.
	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatal(err)
	}
	if f.scraper.callCount() != 1 {
		t.Errorf("Expected no further attempts, got %d", f.scraper.callCount())
	}
}

func TestRetryableScrapeFailureLeavesSessionErrored(t *testing.T) {
	f := newFixture(t)
	f.scraper.err = &scrape.Error{Code: scrape.CodeFetchFailed, StatusCode: http.StatusServiceUnavailable, Err: fmt.Errorf("unavailable")}

	session := f.admit(t, "user-1", "https://example.com/flaky")

	err := f.orch.ProcessSession(context.Background(), session.SessionToken)
	if err == nil {
		t.Fatal("Expected retryable failure to be returned")
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusErrored {
		t.Errorf("Expected session errored, got %s", got.Status)
	}

	// The article claim was released for the next attempt.
	article, _ := f.articles.GetByURL("https://example.com/flaky")
	if article.Status != database.ArticleStatusPending {
		t.Errorf("Expected article back to pending, got %s", article.Status)
	}

	// The site recovers; the errored session is picked up again and
	// completes without being re-admitted.
	f.scraper.err = nil
	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Unexpected error on retry: %v", err)
	}
	got = f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusReady {
		t.Errorf("Expected session ready after retry, got %s", got.Status)
	}
}

func TestRetryBudgetExhaustionEscalates(t *testing.T) {
	f := newFixture(t)
	f.generator.err = &llm.Error{Code: llm.CodeBadResponse, Err: fmt.Errorf("unparseable")}

	session := f.admit(t, "user-1", "https://example.com/tides")

	for attempt := 1; attempt <= 3; attempt++ {
		if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err == nil {
			t.Fatalf("Expected attempt %d to report the retryable failure", attempt)
		}
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusSkipByFailure {
		t.Errorf("Expected session skip_by_failure after exhausted budget, got %s", got.Status)
	}

	quiz, _ := f.quizzes.GetByID(*got.QuizID)
	if quiz.Status != database.QuizStatusSkipByFailure {
		t.Errorf("Expected quiz skip_by_failure, got %s", quiz.Status)
	}

	hookSet, _ := f.hookSets.GetByQuiz(*got.QuizID)
	if hookSet.Status != database.HookSetStatusSkipByFailure {
		t.Errorf("Expected hook set skip_by_failure, got %s", hookSet.Status)
	}
	if hookSet.RetryCount != 3 {
		t.Errorf("Expected retry count 3, got %d", hookSet.RetryCount)
	}

	// Further processing is a no-op: the session is terminal.
	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatal(err)
	}
}

func TestRetryBudgetExhaustionFansOutToLinkedSessions(t *testing.T) {
	f := newFixture(t)
	f.generator.err = &llm.Error{Code: llm.CodeBadResponse, Err: fmt.Errorf("unparseable")}

	first := f.admit(t, "user-1", "https://example.com/tides")
	second := f.admit(t, "user-2", "https://example.com/tides")

	// Link the second session to the shared quiz via its own first attempt.
	f.orch.ProcessSession(context.Background(), first.SessionToken)
	f.orch.ProcessSession(context.Background(), second.SessionToken)
	f.orch.ProcessSession(context.Background(), first.SessionToken)

	firstGot := f.sessionStatus(t, first.SessionToken)
	secondGot := f.sessionStatus(t, second.SessionToken)
	if firstGot.Status != database.SessionStatusSkipByFailure {
		t.Errorf("Expected first session skip_by_failure, got %s", firstGot.Status)
	}
	if secondGot.Status != database.SessionStatusSkipByFailure {
		t.Errorf("Expected linked session skip_by_failure, got %s", secondGot.Status)
	}
}

func TestRefusalIsTerminalImmediately(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = &llm.Error{Code: llm.CodeRefused, Err: fmt.Errorf("content filter")}

	session := f.admit(t, "user-1", "https://example.com/tides")

	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Expected terminal failure to be swallowed, got %v", err)
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusSkipByFailure {
		t.Errorf("Expected session skip_by_failure, got %s", got.Status)
	}
	if got.LastErrorStep != StepAnalysis {
		t.Errorf("Expected error step %q, got %q", StepAnalysis, got.LastErrorStep)
	}
}

func TestPDFSessionReadyWithoutQuiz(t *testing.T) {
	f := newFixture(t)
	f.scraper.result = &scrape.Result{Kind: scrape.KindPDF, PDF: []byte("%PDF-1.4"), Title: "/paper.pdf"}

	session := f.admit(t, "user-1", "https://example.com/paper.pdf")

	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusReady {
		t.Errorf("Expected session ready, got %s", got.Status)
	}

	quiz, _ := f.quizzes.GetByID(*got.QuizID)
	if quiz.Status != database.QuizStatusNotRequired {
		t.Errorf("Expected quiz not_required for PDF, got %s", quiz.Status)
	}
	if f.analyzer.callCount() != 0 {
		t.Errorf("Expected no analysis for PDF, got %d calls", f.analyzer.callCount())
	}
	if f.generator.calls != 0 {
		t.Errorf("Expected no question generation for PDF, got %d calls", f.generator.calls)
	}
}

func TestBookmarkedSessionIsNotProcessed(t *testing.T) {
	f := newFixture(t)

	session, _, err := f.sessions.UpsertByUserURL("user-1", "https://example.com/tides", "https://example.com/tides")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.ProcessSession(context.Background(), session.SessionToken); err != nil {
		t.Fatal(err)
	}

	got := f.sessionStatus(t, session.SessionToken)
	if got.Status != database.SessionStatusBookmarked {
		t.Errorf("Expected bookmarked session untouched, got %s", got.Status)
	}
	if f.scraper.callCount() != 0 {
		t.Errorf("Expected no scrape for a waiting bookmark, got %d", f.scraper.callCount())
	}
}
