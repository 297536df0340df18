package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/curioread/curioread/app/content"
	"github.com/curioread/curioread/app/database"
	"github.com/curioread/curioread/app/llm"
	"github.com/curioread/curioread/app/scrape"
)

// Deps wires the repositories and adapters into the orchestrator.
type Deps struct {
	Articles database.ArticleRepository
	Quizzes  database.QuizRepository
	HookSets database.HookSetRepository
	Sessions database.SessionRepository

	Store     ContentStore
	Scraper   Scraper
	Analyzer  Analyzer
	Generator Generator

	// Freshness is the window within which scraped content is reused
	// without re-fetching.
	Freshness time.Duration
	// StallThreshold is how long a 'processing' claim may sit untouched
	// before another worker may take it over.
	StallThreshold time.Duration
	// MaxRetries is the retry budget at the hook-set level before a
	// retryable failure escalates to terminal.
	MaxRetries int
}

// Orchestrator drives a session through the article → quiz → analysis →
// questions pipeline. Every step is idempotent, so ProcessSession may be
// called repeatedly (and concurrently — claims arbitrate) for the same
// session.
type Orchestrator struct {
	articles database.ArticleRepository
	quizzes  database.QuizRepository
	hookSets database.HookSetRepository
	sessions database.SessionRepository

	store     ContentStore
	scraper   Scraper
	analyzer  Analyzer
	generator Generator

	freshness  time.Duration
	stall      time.Duration
	maxRetries int
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Freshness == 0 {
		deps.Freshness = 30 * 24 * time.Hour
	}
	if deps.StallThreshold == 0 {
		deps.StallThreshold = 10 * time.Minute
	}
	if deps.MaxRetries == 0 {
		deps.MaxRetries = 3
	}

	return &Orchestrator{
		articles:   deps.Articles,
		quizzes:    deps.Quizzes,
		hookSets:   deps.HookSets,
		sessions:   deps.Sessions,
		store:      deps.Store,
		scraper:    deps.Scraper,
		analyzer:   deps.Analyzer,
		generator:  deps.Generator,
		freshness:  deps.Freshness,
		stall:      deps.StallThreshold,
		maxRetries: deps.MaxRetries,
	}
}

// runState carries the resources resolved so far through one invocation.
type runState struct {
	session  *database.Session
	article  *database.Article
	quiz     *database.Quiz
	hookSet  *database.HookSet
	text     string
	analysis *llm.Analysis
}

// ProcessSession advances one session as far as it can get. A retryable
// failure is returned so the caller's retry machinery can re-run it; all
// other outcomes (success, terminal failure, lost claim) return nil.
func (o *Orchestrator) ProcessSession(ctx context.Context, token string) error {
	session, err := o.sessions.GetByToken(token)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session %s not found", token)
	}

	if session.Status == database.SessionStatusBookmarked ||
		session.Status == database.SessionStatusReady ||
		session.Status.IsTerminal() {
		return nil
	}

	claimed, err := o.sessions.UpdateStatusIf(session.ID,
		[]database.SessionStatus{database.SessionStatusPending, database.SessionStatusErrored},
		database.SessionStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to claim session: %w", err)
	}

	if !claimed {
		// A 'processing' session is owned by another worker unless its
		// claim went stale (crashed worker); then the drain path may
		// take over.
		if session.Status != database.SessionStatusProcessing ||
			time.Since(session.UpdatedAt) < o.stall {
			return nil
		}
		claimed, err = o.sessions.UpdateStatusIf(session.ID,
			[]database.SessionStatus{database.SessionStatusProcessing},
			database.SessionStatusProcessing)
		if err != nil || !claimed {
			return err
		}
	}

	slog.Info("Processing session", "token", session.SessionToken, "user", session.UserID, "url", session.ArticleURL)

	st := &runState{session: session}
	if stepErr := o.run(ctx, st); stepErr != nil {
		o.fail(st, stepErr)
		if stepErr.Class == ClassRetryable {
			return stepErr
		}
	}

	return nil
}

func (o *Orchestrator) run(ctx context.Context, st *runState) *StepError {
	if stepErr := o.processArticle(ctx, st); stepErr != nil {
		return stepErr
	}

	done, stepErr := o.processQuiz(st)
	if stepErr != nil {
		return stepErr
	}
	if done {
		return nil
	}

	if stepErr := o.processAnalysis(ctx, st); stepErr != nil {
		return stepErr
	}

	if stepErr := o.processQuestions(ctx, st); stepErr != nil {
		return stepErr
	}

	return o.complete(st)
}

// processArticle ensures the article row exists and holds fresh content.
// Fresh, content-bearing articles short-circuit without touching the
// scraper.
func (o *Orchestrator) processArticle(ctx context.Context, st *runState) *StepError {
	article, err := o.articles.UpsertByURL(st.session.NormalizedURL, st.session.ArticleURL)
	if err != nil {
		return retryable(StepArticle, "article storage unavailable", err)
	}
	st.article = article

	if article.Status == database.ArticleStatusSkipByFailure {
		return terminal(StepArticle, "article content previously failed to scrape", nil)
	}

	if o.isFresh(article) {
		return o.loadText(st)
	}

	claimed, err := o.articles.ClaimForScrape(article.ID, time.Now().UTC().Add(-o.stall))
	if err != nil {
		return retryable(StepArticle, "article storage unavailable", err)
	}
	if !claimed {
		// Someone else is scraping. Re-read once: they may already be done.
		article, err = o.articles.GetByID(article.ID)
		if err != nil || article == nil {
			return retryable(StepArticle, "article storage unavailable", err)
		}
		st.article = article
		if article.Status == database.ArticleStatusReady && article.StoragePath != "" {
			return o.loadText(st)
		}
		return retryable(StepArticle, "article is being scraped by another worker", nil)
	}

	result, err := o.scraper.Run(ctx, article.OriginalURL)
	if err != nil {
		stepErr := classify(StepArticle, err)
		if stepErr.Class == ClassRetryable {
			// Release the claim so the next attempt can re-scrape.
			if updateErr := o.articles.UpdateStatus(article.ID, database.ArticleStatusPending); updateErr != nil {
				slog.Error("Failed to release article claim", "article_id", article.ID, "error", updateErr)
			}
		} else {
			if updateErr := o.articles.UpdateStatus(article.ID, database.ArticleStatusSkipByFailure); updateErr != nil {
				slog.Error("Failed to mark article skipped", "article_id", article.ID, "error", updateErr)
			}
		}
		return stepErr
	}

	return o.persistScrape(st, result)
}

func (o *Orchestrator) isFresh(article *database.Article) bool {
	return article.Status == database.ArticleStatusReady &&
		article.StoragePath != "" &&
		article.LastScrapedAt != nil &&
		time.Since(*article.LastScrapedAt) < o.freshness
}

func (o *Orchestrator) loadText(st *runState) *StepError {
	if st.article.ContentMedium == database.ContentMediumPDF {
		return nil
	}

	data, err := o.store.Get(st.article.TextPath)
	if err != nil {
		return retryable(StepArticle, "content store unavailable", err)
	}
	if data == nil {
		// A ready article must have retrievable content.
		return invalidState(StepArticle, "article is ready but its content is missing")
	}

	st.text = string(data)
	return nil
}

func (o *Orchestrator) persistScrape(st *runState, result *scrape.Result) *StepError {
	article := st.article
	now := time.Now().UTC()

	var storagePath, textPath, hash string
	var medium database.ContentMedium
	var err error

	switch result.Kind {
	case scrape.KindPDF:
		medium = database.ContentMediumPDF
		hash = content.Hash(result.PDF)
		storagePath, err = o.store.Put(article.ID, "article.pdf", result.PDF)
		if err != nil {
			return retryable(StepArticle, "content store unavailable", err)
		}
	default:
		medium = database.ContentMediumHTML
		hash = content.Hash([]byte(result.Text))
		storagePath, err = o.store.Put(article.ID, "article.html", []byte(result.HTML))
		if err != nil {
			return retryable(StepArticle, "content store unavailable", err)
		}
		textPath, err = o.store.Put(article.ID, "article.txt", []byte(result.Text))
		if err != nil {
			return retryable(StepArticle, "content store unavailable", err)
		}
	}

	meta := database.ArticleMeta{
		Title:    result.Title,
		Byline:   result.Byline,
		Excerpt:  result.Excerpt,
		SiteName: result.SiteName,
		Language: result.Language,
	}
	if err := o.articles.UpdateScraped(article.ID, storagePath, textPath, hash, medium, meta, now); err != nil {
		return retryable(StepArticle, "article storage unavailable", err)
	}

	article.Status = database.ArticleStatusReady
	article.StoragePath = storagePath
	article.TextPath = textPath
	article.ContentHash = hash
	article.ContentMedium = medium
	article.LastScrapedAt = &now
	st.text = result.Text

	slog.Info("Article scraped", "article_id", article.ID, "medium", medium, "title", result.Title)

	return nil
}

// processQuiz resolves the shared quiz for the article and claims it for
// question generation. Returns done=true when the session's outcome is
// already settled (quiz ready, admin-skipped, failed, or owned by another
// worker).
func (o *Orchestrator) processQuiz(st *runState) (bool, *StepError) {
	quiz, err := o.quizzes.UpsertByArticle(st.article.ID)
	if err != nil {
		return false, retryable(StepQuiz, "quiz storage unavailable", err)
	}
	st.quiz = quiz

	if st.session.QuizID == nil || *st.session.QuizID != quiz.ID {
		if err := o.sessions.LinkQuiz(st.session.ID, quiz.ID); err != nil {
			return false, retryable(StepQuiz, "quiz storage unavailable", err)
		}
	}

	// A PDF carries no extractable text, so no quiz is generated; the
	// session is readable without one.
	if st.article.ContentMedium == database.ContentMediumPDF {
		if quiz.Status == database.QuizStatusPending {
			if _, err := o.quizzes.UpdateStatusIf(quiz.ID, database.QuizStatusPending, database.QuizStatusNotRequired); err != nil {
				return false, retryable(StepQuiz, "quiz storage unavailable", err)
			}
		}
		return true, o.fanOut(quiz.ID, database.SessionStatusReady, "", "")
	}

	switch quiz.Status {
	case database.QuizStatusReady, database.QuizStatusNotRequired:
		return true, o.fanOut(quiz.ID, database.SessionStatusReady, "", "")
	case database.QuizStatusSkipByAdmin:
		return true, o.fanOut(quiz.ID, database.SessionStatusSkipByAdmin, StepQuiz, "skipped by admin")
	case database.QuizStatusSkipByFailure:
		return true, o.fanOut(quiz.ID, database.SessionStatusSkipByFailure, StepQuiz, "quiz generation previously failed")
	case database.QuizStatusProcessing:
		if time.Since(quiz.UpdatedAt) < o.stall {
			// Another worker owns the quiz; it fans out to this session
			// when it finishes.
			slog.Debug("Quiz owned by another worker", "quiz_id", quiz.ID)
			return true, nil
		}
		// Stale claim: put it back and fall through to re-claim.
		if _, err := o.quizzes.UpdateStatusIf(quiz.ID, database.QuizStatusProcessing, database.QuizStatusPending); err != nil {
			return false, retryable(StepQuiz, "quiz storage unavailable", err)
		}
	}

	claimed, err := o.quizzes.Claim(quiz.ID)
	if err != nil {
		return false, retryable(StepQuiz, "quiz storage unavailable", err)
	}
	if !claimed {
		// Lost the race. Re-read: the winner may already be done.
		quiz, err = o.quizzes.GetByID(quiz.ID)
		if err != nil || quiz == nil {
			return false, retryable(StepQuiz, "quiz storage unavailable", err)
		}
		st.quiz = quiz
		if quiz.Status == database.QuizStatusReady || quiz.Status == database.QuizStatusNotRequired {
			return true, o.fanOut(quiz.ID, database.SessionStatusReady, "", "")
		}
		slog.Debug("Quiz claimed by another worker", "quiz_id", quiz.ID, "status", quiz.Status)
		return true, nil
	}

	hookSet, err := o.hookSets.UpsertByQuiz(quiz.ID)
	if err != nil {
		return false, retryable(StepQuiz, "quiz storage unavailable", err)
	}
	st.hookSet = hookSet

	return false, nil
}

// processAnalysis reuses a cached analysis when the article already has
// one; the LLM is only invoked for articles analyzed for the first time.
func (o *Orchestrator) processAnalysis(ctx context.Context, st *runState) *StepError {
	if st.article.Analysis != nil {
		var analysis llm.Analysis
		if err := json.Unmarshal(st.article.Analysis, &analysis); err != nil {
			return invalidState(StepAnalysis, "cached analysis is unreadable")
		}
		st.analysis = &analysis

		if st.hookSet.Pedagogy == nil {
			if err := o.hookSets.SetPedagogy(st.hookSet.ID, st.article.Analysis); err != nil {
				return retryable(StepAnalysis, "hook set storage unavailable", err)
			}
		}
		return nil
	}

	analysis, err := o.analyzer.Analyze(ctx, st.text)
	if err != nil {
		return classify(StepAnalysis, err)
	}

	data, err := json.Marshal(analysis)
	if err != nil {
		return retryable(StepAnalysis, "failed to encode analysis", err)
	}

	if err := o.articles.UpdateAnalysis(st.article.ID, data); err != nil {
		return retryable(StepAnalysis, "article storage unavailable", err)
	}
	if err := o.hookSets.SetPedagogy(st.hookSet.ID, data); err != nil {
		return retryable(StepAnalysis, "hook set storage unavailable", err)
	}

	st.article.Analysis = data
	st.analysis = analysis

	return nil
}

func (o *Orchestrator) processQuestions(ctx context.Context, st *runState) *StepError {
	if st.hookSet.Status == database.HookSetStatusReady {
		return nil
	}

	questions, err := o.generator.Generate(ctx, st.analysis, st.text)
	if err != nil {
		return classify(StepQuestions, err)
	}

	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return retryable(StepQuestions, "failed to encode questions", err)
	}
	pedagogyJSON, err := json.Marshal(st.analysis)
	if err != nil {
		return retryable(StepQuestions, "failed to encode analysis", err)
	}

	if err := o.hookSets.MarkReady(st.hookSet.ID, questionsJSON, pedagogyJSON, o.generator.Model()); err != nil {
		return retryable(StepQuestions, "hook set storage unavailable", err)
	}
	if err := o.quizzes.SetModelUsed(st.quiz.ID, o.generator.Model()); err != nil {
		return retryable(StepQuestions, "quiz storage unavailable", err)
	}

	return nil
}

func (o *Orchestrator) complete(st *runState) *StepError {
	if err := o.quizzes.UpdateStatus(st.quiz.ID, database.QuizStatusReady); err != nil {
		return retryable(StepQuestions, "quiz storage unavailable", err)
	}

	if stepErr := o.fanOut(st.quiz.ID, database.SessionStatusReady, "", ""); stepErr != nil {
		return stepErr
	}

	slog.Info("Session pipeline completed", "token", st.session.SessionToken, "quiz_id", st.quiz.ID)
	return nil
}

// fanOut applies the quiz's outcome to every admitted session linked to it.
func (o *Orchestrator) fanOut(quizID string, to database.SessionStatus, step, reason string) *StepError {
	if _, err := o.sessions.UpdateStatusByQuiz(quizID, to, step, reason); err != nil {
		return retryable(StepQuiz, "session storage unavailable", err)
	}
	return nil
}

// fail records a classified failure on the session and, when the quiz is
// claimed, on the quiz and hook set. Retryable failures consume one unit of
// the hook set's retry budget; an exhausted budget escalates to terminal.
func (o *Orchestrator) fail(st *runState, stepErr *StepError) {
	logger := slog.With("token", st.session.SessionToken, "step", stepErr.Step, "class", stepErr.Class.String())

	if stepErr.Class == ClassInvalidState {
		logger.Error("Pipeline hit an invalid state", "reason", stepErr.Reason)
	} else {
		logger.Warn("Pipeline step failed", "reason", stepErr.Reason, "error", stepErr.Err)
	}

	if stepErr.Class != ClassRetryable {
		o.failTerminal(st, stepErr.Step, stepErr.Reason)
		return
	}

	if st.hookSet != nil {
		retryCount, err := o.hookSets.MarkFailed(st.hookSet.ID, stepErr.Reason)
		if err != nil {
			logger.Error("Failed to record hook set failure", "error", err)
		} else if retryCount >= o.maxRetries {
			logger.Warn("Retry budget exhausted", "retry_count", retryCount, "max_retries", o.maxRetries)
			o.failTerminal(st, stepErr.Step, "retry budget exhausted: "+truncateReason(stepErr.Reason))
			return
		}
	}

	if st.quiz != nil {
		if _, err := o.quizzes.UpdateStatusIf(st.quiz.ID, database.QuizStatusProcessing, database.QuizStatusFailed); err != nil {
			logger.Error("Failed to release quiz claim", "error", err)
		}
		if _, err := o.sessions.UpdateStatusByQuiz(st.quiz.ID, database.SessionStatusErrored, stepErr.Step, stepErr.Reason); err != nil {
			logger.Error("Failed to mark sessions errored", "error", err)
		}
		return
	}

	o.markSession(st.session.ID, database.SessionStatusErrored, stepErr.Step, stepErr.Reason)
}

func (o *Orchestrator) failTerminal(st *runState, step, reason string) {
	reason = truncateReason(reason)

	if st.hookSet != nil {
		if err := o.hookSets.MarkSkipped(st.hookSet.ID, reason); err != nil {
			slog.Error("Failed to mark hook set skipped", "hook_set_id", st.hookSet.ID, "error", err)
		}
	}

	if st.quiz != nil {
		if err := o.quizzes.UpdateStatus(st.quiz.ID, database.QuizStatusSkipByFailure); err != nil {
			slog.Error("Failed to mark quiz skipped", "quiz_id", st.quiz.ID, "error", err)
		}
		if _, err := o.sessions.UpdateStatusByQuiz(st.quiz.ID, database.SessionStatusSkipByFailure, step, reason); err != nil {
			slog.Error("Failed to mark sessions skipped", "quiz_id", st.quiz.ID, "error", err)
		}
		return
	}

	o.markSession(st.session.ID, database.SessionStatusSkipByFailure, step, reason)
}

func (o *Orchestrator) markSession(id string, status database.SessionStatus, step, reason string) {
	if _, err := o.sessions.UpdateStatusIf(id,
		[]database.SessionStatus{database.SessionStatusProcessing}, status); err != nil {
		slog.Error("Failed to update session status", "session_id", id, "status", status, "error", err)
	}
	if err := o.sessions.SetLastError(id, step, reason); err != nil {
		slog.Error("Failed to record session error", "session_id", id, "error", err)
	}
}
