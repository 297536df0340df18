package database

import (
	"time"
)

type ArticleRepository interface {
	// UpsertByURL creates the article row for a normalized URL, or returns
	// the existing one. Concurrent submissions of the same URL converge to
	// a single row.
	UpsertByURL(normalizedURL, originalURL string) (*Article, error)
	GetByID(id string) (*Article, error)
	GetByURL(normalizedURL string) (*Article, error)

	// ClaimForScrape atomically transitions the article to 'scraping'.
	// Claimable states are 'pending', a stale 'ready', or a 'scraping' row
	// whose claimant stalled before the given cutoff. Returns false when
	// another worker holds the claim.
	ClaimForScrape(id string, stalledBefore time.Time) (bool, error)
	UpdateScraped(id, storagePath, textPath, contentHash string, medium ContentMedium, meta ArticleMeta, scrapedAt time.Time) error
	UpdateAnalysis(id string, analysis []byte) error
	UpdateStatus(id string, status ArticleStatus) error
}

type QuizRepository interface {
	// UpsertByArticle creates the quiz for an article, or returns the
	// existing one (quizzes are deduplicated per article).
	UpsertByArticle(articleID string) (*Quiz, error)
	GetByID(id string) (*Quiz, error)

	// ClaimNextPending atomically selects the oldest pending quiz and
	// transitions it to 'processing'. Returns nil on an empty queue.
	ClaimNextPending() (*Quiz, error)

	// Claim transitions a specific quiz from 'pending' or 'failed' to
	// 'processing'. At most one concurrent caller succeeds.
	Claim(id string) (bool, error)
	UpdateStatus(id string, status QuizStatus) error
	UpdateStatusIf(id string, from, to QuizStatus) (bool, error)
	SetModelUsed(id, model string) error
}

type HookSetRepository interface {
	UpsertByQuiz(quizID string) (*HookSet, error)
	GetByQuiz(quizID string) (*HookSet, error)
	MarkReady(id string, questions, pedagogy []byte, modelVersion string) error

	// MarkFailed records a retryable failure and returns the incremented
	// retry count.
	MarkFailed(id, errorMessage string) (int, error)
	MarkSkipped(id, errorMessage string) error
	SetPedagogy(id string, pedagogy []byte) error
}

type SessionRepository interface {
	// UpsertByUserURL creates a bookmarked session for (user, URL) or
	// returns the existing one. The returned bool is true when the session
	// was newly created.
	UpsertByUserURL(userID, articleURL, normalizedURL string) (*Session, bool, error)
	GetByToken(token string) (*Session, error)
	LinkQuiz(id, quizID string) error
	UpdateStatus(id string, status SessionStatus) error
	UpdateStatusIf(id string, from []SessionStatus, to SessionStatus) (bool, error)

	// UpdateStatusByQuiz moves every non-terminal, already-admitted session
	// linked to the quiz into the given status, recording the error step
	// and reason (empty for success).
	UpdateStatusByQuiz(quizID string, to SessionStatus, errorStep, errorReason string) (int64, error)
	SetStudyStatus(token string, study StudyStatus) (*Session, error)
	SetLastError(id, step, reason string) error

	// CountOccupying returns the number of sessions holding one of the
	// user's admission slots.
	CountOccupying(userID string) (int, error)
	FirstOccupyingToken(userID string) (string, error)
	OldestWaiting(userID string) (*Session, error)
	ListByUser(userID string) ([]Session, error)

	// ListUnfinished returns sessions that still need pipeline work:
	// pending, errored, or processing rows stalled before the cutoff.
	ListUnfinished(limit int, stalledBefore time.Time) ([]Session, error)

	// ListUsersWithWaiting returns users who have bookmarked sessions
	// waiting for a free slot.
	ListUsersWithWaiting() ([]string, error)
}
