package database

import (
	"time"
)

type ArticleStatus string

const (
	ArticleStatusPending       ArticleStatus = "pending"
	ArticleStatusScraping      ArticleStatus = "scraping"
	ArticleStatusReady         ArticleStatus = "ready"
	ArticleStatusSkipByFailure ArticleStatus = "skip_by_failure"
)

type ContentMedium string

const (
	ContentMediumHTML    ContentMedium = "html"
	ContentMediumPDF     ContentMedium = "pdf"
	ContentMediumUnknown ContentMedium = "unknown"
)

type QuizStatus string

const (
	QuizStatusPending       QuizStatus = "pending"
	QuizStatusProcessing    QuizStatus = "processing"
	QuizStatusReady         QuizStatus = "ready"
	QuizStatusFailed        QuizStatus = "failed"
	QuizStatusNotRequired   QuizStatus = "not_required"
	QuizStatusSkipByAdmin   QuizStatus = "skip_by_admin"
	QuizStatusSkipByFailure QuizStatus = "skip_by_failure"
)

type HookSetStatus string

const (
	HookSetStatusPending       HookSetStatus = "pending"
	HookSetStatusReady         HookSetStatus = "ready"
	HookSetStatusFailed        HookSetStatus = "failed"
	HookSetStatusSkipByFailure HookSetStatus = "skip_by_failure"
)

type SessionStatus string

const (
	SessionStatusBookmarked    SessionStatus = "bookmarked"
	SessionStatusPending       SessionStatus = "pending"
	SessionStatusProcessing    SessionStatus = "processing"
	SessionStatusReady         SessionStatus = "ready"
	SessionStatusErrored       SessionStatus = "errored"
	SessionStatusSkipByAdmin   SessionStatus = "skip_by_admin"
	SessionStatusSkipByFailure SessionStatus = "skip_by_failure"
)

// IsTerminal reports whether the session can never be processed again.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusSkipByAdmin || s == SessionStatusSkipByFailure
}

type StudyStatus string

const (
	StudyStatusNotStarted          StudyStatus = "not_started"
	StudyStatusCuriosityInProgress StudyStatus = "curiosity_in_progress"
	StudyStatusScaffoldInProgress  StudyStatus = "scaffold_in_progress"
	StudyStatusArchived            StudyStatus = "archived"
)

func ValidStudyStatus(s StudyStatus) bool {
	switch s {
	case StudyStatusNotStarted, StudyStatusCuriosityInProgress,
		StudyStatusScaffoldInProgress, StudyStatusArchived:
		return true
	}
	return false
}

// ArticleMeta carries the scraped presentation metadata for an article row.
type ArticleMeta struct {
	Title    string
	Byline   string
	Excerpt  string
	SiteName string
	Language string
}

type Article struct {
	ID            string
	NormalizedURL string
	OriginalURL   string
	Status        ArticleStatus
	StoragePath   string
	TextPath      string
	ContentHash   string
	ContentMedium ContentMedium
	Title         string
	Byline        string
	Excerpt       string
	SiteName      string
	Language      string
	Analysis      []byte // JSON document produced by the analyzer, nil until analyzed
	LastScrapedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Quiz struct {
	ID        string
	ArticleID string
	Status    QuizStatus
	ModelUsed string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type HookSet struct {
	ID           string
	QuizID       string
	Status       HookSetStatus
	Questions    []byte // ordered JSON array of questions, nil until generated
	Pedagogy     []byte // cached analysis snapshot used for generation
	ErrorMessage string
	RetryCount   int
	ModelVersion string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Session struct {
	ID              string
	SessionToken    string
	UserID          string
	ArticleURL      string
	NormalizedURL   string
	QuizID          *string
	Status          SessionStatus
	StudyStatus     StudyStatus
	LastErrorStep   string
	LastErrorReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
