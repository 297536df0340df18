package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/curioread/curioread/app/cfg"
	"github.com/curioread/curioread/app/database"
	"github.com/curioread/curioread/app/queue"
	"github.com/curioread/curioread/app/scrape"
	"github.com/curioread/curioread/app/tasks"
)

func NewHandler(articleRepo database.ArticleRepository, quizRepo database.QuizRepository,
	hookSetRepo database.HookSetRepository, sessionRepo database.SessionRepository,
	controller *queue.Controller, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		articleRepo: articleRepo,
		quizRepo:    quizRepo,
		hookSetRepo: hookSetRepo,
		sessionRepo: sessionRepo,
		controller:  controller,
		scheduler:   scheduler,
	}
}

// SubmitSession registers a URL for quiz-guided reading. Always 202: the
// pipeline runs in the background, and the returned token is the handle for
// polling. Resubmitting a known URL returns the existing token.
func (h *Handler) SubmitSession(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "message": "user_id and url are required"})
		return
	}

	result, err := h.controller.Submit(req.UserID, req.URL)
	if err != nil {
		var scrapeErr *scrape.Error
		if errors.As(err, &scrapeErr) && scrapeErr.Code == scrape.CodeInvalidURL {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL", "message": scrapeErr.Error()})
			return
		}
		slog.Error("Failed to submit session", "user", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Submission failed", "message": "Could not register the session"})
		return
	}

	c.JSON(http.StatusAccepted, submitResponse{
		SessionToken:  result.Session.SessionToken,
		Status:        string(result.Session.Status),
		WorkerInvoked: result.WorkerInvoked,
	})
}

// GetCuriosity is the polling endpoint: it reports the session's pipeline
// status and, once ready, the curiosity questions.
func (h *Handler) GetCuriosity(c *gin.Context) {
	token := c.Query("q")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token", "message": "Provide the session token in the q parameter"})
		return
	}

	session, err := h.sessionRepo.GetByToken(token)
	if err != nil {
		slog.Error("Database error", "operation", "get_session", "token", token, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not load the session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "message": "No session matches the given token"})
		return
	}

	resp := curiosityResponse{
		SessionToken: session.SessionToken,
		Status:       string(session.Status),
		StudyStatus:  string(session.StudyStatus),
		ErrorStep:    session.LastErrorStep,
		ErrorMessage: session.LastErrorReason,
	}

	if article, err := h.articleRepo.GetByURL(session.NormalizedURL); err == nil && article != nil {
		resp.Title = article.Title
	}

	if session.Status == database.SessionStatusReady && session.QuizID != nil {
		hookSet, err := h.hookSetRepo.GetByQuiz(*session.QuizID)
		if err != nil {
			slog.Error("Database error", "operation", "get_hook_set", "quiz_id", *session.QuizID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not load the questions"})
			return
		}
		if hookSet != nil && hookSet.Questions != nil {
			resp.Questions = hookSet.Questions
		}
	}

	c.JSON(http.StatusOK, resp)
}

// SetStudyStatus records the reader's progress. Archiving a session frees
// its queue slot and promotes the oldest waiting bookmark.
func (h *Handler) SetStudyStatus(c *gin.Context) {
	var req studyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "message": "session_token and study_status are required"})
		return
	}

	study := database.StudyStatus(req.StudyStatus)
	if !database.ValidStudyStatus(study) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid study status", "message": "Unknown study_status value"})
		return
	}

	session, err := h.sessionRepo.SetStudyStatus(req.SessionToken, study)
	if err != nil {
		slog.Error("Database error", "operation", "set_study_status", "token", req.SessionToken, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not update the session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "message": "No session matches the given token"})
		return
	}

	if study == database.StudyStatusArchived {
		h.controller.OnArchive(session.UserID)
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token": session.SessionToken,
		"status":        string(session.Status),
		"study_status":  string(session.StudyStatus),
	})
}

// GetBookmarks lists a user's sessions split into the active queue, the
// waiting list, and finished reads. Free slots are backfilled first so the
// response reflects the promoted state.
func (h *Handler) GetBookmarks(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user", "message": "Provide the user_id parameter"})
		return
	}

	if _, err := h.controller.AutoFill(userID); err != nil {
		slog.Warn("Failed to backfill queue", "user", userID, "error", err)
	}

	sessions, err := h.sessionRepo.ListByUser(userID)
	if err != nil {
		slog.Error("Database error", "operation", "list_sessions", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not list the sessions"})
		return
	}

	resp := bookmarksResponse{
		Queue:    []bookmarkEntry{},
		Waiting:  []bookmarkEntry{},
		Archived: []bookmarkEntry{},
	}

	for _, session := range sessions {
		entry := bookmarkEntry{
			SessionToken: session.SessionToken,
			URL:          session.ArticleURL,
			Status:       string(session.Status),
			StudyStatus:  string(session.StudyStatus),
			CreatedAt:    session.CreatedAt.Format(time.RFC3339),
		}

		if article, err := h.articleRepo.GetByURL(session.NormalizedURL); err == nil && article != nil {
			entry.Title = article.Title
		}

		switch {
		case session.Status == database.SessionStatusBookmarked:
			resp.Waiting = append(resp.Waiting, entry)
		case session.StudyStatus == database.StudyStatusArchived || session.Status.IsTerminal():
			resp.Archived = append(resp.Archived, entry)
		default:
			if len(resp.Queue) < h.controller.Slots() {
				resp.Queue = append(resp.Queue, entry)
			} else {
				resp.Waiting = append(resp.Waiting, entry)
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetQueueCount(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user", "message": "Provide the user_id parameter"})
		return
	}

	count, err := h.sessionRepo.CountOccupying(userID)
	if err != nil {
		slog.Error("Database error", "operation", "count_occupying", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not count the queue"})
		return
	}

	first, err := h.sessionRepo.FirstOccupyingToken(userID)
	if err != nil {
		slog.Error("Database error", "operation", "first_occupying", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not read the queue"})
		return
	}

	c.JSON(http.StatusOK, queueCountResponse{Count: count, FirstSessionToken: first})
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   cfg.Get().Version,
	})
}

// APIRetrySession re-dispatches an errored session through the pipeline.
func (h *Handler) APIRetrySession(c *gin.Context) {
	token := c.Param("token")

	session, err := h.sessionRepo.GetByToken(token)
	if err != nil {
		slog.Error("Database error", "operation", "get_session", "token", token, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not load the session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "message": "No session matches the given token"})
		return
	}

	if session.Status != database.SessionStatusErrored {
		c.JSON(http.StatusConflict, gin.H{"error": "Not retryable", "message": "Only errored sessions can be retried"})
		return
	}

	h.scheduler.DispatchSession(token)

	c.JSON(http.StatusOK, gin.H{
		"session_token": token,
		"message":       "Session re-dispatched",
	})
}

// APISkipSession marks a session (and its quiz, when linked) as skipped by
// an administrator, freeing the user's slot.
func (h *Handler) APISkipSession(c *gin.Context) {
	token := c.Param("token")

	session, err := h.sessionRepo.GetByToken(token)
	if err != nil {
		slog.Error("Database error", "operation", "get_session", "token", token, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not load the session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found", "message": "No session matches the given token"})
		return
	}

	if session.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "Already skipped", "message": "The session is already in a terminal state"})
		return
	}

	if session.QuizID != nil {
		if err := h.quizRepo.UpdateStatus(*session.QuizID, database.QuizStatusSkipByAdmin); err != nil {
			slog.Error("Database error", "operation", "skip_quiz", "quiz_id", *session.QuizID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not skip the quiz"})
			return
		}
		if _, err := h.sessionRepo.UpdateStatusByQuiz(*session.QuizID, database.SessionStatusSkipByAdmin, "quiz", "skipped by admin"); err != nil {
			slog.Error("Database error", "operation", "skip_sessions", "quiz_id", *session.QuizID, "error", err)
		}
	}

	if err := h.sessionRepo.UpdateStatus(session.ID, database.SessionStatusSkipByAdmin); err != nil {
		slog.Error("Database error", "operation", "skip_session", "token", token, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "message": "Could not skip the session"})
		return
	}

	h.controller.OnArchive(session.UserID)

	c.JSON(http.StatusOK, gin.H{
		"session_token": token,
		"status":        string(database.SessionStatusSkipByAdmin),
	})
}
