package api

import (
	"encoding/json"

	"github.com/curioread/curioread/app/database"
	"github.com/curioread/curioread/app/queue"
	"github.com/curioread/curioread/app/tasks"
)

type Handler struct {
	articleRepo database.ArticleRepository
	quizRepo    database.QuizRepository
	hookSetRepo database.HookSetRepository
	sessionRepo database.SessionRepository
	controller  *queue.Controller
	scheduler   tasks.TaskSchedulerInterface
}

type submitRequest struct {
	UserID string `json:"user_id" binding:"required"`
	URL    string `json:"url" binding:"required"`
}

type submitResponse struct {
	SessionToken  string `json:"session_token"`
	Status        string `json:"status"`
	WorkerInvoked bool   `json:"worker_invoked"`
}

type studyStatusRequest struct {
	SessionToken string `json:"session_token" binding:"required"`
	StudyStatus  string `json:"study_status" binding:"required"`
}

type curiosityResponse struct {
	SessionToken string          `json:"session_token"`
	Status       string          `json:"status"`
	StudyStatus  string          `json:"study_status"`
	Title        string          `json:"title,omitempty"`
	Questions    json.RawMessage `json:"questions,omitempty"`
	ErrorStep    string          `json:"error_step,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

type bookmarkEntry struct {
	SessionToken string `json:"session_token"`
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Status       string `json:"status"`
	StudyStatus  string `json:"study_status"`
	CreatedAt    string `json:"created_at"`
}

type bookmarksResponse struct {
	Queue    []bookmarkEntry `json:"queue"`
	Waiting  []bookmarkEntry `json:"waiting"`
	Archived []bookmarkEntry `json:"archived"`
}

type queueCountResponse struct {
	Count             int    `json:"count"`
	FirstSessionToken string `json:"first_session_token,omitempty"`
}
