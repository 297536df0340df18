package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ SessionRepository = (*sessionRepository)(nil)

type sessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, session_token, user_id, article_url, normalized_url, quiz_id,
	status, study_status, last_error_step, last_error_reason, created_at, updated_at`

// occupyingCondition selects sessions counted against the per-user slot cap.
// A session mid-pipeline ('processing') holds its slot; only archiving or a
// terminal skip releases it.
const occupyingCondition = `status IN ('pending', 'processing', 'ready', 'errored')
	AND study_status IN ('not_started', 'curiosity_in_progress')`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var quizID sql.NullString

	err := row.Scan(&s.ID, &s.SessionToken, &s.UserID, &s.ArticleURL, &s.NormalizedURL, &quizID,
		&s.Status, &s.StudyStatus, &s.LastErrorStep, &s.LastErrorReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if quizID.Valid {
		id := quizID.String
		s.QuizID = &id
	}

	return &s, nil
}

func (r *sessionRepository) UpsertByUserURL(userID, articleURL, normalizedURL string) (*Session, bool, error) {
	now := time.Now().UTC()
	token := uuid.NewString()

	row := r.db.QueryRow(`
		INSERT INTO sessions (id, session_token, user_id, article_url, normalized_url,
			status, study_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'bookmarked', 'not_started', ?, ?)
		ON CONFLICT(user_id, normalized_url) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING `+sessionColumns+`
	`, uuid.NewString(), token, userID, articleURL, normalizedURL, now, now)

	session, err := scanSession(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert session: %w", err)
	}

	created := session.SessionToken == token
	return session, created, nil
}

func (r *sessionRepository) GetByToken(token string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_token = ?`, token)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) LinkQuiz(id, quizID string) error {
	_, err := r.db.Exec(`
		UPDATE sessions
		SET quiz_id = ?, updated_at = ?
		WHERE id = ?
	`, quizID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to link quiz to session: %w", err)
	}

	return nil
}

func (r *sessionRepository) UpdateStatus(id string, status SessionStatus) error {
	_, err := r.db.Exec(`
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	return nil
}

func (r *sessionRepository) UpdateStatusIf(id string, from []SessionStatus, to SessionStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no source statuses given")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), time.Now().UTC(), id}
	for _, s := range from {
		args = append(args, string(s))
	}

	result, err := r.db.Exec(`
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}

	return affected > 0, nil
}

func (r *sessionRepository) UpdateStatusByQuiz(quizID string, to SessionStatus, errorStep, errorReason string) (int64, error) {
	result, err := r.db.Exec(`
		UPDATE sessions
		SET status = ?, last_error_step = ?, last_error_reason = ?, updated_at = ?
		WHERE quiz_id = ? AND status IN ('pending', 'processing', 'errored')
	`, string(to), errorStep, errorReason, time.Now().UTC(), quizID)
	if err != nil {
		return 0, fmt.Errorf("failed to update sessions by quiz: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result: %w", err)
	}

	return affected, nil
}

func (r *sessionRepository) SetStudyStatus(token string, study StudyStatus) (*Session, error) {
	row := r.db.QueryRow(`
		UPDATE sessions
		SET study_status = ?, updated_at = ?
		WHERE session_token = ?
		RETURNING `+sessionColumns,
		string(study), time.Now().UTC(), token)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set study status: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) SetLastError(id, step, reason string) error {
	_, err := r.db.Exec(`
		UPDATE sessions
		SET last_error_step = ?, last_error_reason = ?, updated_at = ?
		WHERE id = ?
	`, step, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set session error: %w", err)
	}

	return nil
}

func (r *sessionRepository) CountOccupying(userID string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM sessions
		WHERE user_id = ? AND `+occupyingCondition,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count occupying sessions: %w", err)
	}

	return count, nil
}

func (r *sessionRepository) FirstOccupyingToken(userID string) (string, error) {
	var token string
	err := r.db.QueryRow(`
		SELECT session_token FROM sessions
		WHERE user_id = ? AND `+occupyingCondition+`
		ORDER BY created_at, id
		LIMIT 1
	`, userID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get first occupying session: %w", err)
	}

	return token, nil
}

func (r *sessionRepository) OldestWaiting(userID string) (*Session, error) {
	row := r.db.QueryRow(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND status = 'bookmarked'
		ORDER BY created_at, id
		LIMIT 1
	`, userID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest waiting session: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) ListByUser(userID string) ([]Session, error) {
	rows, err := r.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions by user: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (r *sessionRepository) ListUnfinished(limit int, stalledBefore time.Time) ([]Session, error) {
	rows, err := r.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('pending', 'errored')
		   OR (status = 'processing' AND updated_at < ?)
		ORDER BY created_at, id
		LIMIT ?
	`, stalledBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (r *sessionRepository) ListUsersWithWaiting() ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT user_id FROM sessions
		WHERE status = 'bookmarked'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with waiting sessions: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}
