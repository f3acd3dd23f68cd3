package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session is one recorded clip and everything derived from it. A session
// outlives the processing job that fills it in.
type Session struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	AudioPath       string          `json:"audio_path"`
	DurationSeconds float64         `json:"duration_seconds"`
	Status          string          `json:"status"`
	Progress        float64         `json:"progress"`
	Stage           string          `json:"stage"`
	Language        string          `json:"language,omitempty"`
	Transcript      *string         `json:"transcript,omitempty"`
	Transcription   json.RawMessage `json:"transcription,omitempty"`
	Summary         json.RawMessage `json:"summary,omitempty"`
	Tasks           json.RawMessage `json:"tasks,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// SessionUpdate is a partial-field update; nil fields are untouched.
type SessionUpdate struct {
	Title           *string
	DurationSeconds *float64
	Status          *string
	Progress        *float64
	Stage           *string
	Language        *string
	Transcript      *string
	Transcription   json.RawMessage
	Summary         json.RawMessage
	Tasks           json.RawMessage
	Error           *string
	CompletedAt     *time.Time
}

// InsertSession creates a new session row.
func (db *DB) InsertSession(ctx context.Context, id, title, audioPath string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO sessions (id, title, audio_path) VALUES ($1, $2, $3)`,
		id, title, audioPath)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession applies a partial update to a session row.
func (db *DB) UpdateSession(ctx context.Context, id string, upd SessionUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.DurationSeconds != nil {
		add("duration_seconds", *upd.DurationSeconds)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.Stage != nil {
		add("stage", *upd.Stage)
	}
	if upd.Language != nil {
		add("language", *upd.Language)
	}
	if upd.Transcript != nil {
		add("transcript", *upd.Transcript)
	}
	if upd.Transcription != nil {
		add("transcription", upd.Transcription)
	}
	if upd.Summary != nil {
		add("summary", upd.Summary)
	}
	if upd.Tasks != nil {
		add("tasks", upd.Tasks)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	q := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $1`, strings.Join(sets, ", "))
	_, err := db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return nil
}

// GetSession fetches one session by id.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, title, audio_path, duration_seconds, status, progress, stage,
		       language, transcript, transcription, summary, tasks, error,
		       created_at, updated_at, completed_at
		FROM sessions WHERE id = $1`, id)

	var s Session
	err := row.Scan(&s.ID, &s.Title, &s.AudioPath, &s.DurationSeconds, &s.Status,
		&s.Progress, &s.Stage, &s.Language, &s.Transcript, &s.Transcription,
		&s.Summary, &s.Tasks, &s.Error, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// ListSessions returns sessions ordered by creation time, newest first.
func (db *DB) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, title, audio_path, duration_seconds, status, progress, stage,
		       language, transcript, transcription, summary, tasks, error,
		       created_at, updated_at, completed_at
		FROM sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.AudioPath, &s.DurationSeconds, &s.Status,
			&s.Progress, &s.Stage, &s.Language, &s.Transcript, &s.Transcription,
			&s.Summary, &s.Tasks, &s.Error, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
