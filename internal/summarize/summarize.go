// Package summarize holds the AI collaborator interfaces consumed by the
// pipeline: transcript summarization and task extraction. Failures here
// never fail a processing job; the orchestrator substitutes fallbacks.
package summarize

import (
	"context"
	"time"
)

// Summary is the result of summarizing a transcript.
type Summary struct {
	Text      string   `json:"text"`
	KeyPoints []string `json:"key_points,omitempty"`
	Model     string   `json:"model"`
	Fallback  bool     `json:"fallback,omitempty"`
}

// Task is an action item extracted from a transcript.
type Task struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// Summarizer produces an AI summary of a transcript. May fail; callers are
// expected to fall back locally.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (*Summary, error)
}

// TaskExtractor pulls action items out of a transcript. Never returns an
// error: extraction failures yield an empty list.
type TaskExtractor interface {
	ExtractTasks(ctx context.Context, text, sessionID string) []Task
}
