package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	summaryPrompt = "Summarize the following voice note transcript in a short " +
		"paragraph, then list up to five key points, one per line prefixed " +
		"with \"- \". Respond with the paragraph first, then the points.\n\nTranscript:\n"

	tasksPrompt = "Extract concrete action items from the following voice note " +
		"transcript. Respond with a JSON array of strings, one per task. " +
		"Respond with [] if there are none.\n\nTranscript:\n"
)

// GeminiClient implements Summarizer and TaskExtractor against the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// NewGeminiClient creates a Gemini-backed summarizer.
func NewGeminiClient(ctx context.Context, apiKey, model string, log zerolog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{
		client: client,
		model:  model,
		log:    log.With().Str("component", "gemini").Logger(),
	}, nil
}

// Summarize asks the model for a paragraph summary plus key points.
func (g *GeminiClient) Summarize(ctx context.Context, text string) (*Summary, error) {
	out, err := g.generate(ctx, summaryPrompt+text)
	if err != nil {
		return nil, err
	}

	paragraph, points := splitSummary(out)
	if paragraph == "" {
		return nil, fmt.Errorf("summarization returned no content")
	}
	return &Summary{
		Text:      paragraph,
		KeyPoints: points,
		Model:     g.model,
	}, nil
}

// ExtractTasks asks the model for action items. Any failure yields an
// empty list; it is logged but never surfaced to the caller.
func (g *GeminiClient) ExtractTasks(ctx context.Context, text, sessionID string) []Task {
	out, err := g.generate(ctx, tasksPrompt+text)
	if err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("task extraction failed")
		return nil
	}

	var items []string
	if err := json.Unmarshal([]byte(extractJSONArray(out)), &items); err != nil {
		g.log.Warn().Err(err).Str("session_id", sessionID).Msg("task extraction response unparsable")
		return nil
	}

	now := time.Now().UTC()
	tasks := make([]Task, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		tasks = append(tasks, Task{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Text:      item,
			CreatedAt: now,
		})
	}
	return tasks
}

func (g *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("gemini returned empty content")
	}
	return out, nil
}

// splitSummary separates the leading paragraph from "- " key point lines.
func splitSummary(out string) (string, []string) {
	var (
		para   []string
		points []string
	)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			if p := strings.TrimSpace(rest); p != "" {
				points = append(points, p)
			}
			continue
		}
		if len(points) == 0 {
			para = append(para, line)
		}
	}
	return strings.Join(para, " "), points
}

// extractJSONArray trims markdown fences and surrounding prose around a
// JSON array, which models occasionally add despite instructions.
func extractJSONArray(out string) string {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start >= 0 && end > start {
		return out[start : end+1]
	}
	return "[]"
}
