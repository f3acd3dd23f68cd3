package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/probe"
	"github.com/snarg/scribe-engine/internal/speech"
	"github.com/snarg/scribe-engine/internal/summarize"
)

// Progress weights per pipeline stage, out of 100.
const (
	weightMetadata   = 10
	weightResolve    = 10
	weightTranscribe = 30
	weightSummary    = 15
	weightTasks      = 5
)

// summaryWordThreshold is the minimum transcript word count for calling the
// summarization collaborator; below it a summary is synthesized locally.
const summaryWordThreshold = 10

// Transcriber is the engine surface the orchestrator drives.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, durationSec float64, cfg speech.RecognitionConfig, pr speech.ProgressFunc) (*speech.TranscriptionResult, error)
}

// SessionSink publishes progress and results to the session store. Treated
// as fire-and-forget: sink errors are logged, never escalated.
type SessionSink interface {
	UpdateSession(ctx context.Context, id string, upd database.SessionUpdate) error
}

// Request describes one end-to-end processing run.
type Request struct {
	SessionID    string
	AudioPath    string
	Language     string
	AltLanguages []string
	Diarization  bool
	Punctuation  bool
	WordTimes    bool
	Summarize    bool
	ExtractTasks bool
}

// Outcome is the single result object of a pipeline run: either a success
// value or a failure value, never a raised error.
type Outcome struct {
	Transcription *speech.TranscriptionResult `json:"transcription,omitempty"`
	Summary       *summarize.Summary          `json:"summary,omitempty"`
	Tasks         []summarize.Task            `json:"tasks,omitempty"`
	Metadata      probe.Metadata              `json:"metadata"`
	Elapsed       time.Duration               `json:"elapsed"`
	Error         string                      `json:"error,omitempty"`
}

// Failed reports whether the run ended in the failure outcome.
func (o Outcome) Failed() bool { return o.Error != "" }

// OrchestratorOptions wires the pipeline's collaborators.
type OrchestratorOptions struct {
	Prober     probe.Prober
	Engine     Transcriber
	Summarizer summarize.Summarizer    // optional
	Tasks      summarize.TaskExtractor // optional
	Sessions   SessionSink             // optional
	Model      string
	Enhanced   bool
	Log        zerolog.Logger
}

// Orchestrator coordinates the end-to-end pipeline: metadata extraction,
// config resolution, transcription, optional summarization and task
// extraction. All internal failures are converted into a failure Outcome;
// nothing escapes its boundary.
type Orchestrator struct {
	opts OrchestratorOptions
	log  zerolog.Logger
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		opts: opts,
		log:  opts.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the pipeline for one request, reporting weighted progress.
func (o *Orchestrator) Run(ctx context.Context, req Request, pr speech.ProgressFunc) (out Outcome) {
	start := time.Now()
	defer func() {
		out.Elapsed = time.Since(start)
		if rv := recover(); rv != nil {
			o.log.Error().Interface("panic", rv).Str("session_id", req.SessionID).Msg("pipeline panic recovered")
			out = Outcome{Error: fmt.Sprintf("internal error: %v", rv), Elapsed: time.Since(start)}
		}
	}()

	report := func(pct float64, stage string) {
		if pr != nil {
			pr(pct, stage)
		}
	}

	// Stage 1: metadata extraction.
	report(0, "Reading audio")
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return Outcome{Error: fmt.Sprintf("read audio: %v", err)}
	}
	meta := o.opts.Prober.Probe(ctx, req.AudioPath)
	out.Metadata = meta
	o.publishSession(req.SessionID, database.SessionUpdate{
		DurationSeconds: &meta.DurationSeconds,
	})
	report(weightMetadata, "Audio analyzed")

	// Stage 2: config resolution.
	cfg := speech.ResolveConfig(speech.ConfigRequest{
		Language:      req.Language,
		AltLanguages:  req.AltLanguages,
		Diarization:   req.Diarization,
		Punctuation:   req.Punctuation,
		WordTimes:     req.WordTimes,
		Model:         o.opts.Model,
		Enhanced:      o.opts.Enhanced,
		ContainerType: req.AudioPath,
		SampleRate:    meta.SampleRate,
	})
	report(weightMetadata+weightResolve, "Recognition configured")

	// Stage 3: transcription, in the 20..50 band.
	base := float64(weightMetadata + weightResolve)
	result, err := o.opts.Engine.Transcribe(ctx, audio, meta.DurationSeconds, cfg,
		func(pct float64, stage string) {
			report(base+pct*weightTranscribe/100, stage)
		})
	if err != nil {
		return Outcome{Metadata: meta, Error: err.Error()}
	}
	out.Transcription = result
	o.publishSession(req.SessionID, database.SessionUpdate{
		Transcript:    &result.Text,
		Transcription: mustJSON(result),
		Language:      &result.Language,
	})
	report(base+weightTranscribe, "Transcription complete")

	// Stage 4: summarization, never fatal.
	if req.Summarize {
		out.Summary = o.summarize(ctx, result.Text)
		o.publishSession(req.SessionID, database.SessionUpdate{Summary: mustJSON(out.Summary)})
	}
	report(base+weightTranscribe+weightSummary, "Summary ready")

	// Stage 5: task extraction, never fatal.
	if req.ExtractTasks && o.opts.Tasks != nil {
		out.Tasks = o.opts.Tasks.ExtractTasks(ctx, result.Text, req.SessionID)
		o.publishSession(req.SessionID, database.SessionUpdate{Tasks: mustJSON(out.Tasks)})
	}
	report(base+weightTranscribe+weightSummary+weightTasks, "Tasks extracted")

	report(100, "Done")
	return out
}

// summarize returns the collaborator's summary, a locally synthesized one
// for short transcripts, or the local fallback when the collaborator fails.
func (o *Orchestrator) summarize(ctx context.Context, text string) *summarize.Summary {
	if len(strings.Fields(text)) < summaryWordThreshold {
		return &summarize.Summary{
			Text:     text,
			Model:    "local",
			Fallback: true,
		}
	}
	if o.opts.Summarizer == nil {
		return localFallbackSummary(text)
	}
	s, err := o.opts.Summarizer.Summarize(ctx, text)
	if err != nil {
		o.log.Warn().Err(err).Msg("summarization failed, using local fallback")
		return localFallbackSummary(text)
	}
	return s
}

// localFallbackSummary builds a deterministic substitute: a truncated
// excerpt with placeholder metadata, explicitly marked as a fallback.
func localFallbackSummary(text string) *summarize.Summary {
	const excerptLen = 200
	excerpt := text
	if len(excerpt) > excerptLen {
		cut := excerptLen
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = strings.TrimSpace(excerpt[:cut]) + "…"
	}
	return &summarize.Summary{
		Text:     "Summary unavailable. Transcript excerpt: " + excerpt,
		Model:    "local",
		Fallback: true,
	}
}

// publishSession is the fire-and-forget session sink write.
func (o *Orchestrator) publishSession(id string, upd database.SessionUpdate) {
	if o.opts.Sessions == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.opts.Sessions.UpdateSession(ctx, id, upd); err != nil {
		o.log.Warn().Err(err).Str("session_id", id).Msg("session update failed")
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
