package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/probe"
	"github.com/snarg/scribe-engine/internal/speech"
	"github.com/snarg/scribe-engine/internal/summarize"
)

type fakeProber struct {
	meta probe.Metadata
}

func (f *fakeProber) Probe(context.Context, string) probe.Metadata { return f.meta }

type fakeTranscriber struct {
	result   *speech.TranscriptionResult
	err      error
	block    chan struct{} // when set, Transcribe waits for it
	panicMsg string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ []byte, _ float64, _ speech.RecognitionConfig, pr speech.ProgressFunc) (*speech.TranscriptionResult, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if pr != nil {
		pr(100, "Transcription complete")
	}
	return f.result, f.err
}

type fakeSummarizer struct {
	summary *summarize.Summary
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(context.Context, string) (*summarize.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	updates []database.SessionUpdate
}

func (f *fakeSink) UpdateSession(_ context.Context, _ string, upd database.SessionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	return nil
}

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("fake audio payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const longTranscript = "this transcript has comfortably more than ten words in it for the summarizer threshold"

func TestRunSuccess(t *testing.T) {
	summarizer := &fakeSummarizer{summary: &summarize.Summary{Text: "short version", Model: "gemini-2.0-flash"}}
	sink := &fakeSink{}
	o := NewOrchestrator(OrchestratorOptions{
		Prober:     &fakeProber{meta: probe.Metadata{DurationSeconds: 30, SampleRate: 44100}},
		Engine:     &fakeTranscriber{result: &speech.TranscriptionResult{Text: longTranscript, Language: "en-US"}},
		Summarizer: summarizer,
		Sessions:   sink,
		Log:        zerolog.Nop(),
	})

	var lastPct float64
	out := o.Run(context.Background(), Request{
		SessionID: "s1",
		AudioPath: writeTestAudio(t),
		Summarize: true,
	}, func(pct float64, _ string) {
		if pct < lastPct {
			t.Errorf("progress went backwards: %v after %v", pct, lastPct)
		}
		lastPct = pct
	})

	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Error)
	}
	if out.Transcription == nil || out.Transcription.Text != longTranscript {
		t.Errorf("transcription missing or wrong: %+v", out.Transcription)
	}
	if out.Summary == nil || out.Summary.Fallback {
		t.Errorf("expected collaborator summary, got %+v", out.Summary)
	}
	if summarizer.calls != 1 {
		t.Errorf("summarizer called %d times, want 1", summarizer.calls)
	}
	if lastPct != 100 {
		t.Errorf("final progress = %v, want 100", lastPct)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.updates) == 0 {
		t.Error("no session updates published")
	}
}

func TestRunShortTranscriptLocalSummary(t *testing.T) {
	summarizer := &fakeSummarizer{summary: &summarize.Summary{Text: "unused"}}
	o := NewOrchestrator(OrchestratorOptions{
		Prober:     &fakeProber{},
		Engine:     &fakeTranscriber{result: &speech.TranscriptionResult{Text: "too few words here"}},
		Summarizer: summarizer,
		Log:        zerolog.Nop(),
	})

	out := o.Run(context.Background(), Request{AudioPath: writeTestAudio(t), Summarize: true}, nil)
	if out.Failed() {
		t.Fatalf("unexpected failure: %s", out.Error)
	}
	if out.Summary == nil || !out.Summary.Fallback || out.Summary.Model != "local" {
		t.Fatalf("expected local summary, got %+v", out.Summary)
	}
	if out.Summary.Text != "too few words here" {
		t.Errorf("short transcript should be its own summary, got %q", out.Summary.Text)
	}
	if summarizer.calls != 0 {
		t.Errorf("collaborator must not be called for short transcripts, calls = %d", summarizer.calls)
	}
}

func TestRunSummarizerFailureFallsBack(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{
		Prober:     &fakeProber{},
		Engine:     &fakeTranscriber{result: &speech.TranscriptionResult{Text: longTranscript}},
		Summarizer: &fakeSummarizer{err: errors.New("model overloaded")},
		Log:        zerolog.Nop(),
	})

	out := o.Run(context.Background(), Request{AudioPath: writeTestAudio(t), Summarize: true}, nil)
	if out.Failed() {
		t.Fatalf("summarizer failure must not fail the run: %s", out.Error)
	}
	if out.Summary == nil || !out.Summary.Fallback {
		t.Fatalf("expected fallback summary, got %+v", out.Summary)
	}
	if !strings.Contains(out.Summary.Text, "Summary unavailable") {
		t.Errorf("fallback text = %q", out.Summary.Text)
	}
	if !strings.Contains(out.Summary.Text, "this transcript") {
		t.Errorf("fallback should carry a transcript excerpt: %q", out.Summary.Text)
	}
}

func TestRunMissingAudio(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{
		Prober: &fakeProber{},
		Engine: &fakeTranscriber{},
		Log:    zerolog.Nop(),
	})

	out := o.Run(context.Background(), Request{AudioPath: "/nonexistent/clip.wav"}, nil)
	if !out.Failed() {
		t.Fatal("expected failure outcome for missing audio")
	}
	if !strings.Contains(out.Error, "read audio") {
		t.Errorf("Error = %q", out.Error)
	}
}

func TestRunTranscriberError(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{
		Prober: &fakeProber{meta: probe.Metadata{DurationSeconds: 20}},
		Engine: &fakeTranscriber{err: errors.New("speech API error (status 403): forbidden")},
		Log:    zerolog.Nop(),
	})

	out := o.Run(context.Background(), Request{AudioPath: writeTestAudio(t)}, nil)
	if !out.Failed() {
		t.Fatal("expected failure outcome")
	}
	if out.Metadata.DurationSeconds != 20 {
		t.Errorf("metadata should survive a transcription failure: %+v", out.Metadata)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{
		Prober: &fakeProber{},
		Engine: &fakeTranscriber{panicMsg: "index out of range"},
		Log:    zerolog.Nop(),
	})

	out := o.Run(context.Background(), Request{AudioPath: writeTestAudio(t)}, nil)
	if !out.Failed() {
		t.Fatal("panic must surface as a failure outcome")
	}
	if !strings.Contains(out.Error, "internal error") {
		t.Errorf("Error = %q", out.Error)
	}
}

func TestLocalFallbackSummaryTruncates(t *testing.T) {
	long := strings.Repeat("word ", 100)
	s := localFallbackSummary(long)
	if len(s.Text) > len("Summary unavailable. Transcript excerpt: ")+210 {
		t.Errorf("fallback excerpt not truncated, len = %d", len(s.Text))
	}
	if !strings.HasSuffix(s.Text, "…") {
		t.Errorf("truncated excerpt should end with ellipsis: %q", s.Text)
	}
}

func TestLocalFallbackSummaryKeepsRunesIntact(t *testing.T) {
	// 3-byte runes put the byte cutoff mid-rune.
	s := localFallbackSummary(strings.Repeat("語", 100))
	if !utf8.ValidString(s.Text) {
		t.Errorf("fallback excerpt is not valid UTF-8: %q", s.Text)
	}
	if !strings.HasSuffix(s.Text, "…") {
		t.Errorf("truncated excerpt should end with ellipsis: %q", s.Text)
	}
}
