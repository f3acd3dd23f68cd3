package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
)

// ErrPollTimeout is the terminal failure of a submit-and-poll run that
// exhausted its attempt ceiling. Distinguishable from provider errors.
var ErrPollTimeout = errors.New("long-running recognition timed out")

// ErrNoCredentials is returned before any network call when the engine has
// no usable credential.
var ErrNoCredentials = errors.New("speech credentials missing")

// ObjectStore is the transient object storage used by the submit-and-poll
// path. Delete is best-effort; the engine logs but never fails on it.
type ObjectStore interface {
	Upload(ctx context.Context, name string, data []byte) (uri string, err error)
	Delete(ctx context.Context, uri string) error
}

// Strategy is the transcription strategy selected once per job.
type Strategy int

const (
	StrategySync Strategy = iota
	StrategyChunked
	StrategySubmitPoll
)

func (s Strategy) String() string {
	switch s {
	case StrategySync:
		return "sync"
	case StrategyChunked:
		return "chunked"
	case StrategySubmitPoll:
		return "submit-poll"
	default:
		return "unknown"
	}
}

// EngineOptions configures a transcription engine. Zero values take the
// documented defaults.
type EngineOptions struct {
	BaseURL        string
	Credentials    Credentials
	RequestTimeout time.Duration

	SyncLimitSeconds float64       // sync/async boundary (default 60)
	ChunkSeconds     float64       // nominal chunk duration (default 50)
	OverlapSeconds   float64       // chunk overlap (default 5)
	ChunkDelay       time.Duration // rate-limit delay between chunk calls (default 500ms)

	PollInterval    time.Duration // submit-and-poll interval (default 5s)
	MaxPollAttempts int           // poll ceiling (default 120)

	FallbackDurationSeconds float64 // used when the probe yields nothing (default 45)

	Store ObjectStore // required only for the submit-and-poll path
	Log   zerolog.Logger
}

// Engine decides and executes one of three transcription strategies and
// normalizes provider responses into the canonical result shape.
type Engine struct {
	client *Client
	store  ObjectStore
	opts   EngineOptions
	log    zerolog.Logger
}

const providerName = "google-speech"

// NewEngine creates a transcription engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.SyncLimitSeconds <= 0 {
		opts.SyncLimitSeconds = 60
	}
	if opts.ChunkSeconds <= 0 {
		opts.ChunkSeconds = 50
	}
	if opts.OverlapSeconds <= 0 {
		opts.OverlapSeconds = 5
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 120
	}
	if opts.FallbackDurationSeconds <= 0 {
		opts.FallbackDurationSeconds = 45
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	return &Engine{
		client: NewClient(opts.BaseURL, opts.Credentials, opts.RequestTimeout),
		store:  opts.Store,
		opts:   opts,
		log:    opts.Log.With().Str("component", "speech-engine").Logger(),
	}
}

// SelectStrategy picks the strategy for the given audio duration and the
// active credential type.
func (e *Engine) SelectStrategy(durationSec float64) Strategy {
	if durationSec <= e.opts.SyncLimitSeconds {
		return StrategySync
	}
	if e.client.Credentials().Elevated() && e.store != nil {
		return StrategySubmitPoll
	}
	return StrategyChunked
}

// Transcribe runs the selected strategy and returns a normalized result.
// durationSec is the probed audio duration; values <= 0 fall back to a
// conservative default rather than aborting.
func (e *Engine) Transcribe(ctx context.Context, audio []byte, durationSec float64, cfg RecognitionConfig, pr ProgressFunc) (*TranscriptionResult, error) {
	if !e.client.Credentials().Valid() {
		return nil, ErrNoCredentials
	}
	if durationSec <= 0 {
		durationSec = e.opts.FallbackDurationSeconds
	}

	strat := e.SelectStrategy(durationSec)
	metrics.TranscriptionsTotal.WithLabelValues(strat.String()).Inc()
	e.log.Debug().
		Str("strategy", strat.String()).
		Float64("duration_sec", durationSec).
		Int("bytes", len(audio)).
		Msg("transcription strategy selected")

	switch strat {
	case StrategySubmitPoll:
		return e.transcribeLongRunning(ctx, audio, cfg, pr)
	case StrategyChunked:
		return e.transcribeInChunks(ctx, audio, durationSec, cfg, pr)
	default:
		return e.transcribeSync(ctx, audio, durationSec, cfg, pr)
	}
}

// transcribeSync performs a single synchronous recognition call.
func (e *Engine) transcribeSync(ctx context.Context, audio []byte, durationSec float64, cfg RecognitionConfig, pr ProgressFunc) (*TranscriptionResult, error) {
	report(pr, 10, "Preparing audio")
	start := time.Now()

	report(pr, 30, "Transcribing")
	resp, err := e.client.Recognize(ctx, cfg, audio)
	if err != nil {
		return nil, err
	}

	result := normalizeResponse(resp, cfg, time.Since(start))

	// A clip at or near the provider's synchronous cutoff may come back
	// silently truncated; surface that instead of hiding it.
	if durationSec >= e.opts.SyncLimitSeconds-5 && result.Text != "" {
		result.Text = fmt.Sprintf("[Note: audio is near the %.0fs synchronous limit; the transcript may be incomplete] %s",
			e.opts.SyncLimitSeconds, result.Text)
	}

	report(pr, 100, "Transcription complete")
	return result, nil
}

// transcribeLongRunning uploads the payload to transient object storage,
// submits an asynchronous recognition job and polls it to completion.
// State machine: Uploading -> Submitted -> Polling -> {Completed|Failed|TimedOut}.
func (e *Engine) transcribeLongRunning(ctx context.Context, audio []byte, cfg RecognitionConfig, pr ProgressFunc) (*TranscriptionResult, error) {
	if e.store == nil {
		return nil, fmt.Errorf("object storage not configured for long-running recognition")
	}
	start := time.Now()

	report(pr, 5, "Uploading audio")
	objectName := "transcribe/" + uuid.NewString()
	uri, err := e.store.Upload(ctx, objectName, audio)
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}
	defer func() {
		// Fire-and-forget cleanup of the transient object.
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if derr := e.store.Delete(dctx, uri); derr != nil {
			e.log.Warn().Err(derr).Str("uri", uri).Msg("transient object cleanup failed")
		}
	}()

	report(pr, 15, "Submitting recognition job")
	name, err := e.client.LongRunningRecognize(ctx, cfg, uri)
	if err != nil {
		return nil, fmt.Errorf("submit recognition: %w", err)
	}
	e.log.Debug().Str("operation", name).Msg("long-running recognition submitted")

	for attempt := 1; attempt <= e.opts.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}

		// Polling occupies the 20..90 progress band, linear in attempts.
		pct := 20 + 70*float64(attempt)/float64(e.opts.MaxPollAttempts)
		report(pr, pct, fmt.Sprintf("Waiting for transcription (%d/%d)", attempt, e.opts.MaxPollAttempts))

		op, err := e.client.GetOperation(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("poll operation %s: %w", name, err)
		}
		if !op.Done {
			continue
		}
		if op.Error != nil {
			return nil, fmt.Errorf("recognition operation failed (code %d): %s", op.Error.Code, op.Error.Message)
		}
		if op.Response == nil {
			return nil, fmt.Errorf("recognition operation %s completed without a response", name)
		}

		result := normalizeResponse(op.Response, cfg, time.Since(start))
		report(pr, 100, "Transcription complete")
		return result, nil
	}

	return nil, fmt.Errorf("%w after %d attempts (%s)", ErrPollTimeout,
		e.opts.MaxPollAttempts, time.Duration(e.opts.MaxPollAttempts)*e.opts.PollInterval)
}

// normalizeResponse converts a provider response into the canonical result:
// results without a usable top transcript are dropped, identical transcripts
// across channels are de-duplicated, survivors are joined with single spaces
// and valid confidences averaged.
func normalizeResponse(resp *recognizeResponse, cfg RecognitionConfig, elapsed time.Duration) *TranscriptionResult {
	result := &TranscriptionResult{
		Provider:       providerName,
		Model:          cfg.Model,
		Language:       cfg.LanguageCode,
		ProcessingTime: elapsed.Seconds(),
		Segments:       []TranscriptionSegment{},
	}

	var (
		parts     []string
		confSum   float64
		confCount int
		seen      = map[string]bool{}
		speakers  = map[int]float64{}
	)

	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		top := res.Alternatives[0]
		text := strings.TrimSpace(top.Transcript)
		if text == "" {
			continue
		}
		if seen[text] {
			// Duplicate transcript from another channel.
			continue
		}
		seen[text] = true
		parts = append(parts, text)

		if top.Confidence > 0 {
			confSum += top.Confidence
			confCount++
		}
		if res.LanguageCode != "" {
			result.Language = res.LanguageCode
		}

		seg := TranscriptionSegment{
			ID:         len(result.Segments),
			Text:       text,
			Confidence: top.Confidence,
		}
		for _, ww := range top.Words {
			w := Word{
				Word:    ww.Word,
				Start:   parseDuration(ww.StartTime),
				End:     parseDuration(ww.EndTime),
				Speaker: ww.SpeakerTag,
			}
			seg.Words = append(seg.Words, w)
			if w.Speaker > 0 {
				d := w.End - w.Start
				if d > 0 {
					speakers[w.Speaker] += d
				}
			}
		}
		if n := len(seg.Words); n > 0 {
			seg.Start = seg.Words[0].Start
			seg.End = seg.Words[n-1].End
			seg.Speaker = dominantSpeaker(seg.Words)
		}
		result.Segments = append(result.Segments, seg)
	}

	result.Text = strings.Join(parts, " ")
	if confCount > 0 {
		result.Confidence = confSum / float64(confCount)
	}
	result.Speakers = speakerList(speakers)
	return result
}

// dominantSpeaker returns the speaker tag covering the most words of a
// segment, or 0 when the segment carries no diarization tags.
func dominantSpeaker(words []Word) int {
	counts := map[int]int{}
	for _, w := range words {
		if w.Speaker > 0 {
			counts[w.Speaker]++
		}
	}
	best, bestCount := 0, 0
	for id, n := range counts {
		if n > bestCount || (n == bestCount && id < best) {
			best, bestCount = id, n
		}
	}
	return best
}

func speakerList(durations map[int]float64) []SpeakerInfo {
	if len(durations) == 0 {
		return nil
	}
	out := make([]SpeakerInfo, 0, len(durations))
	for id, d := range durations {
		out = append(out, SpeakerInfo{ID: id, Duration: d, Color: SpeakerColor(id)})
	}
	// Stable order by id.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func report(pr ProgressFunc, pct float64, stage string) {
	if pr != nil {
		pr(pct, stage)
	}
}
