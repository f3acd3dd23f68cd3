package speech

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AudioChunk is one overlapping byte-range slice of the source payload.
type AudioChunk struct {
	Index int
	Data  []byte
}

// splitChunks slices the payload into overlapping chunks sized by the
// byte-per-second ratio of the whole payload. Slicing stops once the
// remaining tail is no larger than the overlap, which would otherwise
// degenerate into an endless sliver.
func splitChunks(data []byte, durationSec, chunkSec, overlapSec float64) []AudioChunk {
	if len(data) == 0 || durationSec <= 0 {
		return nil
	}

	bytesPerSec := float64(len(data)) / durationSec
	chunkBytes := int(chunkSec * bytesPerSec)
	overlapBytes := int(overlapSec * bytesPerSec)
	if chunkBytes <= overlapBytes || chunkBytes <= 0 {
		return []AudioChunk{{Index: 0, Data: data}}
	}

	var chunks []AudioChunk
	for start := 0; ; {
		remaining := len(data) - start
		if remaining <= overlapBytes {
			break
		}
		end := start + chunkBytes
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, AudioChunk{Index: len(chunks), Data: data[start:end]})
		if end == len(data) {
			break
		}
		start = end - overlapBytes
	}
	return chunks
}

// transcribeInChunks splits a long payload into overlapping windows,
// transcribes each window synchronously and merges the partial results.
// Individual chunk failures are skipped; the operation only fails when no
// chunk produced a result.
func (e *Engine) transcribeInChunks(ctx context.Context, audio []byte, durationSec float64, cfg RecognitionConfig, pr ProgressFunc) (*TranscriptionResult, error) {
	start := time.Now()

	report(pr, 5, "Splitting audio into chunks")
	chunks := splitChunks(audio, durationSec, e.opts.ChunkSeconds, e.opts.OverlapSeconds)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("audio payload is empty")
	}
	e.log.Debug().Int("chunks", len(chunks)).Float64("duration_sec", durationSec).Msg("chunked transcription starting")

	var (
		partials []*TranscriptionResult
		lastErr  error
	)
	for _, chunk := range chunks {
		if chunk.Index > 0 {
			// Pause between requests so the upstream rate limiter
			// stays happy.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.opts.ChunkDelay):
			}
		}

		report(pr, 10+80*float64(chunk.Index)/float64(len(chunks)),
			fmt.Sprintf("Transcribing chunk %d/%d", chunk.Index+1, len(chunks)))

		resp, err := e.client.Recognize(ctx, cfg, chunk.Data)
		if err != nil {
			lastErr = err
			e.log.Warn().Err(err).Int("chunk", chunk.Index).Msg("chunk transcription failed, skipping")
			partials = append(partials, nil)
			continue
		}
		partials = append(partials, normalizeResponse(resp, cfg, 0))
	}

	merged := mergeChunkResults(partials, cfg)
	if merged == nil {
		return nil, fmt.Errorf("all %d chunks failed to transcribe: %w", len(chunks), lastErr)
	}
	merged.ProcessingTime = time.Since(start).Seconds()

	report(pr, 100, "Transcription complete")
	return merged, nil
}

// mergeChunkResults merges per-chunk results into one coherent result.
// Each chunk's segment timestamps are re-based by a running offset taken
// from the cumulative end time of prior chunks' own last segments. Because
// chunks overlap and silence carries no segments, this estimate can drift;
// it matches the established output and downstream consumers rely on it.
// Returns nil when no chunk produced anything.
func mergeChunkResults(partials []*TranscriptionResult, cfg RecognitionConfig) *TranscriptionResult {
	merged := &TranscriptionResult{
		Provider: providerName,
		Model:    cfg.Model,
		Language: cfg.LanguageCode,
		Segments: []TranscriptionSegment{},
	}

	var (
		parts     []string
		confSum   float64
		confCount int
		offset    float64
		speakers  = map[int]float64{}
		succeeded int
	)

	for _, p := range partials {
		if p == nil {
			continue
		}
		succeeded++
		if p.Text != "" {
			parts = append(parts, p.Text)
			if p.Confidence > 0 {
				confSum += p.Confidence
				confCount++
			}
		}
		if p.Language != "" {
			merged.Language = p.Language
		}

		var chunkEnd float64
		for _, seg := range p.Segments {
			s := seg
			s.ID = len(merged.Segments)
			s.Start += offset
			s.End += offset
			s.Words = append([]Word(nil), seg.Words...)
			for i := range s.Words {
				s.Words[i].Start += offset
				s.Words[i].End += offset
			}
			merged.Segments = append(merged.Segments, s)
			if seg.End > chunkEnd {
				chunkEnd = seg.End
			}
		}
		offset += chunkEnd

		for _, sp := range p.Speakers {
			speakers[sp.ID] += sp.Duration
		}
	}

	if succeeded == 0 {
		return nil
	}

	text := strings.Join(parts, " ")
	if text != "" {
		text = fmt.Sprintf("[Transcribed in %d chunks] %s", len(partials), text)
	}
	merged.Text = text
	if confCount > 0 {
		merged.Confidence = confSum / float64(confCount)
	}
	merged.Speakers = speakerList(speakers)
	return merged
}
