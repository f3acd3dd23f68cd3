// Package probe extracts lightweight audio metadata (duration, sample
// rate, channel count) via ffprobe. Probing is strictly best-effort: any
// failure degrades to conservative defaults instead of propagating.
package probe

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Metadata is the probed shape of an audio payload. Zero fields mean
// "unknown"; consumers choose their own fallbacks.
type Metadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
}

// Prober probes audio files for basic metadata.
type Prober interface {
	Probe(ctx context.Context, path string) Metadata
}

// FFProber shells out to ffprobe. If the binary is missing or the probe
// fails, Probe returns zero metadata.
type FFProber struct {
	timeout time.Duration
	log     zerolog.Logger
}

// New creates an ffprobe-backed prober with the given per-probe timeout.
func New(timeout time.Duration, log zerolog.Logger) *FFProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FFProber{
		timeout: timeout,
		log:     log.With().Str("component", "probe").Logger(),
	}
}

// Available reports whether ffprobe is present in PATH.
func Available() bool {
	_, err := exec.LookPath("ffprobe")
	return err == nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe runs ffprobe against the given file. Never returns an error;
// failures are logged and yield zero metadata.
func (p *FFProber) Probe(ctx context.Context, path string) Metadata {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		p.log.Debug().Err(err).Str("path", path).Msg("ffprobe failed, using defaults")
		return Metadata{}
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		p.log.Debug().Err(err).Str("path", path).Msg("ffprobe output unparsable")
		return Metadata{}
	}

	var meta Metadata
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil && d > 0 {
		meta.DurationSeconds = d
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if r, err := strconv.Atoi(s.SampleRate); err == nil && r > 0 {
			meta.SampleRate = r
		}
		if s.Channels > 0 {
			meta.Channels = s.Channels
		}
		break
	}
	return meta
}
