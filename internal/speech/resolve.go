package speech

import (
	"path/filepath"
	"strings"
)

// Encoding tags understood by the provider.
const (
	EncodingUnspecified = "ENCODING_UNSPECIFIED"
	EncodingLinear16    = "LINEAR16"
	EncodingFLAC        = "FLAC"
	EncodingMP3         = "MP3"
	EncodingOggOpus     = "OGG_OPUS"
	EncodingWebmOpus    = "WEBM_OPUS"
	EncodingAMR         = "AMR"
	EncodingAMRWB       = "AMR_WB"
)

const (
	defaultMinSpeakers = 1
	defaultMaxSpeakers = 6
	maxAltLanguages    = 5
)

// ConfigRequest is the caller-facing request for a recognition config.
type ConfigRequest struct {
	Language      string
	AltLanguages  []string
	Diarization   bool
	MinSpeakers   int
	MaxSpeakers   int
	Punctuation   bool
	WordTimes     bool
	Model         string
	Enhanced      bool
	ContainerType string // file extension or MIME type of the audio container
	SampleRate    int    // best-effort detected rate, <= 0 when unknown
}

// ResolveConfig maps a requested configuration to a normalized provider
// config. It never fails: unknown inputs degrade to safe defaults.
func ResolveConfig(req ConfigRequest) RecognitionConfig {
	cfg := RecognitionConfig{
		Encoding:                   DetectEncoding(req.ContainerType),
		LanguageCode:               req.Language,
		EnableAutomaticPunctuation: req.Punctuation,
		EnableWordTimeOffsets:      req.WordTimes,
		Model:                      req.Model,
		UseEnhanced:                req.Enhanced,
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if n := len(req.AltLanguages); n > 0 {
		if n > maxAltLanguages {
			n = maxAltLanguages
		}
		cfg.AlternativeLanguageCodes = append([]string(nil), req.AltLanguages[:n]...)
	}

	// Opus containers carry their own rate; the provider rejects or
	// ignores an explicit one, so it is omitted entirely. Everything
	// else sends the detected rate when we actually have one.
	if !rateAutoDetected(cfg.Encoding) && req.SampleRate > 0 {
		cfg.SampleRateHertz = req.SampleRate
	}

	if req.Diarization {
		min, max := req.MinSpeakers, req.MaxSpeakers
		if min <= 0 {
			min = defaultMinSpeakers
		}
		if max <= 0 || max < min {
			max = defaultMaxSpeakers
			if max < min {
				max = min
			}
		}
		cfg.DiarizationConfig = &DiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          min,
			MaxSpeakerCount:          max,
		}
	}

	return cfg
}

// DetectEncoding maps an audio container type (extension or MIME type) to a
// provider encoding tag. Unknown containers fall back to the unspecified
// encoding, which lets the provider sniff self-describing formats.
func DetectEncoding(containerType string) string {
	t := strings.ToLower(strings.TrimSpace(containerType))
	if i := strings.Index(t, ";"); i >= 0 {
		t = t[:i]
	}
	if strings.Contains(t, "/") {
		// MIME type: keep the subtype
		t = t[strings.LastIndex(t, "/")+1:]
	}
	t = strings.TrimPrefix(t, ".")

	switch t {
	case "wav", "wave", "x-wav", "pcm", "l16":
		return EncodingLinear16
	case "flac", "x-flac":
		return EncodingFLAC
	case "mp3", "mpeg", "mpga":
		return EncodingMP3
	case "ogg", "oga", "opus":
		return EncodingOggOpus
	case "webm":
		return EncodingWebmOpus
	case "amr":
		return EncodingAMR
	case "amr-wb", "awb":
		return EncodingAMRWB
	default:
		return EncodingUnspecified
	}
}

// DetectEncodingFromPath is a convenience for file-based callers.
func DetectEncodingFromPath(path string) string {
	return DetectEncoding(filepath.Ext(path))
}

// rateAutoDetected reports whether the provider derives the sample rate
// from the container itself for this encoding.
func rateAutoDetected(encoding string) bool {
	return encoding == EncodingOggOpus || encoding == EncodingWebmOpus
}
