package speech

import (
	"fmt"
	"strconv"
	"strings"
)

// ProgressFunc receives transcription progress in [0,100] with a
// human-readable stage label. Callers may pass nil.
type ProgressFunc func(percent float64, stage string)

// TranscriptionResult is the canonical result shape produced by every
// transcription strategy.
type TranscriptionResult struct {
	Provider       string                 `json:"provider"`
	Model          string                 `json:"model"`
	Language       string                 `json:"language"`
	Confidence     float64                `json:"confidence"`
	ProcessingTime float64                `json:"processing_time_seconds"`
	Text           string                 `json:"text"`
	Segments       []TranscriptionSegment `json:"segments"`
	Speakers       []SpeakerInfo          `json:"speakers,omitempty"`
}

// TranscriptionSegment is one contiguous recognized span.
type TranscriptionSegment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
	Speaker    int     `json:"speaker,omitempty"`
}

// Word is a single recognized word with timing.
type Word struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker,omitempty"`
}

// SpeakerInfo aggregates per-speaker speaking time from diarization tags.
type SpeakerInfo struct {
	ID       int     `json:"id"`
	Duration float64 `json:"duration_seconds"`
	Color    string  `json:"color"`
}

// speakerPalette provides a deterministic display color per diarization tag.
var speakerPalette = []string{
	"#4285F4", "#EA4335", "#FBBC05", "#34A853",
	"#FF6D01", "#46BDC6", "#7B1FA2", "#0097A7",
}

// SpeakerColor returns a stable color for a speaker id.
func SpeakerColor(id int) string {
	if id < 0 {
		id = -id
	}
	return speakerPalette[id%len(speakerPalette)]
}

// --- wire types (REST JSON, duration fields are decimal-second strings) ---

// RecognitionConfig is the provider-side recognition request config.
// Field omission matters: sampleRateHertz is left out entirely for
// encodings the provider rate-detects itself.
type RecognitionConfig struct {
	Encoding                   string             `json:"encoding,omitempty"`
	SampleRateHertz            int                `json:"sampleRateHertz,omitempty"`
	LanguageCode               string             `json:"languageCode"`
	AlternativeLanguageCodes   []string           `json:"alternativeLanguageCodes,omitempty"`
	EnableAutomaticPunctuation bool               `json:"enableAutomaticPunctuation,omitempty"`
	EnableWordTimeOffsets      bool               `json:"enableWordTimeOffsets,omitempty"`
	DiarizationConfig          *DiarizationConfig `json:"diarizationConfig,omitempty"`
	Model                      string             `json:"model,omitempty"`
	UseEnhanced                bool               `json:"useEnhanced,omitempty"`
}

// DiarizationConfig always carries explicit speaker bounds when enabled.
type DiarizationConfig struct {
	EnableSpeakerDiarization bool `json:"enableSpeakerDiarization"`
	MinSpeakerCount          int  `json:"minSpeakerCount"`
	MaxSpeakerCount          int  `json:"maxSpeakerCount"`
}

// RecognitionAudio carries either inline base64 content or an object
// storage reference, never both.
type RecognitionAudio struct {
	Content string `json:"content,omitempty"`
	URI     string `json:"uri,omitempty"`
}

type recognizeRequest struct {
	Config RecognitionConfig `json:"config"`
	Audio  RecognitionAudio  `json:"audio"`
}

type recognizeResponse struct {
	Results []wireResult `json:"results"`
}

type wireResult struct {
	Alternatives []wireAlternative `json:"alternatives"`
	ChannelTag   int               `json:"channelTag,omitempty"`
	LanguageCode string            `json:"languageCode,omitempty"`
}

type wireAlternative struct {
	Transcript string     `json:"transcript"`
	Confidence float64    `json:"confidence"`
	Words      []wireWord `json:"words"`
}

type wireWord struct {
	Word       string `json:"word"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	SpeakerTag int    `json:"speakerTag,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// operation is the poll response of a long-running recognition request.
type operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Response *recognizeResponse `json:"response,omitempty"`
	Error    *operationError    `json:"error,omitempty"`
}

// parseDuration parses a decimal-seconds string like "3.500s".
// Malformed values parse to 0 rather than failing the result.
func parseDuration(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// formatDuration renders seconds in the provider's wire format.
func formatDuration(sec float64) string {
	return fmt.Sprintf("%.3fs", sec)
}
