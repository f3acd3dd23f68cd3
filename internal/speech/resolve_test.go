package speech

import (
	"reflect"
	"testing"
)

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		name      string
		container string
		want      string
	}{
		{"wav extension", ".wav", EncodingLinear16},
		{"wav mime", "audio/x-wav", EncodingLinear16},
		{"bare pcm", "pcm", EncodingLinear16},
		{"flac extension", ".flac", EncodingFLAC},
		{"flac mime", "audio/x-flac", EncodingFLAC},
		{"mp3 extension", ".mp3", EncodingMP3},
		{"mpeg mime", "audio/mpeg", EncodingMP3},
		{"ogg extension", ".ogg", EncodingOggOpus},
		{"opus extension", ".opus", EncodingOggOpus},
		{"webm extension", ".webm", EncodingWebmOpus},
		{"webm mime with codecs", "audio/webm;codecs=opus", EncodingWebmOpus},
		{"amr", ".amr", EncodingAMR},
		{"amr wideband mime", "audio/amr-wb", EncodingAMRWB},
		{"uppercase", ".WAV", EncodingLinear16},
		{"unknown", ".xyz", EncodingUnspecified},
		{"empty", "", EncodingUnspecified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectEncoding(tt.container); got != tt.want {
				t.Errorf("DetectEncoding(%q) = %q, want %q", tt.container, got, tt.want)
			}
		})
	}
}

func TestDetectEncodingFromPath(t *testing.T) {
	if got := DetectEncodingFromPath("/tmp/recordings/call.flac"); got != EncodingFLAC {
		t.Errorf("got %q, want %q", got, EncodingFLAC)
	}
}

func TestResolveConfigSampleRate(t *testing.T) {
	tests := []struct {
		name      string
		container string
		rate      int
		wantRate  int
	}{
		{"wav carries detected rate", ".wav", 44100, 44100},
		{"wav without detected rate omits it", ".wav", 0, 0},
		{"ogg opus always omits rate", ".ogg", 48000, 0},
		{"webm opus always omits rate", ".webm", 48000, 0},
		{"mp3 carries detected rate", ".mp3", 22050, 22050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ResolveConfig(ConfigRequest{ContainerType: tt.container, SampleRate: tt.rate})
			if cfg.SampleRateHertz != tt.wantRate {
				t.Errorf("SampleRateHertz = %d, want %d", cfg.SampleRateHertz, tt.wantRate)
			}
		})
	}
}

func TestResolveConfigDiarization(t *testing.T) {
	tests := []struct {
		name string
		req  ConfigRequest
		want *DiarizationConfig
	}{
		{
			"disabled yields no config",
			ConfigRequest{Diarization: false, MinSpeakers: 2, MaxSpeakers: 4},
			nil,
		},
		{
			"default bounds",
			ConfigRequest{Diarization: true},
			&DiarizationConfig{EnableSpeakerDiarization: true, MinSpeakerCount: 1, MaxSpeakerCount: 6},
		},
		{
			"explicit bounds kept",
			ConfigRequest{Diarization: true, MinSpeakers: 2, MaxSpeakers: 4},
			&DiarizationConfig{EnableSpeakerDiarization: true, MinSpeakerCount: 2, MaxSpeakerCount: 4},
		},
		{
			"max below min is replaced",
			ConfigRequest{Diarization: true, MinSpeakers: 4, MaxSpeakers: 2},
			&DiarizationConfig{EnableSpeakerDiarization: true, MinSpeakerCount: 4, MaxSpeakerCount: 6},
		},
		{
			"min above default max raises max",
			ConfigRequest{Diarization: true, MinSpeakers: 8},
			&DiarizationConfig{EnableSpeakerDiarization: true, MinSpeakerCount: 8, MaxSpeakerCount: 8},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ResolveConfig(tt.req)
			if !reflect.DeepEqual(cfg.DiarizationConfig, tt.want) {
				t.Errorf("DiarizationConfig = %+v, want %+v", cfg.DiarizationConfig, tt.want)
			}
		})
	}
}

func TestResolveConfigLanguages(t *testing.T) {
	cfg := ResolveConfig(ConfigRequest{})
	if cfg.LanguageCode != "en-US" {
		t.Errorf("default language = %q, want en-US", cfg.LanguageCode)
	}

	alts := []string{"de-DE", "fr-FR", "es-ES", "it-IT", "pt-BR", "nl-NL", "sv-SE"}
	cfg = ResolveConfig(ConfigRequest{Language: "en-GB", AltLanguages: alts})
	if cfg.LanguageCode != "en-GB" {
		t.Errorf("language = %q, want en-GB", cfg.LanguageCode)
	}
	want := alts[:5]
	if !reflect.DeepEqual(cfg.AlternativeLanguageCodes, want) {
		t.Errorf("AlternativeLanguageCodes = %v, want %v", cfg.AlternativeLanguageCodes, want)
	}
}

func TestResolveConfigPassThrough(t *testing.T) {
	cfg := ResolveConfig(ConfigRequest{
		Punctuation: true,
		WordTimes:   true,
		Model:       "latest_long",
		Enhanced:    true,
	})
	if !cfg.EnableAutomaticPunctuation || !cfg.EnableWordTimeOffsets {
		t.Error("punctuation/word time flags were not carried through")
	}
	if cfg.Model != "latest_long" || !cfg.UseEnhanced {
		t.Errorf("model settings not carried: %+v", cfg)
	}
}
