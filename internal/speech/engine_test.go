package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memStore struct {
	mu       sync.Mutex
	uploads  int
	deletes  int
	lastName string
	lastURI  string
	data     []byte
}

func (m *memStore) Upload(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	m.lastName = name
	m.data = data
	m.lastURI = "mem://bucket/" + name
	return m.lastURI, nil
}

func (m *memStore) Delete(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if uri != m.lastURI {
		return fmt.Errorf("unknown uri %s", uri)
	}
	return nil
}

func testEngine(t *testing.T, baseURL string, creds Credentials, store ObjectStore) *Engine {
	t.Helper()
	return NewEngine(EngineOptions{
		BaseURL:      baseURL,
		Credentials:  creds,
		Store:        store,
		PollInterval: time.Millisecond,
		Log:          zerolog.Nop(),
	})
}

func TestSelectStrategy(t *testing.T) {
	apiKey := Credentials{APIKey: "k"}
	bearer := Credentials{BearerToken: "tok"}

	tests := []struct {
		name     string
		creds    Credentials
		store    ObjectStore
		duration float64
		want     Strategy
	}{
		{"short clip is sync", apiKey, nil, 30, StrategySync},
		{"exactly at the limit is sync", apiKey, nil, 60, StrategySync},
		{"long clip with api key chunks", apiKey, nil, 120, StrategyChunked},
		{"long clip with bearer and store polls", bearer, &memStore{}, 120, StrategySubmitPoll},
		{"long clip with bearer but no store chunks", bearer, nil, 120, StrategyChunked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(t, "http://unused", tt.creds, tt.store)
			if got := e.SelectStrategy(tt.duration); got != tt.want {
				t.Errorf("SelectStrategy(%v) = %v, want %v", tt.duration, got, tt.want)
			}
		})
	}
}

func TestTranscribeNoCredentials(t *testing.T) {
	e := testEngine(t, "http://unused", Credentials{}, nil)
	_, err := e.Transcribe(context.Background(), []byte("x"), 10, RecognitionConfig{}, nil)
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestTranscribeSyncNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech:recognize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key query param, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("api key requests must not carry an Authorization header")
		}

		var req recognizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Audio.Content == "" || req.Audio.URI != "" {
			t.Errorf("sync request must inline audio, got %+v", req.Audio)
		}

		json.NewEncoder(w).Encode(recognizeResponse{Results: []wireResult{
			{Alternatives: []wireAlternative{{Transcript: "hello there", Confidence: 0.8}}},
			{Alternatives: []wireAlternative{{Transcript: "  "}}},                           // empty after trim
			{Alternatives: []wireAlternative{{Transcript: "hello there", Confidence: 0.9}}}, // duplicate channel
			{Alternatives: []wireAlternative{{Transcript: "general kenobi", Confidence: 0.6}}},
			{},
		}})
	}))
	defer srv.Close()

	e := testEngine(t, srv.URL, Credentials{APIKey: "test-key"}, nil)
	result, err := e.Transcribe(context.Background(), []byte("audio"), 10, RecognitionConfig{LanguageCode: "en-US"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.Text != "hello there general kenobi" {
		t.Errorf("Text = %q", result.Text)
	}
	// Only the surviving transcripts' confidences count: (0.8+0.6)/2.
	if result.Confidence < 0.699 || result.Confidence > 0.701 {
		t.Errorf("Confidence = %v, want 0.7", result.Confidence)
	}
	if len(result.Segments) != 2 {
		t.Errorf("got %d segments, want 2", len(result.Segments))
	}
}

func TestTranscribeSyncNearLimitNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(recognizeResponse{Results: []wireResult{
			{Alternatives: []wireAlternative{{Transcript: "cutting it close", Confidence: 0.9}}},
		}})
	}))
	defer srv.Close()

	e := testEngine(t, srv.URL, Credentials{APIKey: "k"}, nil)

	result, err := e.Transcribe(context.Background(), []byte("audio"), 58, RecognitionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result.Text, "[Note: audio is near the 60s synchronous limit") {
		t.Errorf("missing near-limit note: %q", result.Text)
	}
	if !strings.HasSuffix(result.Text, "cutting it close") {
		t.Errorf("transcript body lost: %q", result.Text)
	}

	// Comfortably short clips carry no note.
	result, err = e.Transcribe(context.Background(), []byte("audio"), 30, RecognitionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(result.Text, "[Note:") {
		t.Errorf("unexpected note on short clip: %q", result.Text)
	}
}

func TestTranscribeSyncWordTimings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(recognizeResponse{Results: []wireResult{
			{Alternatives: []wireAlternative{{
				Transcript: "hello world",
				Confidence: 0.95,
				Words: []wireWord{
					{Word: "hello", StartTime: "0s", EndTime: "0.500s", SpeakerTag: 1},
					{Word: "world", StartTime: "0.500s", EndTime: "1.200s", SpeakerTag: 2},
				},
			}}},
		}})
	}))
	defer srv.Close()

	e := testEngine(t, srv.URL, Credentials{APIKey: "k"}, nil)
	result, err := e.Transcribe(context.Background(), []byte("audio"), 5, RecognitionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Segments) != 1 {
		t.Fatalf("got %d segments", len(result.Segments))
	}
	seg := result.Segments[0]
	if seg.Start != 0 || seg.End != 1.2 {
		t.Errorf("segment span = [%v, %v], want [0, 1.2]", seg.Start, seg.End)
	}
	if len(result.Speakers) != 2 {
		t.Fatalf("got %d speakers, want 2", len(result.Speakers))
	}
	if result.Speakers[0].ID != 1 || result.Speakers[1].ID != 2 {
		t.Errorf("speakers out of order: %+v", result.Speakers)
	}
	if result.Speakers[0].Color == "" {
		t.Error("speaker color missing")
	}
}

func TestTranscribeLongRunning(t *testing.T) {
	var polls int
	store := &memStore{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer header, got %q", r.Header.Get("Authorization"))
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/speech:longrunningrecognize":
			var req recognizeRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Audio.URI == "" || req.Audio.Content != "" {
				t.Errorf("long-running request must reference storage, got %+v", req.Audio)
			}
			json.NewEncoder(w).Encode(operation{Name: "op-42"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/operations/op-42":
			polls++
			if polls < 3 {
				json.NewEncoder(w).Encode(operation{Name: "op-42", Done: false})
				return
			}
			json.NewEncoder(w).Encode(operation{
				Name: "op-42",
				Done: true,
				Response: &recognizeResponse{Results: []wireResult{
					{Alternatives: []wireAlternative{{Transcript: "long form transcript", Confidence: 0.9}}},
				}},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e := testEngine(t, srv.URL, Credentials{BearerToken: "tok"}, store)
	result, err := e.Transcribe(context.Background(), []byte("payload"), 120, RecognitionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Text != "long form transcript" {
		t.Errorf("Text = %q", result.Text)
	}
	if polls != 3 {
		t.Errorf("polled %d times, want 3", polls)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.uploads != 1 {
		t.Errorf("uploads = %d, want 1", store.uploads)
	}
	if !strings.HasPrefix(store.lastName, "transcribe/") {
		t.Errorf("object name = %q, want transcribe/ prefix", store.lastName)
	}
	if store.deletes != 1 {
		t.Errorf("transient object was not cleaned up, deletes = %d", store.deletes)
	}
}

func TestTranscribeLongRunningTimeout(t *testing.T) {
	store := &memStore{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/speech:longrunningrecognize":
			json.NewEncoder(w).Encode(operation{Name: "op-slow"})
		default:
			json.NewEncoder(w).Encode(operation{Name: "op-slow", Done: false})
		}
	}))
	defer srv.Close()

	e := NewEngine(EngineOptions{
		BaseURL:         srv.URL,
		Credentials:     Credentials{BearerToken: "tok"},
		Store:           store,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 4,
		Log:             zerolog.Nop(),
	})

	_, err := e.Transcribe(context.Background(), []byte("payload"), 120, RecognitionConfig{}, nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
	if !strings.Contains(err.Error(), "4 attempts") {
		t.Errorf("timeout error should name the attempt count: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.deletes != 1 {
		t.Errorf("transient object must be cleaned up even on timeout, deletes = %d", store.deletes)
	}
}

func TestTranscribeLongRunningOperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/speech:longrunningrecognize":
			json.NewEncoder(w).Encode(operation{Name: "op-err"})
		default:
			json.NewEncoder(w).Encode(operation{
				Name:  "op-err",
				Done:  true,
				Error: &operationError{Code: 3, Message: "unsupported encoding"},
			})
		}
	}))
	defer srv.Close()

	e := testEngine(t, srv.URL, Credentials{BearerToken: "tok"}, &memStore{})
	_, err := e.Transcribe(context.Background(), []byte("payload"), 120, RecognitionConfig{}, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported encoding") {
		t.Errorf("err = %v, want operation error message", err)
	}
}

func TestTranscribeChunkedSkipsFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"transient failure"}}`)
			return
		}
		json.NewEncoder(w).Encode(recognizeResponse{Results: []wireResult{
			{Alternatives: []wireAlternative{{Transcript: fmt.Sprintf("part %d", calls), Confidence: 0.8}}},
		}})
	}))
	defer srv.Close()

	e := NewEngine(EngineOptions{
		BaseURL:     srv.URL,
		Credentials: Credentials{APIKey: "k"},
		ChunkDelay:  time.Millisecond,
		Log:         zerolog.Nop(),
	})

	// 1200 bytes over 120s yields three chunks; the middle one fails.
	result, err := e.Transcribe(context.Background(), make([]byte, 1200), 120, RecognitionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(result.Text, "[Transcribed in 3 chunks] ") {
		t.Errorf("Text = %q, want 3-chunk marker", result.Text)
	}
	if strings.Contains(result.Text, "part 2") {
		t.Errorf("failed chunk leaked into transcript: %q", result.Text)
	}
}

func TestTranscribeChunkedAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded"}}`)
	}))
	defer srv.Close()

	e := NewEngine(EngineOptions{
		BaseURL:     srv.URL,
		Credentials: Credentials{APIKey: "k"},
		ChunkDelay:  time.Millisecond,
		Log:         zerolog.Nop(),
	})

	_, err := e.Transcribe(context.Background(), make([]byte, 1200), 120, RecognitionConfig{}, nil)
	if err == nil {
		t.Fatal("expected error when every chunk fails")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err should carry the last provider message: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"3.500s", 3.5},
		{"0s", 0},
		{"12s", 12},
		{" 1.250s ", 1.25},
		{"", 0},
		{"garbage", 0},
		{"-5s", 0},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
