package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://speech.googleapis.com"

// Credentials selects how requests are authorized. An API key is the
// simple credential; a bearer token is the elevated credential that may
// use the object-storage-backed long-running path.
type Credentials struct {
	APIKey      string
	BearerToken string
}

// Elevated reports whether the credential may submit long-running
// recognition jobs referencing object storage.
func (c Credentials) Elevated() bool { return c.BearerToken != "" }

// Valid reports whether any credential is present at all.
func (c Credentials) Valid() bool { return c.APIKey != "" || c.BearerToken != "" }

// Client speaks the provider's REST recognition API.
type Client struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

// NewClient creates a recognition client. baseURL may be empty for the
// production endpoint; tests point it at a local server.
func NewClient(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: timeout},
	}
}

// Credentials returns the credentials the client was built with.
func (c *Client) Credentials() Credentials { return c.creds }

// Recognize performs one synchronous recognition call with inline audio.
func (c *Client) Recognize(ctx context.Context, cfg RecognitionConfig, audio []byte) (*recognizeResponse, error) {
	req := recognizeRequest{
		Config: cfg,
		Audio:  RecognitionAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	}
	var resp recognizeResponse
	if err := c.post(ctx, "/v1/speech:recognize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LongRunningRecognize submits an asynchronous recognition job referencing
// an object storage location and returns the operation handle name.
func (c *Client) LongRunningRecognize(ctx context.Context, cfg RecognitionConfig, storageURI string) (string, error) {
	req := recognizeRequest{
		Config: cfg,
		Audio:  RecognitionAudio{URI: storageURI},
	}
	var op operation
	if err := c.post(ctx, "/v1/speech:longrunningrecognize", req, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("submit returned no operation name")
	}
	return op.Name, nil
}

// GetOperation polls a long-running operation by handle name.
func (c *Client) GetOperation(ctx context.Context, name string) (*operation, error) {
	var op operation
	if err := c.get(ctx, "/v1/operations/"+url.PathEscape(name), &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

// endpoint builds the request URL, appending the API key when that is the
// active credential.
func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if c.creds.BearerToken == "" && c.creds.APIKey != "" {
		u += "?key=" + url.QueryEscape(c.creds.APIKey)
	}
	return u
}

func (c *Client) do(req *http.Request, out any) error {
	if c.creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.BearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech API error (status %d): %s", resp.StatusCode, providerMessage(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// providerMessage extracts the provider error message from an error body,
// falling back to the raw body.
func providerMessage(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(body))
}
