package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/capitalrow/scribed/internal/audio"
	"github.com/capitalrow/scribed/internal/resilience"
)

// ClientConfig contains HTTP backend client configuration
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPClient posts normalized audio to a whisper-style HTTP transcription
// endpoint as a multipart WAV upload and decodes the JSON response.
type HTTPClient struct {
	config     ClientConfig
	httpClient *http.Client
}

// backendResponse is the JSON body the endpoint returns
type backendResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final"`
	Language   string  `json:"language,omitempty"`
}

// NewHTTPClient creates a transcription backend client
func NewHTTPClient(config ClientConfig) (*HTTPClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Transcribe sends one PCM chunk and returns the recognition result.
// Transport failures and 5xx responses come back as transient errors,
// malformed-request and auth responses as fatal.
func (c *HTTPClient) Transcribe(ctx context.Context, pcm []byte) (*Result, error) {
	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("malformed PCM payload: %w", err))
	}

	wav, err := audio.EncodeWAV(samples, audio.TargetSampleRate)
	if err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("encode WAV: %w", err))
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("build multipart form: %w", err))
	}
	if _, err := part.Write(wav); err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("write audio part: %w", err))
	}
	if err := writer.Close(); err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("close multipart form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resilience.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	switch {
	case resp.StatusCode >= 500:
		return nil, resilience.NewTransientError(fmt.Errorf("backend returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resilience.NewTransientError(fmt.Errorf("backend overloaded (429)"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resilience.NewFatalError(fmt.Errorf("backend auth failure (%d)", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, resilience.NewFatalError(fmt.Errorf("backend rejected request (%d)", resp.StatusCode))
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resilience.NewTransientError(fmt.Errorf("read response: %w", err))
	}

	var decoded backendResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, resilience.NewFatalError(fmt.Errorf("decode response: %w", err))
	}

	return &Result{
		Text:       decoded.Text,
		Confidence: decoded.Confidence,
		IsFinal:    decoded.IsFinal,
		Latency:    latency,
	}, nil
}

// Ping performs a lightweight reachability probe for readiness checks
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
