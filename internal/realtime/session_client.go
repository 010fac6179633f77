package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/interview-assistant/internal/observability"
)

const (
	DefaultModel          = "gpt-4o-mini-transcribe"
	DefaultLanguage       = "zh"
	DefaultNoiseReduction = "near_field"
	DefaultSilenceMs      = 900
	DefaultSessionTimeout = 12 * time.Second
)

// SessionRequest asks the issuance endpoint for a short-lived transcription credential
type SessionRequest struct {
	Model              string `json:"model"`
	Language           string `json:"language"`
	Prompt             string `json:"prompt"`
	IncludeLogprobs    bool   `json:"includeLogprobs"`
	NoiseReductionType string `json:"noiseReductionType"`
	SilenceDurationMs  int    `json:"silenceDurationMs"`
}

// SessionResponse is the issuance endpoint reply. Session is opaque provider metadata.
type SessionResponse struct {
	OK           bool            `json:"ok"`
	Session      json.RawMessage `json:"session,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	ClientSecret string          `json:"-"`
}

// SessionClient calls the session issuance endpoint
type SessionClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewSessionClient creates an issuance client. baseURL may be empty for a
// same-origin deployment; a trailing slash is dropped.
func NewSessionClient(baseURL string, httpClient *http.Client, timeout time.Duration) *SessionClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// Create requests a new transcription session. Error responses surface the
// endpoint's error field verbatim.
func (c *SessionClient) Create(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}
	if req.Language == "" {
		req.Language = DefaultLanguage
	}
	if req.NoiseReductionType == "" {
		req.NoiseReductionType = DefaultNoiseReduction
	}
	if req.SilenceDurationMs == 0 {
		req.SilenceDurationMs = DefaultSilenceMs
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/realtime/session", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.RecordUpstream("realtime_session", started, false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("session create timed out after %s", c.timeout)
		}
		return nil, fmt.Errorf("session create failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = map[string]any{}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordUpstream("realtime_session", started, false)
		if msg, ok := payload["error"].(string); ok && msg != "" {
			return nil, errors.New(msg)
		}
		return nil, fmt.Errorf("session create failed (%d)", resp.StatusCode)
	}
	observability.RecordUpstream("realtime_session", started, true)

	var out SessionResponse
	_ = json.Unmarshal(raw, &out)
	out.ClientSecret = PickClientSecret(payload)
	return &out, nil
}

// PickClientSecret extracts the ephemeral credential from an issuance payload,
// accepting session.client_secret.value, session.client_secret,
// client_secret.value and client_secret in that order.
func PickClientSecret(payload map[string]any) string {
	if session, ok := payload["session"].(map[string]any); ok {
		if secret := secretValue(session["client_secret"]); secret != "" {
			return secret
		}
	}
	return secretValue(payload["client_secret"])
}

func secretValue(v any) string {
	switch secret := v.(type) {
	case string:
		return secret
	case map[string]any:
		if value, ok := secret["value"].(string); ok {
			return value
		}
	}
	return ""
}
