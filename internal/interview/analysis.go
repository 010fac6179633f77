package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/resilience"
)

// ErrMalformedAnalysis is returned when the model reply holds no parseable JSON object
var ErrMalformedAnalysis = errors.New("analysis response is incomplete, please try again")

// Quality is the model's rating of the latest answer
type Quality struct {
	Score   json.Number `json:"score,omitempty"`
	Label   string      `json:"label,omitempty"`
	Comment string      `json:"comment,omitempty"`
}

// Analysis is the structured feedback for one committed turn.
// A nil UncoveredTopics means the model did not report topic coverage.
type Analysis struct {
	Quality         *Quality `json:"quality,omitempty"`
	NextQuestions   []string `json:"nextQuestions,omitempty"`
	UncoveredTopics []string `json:"uncoveredTopics"`
}

// AnalysisRequest is the body sent to the analyze endpoint
type AnalysisRequest struct {
	JobTitle      string   `json:"jobTitle"`
	CustomTopics  []string `json:"customTopics"`
	CoveredTopics []string `json:"coveredTopics"`
	Conversation  []Turn   `json:"conversation"`
	LatestAnswer  string   `json:"latestAnswer"`
}

// AnalysisResponse is the analyze endpoint reply: the raw model text
type AnalysisResponse struct {
	Text string `json:"text"`
}

var (
	fenceReplacer = strings.NewReplacer("```json", "", "```", "")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseAnalysisJSON decodes a model reply that is meant to be a JSON object.
// Code fences are stripped and the outermost object is tried when the whole
// text does not parse. Each candidate gets one repair pass that escapes raw
// line breaks and tabs inside strings and drops trailing commas.
func ParseAnalysisJSON(raw string) (*Analysis, error) {
	if raw == "" {
		return &Analysis{}, nil
	}
	cleaned := strings.TrimSpace(fenceReplacer.Replace(raw))

	for _, candidate := range []string{cleaned, extractObject(cleaned)} {
		if candidate == "" {
			continue
		}
		var out Analysis
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return &out, nil
		}
		repaired := trailingComma.ReplaceAllString(escapeControlChars(candidate), "$1")
		out = Analysis{}
		if err := json.Unmarshal([]byte(repaired), &out); err == nil {
			return &out, nil
		}
	}
	return nil, ErrMalformedAnalysis
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return text
	}
	return text[start : end+1]
}

// escapeControlChars rewrites raw newlines, carriage returns and tabs that
// appear inside JSON string literals
func escapeControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false

	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString && (r == '\n' || r == '\r'):
			b.WriteString(`\n`)
			continue
		case inString && r == '\t':
			b.WriteString(`\t`)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AnalysisClient calls the analyze endpoint
type AnalysisClient struct {
	baseURL    string
	httpClient *http.Client
	retry      *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewAnalysisClient creates an analyze client. A nil breaker disables
// circuit breaking; a nil retry config uses the defaults.
func NewAnalysisClient(baseURL string, httpClient *http.Client, retry *resilience.RetryConfig, breaker *resilience.CircuitBreaker) *AnalysisClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &AnalysisClient{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		retry:      retry,
		breaker:    breaker,
	}
}

// Analyze requests feedback for the latest answer and parses the model reply
func (c *AnalysisClient) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	var text string
	call := func() error {
		t, err := c.request(ctx, req)
		if err != nil {
			return err
		}
		text = t
		return nil
	}

	err := resilience.Retry(ctx, func() error {
		if c.breaker == nil {
			return call()
		}
		return c.breaker.Call(call)
	}, c.retry, isRetryableAnalysisError)
	if err != nil {
		return nil, err
	}

	if text == "" {
		text = "{}"
	}
	return ParseAnalysisJSON(text)
}

func (c *AnalysisClient) request(ctx context.Context, req AnalysisRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/gemini/analyze", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.RecordUpstream("analysis", started, false)
		return "", resilience.NewRetryableError(fmt.Errorf("analysis request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = map[string]any{}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordUpstream("analysis", started, false)
		err := errors.New(analysisErrorMessage(payload, resp.StatusCode))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}
	observability.RecordUpstream("analysis", started, true)

	text, _ := payload["text"].(string)
	return text, nil
}

// analysisErrorMessage prefers error.message, then a string error field, then the status
func analysisErrorMessage(payload map[string]any, status int) string {
	switch e := payload["error"].(type) {
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	case string:
		if e != "" {
			return e
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func isRetryableAnalysisError(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return resilience.IsRetryable(err)
}
