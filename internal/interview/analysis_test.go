package interview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/interview-assistant/internal/resilience"
)

func TestParseAnalysisJSON(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		score     string
		questions int
	}{
		{
			name:      "plain",
			raw:       `{"quality":{"score":4,"label":"良好","comment":"清楚"},"nextQuestions":["a","b"],"uncoveredTopics":[]}`,
			score:     "4",
			questions: 2,
		},
		{
			name:      "fenced",
			raw:       "```json\n{\"quality\":{\"score\":3},\"nextQuestions\":[\"a\"]}\n```",
			score:     "3",
			questions: 1,
		},
		{
			name:      "surrounding prose",
			raw:       "Here is the analysis: {\"quality\":{\"score\":5}} hope it helps",
			score:     "5",
			questions: 0,
		},
		{
			name:      "raw newline inside string",
			raw:       "{\"quality\":{\"score\":2,\"comment\":\"line one\nline two\"}}",
			score:     "2",
			questions: 0,
		},
		{
			name:      "trailing commas",
			raw:       `{"quality":{"score":1,},"nextQuestions":["a","b",],}`,
			score:     "1",
			questions: 2,
		},
		{
			name:      "quoted score",
			raw:       `{"quality":{"score":"4"}}`,
			score:     "4",
			questions: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnalysisJSON(tt.raw)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got.Quality == nil {
				t.Fatal("Expected quality to be parsed")
			}
			if got.Quality.Score.String() != tt.score {
				t.Errorf("Expected score %s, got %s", tt.score, got.Quality.Score)
			}
			if len(got.NextQuestions) != tt.questions {
				t.Errorf("Expected %d next questions, got %d", tt.questions, len(got.NextQuestions))
			}
		})
	}
}

func TestParseAnalysisJSON_RawNewlineIsKept(t *testing.T) {
	got, err := ParseAnalysisJSON("{\"quality\":{\"comment\":\"a\nb\"}}")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Quality.Comment != "a\nb" {
		t.Errorf("Expected escaped newline to decode back, got %q", got.Quality.Comment)
	}
}

func TestParseAnalysisJSON_Empty(t *testing.T) {
	got, err := ParseAnalysisJSON("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Quality != nil || got.UncoveredTopics != nil {
		t.Errorf("Expected empty analysis, got %+v", got)
	}
}

func TestParseAnalysisJSON_Malformed(t *testing.T) {
	_, err := ParseAnalysisJSON(`{"quality": {"score": 4, "label": "良好"`)
	if !errors.Is(err, ErrMalformedAnalysis) {
		t.Errorf("Expected ErrMalformedAnalysis, got %v", err)
	}
}

func TestParseAnalysisJSON_UncoveredPresence(t *testing.T) {
	empty, _ := ParseAnalysisJSON(`{"uncoveredTopics":[]}`)
	if empty.UncoveredTopics == nil {
		t.Error("Expected an empty list to be reported as present")
	}
	missing, _ := ParseAnalysisJSON(`{"nextQuestions":["a"]}`)
	if missing.UncoveredTopics != nil {
		t.Error("Expected a missing list to be nil")
	}
}

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
	}
}

func TestAnalysisClient_Analyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/gemini/analyze" {
			t.Errorf("Expected /api/gemini/analyze, got %s", r.URL.Path)
		}
		var req AnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Expected JSON body, got %v", err)
		}
		if req.LatestAnswer != "I built the billing service" {
			t.Errorf("Expected latest answer to be sent, got %q", req.LatestAnswer)
		}
		if len(req.Conversation) != 1 {
			t.Errorf("Expected 1 turn, got %d", len(req.Conversation))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AnalysisResponse{
			Text: "```json\n{\"quality\":{\"score\":4,\"label\":\"良好\"},\"uncoveredTopics\":[\"團隊合作\"]}\n```",
		})
	}))
	defer server.Close()

	client := NewAnalysisClient(server.URL+"/", nil, fastRetry(), nil)
	got, err := client.Analyze(context.Background(), AnalysisRequest{
		JobTitle:     "Backend Engineer",
		Conversation: []Turn{{Question: "Tell me about billing", Answer: "I built the billing service"}},
		LatestAnswer: "I built the billing service",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Quality.Label != "良好" {
		t.Errorf("Expected label 良好, got %q", got.Quality.Label)
	}
	if len(got.UncoveredTopics) != 1 || got.UncoveredTopics[0] != "團隊合作" {
		t.Errorf("Expected uncovered topics to be parsed, got %v", got.UncoveredTopics)
	}
}

func TestAnalysisClient_EmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	got, err := NewAnalysisClient(server.URL, nil, fastRetry(), nil).Analyze(context.Background(), AnalysisRequest{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Quality != nil {
		t.Errorf("Expected empty analysis, got %+v", got)
	}
}

func TestAnalysisClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{"nested message", http.StatusBadRequest, `{"error":{"message":"API key not valid"}}`, "API key not valid"},
		{"string error", http.StatusBadRequest, `{"error":"GEMINI_API_KEY is not configured"}`, "GEMINI_API_KEY is not configured"},
		{"no body", http.StatusForbidden, ``, "HTTP 403"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewAnalysisClient(server.URL, nil, fastRetry(), nil).Analyze(context.Background(), AnalysisRequest{})
			if err == nil || err.Error() != tt.expected {
				t.Errorf("Expected error %q, got %v", tt.expected, err)
			}
		})
	}
}

func TestAnalysisClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"{\"nextQuestions\":[\"a\"]}"}`))
	}))
	defer server.Close()

	got, err := NewAnalysisClient(server.URL, nil, fastRetry(), nil).Analyze(context.Background(), AnalysisRequest{})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if len(got.NextQuestions) != 1 {
		t.Errorf("Expected 1 next question, got %d", len(got.NextQuestions))
	}
}

func TestAnalysisClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewAnalysisClient(server.URL, nil, fastRetry(), nil).Analyze(context.Background(), AnalysisRequest{})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestAnalysisClient_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := resilience.NewCircuitBreaker("analysis_test", 2, time.Minute)
	client := NewAnalysisClient(server.URL, nil, fastRetry(), breaker)

	if _, err := client.Analyze(context.Background(), AnalysisRequest{}); err == nil {
		t.Fatal("Expected an error")
	}
	_, err := client.Analyze(context.Background(), AnalysisRequest{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected the open circuit to stop requests after 2 calls, got %d", calls.Load())
	}
}
