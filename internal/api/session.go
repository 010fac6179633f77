package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/interview-assistant/internal/observability"
)

const (
	// DefaultSessionsURL creates transcription sessions upstream
	DefaultSessionsURL = "https://api.openai.com/v1/realtime/transcription_sessions"

	defaultTranscribeModel = "gpt-4o-mini-transcribe"
	defaultLanguage        = "zh"
	defaultSilenceMs       = 900
	minSilenceMs           = 200
	maxSilenceMs           = 3000
)

type transcriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// sessionPayload is the upstream transcription session request
type sessionPayload struct {
	InputAudioFormat         string              `json:"input_audio_format"`
	InputAudioTranscription  transcriptionConfig `json:"input_audio_transcription"`
	InputAudioNoiseReduction noiseReduction      `json:"input_audio_noise_reduction"`
	TurnDetection            turnDetection       `json:"turn_detection"`
	Include                  []string            `json:"include,omitempty"`
}

// sessionSummary echoes the effective settings back to the caller
type sessionSummary struct {
	Model              string `json:"model"`
	Language           string `json:"language,omitempty"`
	IncludeLogprobs    bool   `json:"includeLogprobs"`
	NoiseReductionType string `json:"noiseReductionType"`
	SilenceDurationMs  int    `json:"silenceDurationMs"`
}

// buildSessionPayload normalizes a loosely typed request body. Language
// "auto" leaves detection to the provider; an empty language means zh.
func buildSessionPayload(input map[string]any) sessionPayload {
	model := strings.TrimSpace(stringField(input, "model"))
	if model == "" {
		model = defaultTranscribeModel
	}

	language := strings.TrimSpace(stringField(input, "language"))
	switch language {
	case "auto":
		language = ""
	case "":
		language = defaultLanguage
	}

	noise := "near_field"
	if stringField(input, "noiseReductionType") == "far_field" {
		noise = "far_field"
	}

	silence := defaultSilenceMs
	if ms, ok := numberField(input, "silenceDurationMs"); ok && ms >= minSilenceMs && ms <= maxSilenceMs {
		silence = int(math.Floor(ms))
	}

	payload := sessionPayload{
		InputAudioFormat: "pcm16",
		InputAudioTranscription: transcriptionConfig{
			Model:    model,
			Language: language,
			Prompt:   strings.TrimSpace(stringField(input, "prompt")),
		},
		InputAudioNoiseReduction: noiseReduction{Type: noise},
		TurnDetection: turnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: silence,
		},
	}
	if truthy(input["includeLogprobs"]) {
		payload.Include = []string{"item.input_audio_transcription.logprobs"}
	}
	return payload
}

func stringField(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func numberField(input map[string]any, key string) (float64, bool) {
	switch v := input[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != ""
	case nil:
		return false
	}
	return true
}

// upstreamError carries the upstream status and body of a failed request
type upstreamError struct {
	status  int
	message string
	details any
}

func (e *upstreamError) Error() string {
	return e.message
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	if h.openAIKey == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "OPENAI_API_KEY is not configured"})
		return
	}

	input, ok := decodeBody(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	payload := buildSessionPayload(input)
	session, err := h.requestSession(r, payload)
	if err != nil {
		status := http.StatusInternalServerError
		var details any
		var ue *upstreamError
		if errors.As(err, &ue) {
			status = ue.status
			details = ue.details
		}
		h.logger.Warn().Err(err).Int("status", status).Msg("Realtime session creation failed")
		writeJSON(w, status, map[string]any{"error": err.Error(), "details": details})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"session": session,
		"config": sessionSummary{
			Model:              payload.InputAudioTranscription.Model,
			Language:           payload.InputAudioTranscription.Language,
			IncludeLogprobs:    payload.Include != nil,
			NoiseReductionType: payload.InputAudioNoiseReduction.Type,
			SilenceDurationMs:  payload.TurnDetection.SilenceDurationMs,
		},
	})
}

// decodeBody reads a JSON object body. An empty body is an empty object.
func decodeBody(r *http.Request) (map[string]any, bool) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, true
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, false
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, true
}

func (h *Handler) requestSession(r *http.Request, payload sessionPayload) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session payload: %w", err)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.sessionsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.openAIKey)

	started := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		observability.RecordUpstream("openai_sessions", started, false)
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if !json.Valid(raw) {
		raw = []byte("{}")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordUpstream("openai_sessions", started, false)
		var data struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &data)
		message := data.Error.Message
		if message == "" {
			message = fmt.Sprintf("OpenAI request failed (%d)", resp.StatusCode)
		}
		return nil, &upstreamError{status: resp.StatusCode, message: message, details: json.RawMessage(raw)}
	}

	observability.RecordUpstream("openai_sessions", started, true)
	return json.RawMessage(raw), nil
}
