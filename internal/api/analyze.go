package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/lexiqai/interview-assistant/internal/interview"
	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/resilience"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.5-flash"

const analysisSystemPrompt = `你是一位資深面試輔助 AI，協助面試官在面試過程中做出更好的判斷與提問。

你會收到：
1. 目前面試職位與重點主題
2. 到目前為止的對話紀錄（面試官問題 + 面試者回答摘要）
3. 最新一則面試者的回答

請用繁體中文輸出以下 JSON 格式（不加任何 markdown code block）：
{
  "quality": {
    "score": 1-5的整數,
    "label": "優秀/良好/普通/薄弱/迴避",
    "comment": "一句話評語，20字以內"
  },
  "nextQuestions": [
    "建議追問問題1（根據剛才的回答深挖）",
    "建議問題2（轉換角度或方向）",
    "建議問題3（引導面試者舉例或量化）"
  ],
  "uncoveredTopics": ["還沒問到的主題1", "還沒問到的主題2"]
}`

// Generator turns an analysis request into raw model text
type Generator interface {
	Generate(ctx context.Context, req interview.AnalysisRequest) (string, error)
}

// GeminiAnalyzer generates answer analysis with Gemini
type GeminiAnalyzer struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	breaker *resilience.CircuitBreaker
}

// NewGeminiAnalyzer creates a Gemini client for modelName. breaker may be nil.
func NewGeminiAnalyzer(ctx context.Context, apiKey, modelName string, breaker *resilience.CircuitBreaker) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAnalyzer{
		client:  client,
		model:   setupAnalysisModel(client.GenerativeModel(modelName)),
		breaker: breaker,
	}, nil
}

func setupAnalysisModel(model *genai.GenerativeModel) *genai.GenerativeModel {
	model.GenerationConfig.SetMaxOutputTokens(1000)
	model.GenerationConfig.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = analysisSchema()
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(analysisSystemPrompt)},
	}
	return model
}

func analysisSchema() *genai.Schema {
	stringList := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"quality": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"score":   {Type: genai.TypeInteger},
					"label":   {Type: genai.TypeString},
					"comment": {Type: genai.TypeString},
				},
				Required: []string{"score", "label", "comment"},
			},
			"nextQuestions":   stringList,
			"uncoveredTopics": stringList,
		},
		Required: []string{"quality", "nextQuestions", "uncoveredTopics"},
	}
}

// Close releases the Gemini client
func (g *GeminiAnalyzer) Close() error {
	return g.client.Close()
}

// Generate asks Gemini for an analysis of the latest answer
func (g *GeminiAnalyzer) Generate(ctx context.Context, req interview.AnalysisRequest) (string, error) {
	var text string
	call := func() error {
		started := time.Now()
		resp, err := g.model.GenerateContent(ctx, genai.Text(BuildAnalysisPrompt(req)))
		observability.RecordUpstream("gemini", started, err == nil)
		if err != nil {
			return fmt.Errorf("gemini request failed: %w", err)
		}
		text = responseText(resp)
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Call(call)
	} else {
		err = call()
	}
	return text, err
}

// responseText returns the first text part of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
		break
	}
	return ""
}

// BuildAnalysisPrompt renders the user message for one analysis. A trailing
// turn that holds the latest answer is left out of the history.
func BuildAnalysisPrompt(req interview.AnalysisRequest) string {
	history := req.Conversation
	latest := strings.TrimSpace(req.LatestAnswer)
	if n := len(history); n > 0 && history[n-1].Answer == latest {
		history = history[:n-1]
	}

	jobTitle := strings.TrimSpace(req.JobTitle)
	if jobTitle == "" {
		jobTitle = interview.DefaultJobTitle
	}
	covered := strings.Join(req.CoveredTopics, "、")
	if covered == "" {
		covered = "無"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "職位：%s\n", jobTitle)
	fmt.Fprintf(&b, "重點主題：%s\n", strings.Join(req.CustomTopics, "、"))
	fmt.Fprintf(&b, "已覆蓋主題：%s\n\n", covered)

	if len(history) > 0 {
		turns := make([]string, len(history))
		for i, turn := range history {
			turns[i] = fmt.Sprintf("第%d輪\n面試官：%s\n面試者：%s", i+1, turn.Question, turn.Answer)
		}
		fmt.Fprintf(&b, "對話紀錄：\n%s\n\n", strings.Join(turns, "\n\n"))
	}
	fmt.Fprintf(&b, "最新面試者回答：%s", latest)
	return b.String()
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "GEMINI_API_KEY is not configured"})
		return
	}

	var req interview.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.LatestAnswer) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "latestAnswer is required"})
		return
	}

	text, err := h.analyzer.Generate(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn().Err(err).Int("status", status).Msg("Answer analysis failed")
		writeJSON(w, status, map[string]any{"error": map[string]any{"message": err.Error()}})
		return
	}

	writeJSON(w, http.StatusOK, interview.AnalysisResponse{Text: text})
}
