package interview

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultJobTitle labels records created without a job title
const DefaultJobTitle = "未指定"

// DefaultTopics are the interview topics offered when none are configured
var DefaultTopics = []string{"技術能力", "過去經驗", "問題解決", "團隊合作", "自我驅動", "職涯規劃"}

// Turn is one committed question and answer pair
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Record is a saved interview
type Record struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	JobTitle      string    `json:"jobTitle"`
	Topics        []string  `json:"topics"`
	CoveredTopics []string  `json:"coveredTopics"`
	Conversation  []Turn    `json:"conversation"`
	AISummary     *Analysis `json:"aiSummary"`
}

// NewRecord assembles a record. Slices are copied.
func NewRecord(jobTitle string, topics, covered []string, conversation []Turn, summary *Analysis, now time.Time) Record {
	jobTitle = strings.TrimSpace(jobTitle)
	if jobTitle == "" {
		jobTitle = DefaultJobTitle
	}
	return Record{
		ID:            uuid.New().String(),
		CreatedAt:     now.UTC(),
		JobTitle:      jobTitle,
		Topics:        append([]string{}, topics...),
		CoveredTopics: append([]string{}, covered...),
		Conversation:  append([]Turn{}, conversation...),
		AISummary:     summary,
	}
}

// appendTurn adds a trimmed turn unless either side is empty or it repeats the last turn
func appendTurn(turns []Turn, question, answer string) ([]Turn, bool) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return turns, false
	}
	if n := len(turns); n > 0 && turns[n-1].Question == question && turns[n-1].Answer == answer {
		return turns, false
	}
	return append(turns, Turn{Question: question, Answer: answer}), true
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "無"
	}
	return strings.Join(items, "、")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// BuildMarkdown renders a record as a markdown document
func BuildMarkdown(record Record) string {
	lines := []string{
		"# 面試紀錄 - " + record.JobTitle,
		"",
		"- 產生時間：" + record.CreatedAt.Local().Format("2006/1/2 15:04:05"),
		"- 面試主題：" + joinOrNone(record.Topics),
		"- 已覆蓋主題：" + joinOrNone(record.CoveredTopics),
		"",
		"## 對話紀錄",
		"",
	}

	for i, turn := range record.Conversation {
		lines = append(lines,
			fmt.Sprintf("### 第 %d 輪", i+1),
			"**面試官：** "+turn.Question,
			"**面試者：** "+turn.Answer,
			"",
		)
	}

	if summary := record.AISummary; summary != nil {
		quality := summary.Quality
		if quality == nil {
			quality = &Quality{}
		}
		lines = append(lines,
			"## 最後一次 AI 分析",
			"",
			"- 品質分數："+orNA(quality.Score.String()),
			"- 評級："+orNA(quality.Label),
			"- 評語："+orNA(quality.Comment),
			"",
			"### 建議下一題",
		)
		for i, q := range summary.NextQuestions {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, q))
		}
		lines = append(lines, "", "### 尚未涵蓋主題")
		for _, t := range summary.UncoveredTopics {
			lines = append(lines, "- "+t)
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// ExportFileName names the markdown export of a record
func ExportFileName(record Record) string {
	title := unsafeFileChars.ReplaceAllString(record.JobTitle, "-")
	if title == "" {
		title = "record"
	}
	timestamp := strings.ReplaceAll(record.CreatedAt.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	return fmt.Sprintf("interview-%s-%s.md", title, timestamp)
}
