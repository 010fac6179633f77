package interview

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewRecord_DefaultsJobTitle(t *testing.T) {
	record := NewRecord("  ", nil, nil, []Turn{{Question: "q", Answer: "a"}}, nil, time.Now())
	if record.JobTitle != DefaultJobTitle {
		t.Errorf("Expected %q, got %q", DefaultJobTitle, record.JobTitle)
	}
	if record.ID == "" {
		t.Error("Expected a record id")
	}
	if record.Topics == nil || record.CoveredTopics == nil {
		t.Error("Expected topic lists to encode as arrays")
	}
}

func TestNewRecord_CopiesSlices(t *testing.T) {
	topics := []string{"技術能力"}
	turns := []Turn{{Question: "q", Answer: "a"}}
	record := NewRecord("SRE", topics, nil, turns, nil, time.Now())

	topics[0] = "changed"
	turns[0].Answer = "changed"
	if record.Topics[0] != "技術能力" || record.Conversation[0].Answer != "a" {
		t.Error("Expected record to own its slices")
	}
}

func TestAppendTurn(t *testing.T) {
	turns, ok := appendTurn(nil, " Why Go? ", " Simplicity ")
	if !ok || len(turns) != 1 {
		t.Fatalf("Expected turn to be appended, got %v", turns)
	}
	if turns[0].Question != "Why Go?" || turns[0].Answer != "Simplicity" {
		t.Errorf("Expected trimmed turn, got %+v", turns[0])
	}

	if _, ok := appendTurn(turns, "Why Go?", "Simplicity"); ok {
		t.Error("Expected duplicate of the last turn to be skipped")
	}
	if _, ok := appendTurn(turns, "", "Simplicity"); ok {
		t.Error("Expected turn without question to be skipped")
	}
	if _, ok := appendTurn(turns, "Why Go?", " "); ok {
		t.Error("Expected turn without answer to be skipped")
	}
}

func TestBuildMarkdown(t *testing.T) {
	var summary Analysis
	if err := json.Unmarshal([]byte(`{"quality":{"score":4,"label":"良好","comment":"具體"},"nextQuestions":["如何擴展？","遇過什麼事故？"],"uncoveredTopics":["團隊合作"]}`), &summary); err != nil {
		t.Fatal(err)
	}
	record := Record{
		JobTitle:      "後端工程師",
		CreatedAt:     time.Date(2024, 5, 3, 6, 5, 9, 0, time.UTC),
		Topics:        []string{"技術能力", "團隊合作"},
		CoveredTopics: []string{"技術能力"},
		Conversation: []Turn{
			{Question: "介紹一下你的專案", Answer: "我負責帳務系統"},
			{Question: "遇到什麼挑戰", Answer: "高併發"},
		},
		AISummary: &summary,
	}

	md := BuildMarkdown(record)

	for _, want := range []string{
		"# 面試紀錄 - 後端工程師\n",
		"- 面試主題：技術能力、團隊合作\n",
		"- 已覆蓋主題：技術能力\n",
		"## 對話紀錄\n\n### 第 1 輪\n**面試官：** 介紹一下你的專案\n**面試者：** 我負責帳務系統\n\n",
		"### 第 2 輪\n",
		"## 最後一次 AI 分析\n\n- 品質分數：4\n- 評級：良好\n- 評語：具體\n",
		"### 建議下一題\n1. 如何擴展？\n2. 遇過什麼事故？\n",
		"### 尚未涵蓋主題\n- 團隊合作\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Expected markdown to contain %q\n%s", want, md)
		}
	}
}

func TestBuildMarkdown_NoSummary(t *testing.T) {
	md := BuildMarkdown(Record{JobTitle: "SRE", CreatedAt: time.Now()})

	if !strings.Contains(md, "- 面試主題：無\n") || !strings.Contains(md, "- 已覆蓋主題：無\n") {
		t.Errorf("Expected empty topic lists to read 無, got\n%s", md)
	}
	if strings.Contains(md, "AI 分析") {
		t.Error("Expected no analysis section without a summary")
	}
}

func TestBuildMarkdown_MissingQuality(t *testing.T) {
	md := BuildMarkdown(Record{JobTitle: "SRE", CreatedAt: time.Now(), AISummary: &Analysis{}})
	if !strings.Contains(md, "- 品質分數：N/A\n- 評級：N/A\n- 評語：N/A\n") {
		t.Errorf("Expected N/A placeholders, got\n%s", md)
	}
}

func TestExportFileName(t *testing.T) {
	record := Record{JobTitle: "Dev/Ops: SRE", CreatedAt: time.Date(2024, 5, 3, 6, 5, 9, 0, time.UTC)}
	if got := ExportFileName(record); got != "interview-Dev-Ops- SRE-2024-05-03T06-05-09.md" {
		t.Errorf("Unexpected file name %q", got)
	}
}
