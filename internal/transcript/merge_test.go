package transcript

import (
	"testing"
)

func TestMerge_EmptyAppendReturnsBase(t *testing.T) {
	for _, base := range []string{"", "hello", "多語 text", "line1\n"} {
		if got := Merge(base, ""); got != base {
			t.Errorf("Expected Merge(%q, \"\") to return base, got %q", base, got)
		}
	}
}

func TestMerge_EmptyBaseReturnsAppended(t *testing.T) {
	if got := Merge("", "hello"); got != "hello" {
		t.Errorf("Expected 'hello', got %q", got)
	}
}

func TestMerge_SelfAppendIsIdempotent(t *testing.T) {
	for _, x := range []string{"a", "hello world", "你好 world"} {
		if got := Merge(x, x); got != x {
			t.Errorf("Expected Merge(%q, %q) to be idempotent, got %q", x, x, got)
		}
	}
}

func TestMerge_StitchesOverlap(t *testing.T) {
	if got := Merge("hello wor", "world"); got != "hello world" {
		t.Errorf("Expected 'hello world', got %q", got)
	}
}

func TestMerge_NoOverlapConcatenates(t *testing.T) {
	if got := Merge("abc", "xyz"); got != "abcxyz" {
		t.Errorf("Expected 'abcxyz', got %q", got)
	}
}

func TestMerge_RedeliveryIsIgnored(t *testing.T) {
	if got := Merge("what is your experience", "experience"); got != "what is your experience" {
		t.Errorf("Expected base unchanged, got %q", got)
	}
}

func TestMerge_SupersedingHypothesisWins(t *testing.T) {
	if got := Merge("what is", "what is your experience"); got != "what is your experience" {
		t.Errorf("Expected superseding hypothesis, got %q", got)
	}
}

func TestMerge_MultibyteOverlap(t *testing.T) {
	got := Merge("我們用 Kubernetes 部", "部署服務")
	if got != "我們用 Kubernetes 部署服務" {
		t.Errorf("Expected rune-aware overlap, got %q", got)
	}
}

func TestMerge_PrefersLongestOverlap(t *testing.T) {
	// "aa" and "a" both overlap; the longest must win.
	if got := Merge("xaa", "aab"); got != "xaab" {
		t.Errorf("Expected 'xaab', got %q", got)
	}
}

func TestAppendFinalChunk_EmptyChunkIsNoop(t *testing.T) {
	if got := AppendFinalChunk("Q1", "", false); got != "Q1" {
		t.Errorf("Expected 'Q1', got %q", got)
	}
	if got := AppendFinalChunk("Q1", "   \n", true); got != "Q1" {
		t.Errorf("Expected whitespace-only chunk to be ignored, got %q", got)
	}
	if got := AppendFinalChunk("", "", true); got != "" {
		t.Errorf("Expected empty result, got %q", got)
	}
}

func TestAppendFinalChunk_FirstChunkTrimsLeadingSpace(t *testing.T) {
	if got := AppendFinalChunk("", "  hello", false); got != "hello" {
		t.Errorf("Expected 'hello', got %q", got)
	}
}

func TestAppendFinalChunk_LineBreak(t *testing.T) {
	if got := AppendFinalChunk("line1", "line2", true); got != "line1\nline2" {
		t.Errorf("Expected 'line1\\nline2', got %q", got)
	}
	if got := AppendFinalChunk("line1\n", "  line2", true); got != "line1\nline2" {
		t.Errorf("Expected a single line break, got %q", got)
	}
}

func TestAppendFinalChunk_WithoutLineBreakMerges(t *testing.T) {
	if got := AppendFinalChunk("hello wor", "world", false); got != "hello world" {
		t.Errorf("Expected 'hello world', got %q", got)
	}
}

func TestStabilizeInterim_GuardKeepsLongerPrevious(t *testing.T) {
	if got := StabilizeInterim("hello wor", "hello"); got != "hello wor" {
		t.Errorf("Expected 'hello wor', got %q", got)
	}
}

func TestStabilizeInterim_NextWins(t *testing.T) {
	if got := StabilizeInterim("hi", "hello"); got != "hello" {
		t.Errorf("Expected 'hello', got %q", got)
	}
	if got := StabilizeInterim("hello world", "hello there"); got != "hello there" {
		t.Errorf("Expected revision to win, got %q", got)
	}
}

func TestStabilizeInterim_Degenerate(t *testing.T) {
	if got := StabilizeInterim("", "next"); got != "next" {
		t.Errorf("Expected 'next', got %q", got)
	}
	if got := StabilizeInterim("previous", ""); got != "previous" {
		t.Errorf("Expected 'previous', got %q", got)
	}
}

func TestResolveStable(t *testing.T) {
	tests := []struct {
		field, candidate, want string
	}{
		{"", "new", "new"},
		{"old", "", "old"},
		{"What is", "What is your experience?", "What is your experience?"},
		{"What is your experience?", "What is", "What is your experience?"},
		{"abc", "xyzw", "xyzw"},
		{"abcd", "xyz", "abcd"},
	}
	for _, tt := range tests {
		if got := ResolveStable(tt.field, tt.candidate); got != tt.want {
			t.Errorf("ResolveStable(%q, %q): expected %q, got %q", tt.field, tt.candidate, tt.want, got)
		}
	}
}
