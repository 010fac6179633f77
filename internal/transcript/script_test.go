package transcript

import "testing"

func TestCountScripts(t *testing.T) {
	c := CountScripts("我會用 React 和 node.js")
	if c.Latin != 11 {
		t.Errorf("Expected 11 latin letters, got %d", c.Latin)
	}
	if c.CJK != 4 {
		t.Errorf("Expected 4 CJK characters, got %d", c.CJK)
	}
	if c.Words != 2 {
		t.Errorf("Expected 2 words, got %d", c.Words)
	}
}

func TestTail(t *testing.T) {
	if got := Tail("你好世界", 2); got != "世界" {
		t.Errorf("Expected 世界, got %q", got)
	}
	if got := Tail("abc", 10); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}
