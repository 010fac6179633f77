package speech

import (
	"strings"

	"github.com/lexiqai/interview-assistant/internal/transcript"
)

// PreferenceConfig tunes the mixed-mode language estimate
type PreferenceConfig struct {
	Window     int     // Trailing runes considered
	WordWeight float64 // Latin score per English-like word
	CJKWeight  float64 // CJK score per Han character
	Margin     float64 // Lead required before switching
}

// DefaultPreferenceConfig returns thresholds tuned on bilingual interviews
func DefaultPreferenceConfig() PreferenceConfig {
	return PreferenceConfig{
		Window:     180,
		WordWeight: 6,
		CJKWeight:  1.4,
		Margin:     10,
	}
}

// Script is the writing system dominating a stretch of text
type Script int

const (
	ScriptUndecided Script = iota
	ScriptLatin
	ScriptCJK
)

// Lean scores the tail of text by script and reports which one leads by more
// than the margin
func (p PreferenceConfig) Lean(text string) Script {
	sample := transcript.Tail(text, p.Window)
	if sample == "" {
		return ScriptUndecided
	}
	counts := transcript.CountScripts(sample)
	latin := float64(counts.Latin) + float64(counts.Words)*p.WordWeight
	cjk := float64(counts.CJK) * p.CJKWeight

	switch {
	case latin > cjk+p.Margin:
		return ScriptLatin
	case cjk > latin+p.Margin:
		return ScriptCJK
	}
	return ScriptUndecided
}

// isCJKLanguage reports whether tag names a language written mostly in Han characters
func isCJKLanguage(tag string) bool {
	switch baseLanguage(tag) {
	case "zh", "ja", "yue":
		return true
	}
	return false
}

// baseLanguage strips region and script subtags: "zh-TW" becomes "zh"
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// languageFor picks the configured language written in script, or "" when
// the two configured languages do not split along that script
func languageFor(script Script, primary, secondary string) string {
	if isCJKLanguage(primary) == isCJKLanguage(secondary) {
		return ""
	}
	switch script {
	case ScriptCJK:
		if isCJKLanguage(primary) {
			return primary
		}
		return secondary
	case ScriptLatin:
		if isCJKLanguage(primary) {
			return secondary
		}
		return primary
	}
	return ""
}
