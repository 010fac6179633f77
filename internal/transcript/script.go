package transcript

import "regexp"

var technicalWordPattern = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9+#.-]*\b`)

// ScriptCounts summarizes the writing systems present in a piece of text
type ScriptCounts struct {
	Latin int // ASCII letters
	CJK   int // CJK unified ideographs
	Words int // Latin words, including technical tokens like C++ or node.js
}

// CountScripts counts Latin letters, CJK ideographs and Latin words in text
func CountScripts(text string) ScriptCounts {
	var c ScriptCounts
	for _, r := range text {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			c.Latin++
		case r >= 0x4E00 && r <= 0x9FFF:
			c.CJK++
		}
	}
	c.Words = len(technicalWordPattern.FindAllStringIndex(text, -1))
	return c
}

// Tail returns at most the last n runes of text
func Tail(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
