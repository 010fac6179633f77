// Package transcript reconciles overlapping interim and final text emitted by
// speech engines into one stable, growing transcript.
//
// Every function here is pure. Lengths and overlaps are measured in runes so
// that CJK text is never split inside a character.
package transcript

import (
	"strings"
	"unicode"
)

// Merge stitches appended onto base, dropping the longest suffix of base that
// is also a prefix of appended.
//
// Re-delivered text (base already ends with appended) and superseding
// hypotheses (appended already starts with base) are resolved without
// duplication. Without any overlap the two strings are concatenated.
func Merge(base, appended string) string {
	if appended == "" {
		return base
	}
	if base == "" {
		return appended
	}
	if strings.HasSuffix(base, appended) {
		return base
	}
	if strings.HasPrefix(appended, base) {
		return appended
	}

	b := []rune(base)
	a := []rune(appended)
	maxOverlap := min(len(b), len(a))
	for overlap := maxOverlap; overlap > 0; overlap-- {
		if string(b[len(b)-overlap:]) == string(a[:overlap]) {
			return base + string(a[overlap:])
		}
	}
	return base + appended
}

// AppendFinalChunk merges a finalized utterance into base. When addLineBreak
// is set, base is terminated by exactly one line break first so utterances
// separated by a long pause render on separate lines.
func AppendFinalChunk(base, finalChunk string, addLineBreak bool) string {
	if strings.TrimSpace(finalChunk) == "" {
		return base
	}
	if base == "" {
		return trimLeadingSpace(finalChunk)
	}
	if !addLineBreak {
		return Merge(base, finalChunk)
	}
	if !strings.HasSuffix(base, "\n") {
		base += "\n"
	}
	return Merge(base, trimLeadingSpace(finalChunk))
}

// StabilizeInterim keeps the previous hypothesis when the next one is a
// strict prefix of it, so a shrinking live hypothesis never rewinds the text
// on screen.
func StabilizeInterim(previous, next string) string {
	if previous == "" {
		return next
	}
	if next == "" {
		return previous
	}
	if len(previous) > len(next) && strings.HasPrefix(previous, next) {
		return previous
	}
	return next
}

// ResolveStable picks what a field should display given its current text and
// a freshly merged candidate. Containment wins first, then length, so a field
// is never replaced by a shorter rendition of itself.
func ResolveStable(field, candidate string) string {
	if field == "" {
		return candidate
	}
	if candidate == "" {
		return field
	}
	if strings.Contains(candidate, field) {
		return candidate
	}
	if strings.Contains(field, candidate) {
		return field
	}
	if len([]rune(candidate)) >= len([]rune(field)) {
		return candidate
	}
	return field
}

func trimLeadingSpace(s string) string {
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}
