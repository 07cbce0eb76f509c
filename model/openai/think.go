package openai

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ExtractThink splits a leading <think>...</think> span off content. It
// returns the trimmed reasoning, the remaining answer and whether a span was
// found. Content without a closed leading span is returned unchanged.
func ExtractThink(content string) (thoughts, rest string, ok bool) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, thinkOpen) {
		return "", content, false
	}

	end := strings.Index(trimmed, thinkClose)
	if end < 0 {
		return "", content, false
	}

	thoughts = strings.TrimSpace(trimmed[len(thinkOpen):end])
	rest = strings.TrimSpace(trimmed[end+len(thinkClose):])

	return thoughts, rest, true
}
