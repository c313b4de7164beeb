package chatbot

import (
	"regexp"
	"strings"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	// ThinkingParseError is returned as thinking when a <think> block never closes.
	ThinkingParseError = "태그 파싱 에러"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ParseThinking splits model output into the visible response and the
// scratchpad between <think> markers.
func ParseThinking(text string) (response, thinking string) {
	closeIdx := strings.Index(text, thinkClose)
	openIdx := strings.Index(text, thinkOpen)

	switch {
	case closeIdx >= 0 && openIdx >= 0 && openIdx < closeIdx:
		thinking = text[openIdx+len(thinkOpen) : closeIdx]
		response = text[:openIdx] + text[closeIdx+len(thinkClose):]
		return strings.TrimSpace(response), strings.TrimSpace(thinking)
	case closeIdx >= 0:
		// Some templates put the opener in the prompt, so only the closer is generated.
		return strings.TrimSpace(text[closeIdx+len(thinkClose):]), strings.TrimSpace(text[:closeIdx])
	case openIdx >= 0:
		return text, ThinkingParseError
	default:
		return strings.TrimSpace(text), ""
	}
}

// StripThinking removes every complete scratchpad block and anything before a
// dangling closer.
func StripThinking(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	if i := strings.LastIndex(text, thinkClose); i >= 0 {
		text = text[i+len(thinkClose):]
	}
	return strings.TrimSpace(text)
}

// cleanQuery reduces rewrite output to a single bare sentence.
func cleanQuery(raw string) string {
	text := StripThinking(raw)
	if strings.Contains(text, thinkOpen) {
		text = text[:strings.Index(text, thinkOpen)]
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.Trim(line, "\"'`“”‘’「」"))
	}
	return ""
}
