package common

import "strings"

// DefaultTitleMax is the default upper bound, in runes, for derived conversation titles.
const DefaultTitleMax = 48

// TitleFromMessage derives a conversation title from the first user message.
// The title is cut at the first sentence boundary when one lands inside the
// bound, otherwise at the last word boundary before it. A single word longer
// than the bound is hard-cut at a rune boundary; the cut never lands mid-word
// otherwise. Deriving twice from the same input yields the same title.
func TitleFromMessage(msg string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultTitleMax
	}

	title := strings.Join(strings.Fields(msg), " ")
	if title == "" {
		return "New conversation"
	}

	runes := []rune(title)
	if i := sentenceEnd(runes); i > 0 && i <= maxLen {
		runes = runes[:i]
	}
	if len(runes) <= maxLen {
		return string(runes)
	}

	cut := lastSpace(runes[:maxLen+1])
	if cut <= 0 {
		// One unbroken word longer than the bound.
		return string(runes[:maxLen])
	}
	return strings.TrimRight(string(runes[:cut]), " .,!?;:")
}

func sentenceEnd(runes []rune) int {
	for i, r := range runes {
		switch r {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
