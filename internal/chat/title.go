package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTitle  = "New Chat"
	maxTitleRunes = 50
	maxTitleWords = 6
	fallbackWords = 4
	minWordRunes  = 3
	titleEllipsis = "..."
)

// Lead-ins dropped from the start of a first message, matched word by word
// ignoring case and trailing punctuation.
var leadIns = [][]string{
	{"hi"},
	{"hello"},
	{"hey"},
	{"can", "you"},
	{"could", "you"},
	{"please"},
	{"i", "need"},
	{"help", "me"},
}

// TitleFromMessage derives a short chat title from the first user message.
// It never returns an empty string.
func TitleFromMessage(text string) string {
	text = strings.TrimSpace(text)
	words := strings.Fields(text)

	rest := stripLeadIns(words)

	var picked []string
	for _, w := range rest {
		if utf8.RuneCountInString(w) >= minWordRunes {
			picked = append(picked, w)
			if len(picked) == maxTitleWords {
				break
			}
		}
	}
	if len(picked) == 0 {
		picked = words
		if len(picked) > fallbackWords {
			picked = picked[:fallbackWords]
		}
	}

	title := capitalize(strings.Join(picked, " "))
	if title == "" {
		return DefaultTitle
	}

	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + titleEllipsis
	}
	return title
}

func stripLeadIns(words []string) []string {
	for {
		stripped := false
		for _, lead := range leadIns {
			if hasLeadIn(words, lead) {
				words = words[len(lead):]
				stripped = true
				break
			}
		}
		if !stripped {
			return words
		}
	}
}

func hasLeadIn(words, lead []string) bool {
	if len(words) < len(lead) {
		return false
	}
	for i, l := range lead {
		if normalizeWord(words[i]) != l {
			return false
		}
	}
	return true
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimRightFunc(w, unicode.IsPunct))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
