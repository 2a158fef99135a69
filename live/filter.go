package live

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMinLength = 1
	DefaultMaxLength = 200
)

// Filter decides which chat lines deserve an answer.
type Filter struct {
	MinLength    int
	MaxLength    int
	BlockedWords []string
}

func (f Filter) withDefaults() Filter {
	if f.MinLength <= 0 {
		f.MinLength = DefaultMinLength
	}

	if f.MaxLength <= 0 {
		f.MaxLength = DefaultMaxLength
	}

	return f
}

// Admit reports whether text passes the length and blocked word
// checks. Length is measured in runes after trimming.
func (f Filter) Admit(text string) bool {
	text = strings.TrimSpace(text)

	if n := utf8.RuneCountInString(text); n < f.MinLength || n > f.MaxLength {
		return false
	}

	lower := strings.ToLower(text)
	for _, word := range f.BlockedWords {
		if word == "" {
			continue
		}

		if strings.Contains(lower, strings.ToLower(word)) {
			return false
		}
	}

	return true
}
