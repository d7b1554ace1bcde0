package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// Clean strips markup, normalises to NFC and collapses whitespace runs. Entities produced by
// the sanitiser are decoded again so engraving text keeps characters such as apostrophes.
func Clean(value string) string {
	value = html.UnescapeString(policy().Sanitize(value))
	value = norm.NFC.String(value)
	return strings.Join(strings.Fields(value), " ")
}

// CleanOptional applies Clean and returns nil for empty results. ok is false when the cleaned
// text exceeds maxRunes.
func CleanOptional(value *string, maxRunes int) (*string, bool) {
	if value == nil {
		return nil, true
	}
	cleaned := Clean(*value)
	if cleaned == "" {
		return nil, true
	}
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		return nil, false
	}
	return &cleaned, true
}
