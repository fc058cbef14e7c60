// Package text cleans request input before it reaches a synthesis backend.
package text

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalizer maps raw request text to the text handed to synthesis. The
// result may be empty even when the input is not.
type Normalizer interface {
	Normalize(s string) string
}

// NormalizerFunc adapts a plain function to Normalizer.
type NormalizerFunc func(string) string

// Normalize calls f(s).
func (f NormalizerFunc) Normalize(s string) string { return f(s) }

const (
	urlRegexPattern        = `https?://\S+`
	markupRegexPattern     = "[*_#`~<>|]+"
	repeatBangRegex        = `!{2,}`
	repeatQuestionRegex    = `\?{2,}`
	repeatCommaRegex       = `,{2,}`
	longDotsRegex          = `\.{4,}`
	whitespaceRegexPattern = `\s+`
)

type repeat struct {
	pattern *regexp.Regexp
	with    string
}

// Cleaner is the default Normalizer. It applies NFKC, folds typographic
// quotes and dashes to ASCII, drops control characters, URLs and markdown
// markup, and collapses whitespace.
type Cleaner struct {
	urlPattern        *regexp.Regexp
	markupPattern     *regexp.Regexp
	repeatPatterns    []repeat
	whitespacePattern *regexp.Regexp
	punctReplacer     *strings.Replacer
}

// NewCleaner creates a Cleaner with its patterns compiled.
func NewCleaner() *Cleaner {
	return &Cleaner{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		markupPattern:     regexp.MustCompile(markupRegexPattern),
		repeatPatterns: []repeat{
			{regexp.MustCompile(repeatBangRegex), "!"},
			{regexp.MustCompile(repeatQuestionRegex), "?"},
			{regexp.MustCompile(repeatCommaRegex), ","},
			{regexp.MustCompile(longDotsRegex), "..."},
		},
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctReplacer: strings.NewReplacer(
			"‘", "'", "’", "'", "‚", "'", "‛", "'",
			"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
			"—", ", ", "–", "-", "‒", "-", "−", "-",
			"…", "...",
		),
	}
}

// Normalize implements Normalizer.
func (c *Cleaner) Normalize(s string) string {
	if s == "" {
		return s
	}

	s = norm.NFKC.String(s)
	s = c.punctReplacer.Replace(s)
	s = c.urlPattern.ReplaceAllString(s, " ")
	s = c.markupPattern.ReplaceAllString(s, " ")
	s = strings.Map(dropControl, s)
	for _, r := range c.repeatPatterns {
		s = r.pattern.ReplaceAllLiteralString(s, r.with)
	}
	s = c.whitespacePattern.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

func dropControl(r rune) rune {
	switch {
	case r == '\n' || r == '\t' || r == '\r':
		return ' '
	case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		return -1
	}
	return r
}
