package usecase

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrMissingPlaceholder is returned when a template names a placeholder
// that has no value.
var ErrMissingPlaceholder = errors.New("missing placeholder value")

const ellipsis = "..."

var (
	placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	multiSpaceRe  = regexp.MustCompile(` {2,}`)
)

// emojiRanges are the code point ranges counted as emoji
var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols & pictographs
	{0x1F680, 0x1F6FF}, // transport & map
	{0x1F1E0, 0x1F1FF}, // flags
	{0x2702, 0x27B0},   // dingbats
	{0x24C2, 0x1F251},  // enclosed characters
}

func isEmoji(r rune) bool {
	for _, rg := range emojiRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// CountEmojis counts emoji code points in s
func CountEmojis(s string) int {
	n := 0
	for _, r := range s {
		if isEmoji(r) {
			n++
		}
	}
	return n
}

// limitEmojis keeps the first max emoji and drops the rest, left to right
func limitEmojis(s string, max int) string {
	if max < 0 {
		max = 0
	}
	var b strings.Builder
	b.Grow(len(s))
	seen := 0
	for _, r := range s {
		if isEmoji(r) {
			seen++
			if seen > max {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// collapseWhitespace replaces every whitespace run with a single space
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collapseSpaces squeezes repeated spaces but keeps line breaks
func collapseSpaces(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// truncateAtWord shortens s to at most limit characters, cutting at the
// last whitespace before the limit and appending an ellipsis.
func truncateAtWord(s string, limit int) string {
	if runeLen(s) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string([]rune(s)[:max(limit, 0)])
	}
	cut := string([]rune(s)[:limit-len(ellipsis)])
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \t\n") + ellipsis
}

// renderTemplate substitutes {name} placeholders. Every placeholder in tmpl
// must have a value; unresolved tokens are never left in the output.
func renderTemplate(tmpl string, vars map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := tok[1 : len(tok)-1]
		v, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return tok
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("%w: %s", ErrMissingPlaceholder, missing)
	}
	return out, nil
}

// stripCloser removes every occurrence of closer from s
func stripCloser(s, closer string) string {
	if closer == "" {
		return s
	}
	return strings.ReplaceAll(s, closer, "")
}

// appendCloser removes every closer from text and puts it back once at the end
func appendCloser(text, closer string) string {
	body := collapseSpaces(stripCloser(text, closer))
	switch {
	case closer == "":
		return body
	case body == "":
		return closer
	}
	return body + " " + closer
}

// finishMessage cleans generated text and fits it to the limits. The
// closer is stripped from the body and re-appended exactly once. Emoji in
// the closer count against maxEmojis.
func finishMessage(text, closer string, maxLen, maxEmojis int) string {
	body := collapseWhitespace(stripCloser(text, closer))
	body = collapseWhitespace(limitEmojis(body, maxEmojis-CountEmojis(closer)))
	if closer == "" {
		return truncateAtWord(body, maxLen)
	}
	return fitWithCloser(body, closer, maxLen)
}

// fitWithCloser truncates body so that "body closer" fits in limit
func fitWithCloser(body, closer string, limit int) string {
	budget := limit - runeLen(closer) - 1
	if budget <= 0 || body == "" {
		return closer
	}
	return truncateAtWord(body, budget) + " " + closer
}

// shrinkMessage fits an already composed message into limit, keeping a
// trailing closer intact when there is one.
func shrinkMessage(text, closer string, limit int) string {
	if runeLen(text) <= limit {
		return text
	}
	if closer != "" && strings.HasSuffix(text, closer) {
		body := strings.TrimSpace(strings.TrimSuffix(text, closer))
		return fitWithCloser(body, closer, limit)
	}
	return truncateAtWord(text, limit)
}
