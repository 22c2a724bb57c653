// Package text turns raw email content into the token stream the classifier
// is trained and queried on.
package text

import (
	"regexp"
	"strings"
)

// Placeholder tokens inserted in place of URLs and e-mail addresses
const (
	URLToken   = "URL_TOKEN"
	EmailToken = "EMAIL_TOKEN"
)

var (
	headerPattern      = regexp.MustCompile(`(?im)^(from|to|subject|date|received|cc|bcc|reply-to|sender|x-[^:]+):\s*.*$`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
	urlPattern         = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailPattern       = regexp.MustCompile(`[\w.%+-]+@[\w.-]+\.[a-zA-Z]{2,6}`)
	placeholderPattern = regexp.MustCompile(URLToken + `|` + EmailToken)
	specialPattern     = regexp.MustCompile(URLToken + `|` + EmailToken + `|[^a-zA-Z0-9$%!?.]`)
	spacePattern       = regexp.MustCompile(`\s+`)
)

// Normalize cleans raw email text into a canonical, single-spaced string.
//
// The steps run in a fixed order: lower-casing, header line removal, tag
// removal, URL and address substitution, special character removal and
// whitespace collapsing. Placeholders already present in the input are kept
// verbatim, which makes Normalize idempotent. Empty input yields "".
func Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := lower(raw)
	text = headerPattern.ReplaceAllString(text, "")
	text = tagPattern.ReplaceAllString(text, " ")
	text = urlPattern.ReplaceAllString(text, " "+URLToken+" ")
	text = emailPattern.ReplaceAllString(text, " "+EmailToken+" ")
	text = specialPattern.ReplaceAllStringFunc(text, func(match string) string {
		if match == URLToken || match == EmailToken {
			return " " + match + " "
		}
		return " "
	})

	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

// lower lower-cases everything except the placeholder tokens.
func lower(s string) string {
	spans := placeholderPattern.FindAllStringIndex(s, -1)
	if len(spans) == 0 {
		return strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, span := range spans {
		b.WriteString(strings.ToLower(s[last:span[0]]))
		b.WriteString(s[span[0]:span[1]])
		last = span[1]
	}
	b.WriteString(strings.ToLower(s[last:]))
	return b.String()
}
