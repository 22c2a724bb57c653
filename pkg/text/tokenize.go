package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopWords are common English function words and contraction fragments
// that carry no signal for classification.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an the and or but if because as what which this that these those
		then just so than such both through about for is of while during to
		from in out on off over under again further once here there when
		where why how all any each few more most other some no nor not only
		own same too very can will should now don shouldn wasn aren won didn
		couldn doesn hasn haven isn mightn mustn needn shan weren wouldn t m
		s ll d re ve y ain ma o`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether token is in the stop-word set.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

type runeClass int

const (
	classSpace runeClass = iota
	classWord
	classDigit
	classOther
)

func classify(r rune) runeClass {
	switch {
	case unicode.IsSpace(r):
		return classSpace
	case unicode.IsLetter(r) || r == '_':
		// underscore keeps URL_TOKEN and EMAIL_TOKEN whole
		return classWord
	case unicode.IsDigit(r):
		return classDigit
	default:
		return classOther
	}
}

// split breaks text at character class boundaries. Runs of letters and runs
// of digits form tokens; every other non-space rune is a token of its own.
func split(text string) []string {
	var tokens []string
	start := -1
	prev := classSpace

	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, text[start:end])
			start = -1
		}
	}

	for i, r := range text {
		c := classify(r)
		if c != prev || c == classOther {
			flush(i)
			if c != classSpace {
				start = i
			}
		}
		prev = c
	}
	flush(len(text))

	return tokens
}

// Tokenize splits normalized text into tokens, dropping single-character
// tokens and stop-words. Order is preserved.
func Tokenize(normalized string) []string {
	filtered := make([]string, 0)
	if strings.TrimSpace(normalized) == "" {
		return filtered
	}

	for _, token := range split(normalized) {
		if utf8.RuneCountInString(token) <= 1 || IsStopWord(token) {
			continue
		}
		filtered = append(filtered, token)
	}

	return filtered
}

// Process normalizes and tokenizes raw email text.
func Process(raw string) []string {
	return Tokenize(Normalize(raw))
}
