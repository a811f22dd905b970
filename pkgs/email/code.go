package email

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

var digitRun = regexp.MustCompile(`[0-9]+`)

// MatchCode returns the first run of exactly six ASCII digits in body that
// stands on its own. A run is rejected when the preceding rune is a letter,
// '@', '.', '_' or a digit, or when the following rune is a letter, digit or
// '_'. This keeps digits inside domains, local-parts, version strings and
// longer numbers from matching.
func MatchCode(body string) (string, bool) {
	for _, loc := range digitRun.FindAllStringIndex(body, -1) {
		start, end := loc[0], loc[1]
		if end-start != CodeLength {
			continue
		}
		if start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(body[:start])
			if prev == '@' || prev == '.' || isWordRune(prev) {
				continue
			}
		}
		if end < len(body) {
			next, _ := utf8.DecodeRuneInString(body[end:])
			if isWordRune(next) {
				continue
			}
		}
		return body[start:end], true
	}
	return "", false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
