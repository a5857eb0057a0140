package query

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

var (
	unescapedQuoteEnd   = regexp.MustCompile(`([^\\])(\\E)`)
	unescapedQuoteStart = regexp.MustCompile(`([^\\])(\\Q)`)
	inlineComment       = regexp.MustCompile(`([^\\])#.*\n`)
	lineComment         = regexp.MustCompile(`(?m)^#.*\n`)
	unescapedSpace      = regexp.MustCompile(`([^\\])\s+`)
	leadingSpace        = regexp.MustCompile(`^\s+`)
	startsWithQuoted    = regexp.MustCompile(`\^\\Q.*\\E`)
)

// removeWhiteSpace implements the x option: comments and unescaped
// whitespace are dropped.
func removeWhiteSpace(regex string) string {
	if !strings.HasSuffix(regex, "\n") {
		regex += "\n"
	}
	regex = inlineComment.ReplaceAllString(regex, "${1}")
	regex = lineComment.ReplaceAllString(regex, "")
	regex = unescapedSpace.ReplaceAllString(regex, "${1}")
	regex = leadingSpace.ReplaceAllString(regex, "")
	return strings.TrimSpace(regex)
}

// processRegexPattern translates \Q...\E literal sections into escaped
// Postgres regex syntax, keeping a leading ^ or trailing $ anchor.
func processRegexPattern(s string) string {
	switch {
	case strings.HasPrefix(s, "^"):
		return "^" + literalizeRegexPart(s[1:])
	case strings.HasSuffix(s, "$"):
		return literalizeRegexPart(s[:len(s)-1]) + "$"
	}
	return literalizeRegexPart(s)
}

func literalizeRegexPart(s string) string {
	if prefix, literal, ok := quotedSection(s, true); ok {
		return literalizeRegexPart(prefix) + createLiteralRegex(literal)
	}
	if prefix, literal, ok := quotedSection(s, false); ok {
		return literalizeRegexPart(prefix) + createLiteralRegex(literal)
	}
	s = replaceFirst(unescapedQuoteEnd, s)
	s = replaceFirst(unescapedQuoteStart, s)
	s = strings.TrimPrefix(s, `\E`)
	s = strings.TrimPrefix(s, `\Q`)
	return s
}

// quotedSection finds the leftmost \Q that is not immediately closed and
// returns the text before it and the quoted text. With closed set the
// section must end the string with \E.
func quotedSection(s string, closed bool) (prefix, literal string, ok bool) {
	for i := 0; i+2 <= len(s); i++ {
		if s[i:i+2] != `\Q` {
			continue
		}
		rest := s[i+2:]
		if strings.HasPrefix(rest, `\E`) || strings.Contains(rest, "\n") {
			continue
		}
		if !closed {
			return s[:i], rest, true
		}
		if len(rest) >= 2 && strings.HasSuffix(rest, `\E`) {
			return s[:i], rest[:len(rest)-2], true
		}
	}
	return "", "", false
}

func replaceFirst(re *regexp.Regexp, s string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + s[loc[2]:loc[3]] + s[loc[1]:]
}

// createLiteralRegex escapes every character except digits, spaces and
// letters.
func createLiteralRegex(remaining string) string {
	var b strings.Builder
	for _, c := range remaining {
		if c == ' ' || (c >= '0' && c <= '9') || unicode.IsLetter(c) {
			b.WriteRune(c)
			continue
		}
		b.WriteRune('\\')
		b.WriteRune(c)
	}
	return b.String()
}

func isStartsWithRegex(v any) bool {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "^") {
		return false
	}
	return startsWithQuoted.MatchString(s)
}

func regexOf(v any) any {
	m, ok := core.AsMap(v)
	if !ok {
		return nil
	}
	return m["$regex"]
}

func isAnyValueRegexStartsWith(values []any) bool {
	for _, v := range values {
		if isStartsWithRegex(regexOf(v)) {
			return true
		}
	}
	return false
}

func isAllValuesRegexOrNone(values []any) bool {
	if len(values) == 0 {
		return true
	}
	first := isStartsWithRegex(regexOf(values[0]))
	if len(values) == 1 {
		return first
	}
	for _, v := range values[1:] {
		if isStartsWithRegex(regexOf(v)) != first {
			return false
		}
	}
	return true
}
