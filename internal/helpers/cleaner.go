package helpers

import (
	"errors"
	"strings"
)

// StripCodeFence returns the body of s when s is wrapped in a ``` or ~~~ fence,
// dropping the optional language tag. Unfenced input is returned trimmed.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return strings.TrimSpace(strings.TrimSuffix(rest, fence))
		}
		body := rest[nl+1:]
		if end := strings.LastIndex(body, fence); end != -1 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return s
}

// ExtractJSON returns the first balanced JSON object or array found in s.
// Braces inside string literals are ignored.
func ExtractJSON(s string) (string, error) {
	s = StripCodeFence(s)
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if end, ok := balancedEnd(s, i); ok {
			return s[i : end+1], nil
		}
	}
	return "", errors.New("no balanced JSON object/array found")
}

// balancedEnd returns the index of the bracket closing the one at start.
func balancedEnd(s string, start int) (int, bool) {
	var (
		stack    = []byte{s[start]}
		inString bool
		escaped  bool
	)
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
