package util

import (
	"fmt"
	"strings"
)

// HasPlaceholders reports whether text contains a ${...} placeholder.
func HasPlaceholders(text string) bool {
	return strings.Contains(text, "${")
}

// RenderTemplate replaces every ${expr} placeholder in text with the value
// returned by resolve for expr. The first resolve error aborts rendering and
// is returned unchanged. "$${" renders a literal "${".
// This lives in internal to avoid committing to public API stability prematurely.
func RenderTemplate(text string, resolve func(expr string) (string, error)) (string, error) {
	if !HasPlaceholders(text) { // fast path: no template markers
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))

	rest := text
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		if i > 0 && rest[i-1] == '$' {
			b.WriteString(rest[:i-1])
			b.WriteString("${")
			rest = rest[i+2:]
			continue
		}
		b.WriteString(rest[:i])

		end := strings.IndexByte(rest[i+2:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", text)
		}
		expr := strings.TrimSpace(rest[i+2 : i+2+end])
		if expr == "" {
			return "", fmt.Errorf("empty placeholder in %q", text)
		}

		val, err := resolve(expr)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		rest = rest[i+2+end+1:]
	}
}
