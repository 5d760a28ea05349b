package template

import "strings"

const placeholder = "__tpl__"

// StripForValidation rewrites every {{...}} token into a placeholder so
// that the surrounding document can be JSON-parsed: tokens that occur
// inside a JSON string value become __tpl__ (unquoted insertion), and
// tokens outside a string become "__tpl__" (quoted insertion). String
// boundary tracking honors escaped quotes.
//
// Used by the admin surface at validation time; the hot path never
// calls this.
func StripForValidation(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); {
		c := s[i]

		if !escaped && c == '{' && i+1 < len(s) && s[i+1] == '{' {
			if end := strings.Index(s[i+2:], "}}"); end >= 0 {
				if inString {
					b.WriteString(placeholder)
				} else {
					b.WriteString(`"` + placeholder + `"`)
				}
				i += 2 + end + 2
				continue
			}
		}

		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		}

		b.WriteByte(c)
		i++
	}
	return b.String()
}
