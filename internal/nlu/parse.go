package nlu

import "strings"

// stripFormatting removes the incidental markup models wrap values in:
// code fences, quotes, surrounding whitespace.
func stripFormatting(s string) string {
	s = strings.TrimSpace(s)

	if strings.Contains(s, "```") {
		parts := strings.Split(s, "```")
		if len(parts) >= 2 {
			s = parts[1]
			s = strings.TrimPrefix(s, "json")
			s = strings.TrimSpace(s)
		}
	}

	s = strings.Trim(s, "`'\"")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced {...} span in s.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
