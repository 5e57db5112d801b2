package orchestrator

import "strings"

// extractCode pulls the first fenced code block out of a model reply. The
// fence language tag is optional; "python" and "py" are tolerated. A reply
// with no complete fence is treated as a textual answer, so ok is false.
func extractCode(reply string) (code string, ok bool) {
	rest := reply
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return "", false
		}
		body := rest[start+3:]
		nl := strings.IndexByte(body, '\n')
		if nl < 0 {
			return "", false
		}
		lang := strings.TrimSpace(body[:nl])
		inner := body[nl+1:]
		end := strings.Index(inner, "```")
		if end < 0 {
			return "", false
		}
		switch strings.ToLower(lang) {
		case "", "python", "py":
			code = strings.TrimRight(inner[:end], "\n")
			if strings.TrimSpace(code) == "" {
				return "", false
			}
			return code + "\n", true
		}
		// Skip a block in another language and keep scanning.
		rest = inner[end+3:]
	}
}

// textualAnswer strips fence remnants so a plain reply reads clean as a result.
func textualAnswer(reply string) string {
	return strings.TrimSpace(reply)
}
