package observability

import (
	"strings"
	"unicode"
)

// logSafe strips control characters and truncates, so header or path
// values cannot inject extra log lines.
func logSafe(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

func safeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, 180)
}

func safeMethod(method string) string {
	return logSafe(method, 10)
}

func safeUserID(uid string) string {
	return logSafe(uid, 64)
}
