package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeName validates subscriber and log node names before they reach the
// runtime. Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// logLevels are the levels the runtime accepts for a log node.
var logLevels = map[string]bool{
	"NONE": true, "CRITICAL": true, "ERROR": true, "WARNING": true,
	"INFO": true, "DEBUG": true, "TRACE": true,
}

// normalizeLevel upper-cases l and reports whether the runtime knows it.
func normalizeLevel(l string) (string, bool) {
	l = strings.ToUpper(strings.TrimSpace(l))
	return l, logLevels[l]
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
