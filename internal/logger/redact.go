package logger

import "strings"

var sensitiveKeys = []string{"pass", "password", "secret", "token", "credential"}

// RedactArgs returns a copy of args with the values of sensitive options
// replaced, so an argument vector can be logged. It understands -Dkey=value,
// --key=value and "--key value" forms.
func RedactArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(name, "-") {
			if isSensitive(name) {
				out = append(out, name+"=<redacted>")
				continue
			}
			out = append(out, arg)
			continue
		}
		out = append(out, arg)
		if strings.HasPrefix(arg, "--") && isSensitive(arg) && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, "<redacted>")
			i++
		}
	}
	return out
}

// RedactEnv does the same for KEY=VALUE environment entries.
func RedactEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		k, _, ok := strings.Cut(kv, "=")
		if ok && isSensitive(k) {
			out = append(out, k+"=<redacted>")
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isSensitive(name string) bool {
	n := strings.ToLower(strings.TrimLeft(name, "-"))
	for _, k := range sensitiveKeys {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}
