package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// parseNodeLevels turns "node=LEVEL" arguments into a map.
func parseNodeLevels(args []string) (map[string]string, error) {
	nodes := make(map[string]string, len(args))
	for _, a := range args {
		node, level, ok := strings.Cut(a, "=")
		node, level = strings.TrimSpace(node), strings.ToUpper(strings.TrimSpace(level))
		if !ok || node == "" || level == "" {
			return nil, fmt.Errorf("invalid node level %q, want node=LEVEL", a)
		}
		nodes[node] = level
	}
	return nodes, nil
}
