package main

import (
	"encoding/json"
	"fmt"
	"time"

	sigyaml "sigs.k8s.io/yaml"
)

// marshalOutput renders v as indented JSON or as YAML (via the JSON tags).
func marshalOutput(v interface{}, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(v, "", "  ")
	case "yaml":
		return sigyaml.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown output format %q (use json or yaml)", format)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
