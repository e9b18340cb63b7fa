package utils

import (
	"encoding/json"
	"strings"
)

// ParseStringList reads a stored list that may be a JSON array or a JSON string wrapping a JSON
// array (double-encoded). ok is false for anything else, including an empty input.
func ParseStringList(raw []byte) ([]string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
		return list, true
	}
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		inner = strings.TrimSpace(inner)
		if strings.HasPrefix(inner, "[") {
			if err := json.Unmarshal([]byte(inner), &list); err == nil {
				return list, true
			}
		}
	}
	return nil, false
}

// ParseDocumentRefs is ParseStringList that also accepts a bare or JSON-quoted single reference.
func ParseDocumentRefs(raw []byte) []string {
	if list, ok := ParseStringList(raw); ok {
		return compactStrings(list)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal([]byte(trimmed), &single); err == nil {
		return compactStrings([]string{single})
	}
	return compactStrings([]string{trimmed})
}

func compactStrings(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
