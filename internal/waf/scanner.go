// Package waf detects injection and exfiltration patterns in request data.
//
// All functions are pure and never fail: malformed input degrades to a
// non-blocked Result. Exemption policy belongs to the caller.
package waf

import (
	"net/url"
	"sort"
	"strings"
)

// DefaultMaxDepth bounds ScanTree recursion when callers have no stronger opinion.
const DefaultMaxDepth = 5

// Result describes the outcome of a scan. Reason and Pattern are empty when not blocked.
type Result struct {
	Blocked bool     `json:"blocked"`
	Reason  Category `json:"reason,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// Param is a single query parameter in its original order.
type Param struct {
	Key   string
	Value string
}

// ScanText matches value against every signature category in order after one
// percent-decode pass. A value that fails to decode is matched as-is.
func ScanText(value string) Result {
	if value == "" {
		return Result{}
	}

	decoded, err := url.PathUnescape(value)
	if err != nil {
		decoded = value
	}

	for _, sig := range Signatures {
		for _, pattern := range sig.Patterns {
			if pattern.MatchString(decoded) {
				return Result{Blocked: true, Reason: sig.Category, Pattern: pattern.String()}
			}
		}
	}
	return Result{}
}

// ScanTree walks decoded JSON-like values and scans every string leaf. Map keys are
// visited in sorted order. Nothing below maxDepth levels is inspected; a maxDepth of
// zero or less returns a non-blocked Result immediately.
func ScanTree(value any, maxDepth int) Result {
	if maxDepth <= 0 {
		return Result{}
	}

	switch v := value.(type) {
	case string:
		return ScanText(v)
	case []string:
		for _, item := range v {
			if res := ScanText(item); res.Blocked {
				return res
			}
		}
	case []any:
		for _, item := range v {
			if res := ScanTree(item, maxDepth-1); res.Blocked {
				return res
			}
		}
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if res := ScanTree(v[key], maxDepth-1); res.Blocked {
				return res
			}
		}
	case map[string]string:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if res := ScanText(v[key]); res.Blocked {
				return res
			}
		}
	}
	return Result{}
}

// ScanURL scans the path and then each query value. Query keys are not scanned.
func ScanURL(path string, params []Param) Result {
	if res := ScanText(path); res.Blocked {
		return res
	}
	for _, param := range params {
		if res := ScanText(param.Value); res.Blocked {
			return res
		}
	}
	return Result{}
}

// ParseQuery splits a raw query string into parameters, keeping their order. Values
// are form-decoded the way a browser URL parser would; undecodable values stay raw.
func ParseQuery(raw string) []Param {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, "&")
	params := make([]Param, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		params = append(params, Param{Key: unescapeForm(key), Value: unescapeForm(value)})
	}
	return params
}

func unescapeForm(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
