// Package assets pulls a result locator out of provider output and keeps the
// last known locator per job so status reads survive a restart.
package assets

import (
	"regexp"
	"sort"
	"strings"
)

var mediaLocatorPattern = regexp.MustCompile(`(?i)^https?://\S*(\.mp4|\.webm|\.mov|/files/|replicate\.delivery)`)

// PreferredKeys are searched, in order, before any other object field.
var PreferredKeys = []string{"video", "video_url", "result", "output", "url", "files"}

const maxExtractDepth = 16

// rule inspects one value; recurse continues the search into a child value.
type rule struct {
	name  string
	match func(v any, recurse func(any) (string, bool)) (string, bool)
}

// extractionRules are evaluated in order and the first match wins.
var extractionRules = []rule{
	{name: "media-url", match: matchMediaURL},
	{name: "array-last-first", match: matchArray},
	{name: "preferred-keys", match: matchPreferredKeys},
	{name: "field-scan", match: matchRemainingFields},
}

// Extract returns the media locator found in a decoded provider output.
func Extract(output any) (string, bool) {
	return extract(output, 0)
}

// IsMediaURL reports whether s looks like a downloadable media locator.
func IsMediaURL(s string) bool {
	return mediaLocatorPattern.MatchString(strings.TrimSpace(s))
}

func extract(v any, depth int) (string, bool) {
	if depth > maxExtractDepth || v == nil {
		return "", false
	}
	recurse := func(child any) (string, bool) { return extract(child, depth+1) }
	for _, r := range extractionRules {
		if loc, ok := r.match(normalize(v), recurse); ok {
			return loc, true
		}
	}
	return "", false
}

func normalize(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

func matchMediaURL(v any, _ func(any) (string, bool)) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if IsMediaURL(s) {
		return s, true
	}
	return "", false
}

func matchArray(v any, recurse func(any) (string, bool)) (string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return "", false
	}
	for i := len(arr) - 1; i >= 0; i-- {
		if loc, ok := recurse(arr[i]); ok {
			return loc, true
		}
	}
	return "", false
}

func matchPreferredKeys(v any, recurse func(any) (string, bool)) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range PreferredKeys {
		child, ok := obj[key]
		if !ok {
			continue
		}
		if loc, ok := recurse(child); ok {
			return loc, true
		}
	}
	return "", false
}

func matchRemainingFields(v any, recurse func(any) (string, bool)) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	preferred := make(map[string]struct{}, len(PreferredKeys))
	for _, k := range PreferredKeys {
		preferred[k] = struct{}{}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if _, skip := preferred[k]; !skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if loc, ok := recurse(obj[k]); ok {
			return loc, true
		}
	}
	return "", false
}
