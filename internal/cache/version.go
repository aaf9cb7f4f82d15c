package cache

import (
	"encoding/json"
	"time"
)

// extractVersion derives an optimistic-concurrency identifier from a cached
// payload:
//
//  1. an updated_at / updatedAt field on the payload,
//  2. else timestamps.updated_at,
//  3. else, for arrays, the maximum of the same fields across elements,
//  4. else the current time.
//
// Payloads arrive JSON:API-wrapped, so the data envelope and per-resource
// attributes objects are unwrapped transparently.
func extractVersion(payload []byte, now time.Time) string {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return now.UTC().Format(time.RFC3339)
	}

	if obj, ok := root.(map[string]any); ok {
		if data, ok := obj["data"]; ok {
			root = data
		}
	}

	if v := versionOf(root); v != "" {
		return v
	}
	if arr, ok := root.([]any); ok {
		max := ""
		for _, el := range arr {
			if v := versionOf(el); v > max {
				max = v
			}
		}
		if max != "" {
			return max
		}
	}
	return now.UTC().Format(time.RFC3339)
}

// versionOf probes a single value for an update timestamp, descending into
// a JSON:API attributes object when present.
func versionOf(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if attrs, ok := obj["attributes"].(map[string]any); ok {
		if v := versionOf(attrs); v != "" {
			return v
		}
	}
	if s, ok := obj["updated_at"].(string); ok && s != "" {
		return s
	}
	if s, ok := obj["updatedAt"].(string); ok && s != "" {
		return s
	}
	if ts, ok := obj["timestamps"].(map[string]any); ok {
		if s, ok := ts["updated_at"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// itemCount returns the length of the payload's primary data array, or zero
// when the payload is not list-shaped.
func itemCount(payload []byte) int {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return 0
	}
	if obj, ok := root.(map[string]any); ok {
		if data, ok := obj["data"]; ok {
			root = data
		}
	}
	if arr, ok := root.([]any); ok {
		return len(arr)
	}
	return 0
}
