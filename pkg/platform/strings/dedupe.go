// Package strings holds small slice helpers shared by the services.
package strings

import (
	"strings"
)

// Dedupe drops repeated values, keeping the first occurrence of each.
func Dedupe[T comparable](values []T) []T {
	return DedupeFunc(values, func(v T) (T, bool) { return v, true })
}

// DedupeFunc normalizes each value with key, drops values key rejects and
// removes repeats of the normalized value. Order is preserved.
func DedupeFunc[T comparable](values []T, key func(T) (T, bool)) []T {
	if values == nil {
		return nil
	}
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		k, ok := key(v)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// DedupeAndTrim trims each element and drops blanks and repeats.
//
//	DedupeAndTrim([]string{"  go ", "sql", "go", "", "  "}) // [go sql]
func DedupeAndTrim(values []string) []string {
	return DedupeFunc(values, func(v string) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	})
}

// DedupeAndTrimLower is DedupeAndTrim with case folding.
func DedupeAndTrimLower(values []string) []string {
	return DedupeFunc(values, func(v string) (string, bool) {
		v = strings.ToLower(strings.TrimSpace(v))
		return v, v != ""
	})
}
