// Package utils provides shared utilities for text, math, and logging.
package utils

import "unicode/utf8"

// Truncate returns s cut to at most maxLen bytes on a rune boundary, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Preview summarizes a batch of documents for debug logs.
func Preview(documents []string, maxLen int) string {
	if len(documents) == 0 {
		return ""
	}
	return Truncate(documents[0], maxLen)
}
