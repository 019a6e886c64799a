// Package counter implements meow detection and the persistent multi-level
// counter store (per user per channel, per channel, per user globally).
package counter

import "strings"

// Pattern is the tracked chat pattern. Matching is case-insensitive.
const Pattern = "meow"

// CountOccurrences returns the number of occurrences of Pattern in text,
// counting overlaps: after a match at position p the scan resumes at p+1, so
// runs like "meowmeow" and contrived overlaps are each counted. Single pass,
// O(len(text)).
func CountOccurrences(text string) int {
	lower := strings.ToLower(text)
	count := 0
	start := 0
	for {
		pos := strings.Index(lower[start:], Pattern)
		if pos < 0 {
			return count
		}
		count++
		start += pos + 1
	}
}
