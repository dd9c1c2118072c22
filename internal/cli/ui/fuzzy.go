package ui

import (
	"sort"
	"strings"
)

// MaxSuggestionDistance is the largest edit distance offered as a suggestion
const MaxSuggestionDistance = 3

// FindSimilar returns up to three candidates within MaxSuggestionDistance
// of target, closest first, ignoring case.
func FindSimilar(target string, candidates []string) []string {
	type match struct {
		value    string
		distance int
	}
	var matches []match
	lower := strings.ToLower(target)
	for _, c := range candidates {
		if d := LevenshteinDistance(lower, strings.ToLower(c)); d <= MaxSuggestionDistance {
			matches = append(matches, match{c, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].distance < matches[j].distance })

	out := make([]string, 0, 3)
	for i := 0; i < len(matches) && i < 3; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// LevenshteinDistance is the number of single byte edits turning s1 into s2
func LevenshteinDistance(s1, s2 string) int {
	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		cur[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(s2)]
}
