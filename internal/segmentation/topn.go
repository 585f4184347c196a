package segmentation

import (
	"regexp"
	"strconv"
)

const (
	// DefaultTopN is used when a "top" prompt carries no usable number.
	DefaultTopN = 10
	// MaxTopN caps the heuristic regardless of what was asked for.
	MaxTopN = 100
)

var (
	topPattern   = regexp.MustCompile(`(?i)top\s*(\d+)`)
	spendPattern = regexp.MustCompile(`(?i)spend|spent`)
)

// TopN recognises prompts like "top 5 customers by spend". It reports the
// requested count, clamped to [1, MaxTopN], and whether the prompt asked for
// a spend ranking at all. Prompts phrased differently ("biggest spenders")
// are not recognised.
func TopN(prompt string) (int, bool) {
	m := topPattern.FindStringSubmatch(prompt)
	if m == nil || !spendPattern.MatchString(prompt) {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		n = DefaultTopN
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	return n, true
}
