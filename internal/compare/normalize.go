package compare

import (
	"regexp"
	"strings"
)

// Replacement order matters: ISO timestamps must be consumed before bare
// dates and clock times, and source positions before duration suffixes.
var normalizers = []struct {
	re          *regexp.Regexp
	replacement string
}{
	// 2024-01-15T10:23:45.123Z and friends
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), "TIMESTAMP"},
	// 2024-01-15
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "DATE"},
	// 10:23:45 or 10:23:45.123
	{regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:\.\d+)?\b`), "HH:MM:SS"},
	// (10,5) source positions
	{regexp.MustCompile(`\(\d+,\d+\)`), "(L,C)"},
	// :10:5 source positions
	{regexp.MustCompile(`:\d+:\d+\b`), ":L:C"},
	// 12 passed, 3 tests, 1 failing ...
	{regexp.MustCompile(`(?i)\b\d+\s+(passed|passing|failed|failing|tests?|specs?|suites?|skipped|pending|assertions?)\b`), "N $1"},
	// 250ms, 4.5s, 3 sec
	{regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(ms|milliseconds?|secs?|seconds?|s)\b`), "N$1"},
	// 512mb, 1.5 GB
	{regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(mb|kb|gb)\b`), "N$1"},
}

var spaceRuns = regexp.MustCompile(`[ \t]+`)

// StripNumbers replaces variable, non-semantic tokens (timings, timestamps,
// source positions, test counts, memory sizes) with placeholders and
// canonicalizes whitespace, so that noise does not cause false mismatches.
// It is deterministic and idempotent.
func StripNumbers(s string) string {
	for _, n := range normalizers {
		s = n.re.ReplaceAllString(s, n.replacement)
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
