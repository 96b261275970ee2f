package ledger

import (
	"strings"
)

// ParseList reads a newline-delimited recipient list. Surrounding space and
// blank lines are dropped, and a repeated entry keeps its first position.
func ParseList(text string) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

// FormatList writes recipients as newline-delimited text.
func FormatList(recipients []string) string {
	return strings.Join(recipients, "\n")
}

// Normalize cleans a recipient list supplied as a slice with the same rules
// as ParseList.
func Normalize(recipients []string) []string {
	return ParseList(FormatList(recipients))
}
