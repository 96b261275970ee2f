// Package extract pulls contact email addresses and contact/about sub-links
// out of fetched HTML.
package extract

import (
	"regexp"
)

// emailPattern is deliberately permissive: ASCII local parts with . _ % + -
// and dot-separated domain labels ending in an alphabetic TLD.
var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)

// Emails returns every address found in html, deduplicated within the call
// and in first-occurrence order. It never returns nil.
func Emails(html []byte) []string {
	matches := emailPattern.FindAll(html, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		addr := string(m)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
