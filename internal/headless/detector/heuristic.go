// Package detector decides when a fetched page should be rendered again in a
// headless browser before extracting contact details.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/outreach-core/internal/crawler"
	"github.com/JakeFAU/outreach-core/internal/extract"
)

const defaultTextThreshold = 2048

// mountPoints are the root elements of client-rendered applications.
const mountPoints = `#__next, #root, #app, #__nuxt, [data-reactroot], [ng-app], [data-v-app]`

// protectedEmails marks addresses that a script decodes in the browser, such
// as Cloudflare email obfuscation.
const protectedEmails = `[data-cfemail], a[href*="/cdn-cgi/l/email-protection"]`

// Heuristic promotes pages whose static HTML is a script shell or hides its
// addresses behind client-side decoding.
type Heuristic struct {
	// TextThreshold is the visible text length below which a script-heavy
	// page counts as a shell.
	TextThreshold int
}

// NewHeuristic creates a detector. A non-positive threshold uses 2048.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultTextThreshold
	}
	return &Heuristic{TextThreshold: threshold}
}

// ShouldPromote reports whether resp should be fetched again headless. Failed
// or already rendered pages are never promoted, and neither are pages whose
// static HTML already shows an email address.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	if doc.Find(protectedEmails).Length() > 0 {
		return true
	}
	if len(extract.Emails(resp.Body)) > 0 || hasMailto(doc) {
		return false
	}

	scripts := doc.Find("script")
	scriptCount := scripts.Length()
	scriptBytes := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	scripts.Remove()
	doc.Find("style, noscript, template").Remove()
	text := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))

	if text >= h.TextThreshold {
		return false
	}
	if doc.Find(mountPoints).Length() > 0 {
		return true
	}
	return scriptCount > 0 && scriptBytes >= text
}

func hasMailto(doc *goquery.Document) bool {
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		found = strings.HasPrefix(strings.ToLower(strings.TrimSpace(href)), "mailto:")
		return !found
	})
	return found
}
