// Package extract turns fetched documentation pages into structured content.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseOptions controls HTML extraction.
type ParseOptions struct {
	// ContentSelector is the primary content container; when absent the
	// whole document is used with navigation regions stripped.
	ContentSelector string
	// MaxContentBytes bounds the fallback whole-document extraction.
	MaxContentBytes int
	// PagePathPattern matches in-scope documentation page paths.
	PagePathPattern *regexp.Regexp
}

var backgroundImageRe = regexp.MustCompile(`background-image\s*:\s*url\(['"]?([^'")]+)['"]?\)`)

// ParseDocument extracts title, text content, image references, and same-host
// page links from rendered or raw HTML. It performs no I/O.
func ParseDocument(html string, pageURL string, opts ParseOptions) (title, content string, imageRefs, pageLinks []string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("parse page url: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		title = h1
	}

	content = extractContent(doc, opts)
	imageRefs = extractImageRefs(doc, base)
	pageLinks = extractPageLinks(doc, base, opts.PagePathPattern)
	return title, content, imageRefs, pageLinks, nil
}

func extractContent(doc *goquery.Document, opts ParseOptions) string {
	if opts.ContentSelector != "" {
		if sel := doc.Find(opts.ContentSelector); sel.Length() > 0 {
			return normalizeWhitespace(sel.Text())
		}
	}
	// Fallback: whole document with chrome stripped, bounded.
	clone := doc.Selection.Clone()
	clone.Find("nav, header, footer, script, style, noscript").Remove()
	text := normalizeWhitespace(clone.Find("body").Text())
	if opts.MaxContentBytes > 0 && len(text) > opts.MaxContentBytes {
		text = text[:opts.MaxContentBytes]
	}
	return text
}

func extractImageRefs(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "data:") {
			return
		}
		abs := resolveURL(raw, base)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		refs = append(refs, abs)
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src)
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		for _, m := range backgroundImageRe.FindAllStringSubmatch(style, -1) {
			add(m[1])
		}
	})
	return refs
}

func extractPageLinks(doc *goquery.Document, base *url.URL, pattern *regexp.Regexp) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if shouldSkipLink(href) {
			return
		}
		abs := resolveURL(href, base)
		if abs == "" {
			return
		}
		u, err := url.Parse(abs)
		if err != nil {
			return
		}
		if !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		if pattern != nil && !pattern.MatchString(u.Path) {
			return
		}
		u.Fragment = ""
		abs = u.String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(href, scheme) {
			return true
		}
	}
	return false
}

func resolveURL(raw string, base *url.URL) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
