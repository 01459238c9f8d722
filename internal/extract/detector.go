package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LoginDetector decides whether a static response hit a login wall and the
// fetch must be promoted to the browser-rendered path.
type LoginDetector struct {
	// MinBytes short-circuits promotion for bodies too small to judge;
	// tiny responses are promoted unconditionally.
	MinBytes int
}

// NewLoginDetector creates a detector with the given minimum body size.
func NewLoginDetector(minBytes int) *LoginDetector {
	if minBytes <= 0 {
		minBytes = 512
	}
	return &LoginDetector{MinBytes: minBytes}
}

var loginMarkers = [][]byte{
	[]byte("password_protected"),
	[]byte("styleguide-login"),
	[]byte("Enter password to view"),
	[]byte("data-login-form"),
}

// IsLoginWall reports whether the body exhibits a login-wall signature:
// a known marker string or a password input field.
func (d *LoginDetector) IsLoginWall(body []byte) bool {
	if len(body) < d.MinBytes {
		return true
	}
	for _, marker := range loginMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(`input[type="password"]`).Length() > 0
}

// HasRenderedContent reports whether a rendered DOM carries actual page text,
// used after login submit to confirm the wall was passed.
func HasRenderedContent(html string, contentSelector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	if contentSelector != "" && doc.Find(contentSelector).Length() > 0 {
		return true
	}
	return len(strings.TrimSpace(doc.Find("body").Text())) > 0
}
