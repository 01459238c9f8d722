package extract

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var testPattern = regexp.MustCompile(`^/[0-9a-z]+/p/[0-9a-f]+`)

const samplePage = `<!DOCTYPE html>
<html><head><title>Design Tokens | Styleguide</title></head>
<body>
<nav><a href="/home">Home nav link</a></nav>
<header>Site header text</header>
<h1>Design Tokens</h1>
<div class="article-content">
  Colors and spacing live here.
  <img src="/assets/palette.png">
  <img src="https://cdn.example.com/tokens.jpg?sig=abc">
  <img src="data:image/png;base64,AAAA">
  <div style="background-image: url('https://cdn.example.com/hero.png?v=1')">hero</div>
</div>
<a href="/6wp1x2/p/abc123">Next page</a>
<a href="/6wp1x2/p/abc123#section">Same page anchor</a>
<a href="https://othersite.example.org/6wp1x2/p/def456">External</a>
<a href="mailto:team@example.com">Mail</a>
<a href="tel:+15551234">Call</a>
<a href="/about">Out of pattern</a>
<footer>footer text</footer>
</body></html>`

func TestParseDocumentPrimarySelector(t *testing.T) {
	t.Parallel()

	title, content, images, links, err := ParseDocument(samplePage, "https://docs.example.com/6wp1x2/p/000000", ParseOptions{
		ContentSelector: "div.article-content",
		MaxContentBytes: 10_000,
		PagePathPattern: testPattern,
	})
	require.NoError(t, err)

	require.Equal(t, "Design Tokens", title)
	require.Contains(t, content, "Colors and spacing live here.")
	require.NotContains(t, content, "Site header text")

	require.Equal(t, []string{
		"https://docs.example.com/assets/palette.png",
		"https://cdn.example.com/tokens.jpg?sig=abc",
		"https://cdn.example.com/hero.png?v=1",
	}, images)

	// Same-host, pattern-matching, fragment-stripped, deduplicated.
	require.Equal(t, []string{"https://docs.example.com/6wp1x2/p/abc123"}, links)
}

func TestParseDocumentFallsBackToBody(t *testing.T) {
	t.Parallel()

	_, content, _, _, err := ParseDocument(samplePage, "https://docs.example.com/x", ParseOptions{
		ContentSelector: "div.missing-selector",
		MaxContentBytes: 10_000,
		PagePathPattern: testPattern,
	})
	require.NoError(t, err)

	require.Contains(t, content, "Colors and spacing live here.")
	// Navigation and header regions are stripped in the fallback.
	require.NotContains(t, content, "Home nav link")
	require.NotContains(t, content, "Site header text")
	require.NotContains(t, content, "footer text")
}

func TestParseDocumentTruncatesFallback(t *testing.T) {
	t.Parallel()

	_, content, _, _, err := ParseDocument(samplePage, "https://docs.example.com/x", ParseOptions{
		MaxContentBytes: 10,
		PagePathPattern: testPattern,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(content), 10)
}
