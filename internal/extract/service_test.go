package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

func newTestService(browser Browser) *Service {
	static := NewStatic(StaticConfig{UserAgent: "docscrape-test", Timeout: 5 * time.Second})
	return NewService(static, browser, NewLoginDetector(16), ParseOptions{
		ContentSelector: "div.article-content",
		MaxContentBytes: 10_000,
		PagePathPattern: regexp.MustCompile(`^/[0-9a-z]+/p/[0-9a-f]+`),
	}, zap.NewNop())
}

func TestExtractStaticPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Doc</title></head><body><h1>Doc Title</h1>`+
			`<div class="article-content">Body text here.</div>`+
			strings.Repeat("<p>pad</p>", 10)+`</body></html>`)
	}))
	defer server.Close()

	svc := newTestService(nil)
	res, err := svc.Extract(context.Background(), server.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "Doc Title", res.Title)
	require.Equal(t, "Body text here.", res.Content)
	require.False(t, res.UsedBrowser)
}

func TestExtractFollowsRedirectIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Moved</h1>`+strings.Repeat("<p>pad</p>", 10)+`</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	svc := newTestService(nil)
	res, err := svc.Extract(context.Background(), server.URL+"/old", nil)
	require.NoError(t, err)
	require.Equal(t, server.URL+"/new", res.FinalURL)
}

func TestExtract404Fails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	svc := newTestService(nil)
	_, err := svc.Extract(context.Background(), server.URL+"/missing", nil)
	require.Error(t, err)
}

type fakeBrowser struct {
	html     string
	finalURL string
	called   bool
	cred     *scrape.Credential
}

func (f *fakeBrowser) ExtractRendered(_ context.Context, url string, cred *scrape.Credential) (string, string, error) {
	f.called = true
	f.cred = cred
	final := f.finalURL
	if final == "" {
		final = url
	}
	return f.html, final, nil
}

func TestExtractPromotesLoginWall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><form><input type="password"></form>`+
			strings.Repeat("<p>locked</p>", 10)+`</body></html>`)
	}))
	defer server.Close()

	browser := &fakeBrowser{
		html: `<html><head><title>Hidden</title></head><body><h1>Hidden Doc</h1>` +
			`<div class="article-content">Secret body.</div></body></html>`,
	}
	svc := newTestService(browser)
	cred := &scrape.Credential{Password: "hunter2"}

	res, err := svc.Extract(context.Background(), server.URL, cred)
	require.NoError(t, err)
	require.True(t, browser.called)
	require.Equal(t, cred, browser.cred)
	require.True(t, res.UsedBrowser)
	require.Equal(t, "Hidden Doc", res.Title)
	require.Equal(t, "Secret body.", res.Content)
}

func TestExtractLoginWallWithoutBrowserFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><input type="password">`+
			strings.Repeat("<p>locked</p>", 10)+`</body></html>`)
	}))
	defer server.Close()

	svc := newTestService(nil)
	_, err := svc.Extract(context.Background(), server.URL, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "browser")
}

func TestExtractCancelledContext(t *testing.T) {
	svc := newTestService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Extract(ctx, "https://docs.example.com/x", nil)
	require.True(t, scrape.IsCancelled(err))
}
