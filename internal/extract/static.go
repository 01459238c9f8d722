package extract

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticConfig controls the lightweight HTTP fetch path.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Static fetches pages over plain HTTP using a Colly collector.
type Static struct {
	cfg           StaticConfig
	baseCollector *colly.Collector
}

// NewStatic builds a Static fetcher.
func NewStatic(cfg StaticConfig) *Static {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Static{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single GET and returns the body plus the post-redirect URL.
func (s *Static) Fetch(ctx context.Context, url string) (body []byte, finalURL string, err error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var fetchErr error
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = fmt.Errorf("fetch %s: status %d: %w", url, r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, "", fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
	}
	if finalURL == "" {
		finalURL = url
	}
	return body, finalURL, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
