// Package headless renders pages in a browser for content behind login walls.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/drexxdk/zeroheight-mcp-sub001/internal/scrape"
)

// Config controls the behavior of the browser extractor.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	RenderWait        time.Duration
	LoginWait         time.Duration
}

// Browser implements extract.Browser using chromedp and headless Chrome.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a browser extractor backed by chromedp.
func New(cfg Config) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.RenderWait <= 0 {
		cfg.RenderWait = 1500 * time.Millisecond
	}
	if cfg.LoginWait <= 0 {
		cfg.LoginWait = 3 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Browser) Close() {
	b.allocCancel()
}

// ExtractRendered navigates with a headless browser, submits the site
// credential when a password gate is present, and returns the rendered DOM.
func (b *Browser) ExtractRendered(ctx context.Context, url string, cred *scrape.Credential) (string, string, error) {
	if err := b.acquire(ctx); err != nil {
		return "", "", err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.cfg.NavigationTimeout)
	defer cancel()

	// Stop promptly if the caller's context ends first.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		b.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.cfg.RenderWait),
	}
	if cred != nil && cred.Password != "" {
		actions = append(actions, b.loginAction(cred))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", "", scrape.ErrCancelled
		}
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

// loginAction fills the password gate when present and waits for the
// client-side render that follows a successful submit.
func (b *Browser) loginAction(cred *scrape.Credential) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var hasPassword bool
		err := chromedp.Evaluate(
			`document.querySelector('input[type="password"]') !== null`,
			&hasPassword,
		).Do(ctx)
		if err != nil {
			return fmt.Errorf("probe password field: %w", err)
		}
		if !hasPassword {
			return nil
		}

		steps := []chromedp.Action{}
		if cred.Email != "" {
			steps = append(steps,
				chromedp.SendKeys(`input[type="email"], input[type="text"]`, cred.Email, chromedp.ByQuery),
			)
		}
		steps = append(steps,
			chromedp.SendKeys(`input[type="password"]`, cred.Password, chromedp.ByQuery),
			chromedp.Submit(`input[type="password"]`, chromedp.ByQuery),
			chromedp.Sleep(b.cfg.LoginWait),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		for _, step := range steps {
			if err := step.Do(ctx); err != nil {
				return fmt.Errorf("submit credential: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return scrape.ErrCancelled
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}
