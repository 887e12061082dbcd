// Package headless renders listing pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-jobs-crawler/internal/crawler"
	"github.com/JakeFAU/remote-jobs-crawler/internal/extract"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultRenderTimeout     = 2 * time.Minute
	defaultNetworkIdle       = 500 * time.Millisecond
	// MaxScrollWait caps how long one scroll step waits for the page to grow.
	MaxScrollWait = 3 * time.Second
)

// Config controls the behavior of the renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	RenderTimeout     time.Duration
	NetworkIdle       time.Duration
	ScrollWait        time.Duration
	ExecPath          string
}

// Renderer implements crawler.Renderer using chromedp and headless Chrome.
type Renderer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by chromedp. Chrome itself is only
// launched on the first Render call.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
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
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("renderer"),
	}, nil
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = defaultRenderTimeout
	}
	if c.NetworkIdle <= 0 {
		c.NetworkIdle = defaultNetworkIdle
	}
	if c.ScrollWait <= 0 || c.ScrollWait > MaxScrollWait {
		c.ScrollWait = MaxScrollWait
	}
	return c
}

// Close cancels the allocator context and shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Render navigates to rawURL, scrolls until the page stops growing, and
// returns the final markup along with the advertised result count.
func (r *Renderer) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.Page{}, &crawler.RenderError{URL: rawURL, Err: err}
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()

	stopForward := forwardCancel(ctx, tabCancel)
	defer stopForward()

	meta := newResponseMeta()
	activity := newNetworkActivity()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		meta.captureEvent(ev)
		activity.captureEvent(ev)
	})

	start := time.Now()
	// The first Run launches the browser and must not carry a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		return crawler.Page{}, &crawler.RenderError{URL: rawURL, Err: fmt.Errorf("launch browser: %w", err)}
	}

	taskCtx, cancel := context.WithTimeout(tabCtx, r.cfg.RenderTimeout)
	defer cancel()

	html, finalURL, scrolls, err := r.run(taskCtx, rawURL, activity)
	if err != nil {
		return crawler.Page{}, &crawler.RenderError{URL: rawURL, Err: err}
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	body := []byte(html)
	r.logger.Debug("page rendered",
		zap.String("url", rawURL),
		zap.Int("scrolls", scrolls),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return crawler.Page{
		URL:           rawURL,
		FinalURL:      responseURL,
		StatusCode:    status,
		Headers:       headers,
		Body:          body,
		TotalReported: extract.ParseTotal(body),
		UsedHeadless:  true,
		Duration:      time.Since(start),
	}, nil
}

func (r *Renderer) run(ctx context.Context, rawURL string, activity *networkActivity) (string, string, int, error) {
	navCtx, navCancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer navCancel()

	navigate := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, navigate...); err != nil {
		return "", "", 0, fmt.Errorf("navigate: %w", err)
	}
	if err := activity.waitIdle(navCtx, r.cfg.NetworkIdle); err != nil {
		// Pages with long-polling never go quiet; scroll anyway.
		r.logger.Debug("network idle not reached", zap.String("url", rawURL), zap.Error(err))
	}

	scrolls, err := scrollToEnd(ctx, &chromedpDriver{}, r.cfg.ScrollWait)
	if err != nil {
		return "", "", scrolls, fmt.Errorf("scroll: %w", err)
	}

	var html, finalURL string
	if err := chromedp.Run(ctx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", "", scrolls, fmt.Errorf("read markup: %w", err)
	}
	return html, finalURL, scrolls, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// forwardCancel cancels the browser task when parent is done. The tab
// context descends from the allocator, not from the caller.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
