// Package chrome backs the rendered-page acquisition strategy with a
// headless Chromium driven through chromedp.
package chrome

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"forecastbot/internal/forecast"
	"forecastbot/pkg/logx"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// readPreTexts extracts the trimmed content of every <pre> block.
const readPreTexts = `Array.from(document.querySelectorAll('pre'))
	.map(el => (el.textContent || '').trim())
	.filter(t => t.length > 0)`

type Config struct {
	UserAgent  string
	NavTimeout time.Duration // per navigation/reload (default 60s)
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	return c
}

// Factory launches one fresh headless browser per acquisition, so no
// profile or cache state leaks between runs.
type Factory struct {
	cfg Config
	log logx.Logger
}

func NewFactory(cfg Config, log logx.Logger) *Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Factory{cfg: cfg.withDefaults(), log: log}
}

func (f *Factory) NewPage(ctx context.Context) (forecast.Page, func(), error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(f.cfg.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	pageCtx, cancelPage := chromedp.NewContext(allocCtx)

	// Materialize the browser process now so launch failures surface
	// here instead of on the first navigation.
	if err := chromedp.Run(pageCtx); err != nil {
		cancelPage()
		cancelAlloc()
		return nil, nil, err
	}

	p := &page{ctx: pageCtx, cfg: f.cfg, log: f.log}
	cleanup := func() {
		cancelPage()
		cancelAlloc()
	}
	return p, cleanup, nil
}

type page struct {
	ctx context.Context
	cfg Config
	log logx.Logger
}

func (p *page) Navigate(ctx context.Context, url string) error {
	tctx, cancel := context.WithTimeout(p.ctx, p.cfg.NavTimeout)
	defer cancel()
	return chromedp.Run(tctx, chromedp.Navigate(url))
}

func (p *page) Reload(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(p.ctx, p.cfg.NavTimeout)
	defer cancel()
	return chromedp.Run(tctx, chromedp.Reload())
}

func (p *page) PreTexts(ctx context.Context) ([]string, error) {
	tctx, cancel := context.WithTimeout(p.ctx, p.cfg.NavTimeout)
	defer cancel()
	var texts []string
	if err := chromedp.Run(tctx, chromedp.Evaluate(readPreTexts, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (p *page) WaitReady(ctx context.Context, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	return chromedp.Run(tctx, chromedp.WaitVisible("pre", chromedp.ByQuery))
}

func (p *page) CaptureDiagnostic(ctx context.Context) ([]byte, error) {
	var buf []byte
	tctx, cancel := context.WithTimeout(p.ctx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(tctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}
