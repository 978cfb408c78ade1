package forecast

import (
	"context"
	"fmt"
	"os"
	"time"

	"forecastbot/pkg/logx"
)

// Page is the narrow page-automation capability the rendered-page
// strategy needs. A fake implementation is enough to test the whole
// state machine without a rendering engine.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	// PreTexts returns the trimmed, non-empty text of all preformatted
	// blocks currently rendered.
	PreTexts(ctx context.Context) ([]string, error)

	// WaitReady blocks until a rendering signal appears or timeout
	// elapses. Callers treat a timeout as non-fatal.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// CaptureDiagnostic grabs a screenshot for post-mortem inspection.
	CaptureDiagnostic(ctx context.Context) ([]byte, error)
}

// PageFactory opens a fresh page per acquisition. The returned cleanup
// tears the page (and any backing browser) down.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, func(), error)
}

// PageConfig configures the rendered-page strategy.
type PageConfig struct {
	BaseURL        string
	RequestTimeout time.Duration // upstream's own budget; the hard ceiling adds 60s
	// MaxReloads is the shared budget across credential and stuck-loading
	// triggers. Nil defaults to 2; an explicit zero disables reloading.
	MaxReloads *int
	Accept         Acceptance

	// Timing knobs; defaults match upstream pacing. Tests shrink them.
	PollInterval time.Duration // 2s
	StuckAfter   time.Duration // 180s
	ReloadSettle time.Duration // 5s
	ReadyWait    time.Duration // 20s
	GraceWindow  time.Duration // 60s on top of RequestTimeout

	// ScreenshotPath receives a best-effort diagnostic capture on a
	// global timeout. Empty disables writing.
	ScreenshotPath string
}

func (c PageConfig) withDefaults() PageConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxReloads == nil {
		def := 2
		c.MaxReloads = &def
	} else if *c.MaxReloads < 0 {
		zero := 0
		c.MaxReloads = &zero
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 180 * time.Second
	}
	if c.ReloadSettle <= 0 {
		c.ReloadSettle = 5 * time.Second
	}
	if c.ReadyWait <= 0 {
		c.ReadyWait = 20 * time.Second
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 60 * time.Second
	}
	return c
}

// PageStrategy polls a rendered page for a completed report, classifying
// intermediate states and driving bounded reloads.
//
// States: navigate, then poll every PollInterval; a final report
// succeeds, a persistent credential rejection or the hard ceiling fails.
// The reload budget is shared between credential-invalid and
// stuck-loading triggers.
type PageStrategy struct {
	cfg   PageConfig
	pages PageFactory
	log   logx.Logger
}

func NewPageStrategy(cfg PageConfig, pages PageFactory, log logx.Logger) *PageStrategy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PageStrategy{cfg: cfg.withDefaults(), pages: pages, log: log}
}

func (s *PageStrategy) Fetch(ctx context.Context, p Params) (*Report, error) {
	url := p.PageURL(s.cfg.BaseURL)
	s.log.Info("acquiring rendered report", logx.String("url", url))

	page, cleanup, err := s.pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer cleanup()

	// Navigation failure is terminal; there is nothing to reload yet.
	if err := page.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitReady(ctx, s.cfg.ReadyWait); err != nil {
		s.log.Warn("no rendered block appeared quickly", logx.Err(err))
	}

	deadline := s.cfg.RequestTimeout + s.cfg.GraceWindow
	start := time.Now()
	phaseStart := start
	reloads := 0

	for {
		if time.Since(start) > deadline {
			s.captureTimeout(ctx, page)
			return nil, fmt.Errorf("%w after %s", ErrGlobalTimeout, time.Since(start).Round(time.Second))
		}

		texts, err := page.PreTexts(ctx)
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		insp := s.cfg.Accept.Inspect(texts)

		if insp.Report != nil {
			s.log.Info("final report retrieved",
				logx.Int("topics", len(insp.Report.Results)),
				logx.Duration("took", time.Since(start)))
			return insp.Report, nil
		}

		if insp.CredentialInvalid {
			if reloads >= *s.cfg.MaxReloads {
				return nil, ErrCredentialInvalid
			}
			reloads++
			if err := s.reload(ctx, page, url, "credential rejected", reloads); err != nil {
				return nil, err
			}
			phaseStart = time.Now()
			continue
		}

		if insp.LoadingPresent && time.Since(phaseStart) >= s.cfg.StuckAfter && reloads < *s.cfg.MaxReloads {
			reloads++
			reason := fmt.Sprintf("stuck loading for %s", time.Since(phaseStart).Round(time.Second))
			if err := s.reload(ctx, page, url, reason, reloads); err != nil {
				return nil, err
			}
			phaseStart = time.Now()
			continue
		}

		if err := sleep(ctx, s.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
}

// reload performs the reload transition: settle, in-place reload with a
// cache-busted navigation fallback, then a best-effort wait for a
// rendering signal.
func (s *PageStrategy) reload(ctx context.Context, page Page, url, reason string, n int) error {
	s.log.Warn("reloading page", logx.Int("reload", n), logx.String("reason", reason))
	if err := sleep(ctx, s.cfg.ReloadSettle); err != nil {
		return err
	}

	if err := page.Reload(ctx); err != nil {
		busted := WithCacheBuster(url, time.Now())
		s.log.Warn("reload failed; navigating with cache buster", logx.Err(err))
		if err := page.Navigate(ctx, busted); err != nil {
			return fmt.Errorf("reload navigate: %w", err)
		}
	}

	if err := page.WaitReady(ctx, s.cfg.ReadyWait); err != nil {
		s.log.Debug("no rendering signal after reload", logx.Err(err))
	}
	return nil
}

func (s *PageStrategy) captureTimeout(ctx context.Context, page Page) {
	shot, err := page.CaptureDiagnostic(ctx)
	if err != nil {
		s.log.Warn("diagnostic capture failed", logx.Err(err))
		return
	}
	if s.cfg.ScreenshotPath == "" {
		return
	}
	if err := os.WriteFile(s.cfg.ScreenshotPath, shot, 0o644); err != nil {
		s.log.Warn("diagnostic write failed", logx.String("path", s.cfg.ScreenshotPath), logx.Err(err))
		return
	}
	s.log.Info("timeout diagnostic written", logx.String("path", s.cfg.ScreenshotPath))
}
