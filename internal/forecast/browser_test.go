package forecast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"forecastbot/pkg/logx"
)

// fakePage scripts the observable page state per poll.
type fakePage struct {
	mu sync.Mutex

	onPre func(call int, p *fakePage) []string

	navErr    error
	reloadErr error

	preCalls  int
	navigates []string
	reloads   int
	captured  bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigates = append(p.navigates, url)
	return p.navErr
}

func (p *fakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return p.reloadErr
}

func (p *fakePage) PreTexts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preCalls++
	if p.onPre == nil {
		return nil, nil
	}
	return p.onPre(p.preCalls, p), nil
}

func (p *fakePage) WaitReady(ctx context.Context, timeout time.Duration) error { return nil }

func (p *fakePage) CaptureDiagnostic(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = true
	return []byte("png"), nil
}

type fakeFactory struct{ page *fakePage }

func (f *fakeFactory) NewPage(ctx context.Context) (Page, func(), error) {
	return f.page, func() {}, nil
}

func reloadBudget(n int) *int { return &n }

func fastConfig() PageConfig {
	return PageConfig{
		BaseURL:        "https://host",
		RequestTimeout: 2 * time.Second,
		MaxReloads:     reloadBudget(2),
		PollInterval:   time.Millisecond,
		StuckAfter:     5 * time.Millisecond,
		ReloadSettle:   time.Millisecond,
		ReadyWait:      time.Millisecond,
		GraceWindow:    10 * time.Second,
	}
}

func newFastStrategy(cfg PageConfig, p *fakePage) *PageStrategy {
	return NewPageStrategy(cfg, &fakeFactory{page: p}, logx.Nop())
}

func TestPageStrategyFinalOnFirstPoll(t *testing.T) {
	t.Parallel()
	p := &fakePage{onPre: func(int, *fakePage) []string { return []string{goodReport()} }}
	s := newFastStrategy(fastConfig(), p)

	r, err := s.Fetch(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(r.Results) != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(p.navigates) != 1 || !strings.Contains(p.navigates[0], "#/news-json?") {
		t.Fatalf("navigations = %v", p.navigates)
	}
}

func TestPageStrategyNavigationFailureIsTerminal(t *testing.T) {
	t.Parallel()
	p := &fakePage{navErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	s := newFastStrategy(fastConfig(), p)

	if _, err := s.Fetch(context.Background(), testParams()); err == nil {
		t.Fatal("expected navigation error")
	}
	if p.preCalls != 0 {
		t.Fatalf("no polling expected after navigation failure, got %d polls", p.preCalls)
	}
}

func TestPageStrategyCredentialInvalidExhaustsReloads(t *testing.T) {
	t.Parallel()
	cred := `{"results": [{"summary": "", "error": "API key not valid"}]}`
	p := &fakePage{onPre: func(int, *fakePage) []string { return []string{cred} }}
	s := newFastStrategy(fastConfig(), p)

	_, err := s.Fetch(context.Background(), testParams())
	if !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("err = %v, want ErrCredentialInvalid", err)
	}
	if p.reloads != 2 {
		t.Fatalf("reloads = %d, want the full budget of 2", p.reloads)
	}
}

func TestPageStrategyExplicitZeroDisablesReloads(t *testing.T) {
	t.Parallel()
	cred := `{"results": [{"summary": "", "error": "API key not valid"}]}`
	p := &fakePage{onPre: func(int, *fakePage) []string { return []string{cred} }}
	cfg := fastConfig()
	cfg.MaxReloads = reloadBudget(0)
	s := newFastStrategy(cfg, p)

	_, err := s.Fetch(context.Background(), testParams())
	if !errors.Is(err, ErrCredentialInvalid) {
		t.Fatalf("err = %v, want ErrCredentialInvalid", err)
	}
	if p.reloads != 0 {
		t.Fatalf("reloads = %d, want none with a zero budget", p.reloads)
	}
}

func TestPageStrategyCredentialInvalidRecoversAfterReload(t *testing.T) {
	t.Parallel()
	cred := `{"results": [{"summary": "", "error": "api_key_invalid"}]}`
	p := &fakePage{}
	p.onPre = func(call int, p *fakePage) []string {
		if p.reloads == 0 {
			return []string{cred}
		}
		return []string{goodReport()}
	}
	s := newFastStrategy(fastConfig(), p)

	if _, err := s.Fetch(context.Background(), testParams()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.reloads != 1 {
		t.Fatalf("reloads = %d, want 1", p.reloads)
	}
}

func TestPageStrategyReloadFallsBackToCacheBustedNavigate(t *testing.T) {
	t.Parallel()
	cred := `{"results": [{"summary": "", "error": "API key not valid"}]}`
	p := &fakePage{reloadErr: errors.New("reload failed")}
	p.onPre = func(call int, p *fakePage) []string {
		if len(p.navigates) < 2 {
			return []string{cred}
		}
		return []string{goodReport()}
	}
	s := newFastStrategy(fastConfig(), p)

	if _, err := s.Fetch(context.Background(), testParams()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(p.navigates) < 2 {
		t.Fatalf("expected a fallback navigation, got %v", p.navigates)
	}
	fallback := p.navigates[1]
	if !strings.Contains(fallback, "cb=") {
		t.Fatalf("fallback navigation lacks cache buster: %s", fallback)
	}
	if i, j := strings.Index(fallback, "cb="), strings.Index(fallback, "#"); j >= 0 && i > j {
		t.Fatalf("cache buster must precede the fragment: %s", fallback)
	}
}

func TestPageStrategyStuckLoadingReloadsThenKeepsPolling(t *testing.T) {
	t.Parallel()
	p := &fakePage{}
	var afterBudget int
	p.onPre = func(call int, p *fakePage) []string {
		if p.reloads < 2 {
			return []string{"Loading analysis..."}
		}
		// Budget exhausted: stuck loading alone must not fail the run.
		afterBudget++
		if afterBudget < 5 {
			return []string{"Loading analysis..."}
		}
		return []string{goodReport()}
	}
	s := newFastStrategy(fastConfig(), p)

	if _, err := s.Fetch(context.Background(), testParams()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.reloads != 2 {
		t.Fatalf("reloads = %d, want 2", p.reloads)
	}
}

func TestPageStrategyGlobalTimeout(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.RequestTimeout = 10 * time.Millisecond
	cfg.GraceWindow = 10 * time.Millisecond

	p := &fakePage{onPre: func(int, *fakePage) []string { return []string{"Loading analysis..."} }}
	// Large stuck threshold so only the global ceiling can end the run.
	cfg.StuckAfter = time.Hour
	s := newFastStrategy(cfg, p)

	_, err := s.Fetch(context.Background(), testParams())
	if !errors.Is(err, ErrGlobalTimeout) {
		t.Fatalf("err = %v, want ErrGlobalTimeout", err)
	}
	if !p.captured {
		t.Fatal("expected a best-effort diagnostic capture on timeout")
	}
}
