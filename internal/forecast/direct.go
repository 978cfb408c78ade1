package forecast

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"forecastbot/pkg/logx"
)

// DirectConfig configures the single-request strategy.
type DirectConfig struct {
	BaseURL string
	Timeout time.Duration // per-request timeout (default 60s)

	// Backoffs are the delays before each retry attempt; the attempt
	// budget is len(Backoffs)+1.
	Backoffs []time.Duration
}

func (c DirectConfig) withDefaults() DirectConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if len(c.Backoffs) == 0 {
		c.Backoffs = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	}
	return c
}

// Direct fetches the report with a bounded-retry GET.
//
// Disposition per attempt: 200 with a results key succeeds; 200 with a
// malformed body fails fast; 5xx and network errors retry on the backoff
// schedule; any other 4xx fails fast.
type Direct struct {
	cfg    DirectConfig
	client *http.Client
	log    logx.Logger
}

func NewDirect(cfg DirectConfig, client *http.Client, log logx.Logger) *Direct {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Direct{cfg: cfg, client: client, log: log}
}

func (d *Direct) Fetch(ctx context.Context, p Params) (*Report, error) {
	u := p.DirectURL(d.cfg.BaseURL)
	attempts := len(d.cfg.Backoffs) + 1

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := d.cfg.Backoffs[i-1]
			d.log.Warn("retrying fetch",
				logx.Int("attempt", i+1),
				logx.Duration("after", delay),
				logx.Err(lastErr))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		r, retryable, err := d.attempt(ctx, u)
		if err == nil {
			return r, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrAttemptsExhausted, lastErr)
}

// attempt issues one GET. retryable marks transient dispositions.
func (d *Direct) attempt(ctx context.Context, u string) (r *Report, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, err
		}
		rep, err := DecodeReport(body)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if rep.Results == nil {
			return nil, false, fmt.Errorf("%w: no results key", ErrInvalidResponse)
		}
		return rep, false, nil

	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("upstream status %d", resp.StatusCode)

	default:
		return nil, false, fmt.Errorf("%w: status %d", ErrUpstreamClient, resp.StatusCode)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
