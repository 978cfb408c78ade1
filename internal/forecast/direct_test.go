package forecast

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"forecastbot/pkg/logx"
)

func testParams() Params {
	return Params{Countries: []string{"uk"}, Topics: "economy", Language: "en", Horizon: "24h", Depth: "standard"}
}

func newTestDirect(t *testing.T, h http.HandlerFunc) *Direct {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DirectConfig{
		BaseURL:  srv.URL,
		Backoffs: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}
	return NewDirect(cfg, srv.Client(), logx.Nop())
}

func TestDirectSuccess(t *testing.T) {
	t.Parallel()
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("countries"); got != "uk" {
			t.Errorf("countries = %q", got)
		}
		w.Write([]byte(goodReport()))
	})
	r, err := d.Fetch(context.Background(), testParams())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(r.Results) != 1 || r.Results[0].Topic != "economy" {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(r.Raw) == 0 {
		t.Fatal("raw payload not preserved")
	}
}

func TestDirectEmptyResultsListStillSucceeds(t *testing.T) {
	t.Parallel()
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	})
	if _, err := d.Fetch(context.Background(), testParams()); err != nil {
		t.Fatalf("a present results key must succeed: %v", err)
	}
}

func TestDirectInvalidJSONFailsFast(t *testing.T) {
	t.Parallel()
	var calls int32
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("not json"))
	})
	_, err := d.Fetch(context.Background(), testParams())
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want no retries", n)
	}
}

func TestDirectMissingResultsKeyFailsFast(t *testing.T) {
	t.Parallel()
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	})
	if _, err := d.Fetch(context.Background(), testParams()); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestDirectClientErrorFailsFast(t *testing.T) {
	t.Parallel()
	var calls int32
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := d.Fetch(context.Background(), testParams())
	if !errors.Is(err, ErrUpstreamClient) {
		t.Fatalf("err = %v, want ErrUpstreamClient", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("calls = %d, want no retries", n)
	}
}

func TestDirectRetriesServerErrorsThenSucceeds(t *testing.T) {
	t.Parallel()
	var calls int32
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(goodReport()))
	})
	if _, err := d.Fetch(context.Background(), testParams()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestDirectExhaustsAttempts(t *testing.T) {
	t.Parallel()
	var calls int32
	d := newTestDirect(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := d.Fetch(context.Background(), testParams())
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Fatalf("calls = %d, want 4 attempts total", n)
	}
}
