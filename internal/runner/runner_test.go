package runner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"forecastbot/internal/forecast"
	"forecastbot/internal/storage"
	"forecastbot/internal/transport"
	"forecastbot/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

// fakeAdapter scripts per-chat delivery dispositions; unscripted sends
// are delivered. SendText (notifications) is recorded separately.
type fakeAdapter struct {
	mu      sync.Mutex
	script  map[int64][]transport.Delivery
	sent    []sent
	notices []sent
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, sent{to.ChatID, text})
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) Deliver(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) transport.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to.ChatID, text})
	if q := f.script[to.ChatID]; len(q) > 0 {
		d := q[0]
		f.script[to.ChatID] = q[1:]
		return d
	}
	return transport.Delivery{Outcome: transport.Delivered}
}

func (f *fakeAdapter) deliveries(chat int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.chat == chat {
			n++
		}
	}
	return n
}

type fakeEngine struct {
	report *forecast.Report
	err    error
	calls  int
}

func (f *fakeEngine) Fetch(context.Context, forecast.Params) (*forecast.Report, error) {
	f.calls++
	return f.report, f.err
}

func goodReport() *forecast.Report {
	return &forecast.Report{
		Results: []forecast.Result{{
			Topic:                 "Economy",
			Summary:               "A summary comfortably longer than the minimum length.",
			Sources:               []forecast.Source{{Name: "Example", URL: "https://example.com"}},
			SentimentScoreDisplay: 50,
		}},
		Raw: []byte(`{"results":[]}`),
	}
}

type fixture struct {
	store   storage.Store
	adapter *fakeAdapter
	engine  *fakeEngine
	runner  *Runner
	sched   int64
}

func newFixture(t *testing.T, subscribers ...int64) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	schedID, err := st.AddSchedule(ctx, storage.Schedule{
		Enabled: true, TimeUTC: "08:00",
		Countries: "uk,fr", Topics: "economy",
		Horizon: "24h", Depth: "standard", Language: "en",
		Title: "Morning Briefing",
	})
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	for _, chat := range subscribers {
		if _, err := st.Subscribe(ctx, chat, chat); err != nil {
			t.Fatalf("subscribe %d: %v", chat, err)
		}
	}

	ad := &fakeAdapter{script: map[int64][]transport.Delivery{}}
	eng := &fakeEngine{report: goodReport()}
	r := New(Config{SendGap: time.Millisecond}, st, eng, ad, []int64{900}, logx.Nop())
	r.sleep = func(context.Context, time.Duration) {}
	return &fixture{store: st, adapter: ad, engine: eng, runner: r, sched: schedID}
}

func TestScheduledRunDeliversAndRecords(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10, 20)
	ctx := context.Background()

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != storage.RunSuccess || out.Delivered != 2 || out.Skipped {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if fx.adapter.deliveries(10) != 1 || fx.adapter.deliveries(20) != 1 {
		t.Fatalf("unexpected delivery counts: %v", fx.adapter.sent)
	}

	date := time.Now().UTC().Format("2006-01-02")
	done, err := fx.store.CompletedRun(ctx, fx.sched, date, "08:00")
	if err != nil || !done {
		t.Fatalf("slot not recorded complete: (%v, %v)", done, err)
	}
}

func TestScheduledRunIdempotent(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10)
	ctx := context.Background()

	if _, err := fx.runner.Run(ctx, fx.sched, Trigger{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !out.Skipped {
		t.Fatalf("second run should be skipped: %+v", out)
	}
	if fx.engine.calls != 1 {
		t.Fatalf("engine called %d times, want 1", fx.engine.calls)
	}
	if got := fx.adapter.deliveries(10); got != 1 {
		t.Fatalf("recipient received %d messages, want 1", got)
	}
}

func TestScheduledRunSlotOwnedElsewhere(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10)
	ctx := context.Background()

	// Another executor holds the lock with a fresh "running" record.
	date := time.Now().UTC().Format("2006-01-02")
	if _, err := fx.store.BeginRun(ctx, fx.sched, date, "08:00", time.Hour); err != nil {
		t.Fatalf("claim slot: %v", err)
	}

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Skipped || fx.engine.calls != 0 {
		t.Fatalf("run should defer to lock holder: %+v, engine calls %d", out, fx.engine.calls)
	}
}

func TestValidationAbortsBeforeAcquisition(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10)
	ctx := context.Background()

	bad, err := fx.store.AddSchedule(ctx, storage.Schedule{
		Enabled: true, TimeUTC: "09:00",
		Countries: "uk,zz", Topics: "economy",
		Horizon: "24h", Depth: "standard", Language: "en",
	})
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}

	out, err := fx.runner.Run(ctx, bad, Trigger{})
	if err == nil || !strings.Contains(err.Error(), `"zz"`) {
		t.Fatalf("error should name the invalid code: %v", err)
	}
	if out.Status != storage.RunError {
		t.Fatalf("status = %v, want error", out.Status)
	}
	if fx.engine.calls != 0 {
		t.Fatal("acquisition must not run after validation failure")
	}
	if fx.adapter.deliveries(10) != 0 {
		t.Fatal("no recipient traffic expected")
	}

	// The slot is recorded as error, not left running.
	date := time.Now().UTC().Format("2006-01-02")
	if _, err := fx.store.BeginRun(ctx, bad, date, "09:00", time.Hour); !errors.Is(err, storage.ErrRunExists) {
		t.Fatalf("run record missing: %v", err)
	}

	// Administrators were notified, best-effort.
	found := false
	for _, n := range fx.adapter.notices {
		if n.chat == 900 && strings.Contains(n.text, "zz") {
			found = true
		}
	}
	if !found {
		t.Fatalf("admin notification missing: %v", fx.adapter.notices)
	}
}

func TestBroadcastIsolatesBlockedRecipient(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10, 20)
	ctx := context.Background()

	fx.adapter.script[10] = []transport.Delivery{{Outcome: transport.Blocked, Err: errors.New("forbidden")}}

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != storage.RunSuccess || out.Delivered != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if fx.adapter.deliveries(20) != 1 {
		t.Fatal("second recipient should still receive messages")
	}

	active, err := fx.store.SubscriptionActive(ctx, 10)
	if err != nil || active {
		t.Fatalf("blocked recipient should be deactivated: (%v, %v)", active, err)
	}
	if active, _ := fx.store.SubscriptionActive(ctx, 20); !active {
		t.Fatal("healthy recipient must stay active")
	}
}

func TestBroadcastRateLimitPausesAndMovesOn(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10, 20)
	ctx := context.Background()

	fx.adapter.script[10] = []transport.Delivery{{Outcome: transport.RateLimited, RetryAfter: 3 * time.Second}}
	var paused time.Duration
	fx.runner.sleep = func(_ context.Context, d time.Duration) { paused = d }

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if paused != 3*time.Second {
		t.Fatalf("broadcast paused %v, want 3s", paused)
	}
	if out.Delivered != 1 || out.Status != storage.RunSuccess {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	// Rate-limited recipient stays subscribed.
	if active, _ := fx.store.SubscriptionActive(ctx, 10); !active {
		t.Fatal("rate-limited recipient must stay active")
	}
}

func TestAllRecipientsFailingYieldsPartial(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10)
	ctx := context.Background()

	fx.adapter.script[10] = []transport.Delivery{{Outcome: transport.Failed, Err: errors.New("boom")}}

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != storage.RunPartial || out.Delivered != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestManualRunTargetsInvokerOnly(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10, 20)
	ctx := context.Background()

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{Manual: true, Invoker: 900})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Delivered != 1 || out.Recipients != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if fx.adapter.deliveries(10) != 0 || fx.adapter.deliveries(20) != 0 {
		t.Fatal("subscribers must not receive a targeted manual run")
	}
	if fx.adapter.deliveries(900) != 1 {
		t.Fatal("invoker should receive the report")
	}

	// Manual runs never touch the slot lock.
	date := time.Now().UTC().Format("2006-01-02")
	if _, err := fx.store.BeginRun(ctx, fx.sched, date, "08:00", time.Hour); err != nil {
		t.Fatalf("slot should be unclaimed: %v", err)
	}

	// And the invoker gets a completion notice.
	found := false
	for _, n := range fx.adapter.notices {
		if n.chat == 900 && strings.Contains(n.text, "delivered to 1 of 1") {
			found = true
		}
	}
	if !found {
		t.Fatalf("invoker completion notice missing: %v", fx.adapter.notices)
	}
}

func TestManualRunAllReachesSubscribers(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10, 20)
	ctx := context.Background()

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{Manual: true, All: true, Invoker: 900})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Delivered != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if fx.adapter.deliveries(10) != 1 || fx.adapter.deliveries(20) != 1 {
		t.Fatal("all subscribers should receive messages")
	}
}

func TestAcquisitionFailureNotifiesAdmins(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10)
	ctx := context.Background()

	fx.engine.err = forecast.ErrGlobalTimeout
	fx.engine.report = nil

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if !errors.Is(err, forecast.ErrGlobalTimeout) {
		t.Fatalf("error = %v, want global timeout", err)
	}
	if out.Status != storage.RunError {
		t.Fatalf("status = %v, want error", out.Status)
	}
	if fx.adapter.deliveries(10) != 0 {
		t.Fatal("no recipient traffic on acquisition failure")
	}
	found := false
	for _, n := range fx.adapter.notices {
		if n.chat == 900 && strings.Contains(n.text, "Acquisition failed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("admin notification missing: %v", fx.adapter.notices)
	}
}

func TestRunWithoutSubscribersIsNoop(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.runner.Run(ctx, fx.sched, Trigger{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Skipped || fx.engine.calls != 0 {
		t.Fatalf("empty recipient set should skip: %+v", out)
	}
}

func TestUnknownScheduleNotifiesManualInvoker(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 10)
	ctx := context.Background()

	_, err := fx.runner.Run(ctx, 9999, Trigger{Manual: true, Invoker: 900})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
	found := false
	for _, n := range fx.adapter.notices {
		if n.chat == 900 && strings.Contains(n.text, "not found") {
			found = true
		}
	}
	if !found {
		t.Fatalf("invoker notice missing: %v", fx.adapter.notices)
	}
}
