package scheduler

import (
	"testing"

	"forecastbot/internal/storage"
	"forecastbot/pkg/logx"
)

func TestSlotSpec(t *testing.T) {
	t.Parallel()
	cases := []struct {
		slot    string
		want    string
		wantErr bool
	}{
		{"08:00", "0 8 * * *", false},
		{"00:00", "0 0 * * *", false},
		{"23:59", "59 23 * * *", false},
		{"13:05", "5 13 * * *", false},
		{" 08:00 ", "0 8 * * *", false},
		{"24:00", "", true},
		{"08:60", "", true},
		{"0800", "", true},
		{"", "", true},
		{"ab:cd", "", true},
	}
	for _, tc := range cases {
		got, err := SlotSpec(tc.slot)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SlotSpec(%q): expected error, got %q", tc.slot, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SlotSpec(%q): %v", tc.slot, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SlotSpec(%q) = %q, want %q", tc.slot, got, tc.want)
		}
	}
}

func TestRegisterIsIdempotentPerSchedule(t *testing.T) {
	t.Parallel()
	s := New(func(int64) {}, logx.Nop())

	sched := storage.Schedule{ID: 1, Enabled: true, TimeUTC: "08:00"}
	if err := s.Register(sched); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Re-registering the same schedule replaces, never duplicates.
	sched.TimeUTC = "09:30"
	if err := s.Register(sched); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := s.Registered(); got != 1 {
		t.Fatalf("registered entries = %d, want 1", got)
	}

	if err := s.Register(storage.Schedule{ID: 2, TimeUTC: "10:00"}); err != nil {
		t.Fatalf("register second: %v", err)
	}
	if got := s.Registered(); got != 2 {
		t.Fatalf("registered entries = %d, want 2", got)
	}
}

func TestRegisterRejectsBadSlot(t *testing.T) {
	t.Parallel()
	s := New(func(int64) {}, logx.Nop())
	if err := s.Register(storage.Schedule{ID: 1, TimeUTC: "25:00"}); err == nil {
		t.Fatal("expected error for invalid slot")
	}
	if got := s.Registered(); got != 0 {
		t.Fatalf("registered entries = %d, want 0", got)
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	s := New(func(int64) {}, logx.Nop())
	if err := s.Register(storage.Schedule{ID: 7, TimeUTC: "08:00"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	s.Unregister(7)
	s.Unregister(7) // unknown id is a no-op
	if got := s.Registered(); got != 0 {
		t.Fatalf("registered entries = %d, want 0", got)
	}
}

func TestReloadAllSkipsDisabledAndInvalid(t *testing.T) {
	t.Parallel()
	s := New(func(int64) {}, logx.Nop())
	if err := s.Register(storage.Schedule{ID: 1, TimeUTC: "08:00"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.ReloadAll([]storage.Schedule{
		{ID: 2, Enabled: true, TimeUTC: "09:00"},
		{ID: 3, Enabled: false, TimeUTC: "10:00"},
		{ID: 4, Enabled: true, TimeUTC: "bad"},
	})

	// Entry 1 dropped, 2 registered, 3 disabled, 4 invalid.
	if got := s.Registered(); got != 1 {
		t.Fatalf("registered entries = %d, want 1", got)
	}
}
