// Package bot dispatches incoming Telegram commands to handlers. The
// command surface is small and flat: subscription management for
// everyone, schedule operations for administrators.
package bot

import (
	"context"
	"strings"
	"sync"

	rtsup "forecastbot/internal/runtime/supervisor"
	"forecastbot/internal/runner"
	"forecastbot/internal/storage"
	kit "forecastbot/internal/transport"
	"forecastbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Request struct {
	Chat   kit.ChatTarget
	FromID int64
	Args   []string
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

// RunStarter triggers a manual run; satisfied by *runner.Runner.
type RunStarter interface {
	Run(ctx context.Context, scheduleID int64, trig runner.Trigger) (runner.Outcome, error)
}

type Dispatcher struct {
	adapter kit.Adapter
	store   storage.Store
	runs    RunStarter
	log     logx.Logger

	mu       sync.RWMutex
	admins   map[int64]struct{}
	commands map[string]Command
	order    []string
}

func NewDispatcher(adapter kit.Adapter, store storage.Store, runs RunStarter, admins []int64, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		adapter:  adapter,
		store:    store,
		runs:     runs,
		log:      log,
		admins:   map[int64]struct{}{},
		commands: map[string]Command{},
	}
	d.SetAdmins(admins)
	d.register()
	return d
}

// SetAdmins replaces the administrator set (config hot reload).
func (d *Dispatcher) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	d.mu.Lock()
	d.admins = m
	d.mu.Unlock()
}

func (d *Dispatcher) isAdmin(userID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.admins[userID]
	return ok
}

func (d *Dispatcher) add(c Command) {
	d.commands[c.Name] = c
	d.order = append(d.order, c.Name)
}

// Run consumes updates until ctx is cancelled. Commands run on the
// dispatch goroutine; manual runs are handed to the supervisor so a
// slow acquisition never blocks command handling.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update, sup *rtsup.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			d.handleMessage(ctx, up.Message, sup)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *kit.Message, sup *rtsup.Supervisor) {
	name, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	cmd, found := d.lookup(name)
	if !found {
		if !m.IsGroup {
			d.reply(ctx, m.ChatID, "Unknown command. Try /help.")
		}
		return
	}
	if cmd.Access == AccessAdminOnly && !d.isAdmin(m.FromID) {
		d.log.Warn("admin command denied",
			logx.String("command", name), logx.Int64("user_id", m.FromID))
		return
	}

	req := &Request{Chat: kit.ChatTarget{ChatID: m.ChatID}, FromID: m.FromID, Args: args}
	run := func(c context.Context) error { return cmd.Handle(c, req) }
	if cmd.Name == "run_now" && sup != nil {
		// Acquisition can take minutes; keep the dispatch loop free.
		sup.Go("command.run_now", run)
		return
	}
	if err := run(ctx); err != nil {
		d.log.Error("command failed", logx.String("command", name), logx.Err(err))
		d.reply(ctx, m.ChatID, "Something went wrong, try again later.")
	}
}

func (d *Dispatcher) lookup(name string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.commands[name]
	return c, ok
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	_, err := d.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	if err != nil {
		d.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// parseCommand extracts "/name arg ..." from a message, tolerating the
// "/name@botname" form Telegram uses in groups.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
