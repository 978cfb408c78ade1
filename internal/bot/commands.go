package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"forecastbot/internal/runner"
	"forecastbot/pkg/logx"
	"forecastbot/pkg/tghtml"
)

func (d *Dispatcher) register() {
	d.add(Command{
		Name:        "start",
		Description: "introduction and quick help",
		Handle:      d.cmdStart,
	})
	d.add(Command{
		Name:        "help",
		Description: "list available commands",
		Handle:      d.cmdHelp,
	})
	d.add(Command{
		Name:        "subscribe",
		Description: "receive scheduled forecast reports in this chat",
		Handle:      d.cmdSubscribe,
	})
	d.add(Command{
		Name:        "unsubscribe",
		Description: "stop receiving forecast reports",
		Handle:      d.cmdUnsubscribe,
	})
	d.add(Command{
		Name:        "status",
		Description: "show your subscription and the delivery times",
		Handle:      d.cmdStatus,
	})
	d.add(Command{
		Name:        "schedules",
		Description: "list all delivery schedules",
		Access:      AccessAdminOnly,
		Handle:      d.cmdSchedules,
	})
	d.add(Command{
		Name:        "subscribers",
		Description: "show the active subscriber count",
		Access:      AccessAdminOnly,
		Handle:      d.cmdSubscribers,
	})
	d.add(Command{
		Name:        "run_now",
		Description: "run a schedule immediately",
		Usage:       "/run_now <schedule_id> [all]",
		Access:      AccessAdminOnly,
		Handle:      d.cmdRunNow,
	})
}

func (d *Dispatcher) cmdStart(ctx context.Context, req *Request) error {
	d.reply(ctx, req.Chat.ChatID,
		"This bot delivers scheduled news forecast reports.\n"+
			"Use /subscribe to receive them in this chat, /status to check your subscription, /help for all commands.")
	return nil
}

func (d *Dispatcher) cmdHelp(ctx context.Context, req *Request) error {
	admin := d.isAdmin(req.FromID)

	var b strings.Builder
	b.WriteString(tghtml.B("Commands").String() + "\n")
	d.mu.RLock()
	for _, name := range d.order {
		c := d.commands[name]
		if c.Access == AccessAdminOnly && !admin {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s — %s\n", tghtml.Esc(usage), tghtml.Esc(c.Description))
	}
	d.mu.RUnlock()

	d.reply(ctx, req.Chat.ChatID, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (d *Dispatcher) cmdSubscribe(ctx context.Context, req *Request) error {
	changed, err := d.store.Subscribe(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		return fmt.Errorf("subscribe chat %d: %w", req.Chat.ChatID, err)
	}
	if changed {
		d.log.Info("subscriber added", logx.Int64("chat_id", req.Chat.ChatID))
		d.reply(ctx, req.Chat.ChatID, "Subscribed. You will receive forecast reports at the scheduled times (UTC).")
	} else {
		d.reply(ctx, req.Chat.ChatID, "You are already subscribed.")
	}
	return nil
}

func (d *Dispatcher) cmdUnsubscribe(ctx context.Context, req *Request) error {
	active, err := d.store.SubscriptionActive(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("subscription lookup chat %d: %w", req.Chat.ChatID, err)
	}
	if !active {
		d.reply(ctx, req.Chat.ChatID, "You were not subscribed.")
		return nil
	}
	if err := d.store.Deactivate(ctx, req.Chat.ChatID); err != nil {
		return fmt.Errorf("unsubscribe chat %d: %w", req.Chat.ChatID, err)
	}
	d.log.Info("subscriber removed", logx.Int64("chat_id", req.Chat.ChatID))
	d.reply(ctx, req.Chat.ChatID, "Unsubscribed. Use /subscribe to opt back in any time.")
	return nil
}

func (d *Dispatcher) cmdStatus(ctx context.Context, req *Request) error {
	active, err := d.store.SubscriptionActive(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("subscription lookup chat %d: %w", req.Chat.ChatID, err)
	}

	var b strings.Builder
	if active {
		b.WriteString("Subscription: active\n")
	} else {
		b.WriteString("Subscription: inactive (use /subscribe)\n")
	}

	schedules, err := d.store.EnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if len(schedules) == 0 {
		b.WriteString("No delivery schedules are configured.")
	} else {
		b.WriteString("Delivery times (UTC):")
		for _, s := range schedules {
			title := s.Title
			if title == "" {
				title = fmt.Sprintf("schedule %d", s.ID)
			}
			fmt.Fprintf(&b, "\n• %s — %s", s.TimeUTC, tghtml.Esc(title))
		}
	}
	d.reply(ctx, req.Chat.ChatID, b.String())
	return nil
}

func (d *Dispatcher) cmdSchedules(ctx context.Context, req *Request) error {
	schedules, err := d.store.Schedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	if len(schedules) == 0 {
		d.reply(ctx, req.Chat.ChatID, "No schedules configured.")
		return nil
	}

	var b strings.Builder
	b.WriteString(tghtml.B("Schedules").String())
	for _, s := range schedules {
		state := "on"
		if !s.Enabled {
			state = "off"
		}
		fmt.Fprintf(&b, "\n#%d [%s] %s UTC — %s | %s | %s/%s/%s",
			s.ID, state, s.TimeUTC,
			tghtml.Esc(s.Countries), tghtml.Esc(s.Topics),
			tghtml.Esc(s.Horizon), tghtml.Esc(s.Depth), tghtml.Esc(s.Language))
		runs, err := d.store.RecentRuns(ctx, s.ID, 1)
		if err != nil {
			return fmt.Errorf("recent runs for schedule %d: %w", s.ID, err)
		}
		if len(runs) > 0 {
			r := runs[0]
			fmt.Fprintf(&b, "\n    last run: %s %s — %s", r.RunDateUTC, r.RunTimeUTC, r.Status)
			if r.ErrorText != "" {
				fmt.Fprintf(&b, " (%s)", tghtml.Esc(r.ErrorText))
			}
		}
	}
	d.reply(ctx, req.Chat.ChatID, b.String())
	return nil
}

func (d *Dispatcher) cmdSubscribers(ctx context.Context, req *Request) error {
	n, err := d.store.ActiveSubscriberCount(ctx)
	if err != nil {
		return fmt.Errorf("subscriber count: %w", err)
	}
	d.reply(ctx, req.Chat.ChatID, fmt.Sprintf("Active subscribers: %d", n))
	return nil
}

func (d *Dispatcher) cmdRunNow(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		d.reply(ctx, req.Chat.ChatID, "Usage: /run_now <schedule_id> [all]")
		return nil
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		d.reply(ctx, req.Chat.ChatID, fmt.Sprintf("Invalid schedule id %q.", req.Args[0]))
		return nil
	}
	all := len(req.Args) > 1 && strings.EqualFold(req.Args[1], "all")

	target := "you only"
	if all {
		target = "all subscribers"
	}
	d.reply(ctx, req.Chat.ChatID, fmt.Sprintf("Starting run for schedule %d (delivery: %s)…", id, target))

	// The runner reports completion or failure back to the invoker.
	_, err = d.runs.Run(ctx, id, runner.Trigger{Manual: true, All: all, Invoker: req.Chat.ChatID})
	if err != nil {
		d.log.Warn("manual run failed", logx.Int64("schedule_id", id), logx.Err(err))
	}
	return nil
}
