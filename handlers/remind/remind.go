// Package remind implements a handler which sends reminders after a delay or
// on a cron schedule. Pending reminders are persisted in the handler's
// storage and rescheduled when the robot loads.
package remind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/store"
	"github.com/zephyrtronium/switchboard/syncmap"
	"github.com/zephyrtronium/switchboard/timer"
)

// Reminder is a persisted reminder.
type Reminder struct {
	ID string `json:"id"`
	// At is the time a one-shot reminder fires.
	At time.Time `json:"at,omitzero"`
	// Cron is the schedule of a repeating reminder.
	Cron    string `json:"cron,omitzero"`
	Text    string `json:"text"`
	Room    string `json:"room,omitzero"`
	Private bool   `json:"private,omitzero"`
	User    *User  `json:"user,omitzero"`
}

// User is the persisted form of the user who asked for a reminder.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MentionName string `json:"mention_name,omitzero"`
}

func (r *Reminder) source() message.Source {
	src := message.Source{Room: r.Room, Private: r.Private}
	if r.User != nil {
		src.User = &message.User{ID: r.User.ID, Name: r.User.Name, MentionName: r.User.MentionName}
	}
	return src
}

// Remind schedules reminders.
type Remind struct {
	*handler.Base
	timers *syncmap.Map[string, *timer.Timer]
}

// New creates the remind handler.
func New() *handler.Handler[*Remind] {
	timers := syncmap.New[string, *timer.Timer]()
	h := handler.New("remind", func(b *handler.Base) *Remind { return &Remind{Base: b, timers: timers} })
	h.Config("max_pending", config.Types(config.Range(1, 10000)), config.Default(100))
	h.RouteTo(`^remind\s+me\s+in\s+(\S+)\s+(?:to\s+)?(.+)$`, "In",
		handler.Command(),
		handler.Help("remind me in DURATION to TEXT", "Reminds you of TEXT after DURATION, like 10m or 1h30m."),
	)
	h.RouteTo(`^remind\s+(?:us|here)\s+on\s+"([^"]+)"\s+(?:to\s+)?(.+)$`, "On",
		handler.Command(),
		handler.Help(`remind here on "CRON" to TEXT`, "Repeats TEXT in this room on a cron schedule."),
	)
	h.RouteTo(`^reminders\s*$`, "List",
		handler.Command(),
		handler.Help("reminders", "Lists pending reminders."),
	)
	h.RouteTo(`^forget\s+reminder\s+(\S+)\s*$`, "Forget",
		handler.Command(),
		handler.Help("forget reminder ID", "Cancels a reminder."),
	)
	h.OnTo("loaded", "Load")
	h.OnTo("shut_down_started", "Stop")
	return h
}

// In schedules a one-shot reminder.
func (m *Remind) In(ctx context.Context, r *handler.Response) error {
	d, err := time.ParseDuration(r.MatchData()[1])
	if err != nil || d <= 0 {
		return r.ReplyWithMention(ctx, fmt.Sprintf("I don't know how long %q is.", r.MatchData()[1]))
	}
	u := r.User()
	rem := &Reminder{
		ID:      newID(),
		At:      time.Now().Add(d),
		Text:    r.MatchData()[2],
		Room:    r.Message.Source().Room,
		Private: r.Message.Source().Private,
	}
	if u != nil {
		rem.User = &User{ID: u.ID, Name: u.Name, MentionName: u.MentionName}
	}
	return m.create(ctx, r, rem, fmt.Sprintf("Okay, I'll remind you in %v. (reminder %s)", d, rem.ID))
}

// On schedules a repeating reminder for the room.
func (m *Remind) On(ctx context.Context, r *handler.Response) error {
	src := r.Message.Source()
	rem := &Reminder{
		ID:      newID(),
		Cron:    r.MatchData()[1],
		Text:    r.MatchData()[2],
		Room:    src.Room,
		Private: src.Private,
	}
	if src.Private && src.User != nil {
		rem.User = &User{ID: src.User.ID, Name: src.User.Name, MentionName: src.User.MentionName}
	}
	return m.create(ctx, r, rem, fmt.Sprintf("Okay, I'll repeat that on %q. (reminder %s)", rem.Cron, rem.ID))
}

func (m *Remind) create(ctx context.Context, r *handler.Response, rem *Reminder, ok string) error {
	m.prune()
	if limit := config.Value[int](m.Config, "max_pending"); limit > 0 && m.timers.Len() >= limit {
		return r.ReplyWithMention(ctx, "I have too many reminders already.")
	}
	if err := m.save(ctx, rem); err != nil {
		return err
	}
	if err := m.schedule(context.WithoutCancel(ctx), rem); err != nil {
		if err := m.Store.Delete(ctx, rem.ID); err != nil {
			return fmt.Errorf("couldn't delete unscheduled reminder: %w", err)
		}
		return r.ReplyWithMention(ctx, "That isn't a schedule I understand.")
	}
	return r.ReplyWithMention(ctx, ok)
}

// schedule starts the timer for a reminder.
func (m *Remind) schedule(ctx context.Context, rem *Reminder) error {
	if rem.Cron != "" {
		t, err := m.Cron(ctx, rem.Cron, func(ctx context.Context, t *timer.Timer) error {
			return m.Robot.Send(ctx, rem.source(), rem.Text)
		})
		if err != nil {
			return err
		}
		m.timers.Store(rem.ID, t)
		return nil
	}
	t := m.After(ctx, time.Until(rem.At), func(ctx context.Context, t *timer.Timer) error {
		if err := m.Store.Delete(ctx, rem.ID); err != nil {
			m.Log.ErrorContext(ctx, "couldn't delete reminder", slog.String("id", rem.ID), slog.Any("err", err))
		}
		return m.Robot.SendWithMention(ctx, rem.source(), "Reminder: "+rem.Text)
	})
	m.timers.Store(rem.ID, t)
	return nil
}

func (m *Remind) save(ctx context.Context, rem *Reminder) error {
	b, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("couldn't encode reminder: %w", err)
	}
	if err := m.Store.Set(ctx, rem.ID, b); err != nil {
		return fmt.Errorf("couldn't save reminder: %w", err)
	}
	return nil
}

// reminders loads every persisted reminder.
func (m *Remind) reminders(ctx context.Context) ([]*Reminder, error) {
	keys, err := m.Store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't list reminders: %w", err)
	}
	r := make([]*Reminder, 0, len(keys))
	for _, k := range keys {
		b, err := m.Store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("couldn't load reminder %s: %w", k, err)
		}
		var rem Reminder
		if err := json.Unmarshal(b, &rem); err != nil {
			m.Log.WarnContext(ctx, "discarding unreadable reminder", slog.String("id", k), slog.Any("err", err))
			continue
		}
		r = append(r, &rem)
	}
	return r, nil
}

// prune forgets timers which have finished.
func (m *Remind) prune() {
	m.timers.Sweep(func(id string, t *timer.Timer) bool {
		select {
		case <-t.Done():
			return true
		default:
			return false
		}
	})
}

func (m *Remind) cancel(id string) bool {
	t, ok := m.timers.Take(id)
	if ok {
		t.Stop()
	}
	return ok
}

// List replies with pending reminders.
func (m *Remind) List(ctx context.Context, r *handler.Response) error {
	all, err := m.reminders(ctx)
	if err != nil {
		return err
	}
	slices.SortFunc(all, func(a, b *Reminder) int { return strings.Compare(a.ID, b.ID) })
	var lines []string
	for _, rem := range all {
		switch {
		case rem.Cron != "":
			lines = append(lines, fmt.Sprintf("%s: %q on %q", rem.ID, rem.Text, rem.Cron))
		default:
			lines = append(lines, fmt.Sprintf("%s: %q at %s", rem.ID, rem.Text, rem.At.UTC().Format(time.RFC3339)))
		}
	}
	if len(lines) == 0 {
		return r.Reply(ctx, "There are no pending reminders.")
	}
	return r.Reply(ctx, lines...)
}

// Forget cancels a reminder.
func (m *Remind) Forget(ctx context.Context, r *handler.Response) error {
	id := r.MatchData()[1]
	_, err := m.Store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.ReplyWithMention(ctx, fmt.Sprintf("There's no reminder %s.", id))
	case err != nil:
		return fmt.Errorf("couldn't look up reminder %s: %w", id, err)
	}
	m.cancel(id)
	if err := m.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("couldn't delete reminder %s: %w", id, err)
	}
	return r.ReplyWithMention(ctx, fmt.Sprintf("Forgot reminder %s.", id))
}

// Load reschedules persisted reminders. One-shot reminders whose time has
// passed fire immediately.
func (m *Remind) Load(ctx context.Context, p handler.Payload) error {
	m.prune()
	all, err := m.reminders(ctx)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	for _, rem := range all {
		if _, ok := m.timers.Load(rem.ID); ok {
			continue
		}
		if err := m.schedule(ctx, rem); err != nil {
			m.Log.WarnContext(ctx, "couldn't reschedule reminder", slog.String("id", rem.ID), slog.Any("err", err))
		}
	}
	m.Log.InfoContext(ctx, "reminders loaded", slog.Int("count", m.timers.Len()))
	return nil
}

// Stop stops every timer. Persisted reminders remain for the next load.
func (m *Remind) Stop(ctx context.Context, p handler.Payload) error {
	m.timers.Sweep(func(id string, t *timer.Timer) bool {
		t.Stop()
		return true
	})
	return nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
