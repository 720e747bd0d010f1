// Package authorization implements chat commands for managing authorization
// groups.
package authorization

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
)

// Admins is the reserved group of robot administrators.
const Admins = "admins"

// Authorization manages group membership.
type Authorization struct {
	*handler.Base
}

// New creates the authorization handler.
func New() *handler.Handler[*Authorization] {
	h := handler.New("authorization", func(b *handler.Base) *Authorization { return &Authorization{b} })
	h.RouteTo(`^auth\s+add\s+(.+)\s+(\S+)$`, "Add",
		handler.Command(),
		handler.RestrictTo(Admins),
		handler.Help("auth add USER GROUP", "Adds USER to authorization group GROUP."),
	)
	h.RouteTo(`^auth\s+remove\s+(.+)\s+(\S+)$`, "Remove",
		handler.Command(),
		handler.RestrictTo(Admins),
		handler.Help("auth remove USER GROUP", "Removes USER from authorization group GROUP."),
	)
	h.RouteTo(`^auth\s+list(?:\s+(\S+))?\s*$`, "List",
		handler.Command(),
		handler.RestrictTo(Admins),
		handler.Help("auth list", "Lists authorization groups and their members."),
		handler.Help("auth list GROUP", "Lists the members of authorization group GROUP."),
	)
	return h
}

// find looks up a user by ID, mention name, or display name.
func (a *Authorization) find(ctx context.Context, s string) *message.User {
	d := a.Robot.Users()
	if u, err := d.FindUser(ctx, s); err == nil {
		return u
	}
	if u, err := d.FindUserByMentionName(ctx, s); err == nil {
		return u
	}
	if u, err := d.FindUserByName(ctx, s); err == nil {
		return u
	}
	return nil
}

// target resolves the user and group of an add or remove command. If either
// is unusable, it replies and returns nil.
func (a *Authorization) target(ctx context.Context, r *handler.Response) (*message.User, string, error) {
	m := r.MatchData()
	who, group := strings.TrimPrefix(strings.TrimSpace(m[1]), "@"), handler.NormalizeGroup(m[2])
	if group == Admins {
		return nil, "", r.Reply(ctx, "Administrators can only be changed in the robot's configuration.")
	}
	u := a.find(ctx, who)
	if u == nil {
		return nil, "", r.Reply(ctx, fmt.Sprintf("No user was found with the identifier %q.", who))
	}
	return u, group, nil
}

// Add adds a user to a group.
func (a *Authorization) Add(ctx context.Context, r *handler.Response) error {
	u, group, err := a.target(ctx, r)
	if u == nil {
		return err
	}
	ok, err := a.Robot.Auth().Add(ctx, r.User().ID, u.ID, group)
	if err != nil {
		return fmt.Errorf("couldn't add %s to %s: %w", u.ID, group, err)
	}
	if !ok {
		return r.Reply(ctx, fmt.Sprintf("%s was already in %s.", u.Name, group))
	}
	a.Log.InfoContext(ctx, "added to group", slog.String("user", u.ID), slog.String("group", group), slog.String("by", r.User().ID))
	return r.Reply(ctx, fmt.Sprintf("%s was added to %s.", u.Name, group))
}

// Remove removes a user from a group.
func (a *Authorization) Remove(ctx context.Context, r *handler.Response) error {
	u, group, err := a.target(ctx, r)
	if u == nil {
		return err
	}
	ok, err := a.Robot.Auth().Remove(ctx, r.User().ID, u.ID, group)
	if err != nil {
		return fmt.Errorf("couldn't remove %s from %s: %w", u.ID, group, err)
	}
	if !ok {
		return r.Reply(ctx, fmt.Sprintf("%s was not in %s.", u.Name, group))
	}
	a.Log.InfoContext(ctx, "removed from group", slog.String("user", u.ID), slog.String("group", group), slog.String("by", r.User().ID))
	return r.Reply(ctx, fmt.Sprintf("%s was removed from %s.", u.Name, group))
}

// List lists groups and members.
func (a *Authorization) List(ctx context.Context, r *handler.Response) error {
	var all map[string][]string
	if g := r.MatchData()[1]; g != "" {
		g = handler.NormalizeGroup(g)
		m, err := a.Robot.Auth().Members(ctx, g)
		if err != nil {
			return fmt.Errorf("couldn't list members of %s: %w", g, err)
		}
		all = map[string][]string{g: m}
	} else {
		var err error
		all, err = a.Robot.Auth().Groups(ctx)
		if err != nil {
			return fmt.Errorf("couldn't list groups: %w", err)
		}
	}
	names := make([]string, 0, len(all))
	for g := range all {
		names = append(names, g)
	}
	slices.Sort(names)
	var lines []string
	for _, g := range names {
		if len(all[g]) == 0 {
			continue
		}
		members := make([]string, len(all[g]))
		for i, id := range all[g] {
			members[i] = id
			if u, err := a.Robot.Users().FindUser(ctx, id); err == nil {
				members[i] = u.Name
			}
		}
		lines = append(lines, g+": "+strings.Join(members, ", "))
	}
	if len(lines) == 0 {
		return r.Reply(ctx, "There are no authorization groups yet.")
	}
	return r.Reply(ctx, lines...)
}
