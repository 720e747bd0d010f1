// Package handler defines handlers: the units which respond to chat messages,
// HTTP requests, and events on behalf of a robot.
package handler

import (
	"context"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/store"
)

// Robot is the view of the running robot available to handlers.
type Robot interface {
	// Name is the robot's display name.
	Name() string
	// MentionName is the name by which users address the robot.
	MentionName() string
	// Alias is an optional prefix which also addresses the robot.
	Alias() string

	// Send sends messages to a target.
	Send(ctx context.Context, to message.Source, texts ...string) error
	// SendWithMention sends messages to a target, mentioning its user.
	SendWithMention(ctx context.Context, to message.Source, texts ...string) error
	// Trigger triggers an event on every handler.
	Trigger(ctx context.Context, name string, payload Payload) error

	// Config is the robot's root configuration.
	Config() *config.Config
	// Store returns the storage for a namespace.
	Store(namespace string) *store.Namespace
	// Auth is the robot's authorization groups.
	Auth() Authorizer
	// Users is the robot's user directory.
	Users() Directory
	// Hooks returns the hooks applied to every route. It may be nil.
	Hooks() *Hooks
	// Plugins returns the robot's handlers in registration order.
	Plugins() []Plugin

	// ReportError passes an error to the robot's error handler.
	ReportError(ctx context.Context, err error, meta map[string]any)
	// TestMode reports whether callback errors should be returned to callers
	// rather than only reported.
	TestMode() bool
	// Async reports whether routes should run on the robot's worker pool.
	Async() bool
	// Enqueue runs f on the robot's worker pool.
	Enqueue(ctx context.Context, f func(context.Context))
}

// Authorizer manages authorization groups.
type Authorizer interface {
	// InGroup reports whether a user belongs to a group.
	InGroup(ctx context.Context, user, group string) (bool, error)
	// IsAdmin reports whether a user is a robot administrator.
	IsAdmin(ctx context.Context, user string) bool
	// Add adds a user to a group on behalf of requester. The result reports
	// whether the user was not already a member.
	Add(ctx context.Context, requester, user, group string) (bool, error)
	// Remove removes a user from a group on behalf of requester. The result
	// reports whether the user was a member.
	Remove(ctx context.Context, requester, user, group string) (bool, error)
	// Groups lists every group, mapped to its members.
	Groups(ctx context.Context) (map[string][]string, error)
	// Members lists the members of a group.
	Members(ctx context.Context, group string) ([]string, error)
}

// Directory finds users the robot has seen.
type Directory interface {
	FindUser(ctx context.Context, id string) (*message.User, error)
	FindUserByName(ctx context.Context, name string) (*message.User, error)
	FindUserByMentionName(ctx context.Context, name string) (*message.User, error)
}
