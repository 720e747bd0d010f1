package handler

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
)

type subscription struct {
	name string
	call func(ctx context.Context, robo Robot, p Payload) error
}

// NormalizeEvent returns the canonical form of an event name.
func NormalizeEvent(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// NormalizeGroup returns the canonical form of an authorization group name.
func NormalizeGroup(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func trigger(ctx context.Context, robo Robot, namespace string, subs []*subscription, event string, p Payload) (bool, error) {
	var first error
	for _, s := range subs {
		err := s.call(ctx, robo, p)
		if err == nil {
			continue
		}
		robo.ReportError(ctx, err, map[string]any{
			"handler":  namespace,
			"event":    event,
			"callback": s.name,
		})
		if first == nil {
			first = err
		}
	}
	if !robo.TestMode() {
		first = nil
	}
	return len(subs) > 0, first
}
