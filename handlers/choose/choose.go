// Package choose implements a handler which picks among options given in chat.
package choose

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/zephyrtronium/pick"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
)

// Choose picks options.
type Choose struct {
	*handler.Base
}

// New creates the choose handler.
func New() *handler.Handler[*Choose] {
	h := handler.New("choose", func(b *handler.Base) *Choose { return &Choose{b} })
	h.Config("max_options", config.Types(config.Range(1, 1000)), config.Default(50))
	h.RouteTo(`^(?:choose|pick)\s+(.+)$`, "Chat",
		handler.Command(),
		handler.Help("choose A, B, C", "Picks one of the options."),
		handler.Help("choose A:3, B:1", "Picks one of the options, favoring those with larger weights."),
	)
	return h
}

var (
	separator = regexp.MustCompile(`\s*,\s*|\s+or\s+`)
	weighted  = regexp.MustCompile(`^(.*?)\s*:\s*(\d+)$`)
)

// Options parses a list of options separated by commas or "or", each with an
// optional ":weight" suffix. Repeated options accumulate weight. Options with
// zero weight are dropped.
func Options(s string) (map[string]int, error) {
	r := make(map[string]int)
	for _, opt := range separator.Split(strings.TrimSpace(s), -1) {
		opt = strings.TrimSpace(opt)
		w := 1
		if m := weighted.FindStringSubmatch(opt); m != nil {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, fmt.Errorf("bad weight for %q: %w", m[1], err)
			}
			opt, w = m[1], n
		}
		if opt == "" || w == 0 {
			continue
		}
		r[opt] += w
	}
	return r, nil
}

// Chat replies with a choice.
func (c *Choose) Chat(ctx context.Context, r *handler.Response) error {
	opts, err := Options(r.MatchData()[1])
	if err != nil {
		return r.ReplyWithMention(ctx, "I couldn't read those options.")
	}
	limit := config.Value[int](c.Config, "max_options")
	switch {
	case len(opts) == 0:
		return r.ReplyWithMention(ctx, "There's nothing to choose from.")
	case limit > 0 && len(opts) > limit:
		return r.ReplyWithMention(ctx, fmt.Sprintf("That's too many options. I can choose from at most %d.", limit))
	}
	d := pick.New(pick.FromMap(opts))
	return r.ReplyWithMention(ctx, fmt.Sprintf("I choose %s.", d.Pick(rand.Uint32())))
}
