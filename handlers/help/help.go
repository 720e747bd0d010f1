// Package help implements a handler which documents the routes of every
// handler in chat and over HTTP.
package help

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/russross/blackfriday/v2"

	"github.com/zephyrtronium/switchboard/handler"
)

// Help lists help entries.
type Help struct {
	*handler.Base
}

// New creates the help handler.
func New() *handler.Handler[*Help] {
	h := handler.New("help", func(b *handler.Base) *Help { return &Help{b} })
	h.RouteTo(`^help(?:\s+(.+))?$`, "Chat",
		handler.Command(),
		handler.Help("help", "Lists help for every command."),
		handler.Help("help QUERY", "Lists help for commands matching QUERY."),
	)
	h.HTTP().GetTo("/help", "Page")
	return h
}

// Entry is a help entry with the route it documents.
type Entry struct {
	handler.HelpEntry
	Handler string
	Command bool
	Groups  []string
}

// Entries collects the help entries of every handler, optionally filtered by
// a case-insensitive query on usage and description.
func Entries(robo handler.Robot, query string) []Entry {
	query = strings.ToLower(strings.TrimSpace(query))
	var r []Entry
	for _, p := range robo.Plugins() {
		for _, route := range p.Routes() {
			for _, e := range route.Help() {
				if query != "" &&
					!strings.Contains(strings.ToLower(e.Usage), query) &&
					!strings.Contains(strings.ToLower(e.Description), query) {
					continue
				}
				r = append(r, Entry{
					HelpEntry: e,
					Handler:   p.Namespace(),
					Command:   route.IsCommand(),
					Groups:    route.Groups(),
				})
			}
		}
	}
	return r
}

func usage(robo handler.Robot, e Entry) string {
	if e.Command {
		return robo.MentionName() + ": " + e.Usage
	}
	return e.Usage
}

// line formats an entry for chat.
func line(robo handler.Robot, e Entry) string {
	s := usage(robo, e) + " - " + e.Description
	if len(e.Groups) != 0 {
		s += " (restricted to " + strings.Join(e.Groups, ", ") + ")"
	}
	return s
}

// Chat replies privately with matching help entries.
func (h *Help) Chat(ctx context.Context, r *handler.Response) error {
	q := ""
	if m := r.MatchData(); len(m) > 1 {
		q = m[1]
	}
	all := Entries(h.Robot, q)
	if len(all) == 0 {
		return r.Reply(ctx, fmt.Sprintf("No help found for %q.", q))
	}
	lines := make([]string, len(all))
	for i, e := range all {
		lines[i] = line(h.Robot, e)
	}
	return r.ReplyPrivately(ctx, lines...)
}

// Page serves help as an HTML page. The query parameter q filters entries.
func (h *Help) Page(ctx context.Context, r *handler.Request) error {
	all := Entries(h.Robot, r.Req.URL.Query().Get("q"))
	var md strings.Builder
	fmt.Fprintf(&md, "# %s\n\n", h.Robot.Name())
	last := ""
	for _, e := range all {
		if e.Handler != last {
			fmt.Fprintf(&md, "\n## %s\n\n", e.Handler)
			last = e.Handler
		}
		fmt.Fprintf(&md, "- `%s` %s", usage(h.Robot, e), e.Description)
		if len(e.Groups) != 0 {
			fmt.Fprintf(&md, " *(restricted to %s)*", strings.Join(e.Groups, ", "))
		}
		md.WriteByte('\n')
	}
	if len(all) == 0 {
		md.WriteString("No help found.\n")
	}
	r.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	r.Writer.WriteHeader(http.StatusOK)
	_, err := r.Writer.Write(blackfriday.Run([]byte(md.String())))
	return err
}
