package help_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/handler/handlertest"
	"github.com/zephyrtronium/switchboard/handlers/help"
	"github.com/zephyrtronium/switchboard/httproute"
	"github.com/zephyrtronium/switchboard/message"
)

func other() handler.Plugin {
	h := handler.New("band", func(b *handler.Base) *handler.Base { return b })
	noop := func(b *handler.Base, ctx context.Context, r *handler.Response) error { return nil }
	h.Route(`^practice`, noop, handler.Command(), handler.Help("practice", "Starts band practice."))
	h.Route(`guitar`, noop, handler.Help("...guitar...", "Reacts to guitars."))
	h.Route(`^lock`, noop, handler.Command(), handler.RestrictTo("Band"), handler.Help("lock", "Locks the studio."))
	return h
}

var bocchi = &message.User{ID: "1", Name: "Bocchi"}

func TestChat(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		want  []string
		privy bool
	}{
		{
			name: "all",
			body: "Switchboard: help",
			want: []string{
				"Switchboard: help - Lists help for every command.",
				"Switchboard: help QUERY - Lists help for commands matching QUERY.",
				"Switchboard: practice - Starts band practice.",
				"...guitar... - Reacts to guitars.",
				"Switchboard: lock - Locks the studio. (restricted to band)",
			},
			privy: true,
		},
		{
			name:  "query",
			body:  "Switchboard: help GUITAR",
			want:  []string{"...guitar... - Reacts to guitars."},
			privy: true,
		},
		{
			name: "none",
			body: "Switchboard: help drums",
			want: []string{`No help found for "drums".`},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			robo := handlertest.New("Switchboard", help.New(), other())
			if err := robo.Receive(ctx, robo.Message(c.body, bocchi, "kessoku")); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, robo.Replies()); diff != "" {
				t.Errorf("wrong help (-want +got):\n%s", diff)
			}
			sent := robo.Sent()
			if len(sent) != 1 {
				t.Fatalf("wrong number of sends: %d", len(sent))
			}
			if sent[0].To.Private != c.privy {
				t.Errorf("wrong privacy: want %t, got %t", c.privy, sent[0].To.Private)
			}
		})
	}
}

func TestPage(t *testing.T) {
	plugins := []handler.Plugin{help.New(), other()}
	robo := handlertest.New("Switchboard", plugins...)
	mux := http.NewServeMux()
	if err := httproute.Compile(mux, robo, plugins, nil); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/help?q=practice")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("wrong content type %q", got)
	}
	page := string(b)
	for _, want := range []string{"<h1>Switchboard</h1>", "<h2>band</h2>", "<code>Switchboard: practice</code> Starts band practice."} {
		if !strings.Contains(page, want) {
			t.Errorf("page is missing %q:\n%s", want, page)
		}
	}
	if strings.Contains(page, "guitar") {
		t.Errorf("page contains entries not matching the query:\n%s", page)
	}
}
