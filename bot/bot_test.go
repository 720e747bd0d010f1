package bot_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/switchboard/bot"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
)

// fake is an adapter which records sent messages.
type fake struct {
	mu    sync.Mutex
	sent  []string
	downs int
}

func (f *fake) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fake) Send(ctx context.Context, to message.Source, texts ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, texts...)
	return nil
}

func (f *fake) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs++
	return nil
}

func (f *fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func fakePlugin(f *fake) bot.AdapterPlugin {
	return bot.AdapterPlugin{
		Name: "fake",
		Config: func(b *config.Builder) {
			b.Config("token", config.Types(config.String))
		},
		New: func(robo *bot.Robot, cfg *config.Config) (bot.Adapter, error) {
			return f, nil
		},
	}
}

type echo struct {
	*handler.Base
}

func (e *echo) Echo(ctx context.Context, r *handler.Response) error {
	return r.Reply(ctx, r.MatchData()[1])
}

func (e *echo) ID(ctx context.Context, r *handler.Request) error {
	return r.Write("id is " + r.Param("id"))
}

func newRobot(t *testing.T, f *fake, settings map[string]any, plugins ...handler.Plugin) *bot.Robot {
	t.Helper()
	reg := bot.NewRegistry()
	reg.RegisterAdapter(fakePlugin(f))
	for _, p := range plugins {
		reg.RegisterHandler(p)
	}
	cfg := reg.Config().Build()
	base := map[string]any{
		"robot": map[string]any{"adapter": "fake", "test": true},
		"http":  map[string]any{"host": "127.0.0.1", "port": 0},
	}
	if err := cfg.Apply(base); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Apply(settings); err != nil {
		t.Fatal(err)
	}
	robo, err := bot.New(context.Background(), reg, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { robo.Close() })
	return robo
}

func echoHandler() *handler.Handler[*echo] {
	h := handler.New("echo", func(b *handler.Base) *echo { return &echo{b} })
	h.RouteTo(`^echo\s+(.+)`, "Echo", handler.Command())
	h.HTTP().GetTo("/things/:id", "ID")
	return h
}

func TestReceive(t *testing.T) {
	ctx := context.Background()
	f := new(fake)
	robo := newRobot(t, f, nil, echoHandler())
	src := message.Source{User: &message.User{ID: "1", Name: "Bocchi"}, Room: "kessoku"}
	if err := robo.Receive(ctx, robo.NewMessage("Switchboard: echo hello world", src)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello world"}, f.Sent()); diff != "" {
		t.Errorf("wrong messages (-want +got):\n%s", diff)
	}
	u, err := robo.Users().FindUser(ctx, "1")
	if err != nil {
		t.Fatalf("sender wasn't recorded: %v", err)
	}
	if u.Name != "Bocchi" {
		t.Errorf("wrong user recorded: %+v", u)
	}
}

func TestUnhandled(t *testing.T) {
	ctx := context.Background()
	var got []string
	watch := handler.New("watch", func(b *handler.Base) *handler.Base { return b })
	watch.On("unhandled_message", func(b *handler.Base, ctx context.Context, p handler.Payload) error {
		got = append(got, p["message"].(*message.Message).Body())
		return nil
	})
	robo := newRobot(t, new(fake), nil, echoHandler(), watch)
	src := message.Source{Room: "kessoku"}
	if err := robo.Receive(ctx, robo.NewMessage("echo but not addressed", src)); err != nil {
		t.Fatal(err)
	}
	if err := robo.Receive(ctx, robo.NewMessage("Switchboard: echo addressed", src)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"echo but not addressed"}, got); diff != "" {
		t.Errorf("wrong unhandled messages (-want +got):\n%s", diff)
	}
}

func TestSendWithMention(t *testing.T) {
	ctx := context.Background()
	f := new(fake)
	robo := newRobot(t, f, nil)
	u := &message.User{ID: "1", Name: "Bocchi", MentionName: "guitarhero"}
	if err := robo.SendWithMention(ctx, message.Source{User: u, Room: "kessoku"}, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := robo.SendWithMention(ctx, message.Source{User: u, Private: true}, "psst"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"guitarhero: hi", "psst"}, f.Sent()); diff != "" {
		t.Errorf("wrong messages (-want +got):\n%s", diff)
	}
}

func TestErrorHandler(t *testing.T) {
	ctx := context.Background()
	var got []map[string]any
	onError := func(ctx context.Context, err error, meta map[string]any) {
		got = append(got, meta)
	}
	h := handler.New("broken", func(b *handler.Base) *handler.Base { return b })
	h.Route(`.`, func(b *handler.Base, ctx context.Context, r *handler.Response) error {
		return errors.New("oops")
	})
	settings := map[string]any{"robot": map[string]any{"test": false, "error_handler": onError}}
	robo := newRobot(t, new(fake), settings, h)
	if err := robo.Receive(ctx, robo.NewMessage("anything", message.Source{Room: "kessoku"})); err != nil {
		t.Errorf("error returned outside test mode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("wrong number of reported errors: %v", got)
	}
	if got[0]["handler"] != "broken" {
		t.Errorf("wrong handler in metadata: %v", got[0])
	}
}

func TestTestModeErrors(t *testing.T) {
	ctx := context.Background()
	h := handler.New("broken", func(b *handler.Base) *handler.Base { return b })
	h.Route(`.`, func(b *handler.Base, ctx context.Context, r *handler.Response) error {
		return errors.New("oops")
	})
	robo := newRobot(t, new(fake), nil, h)
	if err := robo.Receive(ctx, robo.NewMessage("anything", message.Source{Room: "kessoku"})); err == nil {
		t.Error("no error in test mode")
	}
}

func TestNewErrors(t *testing.T) {
	t.Run("adapter", func(t *testing.T) {
		reg := bot.NewRegistry()
		reg.RegisterAdapter(fakePlugin(new(fake)))
		cfg := reg.Config().Build()
		if err := cfg.Set("robot.adapter", "irc"); err != nil {
			t.Fatal(err)
		}
		_, err := bot.New(context.Background(), reg, cfg)
		if !errors.Is(err, bot.ErrUnknownAdapter) {
			t.Errorf("wrong error: %v", err)
		}
	})
	t.Run("required", func(t *testing.T) {
		h := handler.New("weather", func(b *handler.Base) *handler.Base { return b })
		h.Builder().Config("api", config.Types(config.String), config.Required())
		reg := bot.NewRegistry()
		reg.RegisterAdapter(fakePlugin(new(fake)))
		reg.RegisterHandler(h)
		cfg := reg.Config().Build()
		if err := cfg.Set("robot.adapter", "fake"); err != nil {
			t.Fatal(err)
		}
		_, err := bot.New(context.Background(), reg, cfg)
		var re *config.RequiredError
		if !errors.As(err, &re) {
			t.Fatalf("wrong error: %v", err)
		}
		want := "handler weather is missing required configuration attribute weather.api"
		if err.Error() != want {
			t.Errorf("wrong message: want %q, got %q", want, err.Error())
		}
	})
}

func TestDuplicateRegistration(t *testing.T) {
	t.Run("handler", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("no panic for duplicate handler")
			}
		}()
		reg := bot.NewRegistry()
		reg.RegisterHandler(echoHandler())
		reg.RegisterHandler(echoHandler())
	})
	t.Run("adapter", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("no panic for duplicate adapter")
			}
		}()
		reg := bot.NewRegistry()
		reg.RegisterAdapter(fakePlugin(new(fake)))
		reg.RegisterAdapter(fakePlugin(new(fake)))
	})
	t.Run("colon", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("no panic for handler namespace with a colon")
			}
		}()
		reg := bot.NewRegistry()
		reg.RegisterHandler(handler.New("adapter:twitch", func(b *handler.Base) *echo { return &echo{b} }))
	})
}

func TestRun(t *testing.T) {
	var mu sync.Mutex
	var events []string
	lifecycle := handler.New("lifecycle", func(b *handler.Base) *handler.Base { return b })
	for _, ev := range []string{"loaded", "shut_down_started", "shut_down_complete"} {
		lifecycle.On(ev, func(b *handler.Base, ctx context.Context, p handler.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
			return nil
		})
	}
	f := new(fake)
	robo := newRobot(t, f, nil, echoHandler(), lifecycle)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- robo.Run(ctx) }()
	select {
	case <-robo.Ready():
	case err := <-done:
		t.Fatalf("robot stopped early: %v", err)
	}

	base := "http://" + robo.Addr().String()
	resp, err := http.Get(base + "/things/42")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(b) != "id is 42" {
		t.Errorf("wrong response: %d %q", resp.StatusCode, b)
	}
	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "switchboard_http_latency") {
		t.Errorf("metrics missing HTTP latency:\n%s", b)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("robot stopped with error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"loaded", "shut_down_started", "shut_down_complete"}, events); diff != "" {
		t.Errorf("wrong events (-want +got):\n%s", diff)
	}
	if f.downs != 1 {
		t.Errorf("adapter shut down %d times", f.downs)
	}
}
