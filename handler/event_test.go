package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/handler/handlertest"
)

func TestNormalizeEvent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"connected", "connected"},
		{"  Connected\t", "connected"},
		{"SHUT_DOWN_STARTED", "shut_down_started"},
	}
	for _, c := range cases {
		if got := handler.NormalizeEvent(c.in); got != c.want {
			t.Errorf("NormalizeEvent(%q): want %q, got %q", c.in, c.want, got)
		}
	}
}

func TestTrigger(t *testing.T) {
	ctx := context.Background()
	bad := errors.New("kita")
	var got []any
	h := handler.New("test", newEcho)
	h.On("Connected", func(e *echo, ctx context.Context, p handler.Payload) error {
		got = append(got, p["n"])
		return bad
	})
	h.On("connected ", func(e *echo, ctx context.Context, p handler.Payload) error {
		got = append(got, p["n"])
		return nil
	})
	h.On("disconnected", func(e *echo, ctx context.Context, p handler.Payload) error {
		got = append(got, "never")
		return nil
	})
	robo := handlertest.New("Switchboard", h)

	ok, err := h.Trigger(ctx, robo, "CONNECTED", handler.Payload{"n": 1})
	if !ok {
		t.Error("no subscribers")
	}
	if !errors.Is(err, bad) {
		t.Errorf("wrong error: %v", err)
	}
	if diff := cmp.Diff([]any{1, 1}, got); diff != "" {
		t.Errorf("wrong calls (-want +got):\n%s", diff)
	}
	if n := len(robo.Reported()); n != 1 {
		t.Errorf("wrong number of reported errors: %d", n)
	}
	if diff := cmp.Diff([]string{"connected", "disconnected"}, h.Events()); diff != "" {
		t.Errorf("wrong events (-want +got):\n%s", diff)
	}

	ok, err = h.Trigger(ctx, robo, "loaded", nil)
	if ok || err != nil {
		t.Errorf("unsubscribed event: %t, %v", ok, err)
	}

	robo.SetTestMode(false)
	if _, err := h.Trigger(ctx, robo, "connected", nil); err != nil {
		t.Errorf("error escaped: %v", err)
	}
}

type greeter struct {
	*handler.Base
	log *[]string
}

func (g *greeter) Connected(ctx context.Context, p handler.Payload) error {
	*g.log = append(*g.log, g.Namespace())
	return nil
}

func TestTriggerAcrossHandlers(t *testing.T) {
	ctx := context.Background()
	var log []string
	mk := func(b *handler.Base) *greeter { return &greeter{Base: b, log: &log} }
	first := handler.New("first", mk)
	first.OnTo("connected", "Connected")
	second := handler.New("second", mk)
	second.OnTo("connected", "Connected")
	robo := handlertest.New("Switchboard", first, second)
	if err := robo.Trigger(ctx, "connected", nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"first", "second"}, log); diff != "" {
		t.Errorf("wrong order (-want +got):\n%s", diff)
	}
}
