package info_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/handler/handlertest"
	"github.com/zephyrtronium/switchboard/handlers/info"
	"github.com/zephyrtronium/switchboard/httproute"
	"github.com/zephyrtronium/switchboard/message"
)

func other() handler.Plugin {
	h := handler.New("band", func(b *handler.Base) *handler.Base { return b })
	h.Route(`^practice`, func(b *handler.Base, ctx context.Context, r *handler.Response) error { return nil })
	h.On("Loaded", func(b *handler.Base, ctx context.Context, p handler.Payload) error { return nil })
	return h
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	robo := handlertest.New("Switchboard", info.New(), other())
	u := &message.User{ID: "1", Name: "Nijika"}
	if err := robo.Receive(ctx, robo.Message("Switchboard: info", u, "kessoku")); err != nil {
		t.Fatal(err)
	}
	want := []string{"Switchboard is running on an unknown adapter with 2 handlers."}
	if diff := cmp.Diff(want, robo.Replies()); diff != "" {
		t.Errorf("wrong reply (-want +got):\n%s", diff)
	}
}

func TestPage(t *testing.T) {
	plugins := []handler.Plugin{info.New(), other()}
	robo := handlertest.New("Switchboard", plugins...)
	mux := http.NewServeMux()
	if err := httproute.Compile(mux, robo, plugins, nil); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/switchboard/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wrong status %d", resp.StatusCode)
	}
	var got info.Report
	if err := json.UnmarshalRead(resp.Body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Switchboard" || got.MentionName != "Switchboard" {
		t.Errorf("wrong names: %+v", got)
	}
	want := []info.Handler{
		{Namespace: "info", Routes: 1, HTTP: 1},
		{Namespace: "band", Routes: 1, Events: []string{"loaded"}},
	}
	if diff := cmp.Diff(want, got.Handlers); diff != "" {
		t.Errorf("wrong handlers (-want +got):\n%s", diff)
	}
}
