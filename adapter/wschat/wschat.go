// Package wschat implements an adapter for browser clients chatting over
// WebSocket connections to the robot's HTTP server.
package wschat

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/zephyrtronium/switchboard/bot"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
)

// Plugin is the WebSocket adapter's registration.
var Plugin = bot.AdapterPlugin{
	Name: "websocket",
	Config: func(b *config.Builder) {
		b.Config("path", config.Types(config.String), config.Default("/chat"))
		b.Config("origins", config.Types(config.Strings))
	},
	New: func(robo *bot.Robot, cfg *config.Config) (bot.Adapter, error) {
		var key []byte
		if secret := config.Value[string](robo.Config(), "robot.secret"); secret != "" {
			key = Key(secret)
		}
		a := New(robo, config.Value[[]string](cfg, "origins"), key)
		path := config.Value[string](cfg, "path")
		if err := mount(robo.Mux(), "GET "+path, a); err != nil {
			return nil, err
		}
		return a, nil
	},
}

func mount(mux *http.ServeMux, pattern string, h http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("couldn't mount chat at %s: %v", pattern, r)
		}
	}()
	mux.Handle(pattern, h)
	return nil
}

// Inbound is a chat message from a client.
type Inbound struct {
	Text string `json:"text"`
	// Room is the room the message is sent to. If empty, the connection's
	// room is used.
	Room    string `json:"room,omitzero"`
	Private bool   `json:"private,omitzero"`
}

// Outbound is a chat message to clients.
type Outbound struct {
	Room    string `json:"room,omitzero"`
	User    string `json:"user,omitzero"`
	Private bool   `json:"private,omitzero"`
	Text    string `json:"text"`
}

// GuestPrefix begins the user ID of every client which connects without a
// signed identity.
const GuestPrefix = "guest:"

// Key derives the key which signs client identities from the robot's secret.
func Key(secret string) []byte {
	k := make([]byte, 32)
	kr := hkdf.Expand(sha3.New256, []byte(secret), []byte("websocket.identity"))
	if _, err := io.ReadFull(kr, k); err != nil {
		panic(err)
	}
	return k
}

// Sign returns the signature a client presents to connect as the user with
// the given ID.
func Sign(key []byte, id string) string {
	m := hmac.New(sha3.New256, key)
	m.Write([]byte(id))
	return hex.EncodeToString(m.Sum(nil))
}

// Adapter serves chat over WebSocket connections.
// Clients connect with query parameters naming their user and room:
// id, sig, name, mention, and room. Each text frame is an [Inbound] JSON
// object.
//
// A client keeps its requested id only when sig is the [Sign] of that id.
// Otherwise its user ID is the id with [GuestPrefix] prepended, so
// unauthenticated clients never share an ID with configured users.
type Adapter struct {
	robo    bot.Receiver
	origins []string
	key     []byte

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type conn struct {
	ws   *websocket.Conn
	user *message.User
	room string
}

// New creates a WebSocket adapter. origins lists host patterns of
// cross-origin clients to accept. key verifies signed identities; if it is
// empty, every client is a guest.
func New(robo bot.Receiver, origins []string, key []byte) *Adapter {
	return &Adapter{
		robo:    robo,
		origins: origins,
		key:     key,
		conns:   make(map[*conn]struct{}),
	}
}

// Run waits for ctx to be canceled, then closes all connections.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.robo.Trigger(ctx, "connected", handler.Payload{"adapter": "websocket"}); err != nil {
		slog.ErrorContext(ctx, "connected event failed", slog.Any("err", err))
	}
	defer a.robo.Trigger(context.WithoutCancel(ctx), "disconnected", handler.Payload{"adapter": "websocket"})
	<-ctx.Done()
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.conns {
		c.ws.Close(websocket.StatusGoingAway, "shutting down")
	}
	return ctx.Err()
}

// ServeHTTP accepts a WebSocket connection and passes its messages to the
// robot until it closes.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	id, ok := a.identify(q.Get("id"), q.Get("sig"))
	if !ok {
		slog.WarnContext(ctx, "rejected chat connection with bad signature", slog.String("id", q.Get("id")), slog.String("remote", r.RemoteAddr))
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}
	u := &message.User{
		ID:          id,
		Name:        q.Get("name"),
		MentionName: q.Get("mention"),
	}
	if u.Name == "" {
		u.Name = strings.TrimPrefix(u.ID, GuestPrefix)
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: a.origins})
	if err != nil {
		slog.WarnContext(ctx, "couldn't accept chat connection", slog.Any("err", err))
		return
	}
	c := &conn{ws: ws, user: u, room: q.Get("room")}
	a.mu.Lock()
	a.conns[c] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.conns, c)
		a.mu.Unlock()
		ws.CloseNow()
	}()
	log := slog.With(slog.String("adapter", "websocket"), slog.String("user", u.ID))
	log.InfoContext(ctx, "client connected", slog.String("remote", r.RemoteAddr))
	for {
		typ, b, err := ws.Read(ctx)
		if err != nil {
			log.InfoContext(ctx, "client disconnected", slog.Any("err", err))
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var in Inbound
		if err := json.Unmarshal(b, &in); err != nil {
			log.WarnContext(ctx, "bad frame", slog.Any("err", err))
			continue
		}
		room := in.Room
		if room == "" {
			room = c.room
		}
		src := message.Source{User: u, Room: room, Private: in.Private}
		if err := a.robo.Receive(ctx, a.robo.NewMessage(in.Text, src)); err != nil {
			log.ErrorContext(ctx, "message failed", slog.Any("err", err))
		}
	}
}

// identify resolves the user ID for a connection requesting id with
// signature sig. It reports false if sig is present but invalid.
func (a *Adapter) identify(id, sig string) (string, bool) {
	if id == "" {
		id = uuid.NewString()
	}
	if sig == "" {
		return GuestPrefix + id, true
	}
	if len(a.key) == 0 {
		return "", false
	}
	want := Sign(a.key, id)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return id, true
}

// Send sends messages to every connection in the target room, or to the
// target user's connections for private messages.
func (a *Adapter) Send(ctx context.Context, to message.Source, texts ...string) error {
	var targets []*conn
	a.mu.Lock()
	for c := range a.conns {
		switch {
		case to.Private:
			if to.User != nil && c.user.ID == to.User.ID {
				targets = append(targets, c)
			}
		case c.room == to.Room:
			targets = append(targets, c)
		}
	}
	a.mu.Unlock()
	out := Outbound{Room: to.Room, Private: to.Private}
	if to.User != nil {
		out.User = to.User.ID
	}
	for _, text := range texts {
		out.Text = text
		b, err := json.Marshal(&out)
		if err != nil {
			return fmt.Errorf("couldn't encode message: %w", err)
		}
		for _, c := range targets {
			if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
				slog.WarnContext(ctx, "couldn't write to client", slog.String("user", c.user.ID), slog.Any("err", err))
			}
		}
	}
	return nil
}

// Mention mentions a user with an @.
func (a *Adapter) Mention(u *message.User) string {
	return "@" + u.Mention()
}

// Clients returns the number of connected clients.
func (a *Adapter) Clients() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}
