// Package twitch implements an adapter for Twitch chat over TMI.
package twitch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gitlab.com/zephyrtronium/tmi"
	"golang.org/x/oauth2"

	"github.com/zephyrtronium/switchboard/bot"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/oauth"
)

// ErrNoWhisper is returned when sending a private message, which TMI cannot
// deliver.
var ErrNoWhisper = errors.New("twitch: private messages are not supported")

// Plugin is the Twitch adapter's registration.
var Plugin = bot.AdapterPlugin{
	Name: "twitch",
	Config: func(b *config.Builder) {
		b.Config("nick", config.Types(config.String), config.Required())
		b.Config("channels", config.Types(config.Strings))
		// Either token or client_id is needed.
		b.Config("token", config.Types(config.String))
		b.Config("client_id", config.Types(config.String))
		// Tokens from device authorization go in the robot's store unless
		// token_file is set.
		b.Config("token_file", config.Types(config.String))
	},
	New: func(robo *bot.Robot, cfg *config.Config) (bot.Adapter, error) {
		tokens, err := tokenSource(robo, cfg)
		if err != nil {
			return nil, err
		}
		return New(robo, tokens, config.Value[string](cfg, "nick"), config.Value[[]string](cfg, "channels")), nil
	},
}

// Namespace is the store namespace holding the adapter's credentials.
const Namespace = "adapter:twitch"

var endpoint = oauth2.Endpoint{
	DeviceAuthURL: "https://id.twitch.tv/oauth2/device",
	TokenURL:      "https://id.twitch.tv/oauth2/token",
	AuthStyle:     oauth2.AuthStyleInParams,
}

func tokenSource(robo *bot.Robot, cfg *config.Config) (oauth.TokenSource, error) {
	if tok := config.Value[string](cfg, "token"); tok != "" {
		return oauth.Static(strings.TrimPrefix(tok, "oauth:")), nil
	}
	id := config.Value[string](cfg, "client_id")
	if id == "" {
		return nil, errors.New("twitch adapter needs token or client_id")
	}
	secret := config.Value[string](robo.Config(), "robot.secret")
	if secret == "" {
		return nil, errors.New("twitch adapter needs robot.secret to encrypt its tokens")
	}
	key := oauth.DeriveKey([]byte(secret), "twitch")
	var st oauth.Storage = oauth.NewNamespaceStorage(robo.Store(Namespace), key)
	if file := config.Value[string](cfg, "token_file"); file != "" {
		f, err := oauth.NewFileAt(file, key)
		if err != nil {
			return nil, err
		}
		st = f
	}
	c := oauth2.Config{
		ClientID: id,
		Endpoint: endpoint,
		Scopes:   []string{"chat:read", "chat:edit"},
	}
	return oauth.NewDevice(c, st, nil, prompt(robo)), nil
}

// prompt asks the operator to authorize the adapter through the log and the
// authorization_required event, so that handlers can forward it elsewhere.
func prompt(robo bot.Receiver) oauth.DevicePrompt {
	return func(ctx context.Context, auth *oauth2.DeviceAuthResponse) {
		uri := auth.VerificationURIComplete
		if uri == "" {
			uri = auth.VerificationURI
		}
		slog.WarnContext(ctx, "twitch authorization required",
			slog.String("code", auth.UserCode),
			slog.String("uri", uri),
			slog.Time("expiry", auth.Expiry),
		)
		p := handler.Payload{"adapter": "twitch", "code": auth.UserCode, "uri": uri}
		if err := robo.Trigger(ctx, "authorization_required", p); err != nil {
			slog.ErrorContext(ctx, "authorization_required event failed", slog.Any("err", err))
		}
	}
}

// Robot is the part of a robot the adapter uses.
type Robot interface {
	bot.Receiver
	Enqueue(ctx context.Context, work func(context.Context))
}

// Adapter is a connection to Twitch chat.
type Adapter struct {
	robo     Robot
	tokens   oauth.TokenSource
	nick     string
	channels []string
	send     chan *tmi.Message
}

// New creates a Twitch adapter which joins the given channels.
func New(robo Robot, tokens oauth.TokenSource, nick string, channels []string) *Adapter {
	ch := make([]string, len(channels))
	for i, c := range channels {
		ch[i] = "#" + strings.ToLower(strings.TrimPrefix(c, "#"))
	}
	return &Adapter{
		robo:     robo,
		tokens:   tokens,
		nick:     strings.ToLower(nick),
		channels: ch,
		send:     make(chan *tmi.Message, 1),
	}
}

// Run connects to TMI and processes messages until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("couldn't obtain access token for TMI login: %w", err)
	}
	cfg := tmi.ConnectConfig{
		Dial:         new(tls.Dialer).DialContext,
		RetryWait:    tmi.RetryList(true, 0, time.Second, time.Minute, 5*time.Minute),
		Nick:         a.nick,
		Pass:         "oauth:" + tok.AccessToken,
		Capabilities: []string{"twitch.tv/commands", "twitch.tv/tags"},
		Timeout:      300 * time.Second,
	}
	recv := make(chan *tmi.Message, 8) // 8 is enough for on-connect msgs
	go a.loop(ctx, recv)
	tmi.Connect(ctx, cfg, tmi.Log(log.Default(), false), a.send, recv)
	a.robo.Trigger(context.WithoutCancel(ctx), "disconnected", handler.Payload{"adapter": "twitch"})
	return ctx.Err()
}

func (a *Adapter) loop(ctx context.Context, recv <-chan *tmi.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-recv:
			if !ok {
				return
			}
			switch msg.Command {
			case "PRIVMSG":
				a.receive(ctx, msg, false)
			case "WHISPER":
				a.receive(ctx, msg, true)
			case "GLOBALUSERSTATE":
				slog.InfoContext(ctx, "connected to TMI", slog.String("GLOBALUSERSTATE", msg.Tags))
			case "366": // End NAMES
				if len(msg.Params) > 1 {
					slog.InfoContext(ctx, "joined channel", slog.String("channel", msg.Params[1]))
				}
			case "376": // End MOTD
				if err := a.robo.Trigger(ctx, "connected", handler.Payload{"adapter": "twitch"}); err != nil {
					slog.ErrorContext(ctx, "connected event failed", slog.Any("err", err))
				}
				go a.join(ctx)
			}
		}
	}
}

// receive passes a message to the robot on a worker.
func (a *Adapter) receive(ctx context.Context, msg *tmi.Message, private bool) {
	if msg.Nick == a.nick {
		return
	}
	body, src, opts := fromTMI(msg, private)
	m := a.robo.NewMessage(body, src, opts...)
	a.robo.Enqueue(ctx, func(ctx context.Context) {
		if err := a.robo.Receive(ctx, m); err != nil {
			slog.ErrorContext(ctx, "message failed",
				slog.String("adapter", "twitch"),
				slog.String("id", m.ID()),
				slog.Any("err", err),
			)
		}
	})
}

// fromTMI converts a PRIVMSG or WHISPER to the parts of a message.
func fromTMI(m *tmi.Message, private bool) (string, message.Source, []message.Option) {
	id, _ := m.Tag("id")
	sender, _ := m.Tag("user-id")
	ts, _ := m.Tag("tmi-sent-ts")
	u := &message.User{
		ID:          sender,
		Name:        m.DisplayName(),
		MentionName: m.Nick,
		Metadata: map[string]string{
			"moderator": strconv.FormatBool(moderator(m)),
		},
	}
	src := message.Source{User: u, Room: m.To(), Private: private}
	if private {
		src.Room = ""
	}
	opts := []message.Option{message.WithID(id)}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		opts = append(opts, message.At(time.UnixMilli(ms)))
	}
	return m.Trailing, src, opts
}

func moderator(m *tmi.Message) bool {
	t, _ := m.Tag("mod")
	if t == "1" {
		return true
	}
	// The broadcaster seems to get mod=0, but their nick is equal to the
	// channel name.
	to := m.To()
	return len(to) > 1 && to[0] == '#' && to[1:] == m.Nick
}

func (a *Adapter) join(ctx context.Context) {
	ls := a.channels
	burst := 20
	for len(ls) > 0 {
		l := ls[:min(burst, len(ls))]
		ls = ls[len(l):]
		msg := tmi.Message{
			Command: "JOIN",
			Params:  []string{strings.Join(l, ",")},
		}
		select {
		case <-ctx.Done():
			return
		case a.send <- &msg:
			// do nothing
		}
		if len(ls) > 0 {
			// Per https://dev.twitch.tv/docs/irc/#rate-limits we get 20 join
			// attempts per ten seconds. Use a slightly longer delay to ensure
			// we don't get globaled by clock drift.
			time.Sleep(11 * time.Second)
		}
	}
}

// Send sends PRIVMSGs to the target's channel.
func (a *Adapter) Send(ctx context.Context, to message.Source, texts ...string) error {
	if to.Private || to.Room == "" {
		return ErrNoWhisper
	}
	for _, text := range texts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a.send <- tmi.Privmsg(to.Room, text):
		}
	}
	return nil
}

// Mention mentions a user by login.
func (a *Adapter) Mention(u *message.User) string {
	return "@" + u.Mention()
}
