// Package shell implements an adapter which chats over standard input and
// output.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/zephyrtronium/switchboard/bot"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
)

// Plugin is the shell adapter's registration.
var Plugin = bot.AdapterPlugin{
	Name: "shell",
	Config: func(b *config.Builder) {
		b.Config("user", config.Types(config.String), config.Default("Shell User"))
		b.Config("room", config.Types(config.String), config.Default("shell"))
		b.Config("private", config.Types(config.Bool), config.Default(false))
	},
	New: func(robo *bot.Robot, cfg *config.Config) (bot.Adapter, error) {
		return New(robo, cfg, os.Stdin, os.Stdout), nil
	},
}

// Shell is a line-oriented chat with a single local user.
type Shell struct {
	robo bot.Receiver
	in   io.Reader
	user *message.User
	room string
	priv bool

	mu  sync.Mutex
	out io.Writer
}

// New creates a shell adapter reading from in and writing to out.
func New(robo bot.Receiver, cfg *config.Config, in io.Reader, out io.Writer) *Shell {
	name := config.Value[string](cfg, "user")
	return &Shell{
		robo: robo,
		in:   in,
		out:  out,
		user: &message.User{ID: "1", Name: name},
		room: config.Value[string](cfg, "room"),
		priv: config.Value[bool](cfg, "private"),
	}
}

// Run reads lines until the input ends, ctx is canceled, or the user types
// exit.
func (s *Shell) Run(ctx context.Context) error {
	if err := s.robo.Trigger(ctx, "connected", handler.Payload{"adapter": "shell"}); err != nil {
		slog.ErrorContext(ctx, "connected event failed", slog.Any("err", err))
	}
	defer s.robo.Trigger(context.WithoutCancel(ctx), "disconnected", handler.Payload{"adapter": "shell"})
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- sc.Err()
	}()
	s.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				s.prompt()
				continue
			case "exit", "quit":
				return nil
			}
			src := message.Source{User: s.user, Room: s.room, Private: s.priv}
			if s.priv {
				src.Room = ""
			}
			msg := s.robo.NewMessage(line, src)
			if err := s.robo.Receive(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "message failed", slog.String("adapter", "shell"), slog.Any("err", err))
			}
			s.prompt()
		}
	}
}

func (s *Shell) prompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s > ", s.user.Name)
}

// Send writes each text on its own line.
func (s *Shell) Send(ctx context.Context, to message.Source, texts ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, text := range texts {
		if _, err := fmt.Fprintf(s.out, "%s\n", text); err != nil {
			return fmt.Errorf("couldn't write message: %w", err)
		}
	}
	return nil
}

// Mention mentions a user with an @.
func (s *Shell) Mention(u *message.User) string {
	return "@" + u.Mention()
}
