package message

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// User is a chat user.
type User struct {
	// ID is the durable unique identifier of the user on the chat service.
	ID string
	// Name is the display name of the user.
	Name string
	// MentionName is the name used to address the user.
	// If empty, Name is used.
	MentionName string
	// Metadata is additional service-specific information about the user.
	Metadata map[string]string
}

// Mention returns the name used to address u.
func (u *User) Mention() string {
	if u.MentionName != "" {
		return u.MentionName
	}
	return u.Name
}

// Source is the origin of a message, and so also the destination of replies.
type Source struct {
	// User is the sender of the message. It may be nil for messages sent to
	// a room rather than in reply to a user.
	User *User
	// Room is the identifier of the room or channel of the message.
	// It may be empty for private messages.
	Room string
	// Private indicates whether the message is a direct message.
	Private bool
}

// Privately returns a copy of s targeting only its user.
func (s Source) Privately() Source {
	s.Private = true
	return s
}

// Message is a message received from a chat service.
// Messages are immutable.
type Message struct {
	id   string
	raw  string
	body string
	src  Source
	cmd  bool
	time time.Time
}

// Option is an option for creating a message.
type Option func(*Message)

// AddressedTo makes a message a command if it is addressed to one of names
// or begins with alias. The addressing is removed from the message body.
func AddressedTo(alias string, names ...string) Option {
	return func(m *Message) {
		if alias != "" {
			if s, ok := strings.CutPrefix(m.body, alias); ok {
				m.body = strings.TrimSpace(s)
				m.cmd = true
				return
			}
		}
		for _, name := range names {
			if name == "" {
				continue
			}
			if s, ok := parseCommand(name, m.body); ok {
				m.body = s
				m.cmd = true
				return
			}
		}
	}
}

// WithID sets the service's identifier for a message.
func WithID(id string) Option {
	return func(m *Message) {
		m.id = id
	}
}

// At sets the time a message was sent.
func At(t time.Time) Option {
	return func(m *Message) {
		m.time = t
	}
}

// New creates a message. Private messages are always commands.
func New(body string, src Source, opts ...Option) *Message {
	m := &Message{
		raw:  body,
		body: strings.TrimSpace(body),
		src:  src,
		cmd:  src.Private,
		time: time.Now(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ID returns the service's identifier for the message, if it has one.
func (m *Message) ID() string { return m.id }

// Raw returns the message text as received.
func (m *Message) Raw() string { return m.raw }

// Body returns the message text with any addressing to the bot removed.
func (m *Message) Body() string { return m.body }

// Source returns the origin of the message.
func (m *Message) Source() Source { return m.src }

// User returns the sender of the message. It may be nil.
func (m *Message) User() *User { return m.src.User }

// Command returns whether the message is addressed to the bot.
func (m *Message) Command() bool { return m.cmd }

// Time returns the time the message was sent.
func (m *Message) Time() time.Time { return m.time }

// Args returns the words of the body after the first, split at whitespace
// except within double quotes.
func (m *Message) Args() []string {
	a := fields(m.body)
	if len(a) == 0 {
		return nil
	}
	return a[1:]
}

// parseCommand finds name at the start or end of text. The result is the rest
// of the text.
func parseCommand(name, text string) (string, bool) {
	text = strings.TrimSpace(text)
	text, _ = strings.CutPrefix(text, "@")
	if len(text) < len(name) {
		return "", false
	}
	if strings.EqualFold(text[:len(name)], name) {
		text = text[len(name):]
		r, _ := utf8.DecodeRuneInString(text)
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			// Our name is a prefix of a word.
			return "", false
		}
		// Skip one colon or comma attached to the name, as in "name:".
		if r == ':' || r == ',' {
			text = text[1:]
		}
		return strings.TrimSpace(text), true
	}
	if strings.EqualFold(text[len(text)-len(name):], name) {
		text = text[:len(text)-len(name)]
		r, _ := utf8.DecodeLastRuneInString(text)
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			// Our name is a suffix of a word.
			return "", false
		}
		// Trim off after the preceding whitespace. There can be no preceding
		// whitespace in a case like "...name".
		text, _ = strings.CutSuffix(text, "@")
		k := strings.LastIndexFunc(text, unicode.IsSpace)
		if k < 0 {
			k = 0
		}
		return strings.TrimSpace(text[:k]), true
	}
	return "", false
}

// fields splits s at whitespace outside double quotes.
func fields(s string) []string {
	var r []string
	var b strings.Builder
	quoted, word := false, false
	for _, c := range s {
		switch {
		case c == '"':
			quoted = !quoted
			word = true
		case unicode.IsSpace(c) && !quoted:
			if word {
				r = append(r, b.String())
				b.Reset()
				word = false
			}
		default:
			b.WriteRune(c)
			word = true
		}
	}
	if word {
		r = append(r, b.String())
	}
	return r
}
