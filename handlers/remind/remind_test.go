package remind_test

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/switchboard/handler/handlertest"
	"github.com/zephyrtronium/switchboard/handlers/remind"
	"github.com/zephyrtronium/switchboard/message"
)

var bocchi = &message.User{ID: "1", Name: "Bocchi", MentionName: "guitarhero"}

var idRE = regexp.MustCompile(`\(reminder (\w+)\)`)

// waitFor polls until the robot has sent n texts.
func waitFor(t *testing.T, robo *handlertest.Robot, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r := robo.Replies(); len(r) >= n {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d replies; have %q", n, robo.Replies())
	return nil
}

func TestIn(t *testing.T) {
	ctx := context.Background()
	robo := handlertest.New("Switchboard", remind.New())
	if err := robo.Receive(ctx, robo.Message("Switchboard: remind me in 50ms to tune the guitar", bocchi, "kessoku")); err != nil {
		t.Fatal(err)
	}
	r := waitFor(t, robo, 2)
	if !strings.HasPrefix(r[0], "@guitarhero Okay, I'll remind you in 50ms.") {
		t.Errorf("wrong acknowledgement %q", r[0])
	}
	if r[1] != "@guitarhero Reminder: tune the guitar" {
		t.Errorf("wrong reminder %q", r[1])
	}
	sent := robo.Sent()
	if sent[1].To.Room != "kessoku" || sent[1].To.User.ID != "1" {
		t.Errorf("reminder went to the wrong place: %+v", sent[1].To)
	}
	// The reminder is removed from storage after it fires.
	deadline := time.Now().Add(time.Second)
	for {
		keys, err := robo.Store("remind").Keys(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reminder still stored: %q", keys)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBadSchedules(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "duration",
			body: "Switchboard: remind me in forever to practice",
			want: `@guitarhero I don't know how long "forever" is.`,
		},
		{
			name: "negative",
			body: "Switchboard: remind me in -5m to practice",
			want: `@guitarhero I don't know how long "-5m" is.`,
		},
		{
			name: "cron",
			body: `Switchboard: remind here on "whenever" to practice`,
			want: "@guitarhero That isn't a schedule I understand.",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			robo := handlertest.New("Switchboard", remind.New())
			if err := robo.Receive(ctx, robo.Message(c.body, bocchi, "kessoku")); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{c.want}, robo.Replies()); diff != "" {
				t.Errorf("wrong reply (-want +got):\n%s", diff)
			}
			keys, err := robo.Store("remind").Keys(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != 0 {
				t.Errorf("bad reminder was stored: %q", keys)
			}
		})
	}
}

func TestListForget(t *testing.T) {
	ctx := context.Background()
	h := remind.New()
	robo := handlertest.New("Switchboard", h)
	defer robo.Trigger(ctx, "shut_down_started", nil)
	if err := robo.Receive(ctx, robo.Message(`Switchboard: remind here on "0 9 * * *" to practice`, bocchi, "kessoku")); err != nil {
		t.Fatal(err)
	}
	m := idRE.FindStringSubmatch(robo.Replies()[0])
	if m == nil {
		t.Fatalf("no reminder id in %q", robo.Replies()[0])
	}
	id := m[1]
	for _, body := range []string{"Switchboard: reminders", "Switchboard: forget reminder " + id, "Switchboard: forget reminder " + id, "Switchboard: reminders"} {
		if err := robo.Receive(ctx, robo.Message(body, bocchi, "kessoku")); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{
		`@guitarhero Okay, I'll repeat that on "0 9 * * *". (reminder ` + id + ")",
		id + `: "practice" on "0 9 * * *"`,
		"@guitarhero Forgot reminder " + id + ".",
		"@guitarhero There's no reminder " + id + ".",
		"There are no pending reminders.",
	}
	if diff := cmp.Diff(want, robo.Replies()); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	robo := handlertest.New("Switchboard", remind.New())
	rem := remind.Reminder{
		ID:   "overdue",
		At:   time.Now().Add(-time.Hour),
		Text: "take out the trash",
		Room: "starry",
		User: &remind.User{ID: "2", Name: "Nijika"},
	}
	b, err := json.Marshal(&rem)
	if err != nil {
		t.Fatal(err)
	}
	if err := robo.Store("remind").Set(ctx, rem.ID, b); err != nil {
		t.Fatal(err)
	}
	if err := robo.Store("remind").Set(ctx, "garbage", []byte("{")); err != nil {
		t.Fatal(err)
	}
	if err := robo.Trigger(ctx, "Loaded", nil); err != nil {
		t.Fatal(err)
	}
	r := waitFor(t, robo, 1)
	if diff := cmp.Diff([]string{"@Nijika Reminder: take out the trash"}, r); diff != "" {
		t.Errorf("wrong reminder (-want +got):\n%s", diff)
	}
	if got := robo.Sent()[0].To.Room; got != "starry" {
		t.Errorf("reminder sent to wrong room %q", got)
	}
}
