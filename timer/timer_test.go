package timer_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zephyrtronium/switchboard/timer"
)

func wait(t *testing.T, tm *timer.Timer) {
	t.Helper()
	select {
	case <-tm.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timer didn't finish")
	}
}

func TestAfter(t *testing.T) {
	ctx := context.Background()
	var n atomic.Int32
	tm := timer.After(ctx, time.Millisecond, func(ctx context.Context, tm *timer.Timer) error {
		n.Add(1)
		return nil
	}, nil)
	wait(t, tm)
	if got := n.Load(); got != 1 {
		t.Errorf("wrong number of calls: %d", got)
	}
}

func TestEvery(t *testing.T) {
	ctx := context.Background()
	var n atomic.Int32
	tm := timer.Every(ctx, time.Millisecond, func(ctx context.Context, tm *timer.Timer) error {
		if n.Add(1) == 3 {
			tm.Stop()
		}
		return nil
	}, nil)
	wait(t, tm)
	if got := n.Load(); got != 3 {
		t.Errorf("wrong number of calls: %d", got)
	}
}

func TestStopBeforeFire(t *testing.T) {
	ctx := context.Background()
	var n atomic.Int32
	tm := timer.After(ctx, time.Hour, func(ctx context.Context, tm *timer.Timer) error {
		n.Add(1)
		return nil
	}, nil)
	tm.Stop()
	tm.Stop()
	wait(t, tm)
	if got := n.Load(); got != 0 {
		t.Errorf("stopped timer ran %d times", got)
	}
}

func TestContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tm := timer.Every(ctx, time.Hour, func(ctx context.Context, tm *timer.Timer) error {
		return nil
	}, nil)
	cancel()
	wait(t, tm)
}

func TestReport(t *testing.T) {
	cases := []struct {
		name string
		f    timer.Func
		want string
	}{
		{
			name: "error",
			f: func(ctx context.Context, tm *timer.Timer) error {
				return errors.New("bocchi")
			},
			want: "bocchi",
		},
		{
			name: "panic",
			f: func(ctx context.Context, tm *timer.Timer) error {
				panic("ryou")
			},
			want: "ryou",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			var got error
			var calls atomic.Int32
			f := func(ctx context.Context, tm *timer.Timer) error {
				calls.Add(1)
				return c.f(ctx, tm)
			}
			tm := timer.Every(ctx, time.Millisecond, f, func(err error) { got = err })
			wait(t, tm)
			if got == nil || !strings.Contains(got.Error(), c.want) {
				t.Errorf("wrong reported error: %v", got)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("timer continued after failure: %d calls", n)
			}
		})
	}
}

func TestCron(t *testing.T) {
	ctx := context.Background()
	if _, err := timer.Cron(ctx, "not a cron", nil, nil); err == nil {
		t.Error("no error for bad expression")
	}
	// Every second, using the optional seconds field.
	var n atomic.Int32
	tm, err := timer.Cron(ctx, "* * * * * * *", func(ctx context.Context, tm *timer.Timer) error {
		n.Add(1)
		tm.Stop()
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	wait(t, tm)
	if got := n.Load(); got != 1 {
		t.Errorf("wrong number of calls: %d", got)
	}
}
