package users_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/users"
)

var dbcount atomic.Uint64

func testDB(t *testing.T) *users.DB {
	t.Helper()
	ctx := context.Background()
	k := dbcount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:users%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	if err := users.Init(ctx, pool); err != nil {
		t.Fatalf("couldn't init: %v", err)
	}
	db, err := users.Open(ctx, pool)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	all := []*message.User{
		{ID: "1", Name: "Bocchi", MentionName: "guitarhero", Metadata: map[string]string{"color": "pink"}},
		{ID: "2", Name: "Kita"},
	}
	for _, u := range all {
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("couldn't create %s: %v", u.Name, err)
		}
	}
	cases := []struct {
		name string
		find func(context.Context, string) (*message.User, error)
		arg  string
		want *message.User
	}{
		{"id", db.FindUser, "1", all[0]},
		{"name", db.FindUserByName, "bocchi", all[0]},
		{"mention", db.FindUserByMentionName, "GuitarHero", all[0]},
		{"mention-fallback", db.FindUserByMentionName, "kita", all[1]},
		{"missing-id", db.FindUser, "3", nil},
		{"missing-name", db.FindUserByName, "ryou", nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.find(ctx, c.arg)
			if c.want == nil {
				if !errors.Is(err, users.ErrNotFound) {
					t.Errorf("wrong error: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("wrong user (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if err := db.CreateUser(ctx, &message.User{ID: "1", Name: "Bocchi"}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateUser(ctx, &message.User{ID: "1", Name: "Hitori"}); err != nil {
		t.Fatal(err)
	}
	u, err := db.FindUser(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Name != "Hitori" {
		t.Errorf("user wasn't updated: %+v", u)
	}
}

func TestRooms(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	if _, err := db.FindRoom(ctx, "starry"); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("wrong error for missing room: %v", err)
	}
	want := users.Room{ID: "starry", Name: "STARRY"}
	if err := db.CreateRoom(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := db.FindRoom(ctx, "starry")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("wrong room: want %+v, got %+v", want, got)
	}
}
