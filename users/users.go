// Package users persists the chat users and rooms a robot has seen.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-json-experiment/json"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
)

// ErrNotFound is returned when no user or room matches a lookup.
var ErrNotFound = errors.New("not found")

// DB is a user and room directory backed by an SQL database.
type DB struct {
	db *sqlitex.Pool
}

var _ handler.Directory = (*DB)(nil)

// Room is a chat room.
type Room struct {
	ID   string
	Name string
}

// Init initializes the directory in an SQL database.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	const q = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	mention TEXT NOT NULL,
	meta TEXT NOT NULL
) STRICT, WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS users_name ON users (name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS users_mention ON users (mention COLLATE NOCASE);
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
) STRICT, WITHOUT ROWID;
`
	return sqlitex.ExecuteScript(conn, q, nil)
}

// Open opens a directory in an SQL database initialized with Init.
func Open(ctx context.Context, db *sqlitex.Pool) (*DB, error) {
	return &DB{db: db}, nil
}

// CreateUser records a user, replacing any previous record with the same ID.
func (d *DB) CreateUser(ctx context.Context, u *message.User) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("couldn't encode user metadata: %w", err)
	}
	conn, err := d.db.Take(ctx)
	defer d.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to record user: %w", err)
	}
	const q = `INSERT INTO users (id, name, mention, meta) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name=excluded.name, mention=excluded.mention, meta=excluded.meta`
	opts := sqlitex.ExecOptions{Args: []any{u.ID, u.Name, u.MentionName, string(meta)}}
	if err := sqlitex.Execute(conn, q, &opts); err != nil {
		return fmt.Errorf("couldn't record user: %w", err)
	}
	return nil
}

// FindUser finds a user by ID.
func (d *DB) FindUser(ctx context.Context, id string) (*message.User, error) {
	return d.findUser(ctx, `SELECT id, name, mention, meta FROM users WHERE id=?`, id)
}

// FindUserByName finds a user by display name, ignoring case.
func (d *DB) FindUserByName(ctx context.Context, name string) (*message.User, error) {
	return d.findUser(ctx, `SELECT id, name, mention, meta FROM users WHERE name=? COLLATE NOCASE LIMIT 1`, name)
}

// FindUserByMentionName finds a user by mention name, ignoring case.
// Users without a mention name are found by display name.
func (d *DB) FindUserByMentionName(ctx context.Context, name string) (*message.User, error) {
	const q = `SELECT id, name, mention, meta FROM users
		WHERE (CASE mention WHEN '' THEN name ELSE mention END)=? COLLATE NOCASE LIMIT 1`
	return d.findUser(ctx, q, name)
}

func (d *DB) findUser(ctx context.Context, q, arg string) (*message.User, error) {
	conn, err := d.db.Take(ctx)
	defer d.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to find user: %w", err)
	}
	var u *message.User
	var meta string
	opts := sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(st *sqlite.Stmt) error {
			u = &message.User{
				ID:          st.ColumnText(0),
				Name:        st.ColumnText(1),
				MentionName: st.ColumnText(2),
			}
			meta = st.ColumnText(3)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, q, &opts); err != nil {
		return nil, fmt.Errorf("couldn't find user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
		return nil, fmt.Errorf("couldn't decode metadata of user %s: %w", u.ID, err)
	}
	return u, nil
}

// CreateRoom records a room, replacing any previous record with the same ID.
func (d *DB) CreateRoom(ctx context.Context, r Room) error {
	conn, err := d.db.Take(ctx)
	defer d.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to record room: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{r.ID, r.Name}}
	err = sqlitex.Execute(conn, `INSERT INTO rooms (id, name) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET name=excluded.name`, &opts)
	if err != nil {
		return fmt.Errorf("couldn't record room: %w", err)
	}
	return nil
}

// FindRoom finds a room by ID.
func (d *DB) FindRoom(ctx context.Context, id string) (Room, error) {
	conn, err := d.db.Take(ctx)
	defer d.db.Put(conn)
	if err != nil {
		return Room{}, fmt.Errorf("couldn't get connection to find room: %w", err)
	}
	var r Room
	found := false
	opts := sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(st *sqlite.Stmt) error {
			r = Room{ID: st.ColumnText(0), Name: st.ColumnText(1)}
			found = true
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT id, name FROM rooms WHERE id=?`, &opts); err != nil {
		return Room{}, fmt.Errorf("couldn't find room: %w", err)
	}
	if !found {
		return Room{}, ErrNotFound
	}
	return r, nil
}
