// Package auth manages authorization groups of chat users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/switchboard/handler"
)

// Admins is the reserved group of robot administrators. Its members come from
// configuration and cannot be changed at runtime.
const Admins = "admins"

var (
	// ErrUnauthorized is returned when a non-administrator tries to change
	// group membership.
	ErrUnauthorized = errors.New("only administrators may change groups")
	// ErrReserved is returned when changing the membership of a reserved
	// group.
	ErrReserved = errors.New("group is reserved")
)

// Groups is a set of authorization groups backed by an SQL database.
type Groups struct {
	db     *sqlitex.Pool
	admins []string
}

var _ handler.Authorizer = (*Groups)(nil)

// Init initializes authorization groups in an SQL database.
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
	const q = `CREATE TABLE IF NOT EXISTS auth_groups (
		grp TEXT NOT NULL,
		user TEXT NOT NULL,
		PRIMARY KEY (grp, user)
	) STRICT, WITHOUT ROWID`
	return sqlitex.ExecuteTransient(conn, q, nil)
}

// Open opens authorization groups in an SQL database initialized with Init.
// admins are the IDs of the robot's administrators.
func Open(ctx context.Context, db *sqlitex.Pool, admins []string) (*Groups, error) {
	return &Groups{db: db, admins: slices.Clone(admins)}, nil
}

// IsAdmin reports whether a user is an administrator.
func (g *Groups) IsAdmin(ctx context.Context, user string) bool {
	return slices.Contains(g.admins, user)
}

// InGroup reports whether a user belongs to a group.
func (g *Groups) InGroup(ctx context.Context, user, group string) (bool, error) {
	group = handler.NormalizeGroup(group)
	if group == Admins {
		return g.IsAdmin(ctx, user), nil
	}
	conn, err := g.db.Take(ctx)
	defer g.db.Put(conn)
	if err != nil {
		return false, fmt.Errorf("couldn't get connection to check group membership: %w", err)
	}
	st, err := conn.Prepare(`SELECT EXISTS (SELECT 1 FROM auth_groups WHERE grp=? AND user=?)`)
	if err != nil {
		return false, fmt.Errorf("couldn't prepare statement to check group membership: %w", err)
	}
	st.BindText(1, group)
	st.BindText(2, user)
	return sqlitex.ResultBool(st)
}

// Add adds a user to a group. The result reports whether the user was not
// already a member. requester must be an administrator.
func (g *Groups) Add(ctx context.Context, requester, user, group string) (bool, error) {
	group, err := g.check(ctx, requester, group)
	if err != nil {
		return false, err
	}
	conn, err := g.db.Take(ctx)
	defer g.db.Put(conn)
	if err != nil {
		return false, fmt.Errorf("couldn't get connection to add user to group: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{group, user}}
	if err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO auth_groups (grp, user) VALUES (?, ?)`, &opts); err != nil {
		return false, fmt.Errorf("couldn't add user to group: %w", err)
	}
	return conn.Changes() > 0, nil
}

// Remove removes a user from a group. The result reports whether the user was
// a member. requester must be an administrator.
func (g *Groups) Remove(ctx context.Context, requester, user, group string) (bool, error) {
	group, err := g.check(ctx, requester, group)
	if err != nil {
		return false, err
	}
	conn, err := g.db.Take(ctx)
	defer g.db.Put(conn)
	if err != nil {
		return false, fmt.Errorf("couldn't get connection to remove user from group: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{group, user}}
	if err := sqlitex.Execute(conn, `DELETE FROM auth_groups WHERE grp=? AND user=?`, &opts); err != nil {
		return false, fmt.Errorf("couldn't remove user from group: %w", err)
	}
	return conn.Changes() > 0, nil
}

func (g *Groups) check(ctx context.Context, requester, group string) (string, error) {
	if !g.IsAdmin(ctx, requester) {
		return "", ErrUnauthorized
	}
	group = handler.NormalizeGroup(group)
	if group == Admins {
		return "", fmt.Errorf("couldn't change %s: %w", group, ErrReserved)
	}
	return group, nil
}

// Groups lists every group with at least one member, including the
// administrators.
func (g *Groups) Groups(ctx context.Context) (map[string][]string, error) {
	conn, err := g.db.Take(ctx)
	defer g.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to list groups: %w", err)
	}
	r := make(map[string][]string)
	if len(g.admins) != 0 {
		r[Admins] = slices.Clone(g.admins)
	}
	opts := sqlitex.ExecOptions{
		ResultFunc: func(st *sqlite.Stmt) error {
			grp := st.ColumnText(0)
			r[grp] = append(r[grp], st.ColumnText(1))
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT grp, user FROM auth_groups ORDER BY grp, user`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't list groups: %w", err)
	}
	return r, nil
}

// Members lists the members of a group.
func (g *Groups) Members(ctx context.Context, group string) ([]string, error) {
	group = handler.NormalizeGroup(group)
	if group == Admins {
		return slices.Clone(g.admins), nil
	}
	conn, err := g.db.Take(ctx)
	defer g.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection to list group members: %w", err)
	}
	var r []string
	opts := sqlitex.ExecOptions{
		Args: []any{group},
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, st.ColumnText(0))
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT user FROM auth_groups WHERE grp=? ORDER BY user`, &opts); err != nil {
		return nil, fmt.Errorf("couldn't list group members: %w", err)
	}
	return r, nil
}
