package store_test

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/zephyrtronium/switchboard/store"
)

func backends(t *testing.T) map[string]func(t *testing.T) store.Backend {
	return map[string]func(t *testing.T) store.Backend{
		"memory": func(t *testing.T) store.Backend {
			return store.NewMemory()
		},
		"badger": func(t *testing.T) store.Backend {
			db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
			require.NoError(t, err)
			return store.NewBadger(db)
		},
		"bolt": func(t *testing.T) store.Backend {
			b, err := store.OpenBolt(filepath.Join(t.TempDir(), "switchboard.db"))
			require.NoError(t, err)
			return b
		},
	}
}

func TestNamespace(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := store.New(mk(t))
			t.Cleanup(func() { s.Close() })
			echo := s.Namespace("echo")
			help := s.Namespace("help")

			_, err := echo.Get(ctx, "x")
			require.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, echo.Set(ctx, "x", []byte("bocchi")))
			require.NoError(t, echo.Set(ctx, "y", []byte("ryou")))
			require.NoError(t, help.Set(ctx, "x", []byte("nijika")))

			v, err := echo.Get(ctx, "x")
			require.NoError(t, err)
			require.Equal(t, "bocchi", string(v))
			v, err = help.Get(ctx, "x")
			require.NoError(t, err)
			require.Equal(t, "nijika", string(v))

			keys, err := echo.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"x", "y"}, keys)

			require.NoError(t, echo.Delete(ctx, "x"))
			_, err = echo.Get(ctx, "x")
			require.ErrorIs(t, err, store.ErrNotFound)
			require.NoError(t, echo.Delete(ctx, "x"))

			// Other namespaces are unaffected.
			v, err = help.Get(ctx, "x")
			require.NoError(t, err)
			require.Equal(t, "nijika", string(v))
		})
	}
}

func TestNamespacesDisjoint(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := store.New(mk(t))
			t.Cleanup(func() { s.Close() })
			a := s.Namespace("a")
			ab := s.Namespace("a:b")

			require.NoError(t, a.Set(ctx, "b:c", []byte("bocchi")))
			require.NoError(t, ab.Set(ctx, "c", []byte("kita")))

			v, err := a.Get(ctx, "b:c")
			require.NoError(t, err)
			require.Equal(t, "bocchi", string(v))
			v, err = ab.Get(ctx, "c")
			require.NoError(t, err)
			require.Equal(t, "kita", string(v))

			keys, err := a.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"b:c"}, keys)
			keys, err = ab.Keys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"c"}, keys)

			require.NoError(t, a.Delete(ctx, "b:c"))
			v, err = ab.Get(ctx, "c")
			require.NoError(t, err)
			require.Equal(t, "kita", string(v))
		})
	}
}

func TestSynchronize(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := store.New(mk(t))
			t.Cleanup(func() { s.Close() })
			const n = 50
			var wg sync.WaitGroup
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					// Each goroutine gets its own Namespace value, which must
					// still share the lock.
					ns := s.Namespace("counter")
					err := ns.Synchronize(ctx, func(tx *store.Tx) error {
						v, err := tx.Get(ctx, "n")
						if err != nil && err != store.ErrNotFound {
							return err
						}
						k, _ := strconv.Atoi(string(v))
						return tx.Set(ctx, "n", []byte(strconv.Itoa(k+1)))
					})
					if err != nil {
						t.Error(err)
					}
				}()
			}
			wg.Wait()
			v, err := s.Namespace("counter").Get(ctx, "n")
			require.NoError(t, err)
			require.Equal(t, strconv.Itoa(n), string(v))
		})
	}
}
