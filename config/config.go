package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

var (
	// ErrNotSettable is returned when assigning a value to a branch.
	ErrNotSettable = errors.New("no such attribute setter")
	// ErrUnknown is returned when accessing an attribute that was not declared.
	ErrUnknown = errors.New("no such attribute")
	// ErrFrozen is returned when assigning to a frozen configuration.
	ErrFrozen = errors.New("configuration is frozen")
)

// ValueError is an error assigning an invalid value to a leaf.
type ValueError struct {
	// Path is the dotted path to the leaf.
	Path string
	// Value is the rejected value.
	Value any
	// Reason describes why the value was rejected.
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid value %#v for %s: %s", e.Value, e.Path, e.Reason)
}

// Config is a built configuration tree. Reads are not synchronized; all
// assignments should happen before the configuration is shared.
type Config struct {
	path   string
	tree   *tree
	names  []string
	subs   map[string]*Config
	leaves map[string]*leaf
}

// tree is state shared by every node of a configuration.
type tree struct {
	frozen atomic.Bool
}

type leaf struct {
	path      string
	value     any
	types     []Type
	required  bool
	validator func(any) string
}

// set runs the validator, checks the types, and stores v.
func (l *leaf) set(v any) error {
	if l.validator != nil {
		if msg := l.validator(v); msg != "" {
			return &ValueError{Path: l.path, Value: v, Reason: msg}
		}
	}
	if !matches(l.types, v) {
		return &ValueError{Path: l.path, Value: v, Reason: "must be " + typeNames(l.types)}
	}
	l.value = v
	return nil
}

// Path returns the dotted path of c from the root. The root's path is empty.
func (c *Config) Path() string {
	return c.path
}

// Names returns the names of c's attributes in declaration order.
func (c *Config) Names() []string {
	return c.names
}

// Get returns the value of the leaf at the dotted path.
// The result is nil if the leaf has no value or does not exist.
func (c *Config) Get(path string) any {
	l, _ := c.leaf(path)
	if l == nil {
		return nil
	}
	return l.value
}

// Sub returns the branch at the dotted path, or nil if there is none.
func (c *Config) Sub(path string) *Config {
	if c == nil {
		return nil
	}
	if path == "" {
		return c
	}
	for _, name := range strings.Split(path, ".") {
		c = c.subs[name]
		if c == nil {
			return nil
		}
	}
	return c
}

// Set assigns the leaf at the dotted path. If the value is rejected, the leaf
// retains its previous value and the error is a *[ValueError].
func (c *Config) Set(path string, v any) error {
	if c.tree.frozen.Load() {
		return fmt.Errorf("couldn't set %s: %w", join(c.path, path), ErrFrozen)
	}
	l, err := c.leaf(path)
	if err != nil {
		return err
	}
	return l.set(v)
}

// leaf finds the leaf at the dotted path.
func (c *Config) leaf(path string) (*leaf, error) {
	if c == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknown)
	}
	dir, name := "", path
	if k := strings.LastIndexByte(path, '.'); k >= 0 {
		dir, name = path[:k], path[k+1:]
	}
	p := c.Sub(dir)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", join(c.path, path), ErrUnknown)
	}
	if l := p.leaves[name]; l != nil {
		return l, nil
	}
	if p.subs[name] != nil {
		return nil, fmt.Errorf("%s is a branch: %w", join(c.path, path), ErrNotSettable)
	}
	return nil, fmt.Errorf("%s: %w", join(c.path, path), ErrUnknown)
}

// Apply assigns every value in m to the corresponding attribute of c.
// Nested maps apply to branches. Every assignment is attempted; the result
// joins all errors.
func (c *Config) Apply(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var errs []error
	for _, k := range keys {
		v := m[k]
		if sub := c.subs[k]; sub != nil {
			vm, ok := v.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Errorf("%s is a branch: %w", join(c.path, k), ErrNotSettable))
				continue
			}
			if err := sub.Apply(vm); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := c.Set(k, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Freeze prevents further assignments to any node of the tree containing c.
func (c *Config) Freeze() {
	c.tree.frozen.Store(true)
}

// Frozen reports whether the tree containing c is frozen.
func (c *Config) Frozen() bool {
	return c.tree.frozen.Load()
}

// Value returns the value of the leaf at the dotted path as a T.
// Numbers are converted between numeric types. The result is the zero value
// if the leaf has no value or holds an incompatible type.
func Value[T any](c *Config, path string) T {
	x, _ := convert[T](c.Get(path))
	return x
}
