// Package config implements hierarchical, typed, validated settings trees.
//
// Plugins declare their settings on a [Builder]. The builders of every plugin
// are grafted into one tree, which is built into a [Config] that user
// configuration files are applied to.
package config

import (
	"fmt"
)

// Builder declares a node of a configuration tree.
// A node with children is a branch. A node without children is a leaf, which
// may carry a default value, accepted types, a required flag, and a validator.
type Builder struct {
	name      string
	path      string
	value     any
	types     []Type
	required  bool
	validator func(any) string
	children  []*Builder
	branch    bool
}

// NewBuilder creates the root of a configuration tree.
func NewBuilder() *Builder {
	return &Builder{}
}

// Option is an option for declaring a configuration attribute.
type Option func(*Builder)

// Types sets the types accepted by a leaf. Without types, a leaf accepts any
// value.
func Types(t ...Type) Option {
	return func(b *Builder) {
		b.types = append(b.types, t...)
	}
}

// Required marks a leaf as required. Required leaves that have no value once
// user configuration is applied are reported by [ValidateRequired].
func Required() Option {
	return func(b *Builder) {
		b.required = true
	}
}

// Default sets the initial value of a leaf.
func Default(v any) Option {
	return func(b *Builder) {
		b.value = v
	}
}

// Config declares an attribute on b and returns the builder for it.
// Declaring attributes on the result makes it a branch.
// Panics if b already has an attribute with the same name, if b is a leaf
// with a value or types, or if the default value does not match the types.
func (b *Builder) Config(name string, opts ...Option) *Builder {
	b.claim(name)
	c := &Builder{name: name, path: join(b.path, name)}
	for _, o := range opts {
		o(c)
	}
	if c.value != nil && !matches(c.types, c.value) {
		panic(fmt.Errorf("config: default %#v for %s is not %s", c.value, c.path, typeNames(c.types)))
	}
	b.children = append(b.children, c)
	return c
}

// Validate attaches a validator to a leaf. The validator returns a description
// of the problem with a value or the empty string if the value is valid.
// The leaf's current value, if any, is validated immediately, and Validate
// panics if it is invalid.
func (b *Builder) Validate(v func(any) string) *Builder {
	if b.branch {
		panic(fmt.Errorf("config: validator on branch %s", b.path))
	}
	if b.value != nil {
		if msg := v(b.value); msg != "" {
			panic(fmt.Errorf("config: default %#v for %s is invalid: %s", b.value, b.path, msg))
		}
	}
	b.validator = v
	return b
}

// Combine grafts the attributes of other under a new branch of b named name.
// other must not be modified afterward.
func (b *Builder) Combine(name string, other *Builder) *Builder {
	c := b.Config(name)
	c.branch = true
	for _, k := range other.children {
		c.graft(k)
	}
	return c
}

// graft adds a copy of k to b, rewriting paths.
func (b *Builder) graft(k *Builder) {
	b.claim(k.name)
	c := &Builder{
		name:      k.name,
		path:      join(b.path, k.name),
		value:     k.value,
		types:     k.types,
		required:  k.required,
		validator: k.validator,
		branch:    k.branch,
	}
	b.children = append(b.children, c)
	for _, g := range k.children {
		c.graft(g)
	}
}

// claim panics if b cannot take a child with the given name.
func (b *Builder) claim(name string) {
	if name == "" {
		panic(fmt.Errorf("config: empty attribute name under %q", b.path))
	}
	if b.value != nil || len(b.types) != 0 || b.validator != nil {
		panic(fmt.Errorf("config: %s is a leaf and cannot declare %s", b.path, name))
	}
	for _, c := range b.children {
		if c.name == name {
			panic(fmt.Errorf("config: duplicate attribute %s", join(b.path, name)))
		}
	}
	b.branch = true
}

// Build materializes the tree declared by b.
func (b *Builder) Build() *Config {
	return b.build(new(tree))
}

func (b *Builder) build(t *tree) *Config {
	c := &Config{
		path:   b.path,
		tree:   t,
		subs:   make(map[string]*Config),
		leaves: make(map[string]*leaf),
	}
	for _, k := range b.children {
		c.names = append(c.names, k.name)
		if k.branch || len(k.children) != 0 {
			c.subs[k.name] = k.build(t)
			continue
		}
		c.leaves[k.name] = &leaf{
			path:      k.path,
			value:     k.value,
			types:     k.types,
			required:  k.required,
			validator: k.validator,
		}
	}
	return c
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
