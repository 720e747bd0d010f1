package config

import (
	"fmt"
	"strings"
)

// RequiredError is an error for a required attribute with no value.
type RequiredError struct {
	// Kind is the kind of plugin owning the attribute, e.g. "handler".
	Kind string
	// Namespace is the plugin's namespace.
	Namespace string
	// Path is the dotted path to the attribute within the plugin's
	// configuration.
	Path string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("%s %s is missing required configuration attribute %s.%s", e.Kind, e.Namespace, e.Namespace, e.Path)
}

// ValidateRequired checks that every required leaf of cfg has a value.
// The result is a *[RequiredError] for the first leaf in declaration order
// which does not, or nil if all are set.
func ValidateRequired(kind, namespace string, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	p := missing(cfg)
	if p == "" {
		return nil
	}
	if cfg.path != "" {
		p = strings.TrimPrefix(p, cfg.path+".")
	}
	return &RequiredError{Kind: kind, Namespace: namespace, Path: p}
}

func missing(c *Config) string {
	for _, name := range c.names {
		if sub := c.subs[name]; sub != nil {
			if p := missing(sub); p != "" {
				return p
			}
			continue
		}
		l := c.leaves[name]
		if l.required && l.value == nil {
			return l.path
		}
	}
	return ""
}
