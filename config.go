package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/zephyrtronium/switchboard/adapter/shell"
	"github.com/zephyrtronium/switchboard/adapter/twitch"
	"github.com/zephyrtronium/switchboard/adapter/wschat"
	"github.com/zephyrtronium/switchboard/bot"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handlers/authorization"
	"github.com/zephyrtronium/switchboard/handlers/choose"
	"github.com/zephyrtronium/switchboard/handlers/help"
	"github.com/zephyrtronium/switchboard/handlers/info"
	"github.com/zephyrtronium/switchboard/handlers/remind"
)

// registry lists the adapters and handlers built into the switchboard
// command.
func registry() *bot.Registry {
	reg := bot.NewRegistry()
	reg.RegisterAdapter(shell.Plugin)
	reg.RegisterAdapter(twitch.Plugin)
	reg.RegisterAdapter(wschat.Plugin)
	reg.RegisterHandler(help.New())
	reg.RegisterHandler(authorization.New())
	reg.RegisterHandler(info.New())
	reg.RegisterHandler(choose.New())
	reg.RegisterHandler(remind.New())
	return reg
}

// loadConfig builds the configuration declared by reg and applies the
// contents of file to it. An empty file name gives the defaults.
func loadConfig(reg *bot.Registry, file string) (*config.Config, error) {
	cfg := reg.Config().Build()
	if file == "" {
		return cfg, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer f.Close()
	m, err := config.Decode(f, config.FormatOf(file))
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	if err := cfg.Apply(m); err != nil {
		return nil, fmt.Errorf("couldn't apply config: %w", err)
	}
	return cfg, nil
}

// validate checks the configuration of the selected adapter and every handler
// without opening anything.
func validate(reg *bot.Registry, cfg *config.Config) error {
	name := config.Value[string](cfg, "robot.adapter")
	var errs []error
	found := false
	for _, a := range reg.Adapters() {
		if a == name {
			found = true
			errs = append(errs, config.ValidateRequired("adapter", a, cfg.Sub("adapters."+a)))
		}
	}
	if !found {
		errs = append(errs, fmt.Errorf("%w %q", bot.ErrUnknownAdapter, name))
	}
	for _, h := range reg.Handlers() {
		errs = append(errs, config.ValidateRequired("handler", h.Namespace(), cfg.Sub("handlers."+h.Namespace())))
	}
	return errors.Join(errs...)
}
