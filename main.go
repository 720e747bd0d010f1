package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	charmLog "github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/zephyrtronium/switchboard/adapter/wschat"
	"github.com/zephyrtronium/switchboard/bot"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handlers/help"
)

var app = cli.Command{
	Name:  "switchboard",
	Usage: "Chat bot framework",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "run",
			Usage:  "Connect to chat and serve HTTP",
			Action: cliRun,
		},
		{
			Name:    "routes",
			Aliases: []string{"help"},
			Usage:   "List chat and HTTP routes",
			Action:  cliRoutes,
		},
		{
			Name:   "check",
			Usage:  "Validate the configuration without running",
			Action: cliCheck,
		},
		{
			Name:      "sign",
			Usage:     "Print the signature a WebSocket chat client uses to connect as a user ID",
			ArgsUsage: "id",
			Action:    cliSign,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	reg := registry()
	cfg, err := loadConfig(reg, cmd.String("config"))
	if err != nil {
		return err
	}
	robo, err := bot.New(ctx, reg, cfg)
	if err != nil {
		return err
	}
	return robo.Run(ctx)
}

func cliRoutes(ctx context.Context, cmd *cli.Command) error {
	reg := registry()
	cfg, err := loadConfig(reg, cmd.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.Set("robot.adapter", "shell"); err != nil {
		return err
	}
	robo, err := bot.New(ctx, reg, cfg)
	if err != nil {
		return err
	}
	defer robo.Close()
	for _, e := range help.Entries(robo, "") {
		fmt.Printf("%-16s %s\t%s\n", e.Handler, e.Usage, e.Description)
	}
	for _, p := range reg.Handlers() {
		for _, r := range p.HTTPRoutes() {
			fmt.Printf("%-16s %s %s\t%s\n", p.Namespace(), r.Method(), r.Path(), r.Name())
		}
	}
	return nil
}

func cliCheck(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	reg := registry()
	cfg, err := loadConfig(reg, cmd.String("config"))
	if err != nil {
		return err
	}
	if err := validate(reg, cfg); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

func cliSign(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("sign needs a user id")
	}
	reg := registry()
	cfg, err := loadConfig(reg, cmd.String("config"))
	if err != nil {
		return err
	}
	secret := config.Value[string](cfg, "robot.secret")
	if secret == "" {
		return errors.New("robot.secret is not set")
	}
	fmt.Println(wschat.Sign(wschat.Key(secret), id))
	return nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Usage:      "TOML or YAML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, one of text, json, pretty",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json", "pretty":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "pretty":
		h = charmLog.NewWithOptions(os.Stderr, charmLog.Options{
			Level:           charmLevel(l),
			ReportTimestamp: true,
			Formatter:       charmLog.TextFormatter,
		})
	}
	return slog.New(h)
}

func charmLevel(l slog.Level) charmLog.Level {
	switch {
	case l <= slog.LevelDebug:
		return charmLog.DebugLevel
	case l <= slog.LevelInfo:
		return charmLog.InfoLevel
	case l <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}
