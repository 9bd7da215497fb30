package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/miketerry-org/polystore"
)

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Connect to the configured backend and report reachability",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a config file (default: walk up for .polystore.yaml)",
				Sources: cli.EnvVars("POLYSTORE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "driver",
				Aliases: []string{"d"},
				Usage:   "driver to ping (overrides the config default)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "connection timeout",
				Value: 10 * time.Second,
			},
		},
		Action: runPing,
	}
}

func runPing(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	var cfg *polystore.Config

	if path := cmd.String("config"); path != "" {
		cfg, err = polystore.LoadConfigFile(path)
	} else {
		cwd, wdErr := os.Getwd()
		if wdErr != nil {
			return fmt.Errorf("getting cwd: %w", wdErr)
		}

		cfg, err = polystore.LoadConfig(cwd)
	}

	if err != nil {
		return err
	}

	name := cmd.String("driver")
	if name == "" {
		name = cfg.DriverName()
	}

	driver, err := newRegistry().Open(name, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	log.Debug("connecting", zap.String("driver", name))

	start := time.Now()

	if err := driver.Connect(ctx); err != nil {
		return err
	}

	defer func() { _ = driver.Disconnect(ctx) }()

	fmt.Printf("%s: ok (%s)\n", name, time.Since(start).Round(time.Millisecond))

	return nil
}
