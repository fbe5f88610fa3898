package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:   "qnet",
		Usage:  "8-bit fixed-point inference for a small convolutional classifier",
		Flags:  append(loggingFlags(), configFlag()),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			quantizeCmd(),
			calibrateCmd(),
			classifyCmd(),
			evaluateCmd(),
			inspectCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger in the command context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	explicit := cmd.IsSet("config")
	if !explicit {
		path = configPath()
	}
	loaded, err := LoadConfig(path, explicit)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	cfg = loaded
	applyLoggingConfig(cmd, cfg)

	log, err := newLogger(os.Stderr, logLevel, logFormat, debug)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if path != "" && loaded != (Config{}) {
		log.Debug("loaded config", "path", path)
	}
	return withLogger(ctx, log), nil
}
