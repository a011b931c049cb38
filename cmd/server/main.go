package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"ipguardian/internal/config"
)

var app = cli.NewApp()

var (
	Version = "1.0.0"
)

var (
	EnvFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "Optional .env file loaded before reading the environment",
		Value: ".env",
	}
)

var serveCommand = cli.Command{
	Name:   "serve",
	Usage:  "Run the HTTP API and the payment reconciler",
	Action: serve,
}

var migrateCommand = cli.Command{
	Name:   "migrate",
	Usage:  "Apply the PostgreSQL schema and exit",
	Action: migrate,
}

// init initializes CLI
func init() {
	app.Name = "ipguardian"
	app.Usage = "IP Guardian dashboard backend"
	app.Version = Version
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{EnvFileFlag}
	app.Commands = []*cli.Command{
		&serveCommand,
		&migrateCommand,
	}
	app.Action = serve
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// setup loads the environment, logger and configuration shared by all commands
func setup(ctx *cli.Context) (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnvFile(ctx.String(EnvFileFlag.Name)); err != nil {
		return nil, nil, err
	}

	logger, err := initLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return cfg, logger, nil
}

func initLogger(env, level string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if env == "production" {
		zcfg = zap.NewProductionConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
