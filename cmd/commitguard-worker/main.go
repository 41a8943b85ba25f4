// Command commitguard-worker relays JSON messages from one binding to another
// through a commit cycle, so redeliveries are skipped and relayed messages are
// only published once the inbound message commits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drblury/commitguard"
	_ "github.com/drblury/commitguard/transport/transports"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "commitguard-worker",
		Usage: "Relay messages between bindings with redelivery detection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-prefix",
				Usage:   "Prefix of the configuration environment variables",
				Value:   "COMMITGUARD",
				EnvVars: []string{"COMMITGUARD_ENV_PREFIX"},
			},
			&cli.StringFlag{
				Name:    "bindings-file",
				Usage:   "YAML file with binding destinations and groups",
				EnvVars: []string{"COMMITGUARD_BINDINGS_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Logger backend (slog, zap, logrus)",
				Value:   "slog",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Start relaying messages",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "in-binding",
						Usage: "Binding to consume",
						Value: "relay-in-0",
					},
					&cli.StringFlag{
						Name:  "out-binding",
						Usage: "Binding relayed messages are published on",
						Value: "relay-out-0",
					},
				},
				Action: runWorker,
			},
			{
				Name:   "check-config",
				Usage:  "Validate the configuration and print it with secrets redacted",
				Action: checkConfig,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*commitguard.Config, error) {
	conf, err := commitguard.LoadConfig(c.String("env-prefix"))
	if err != nil {
		return nil, err
	}
	if path := c.String("bindings-file"); path != "" {
		if err := conf.LoadBindingsFile(path); err != nil {
			return nil, err
		}
	}
	return conf, conf.Validate()
}

func checkConfig(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, conf.String())
	return err
}

func runWorker(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	levels := commitguard.NewLevelRegistry(slog.LevelInfo)
	logger, err := newLogger(c.String("log-format"), c.String("log-level"), levels)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := commitguard.NewService(conf, logger, ctx, commitguard.ServiceDependencies{
		Hooks: commitguard.LoggingHooks(logger),
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer svc.Close()

	if err := commitguard.RegisterJSONHandler(svc, commitguard.JSONHandlerRegistration[map[string]any]{
		Name:           "relay",
		ConsumeBinding: c.String("in-binding"),
		Handler:        relay(c.String("out-binding")),
	}); err != nil {
		return err
	}

	if conf.LogLevelAdjustment {
		if err := commitguard.RegisterLogLevelAdjuster(svc, levels); err != nil {
			return err
		}
	}

	logger.Info("Starting worker", commitguard.LogFields{"app_name": conf.AppName})
	return svc.Start(ctx)
}

// relay forwards the decoded payload and its correlation id to outBinding
// once the inbound message commits.
func relay(outBinding string) commitguard.JSONMessageHandler[map[string]any] {
	return func(_ context.Context, msg commitguard.JSONMessageContext[map[string]any]) error {
		return msg.Enqueue(outBinding, msg.Payload)
	}
}

// newLogger builds the service logger. Only the slog backend follows level
// changes made through the registry.
func newLogger(format, level string, levels *commitguard.LevelRegistry) (commitguard.ServiceLogger, error) {
	switch strings.ToLower(format) {
	case "", "slog":
		if err := levels.Set("root", level); err != nil {
			return nil, err
		}
		return levels.NewLogger("root", os.Stdout), nil
	case "zap":
		zapLevel, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapLevel)
		log, err := cfg.Build()
		if err != nil {
			return nil, err
		}
		return commitguard.NewZapServiceLogger(log), nil
	case "logrus":
		logrusLevel, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		base := logrus.New()
		base.SetOutput(os.Stdout)
		base.SetFormatter(&logrus.JSONFormatter{})
		base.SetLevel(logrusLevel)
		return commitguard.NewEntryServiceLogger(logrus.NewEntry(base)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
