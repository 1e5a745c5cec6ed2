package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/yyyyyyyan/onesecmail/config"
	"github.com/yyyyyyyan/onesecmail/imap"
	"github.com/yyyyyyyan/onesecmail/mailbox"
	"github.com/yyyyyyyan/onesecmail/runner"
	"github.com/yyyyyyyan/onesecmail/stats"
)

var rootCmd = &cobra.Command{
	Use:   "onesecmail",
	Short: "Watch a 1secmail disposable mailbox and archive matching messages over IMAP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting onesecmail", "address", cfg.Address, "random", cfg.Random, "target", cfg.TargetFolder, "watch", cfg.Watch, "dryRun", cfg.DryRun)

		return run(cmd.Context(), cfg, logger)
	},
}

func main() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	opts := []mailbox.Option{mailbox.WithDateOffset(cfg.DateOffset)}

	var (
		mb  *mailbox.Mailbox
		err error
	)
	if cfg.Random {
		mb, err = mailbox.GenerateRandom(ctx, opts...)
	} else {
		mb, err = mailbox.FromAddress(ctx, cfg.Address, opts...)
	}
	if err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}
	logger.Info("watching mailbox", "address", mb.Address())

	validators, err := cfg.Validators()
	if err != nil {
		return err
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)

	producerOpts := mailbox.ProducerOptions{
		Validators:   validators,
		Watch:        cfg.Watch,
		PollInterval: cfg.PollInterval,
	}

	if _, err := mailbox.NewProducer(mb, producerOpts, r, logger); err != nil {
		return fmt.Errorf("mailbox.NewProducer: %w", err)
	}

	archiverOpts := imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		TargetFolder:       cfg.TargetFolder,
		DryRun:             cfg.DryRun,
	}

	if _, err := imap.NewArchiver(archiverOpts, r, logger); err != nil {
		return fmt.Errorf("imap.NewArchiver: %w", err)
	}

	return r.Start()
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("onesecmail-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
