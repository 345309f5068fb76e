package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/tracyhatemice/mailfetch/internal/config"
	"github.com/tracyhatemice/mailfetch/internal/dedup"
	"github.com/tracyhatemice/mailfetch/internal/deliver"
	"github.com/tracyhatemice/mailfetch/internal/metrics"
	"github.com/tracyhatemice/mailfetch/internal/poller"
)

const agent = "mailfetch"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	dataDir := flag.String("data-dir", "", "directory for persistent data (dedup state), overrides data_dir")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("mailfetch starting", "accounts", len(cfg.Accounts), "data_dir", cfg.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	board := metrics.NewBoard()
	var wg sync.WaitGroup

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr, board, logger); err != nil {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	for _, acct := range cfg.Accounts {
		sink, err := newSink(cfg, acct, logger)
		if err != nil {
			logger.Error("failed to create sink", "account", acct.Label(), "error", err)
			continue
		}

		dedupFile := filepath.Join(cfg.DataDir, sanitize(acct.Label())+".seen")
		tracker, err := dedup.NewTracker(dedupFile)
		if err != nil {
			logger.Error("failed to create dedup tracker", "account", acct.Label(), "error", err)
			continue
		}
		logger.Info("loaded dedup state", "account", acct.Label(), "seen_count", tracker.Count())

		p := poller.New(acct, sink, tracker, board, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down, waiting for pollers to finish...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	wg.Wait()
	logger.Info("mailfetch stopped")
}

// newSink builds the destination for one account: a maildir, an SMTP
// relay, or both.
func newSink(cfg *config.Config, acct config.Account, logger *slog.Logger) (poller.Sink, error) {
	var sinks deliver.Fanout
	if acct.DeliverTo != "" {
		md, err := deliver.NewMaildir(acct.DeliverTo, agent, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, md)
	}
	if acct.ForwardTo != "" {
		sinks = append(sinks, deliver.NewSMTP(deliver.SMTPOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			UseTLS:   cfg.SMTP.UseTLS,
		}, acct.ForwardTo, agent, logger))
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no destination configured")
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// sanitize turns an account label into a file name.
func sanitize(name string) string {
	if name == "" {
		return "default"
	}
	out := make([]byte, 0, len(name))
	for _, b := range []byte(name) {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_' {
			out = append(out, b)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
