package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"presence-agent/internal/brain"
	"presence-agent/internal/character"
	"presence-agent/internal/composer"
	"presence-agent/internal/config"
	"presence-agent/internal/cursor"
	"presence-agent/internal/gate"
	"presence-agent/internal/poller"
	"presence-agent/internal/sites/twitter"
	"presence-agent/internal/storage"
	"presence-agent/internal/thread"
	"presence-agent/internal/ui/telegram"
)

// app is the wired agent shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    storage.Backend
	cursor   *cursor.Store
	composer *composer.Composer
	poller   *poller.Poller

	closers []func() error
}

func newApp(ctx context.Context, v *viper.Viper) (a *app, err error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := config.SetupLogger(cfg.Logging.File, cfg.Logging.Format, level)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, logger: logger, closers: []func() error{closeLog}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	persona, err := character.Load(cfg.CharacterPath)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)
	logger.Info("storage_ready", "driver", cfg.Storage.Driver)

	gemini, err := brain.NewGeminiBrain(ctx, cfg.GeminiAPIKey, cfg.Image.Model)
	if err != nil {
		return nil, err
	}

	site := twitter.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Platform.Handle, a.store, logger)
	if err := site.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", site.Name(), err)
	}

	var opts []composer.Option
	if cfg.TelegramEnabled() {
		ui, err := telegram.NewTelegramUI(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.closers = append(a.closers, func() error { ui.Close(); return nil })
		opts = append(opts, composer.WithApprover(ui))
		logger.Info("operator_approval_enabled")
	}

	a.composer = composer.New(composer.Config{
		AgentID:       cfg.AgentID,
		Handle:        cfg.Platform.Handle,
		MaxPostLength: cfg.Platform.MaxPostLength,
		MinDelay:      cfg.Composer.MinDelay,
		MaxDelay:      cfg.Composer.MaxDelay,
		SplitReplies:  cfg.Composer.SplitReplies,
		TraceDir:      cfg.Composer.TraceDir,
		ImageWidth:    cfg.Image.Width,
		ImageHeight:   cfg.Image.Height,
		ImageCount:    cfg.Image.Count,
	}, persona, site, gemini, a.store, a.store, logger, opts...)

	a.cursor = cursor.New(a.store, cursor.DefaultKey, logger)
	a.poller = poller.New(poller.Config{
		AgentID:   cfg.AgentID,
		Handle:    cfg.Platform.Handle,
		BatchSize: cfg.Poll.BatchSize,
		MaxDepth:  cfg.ThreadMaxDepth,
	}, site, a.store, a.cursor,
		thread.NewReconstructor(site, a.store, cfg.AgentID, logger),
		gate.New(gemini, persona, cfg.Platform.Handle, logger),
		a.composer, logger)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}
