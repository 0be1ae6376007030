package main

import (
	"fmt"
	"log/slog"

	"github.com/kalambet/zenflow/internal/advisor"
	"github.com/kalambet/zenflow/internal/calendar"
	"github.com/kalambet/zenflow/internal/config"
	"github.com/kalambet/zenflow/internal/gemini"
	"github.com/kalambet/zenflow/internal/pipeline"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/storage"
	"github.com/kalambet/zenflow/internal/usage"
)

// app is the wired set of components shared by the CLI and the server.
type app struct {
	cfg      config.Config
	store    *storage.Store
	sessions *session.Store
	gate     *usage.Gate
	pipeline *pipeline.Pipeline
	calendar calendar.Source // nil when neither credentials nor a file are configured
}

func openApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if versions, err := store.AppliedMigrations(); err == nil {
		slog.Debug("storage: opened", "data_dir", cfg.Storage.DataDir, "migrations", versions)
	}

	sessions := session.NewStore(store)
	gate, err := usage.NewGate(sessions)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading usage: %w", err)
	}

	// The client is built on the first AI call so that commands which never
	// reach the AI work without a key.
	client := gemini.NewLazy(func() (*gemini.Client, error) {
		if err := cfg.RequireGemini(); err != nil {
			return nil, err
		}
		return gemini.New(gemini.Options{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Timeout: cfg.GeminiTimeout(),
		})
	})

	var verifier advisor.Verifier
	if cfg.Pipeline.VerifyVideos {
		verifier = advisor.NewGroundedVerifier(client, cfg.Gemini.TextModel)
	}

	p := pipeline.New(pipeline.Deps{
		Recommender: advisor.NewRecommender(client, cfg.Gemini.TextModel),
		Illustrator: advisor.NewIllustrator(client, cfg.Gemini.ImageModel),
		VideoFinder: advisor.NewVideoFinder(client, cfg.Gemini.TextModel, verifier, cfg.Pipeline.MaxVideos),
		Images:      store,
		Snapshots:   sessions,
		Gate:        gate,
	}, cfg.Pipeline.ConcurrentStages)

	a := &app{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		gate:     gate,
		pipeline: p,
	}
	if cfg.CalendarConfigured() {
		a.calendar = calendar.NewGoogle(calendar.GoogleOptions{
			APIKey:      cfg.Calendar.APIKey,
			ClientID:    cfg.Calendar.ClientID,
			AccessToken: cfg.Calendar.AccessToken,
			CalendarID:  cfg.Calendar.CalendarID,
			BaseURL:     cfg.Calendar.BaseURL,
		}, store)
	} else if cfg.Calendar.File != "" {
		a.calendar = calendar.FileSource{Path: cfg.Calendar.File}
	}
	return a, nil
}

// calendarNotice is the standing notice shown while calendar credentials
// are missing.
func (a *app) calendarNotice() string {
	if a.calendar == nil {
		return calendar.MessageNotConfigured
	}
	return ""
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp loads config, opens the app, and runs fn.
func withApp(fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	return fn(a)
}
