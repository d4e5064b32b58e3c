package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/testcraft/internal/abuse"
	"github.com/ashureev/testcraft/internal/blob"
	"github.com/ashureev/testcraft/internal/config"
	"github.com/ashureev/testcraft/internal/flow"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/moderation"
	"github.com/ashureev/testcraft/internal/store"
	"github.com/ashureev/testcraft/internal/testgen"
)

// completerFactory builds the completion service for a configuration.
type completerFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Completer, error)

func geminiCompleter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Completer, error) {
	return llm.NewGeminiCompleter(ctx, llm.GeminiConfig{APIKey: cfg.GoogleAPIKey, Model: cfg.LLM.Model}, logger)
}

// app holds the flow service and the stores it runs against.
type app struct {
	flows  *flow.Service
	repo   *store.SQLiteStore
	blobs  *blob.Store
	logger *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, newCompleter completerFactory, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.NewStore(cfg.UploadDir, logger)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("open upload directory: %w", err)
	}
	completer, err := newCompleter(ctx, cfg, logger)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("create completer: %w", err)
	}

	tracker := abuse.NewTracker(repo, abuse.Policy{
		Threshold:   cfg.Abuse.BlockThreshold,
		Duration:    cfg.Abuse.BlockDuration,
		SampleLimit: cfg.Abuse.SampleLimit,
	}, logger)

	flows := flow.New(completer, tracker, blobs, flow.Settings{
		Gates: moderation.Config{
			Model:       cfg.LLM.Model,
			SafetyModel: cfg.LLM.SafetyModel,
			Timeout:     cfg.LLM.GateTimeout,
		},
		Generation: testgen.Config{
			Model:           cfg.LLM.Model,
			GenerateTimeout: cfg.LLM.GenerateTimeout,
			ReviewTimeout:   cfg.LLM.ReviewTimeout,
		},
	}, logger)

	return &app{flows: flows, repo: repo, blobs: blobs, logger: logger}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

// stageImages copies local image files into the blob store so the flow can
// read and release them like uploads.
func (a *app) stageImages(paths []string) ([]string, error) {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		name, err := a.stageImage(p)
		if err != nil {
			a.blobs.RemoveAll(names)
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (a *app) stageImage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()
	name, err := a.blobs.Write(f, filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("stage image %s: %w", path, err)
	}
	return name, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
