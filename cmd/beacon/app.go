package main

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/beacon/pkg/config"
	"github.com/daviddao/beacon/pkg/logging"
	"github.com/daviddao/beacon/pkg/pipeline"
	"github.com/daviddao/beacon/pkg/store"
	"github.com/daviddao/beacon/pkg/upload"
)

// app holds shared state for all CLI subcommands.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *store.Store
}

// newApp loads configuration, sets up logging, and opens the database.
// Creates the database directory if using the default path.
func newApp() (*app, error) {
	cfg := config.Load()
	log := logging.Setup(cfg.LogLevel, cfg.LogPretty)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", cfg.DBPath, err)
	}
	return &app{cfg: cfg, log: log, store: s}, nil
}

// Close releases the database connection.
func (a *app) Close() { a.store.Close() }

// newDispatcher builds the pipeline over the app's store and a real
// upload client. Commands that reach the collector must call this after
// ValidateCollector.
func (a *app) newDispatcher() (*pipeline.Dispatcher, error) {
	client := upload.NewHTTPClient(a.cfg.CollectorURL, a.cfg.AppKey, a.cfg.AppSecret, a.log)
	return pipeline.New(a.store, client, a.log)
}

// offlineDispatcher builds a pipeline with no upload client, for
// commands that only mutate the local queue (add, purge). The ADD and
// DELETE_ALL paths never touch the client.
func (a *app) offlineDispatcher() (*pipeline.Dispatcher, error) {
	return pipeline.New(a.store, nil, a.log)
}

// sessionID returns the session identifier for queued events, generating
// a random one when BEACON_SESSION is unset.
func sessionID() string {
	if v := os.Getenv("BEACON_SESSION"); v != "" {
		return v
	}
	return uuid.NewString()
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
