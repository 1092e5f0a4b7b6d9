package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vscode-stats/marketplace"
	"vscode-stats/stats"
	"vscode-stats/web"
)

func main() {
	var configPath string
	var dbPath string
	var dataDir string
	var archiveDir string
	var listenAddr string
	var debug bool

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "stats.db", "SQLite database path.")
	flag.StringVar(&dataDir, "data-dir", "data", "Directory where snapshot files land.")
	flag.StringVar(&archiveDir, "archive-dir", "processed_json", "Directory holding already ingested snapshots.")
	flag.StringVar(&listenAddr, "listen", ":8000", "HTTP listen address.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	cfg := &stats.FileConfig{}
	if configPath != "" {
		loaded, err := stats.LoadConfig(configPath)
		if err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()

	// CLI flags override the config file field by field.
	if visited["db"] {
		cfg.DB = dbPath
	}
	if visited["data-dir"] {
		cfg.DataDir = dataDir
	}
	if visited["archive-dir"] {
		cfg.ArchiveDir = archiveDir
	}
	if visited["listen"] {
		cfg.ListenAddr = listenAddr
	}
	if visited["debug"] {
		cfg.Debug = debug
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if len(cfg.ClientKeys) == 0 {
		logger.Warn("no client keys configured; key-guarded endpoints will reject every request")
	}

	store, err := stats.OpenDB(cfg.DB)
	if err != nil {
		logger.Error("open database", "path", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	source := marketplace.NewClient(marketplace.Config{
		PageSize: cfg.Marketplace.PageSize,
		MaxPages: cfg.Marketplace.MaxPages,
		Category: cfg.Marketplace.Category,
	})
	ingestor := stats.NewIngestor(store, cfg.Debug)
	// The HTTP path never moves files; processed state is derived from the
	// archive listing plus the timestamp comparison.
	syncer := stats.NewSyncer(store, ingestor, cfg.DataDir, cfg.ArchiveDir, false, cfg.Debug)
	fetcher := stats.NewFetcher(source, cfg.DataDir, time.Duration(cfg.FetchMinInterval), cfg.Marketplace.Category, cfg.Debug)

	handler := web.NewHandler(store, syncer, ingestor, fetcher, web.NewKeyring(cfg.ClientKeys), cfg.DataDir, "data.tar", logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: web.NewRouter(handler),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir, "db", cfg.DB)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
