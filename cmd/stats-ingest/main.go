// stats-ingest runs one batch ingestion cycle from the command line: resolve
// unprocessed snapshot files, ingest each, move successes to the archive
// directory, and print a summary. Intended for crontab use.
package main

import (
	"flag"
	"log"
	"os"

	"vscode-stats/stats"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var dbPath string
	var dataDir string
	var archiveDir string
	var debug bool
	var dryRun bool

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&dbPath, "db", "stats.db", "SQLite database path.")
	flag.StringVar(&dataDir, "data-dir", "data", "Directory where snapshot files land.")
	flag.StringVar(&archiveDir, "archive-dir", "processed_json", "Directory processed snapshots are moved to.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&dryRun, "dry-run", false, "Report unprocessed files without ingesting.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	cfg := &stats.FileConfig{}
	if configPath != "" {
		loaded, err := stats.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()
	if visited["db"] {
		cfg.DB = dbPath
	}
	if visited["data-dir"] {
		cfg.DataDir = dataDir
	}
	if visited["archive-dir"] {
		cfg.ArchiveDir = archiveDir
	}
	if visited["debug"] {
		cfg.Debug = debug
	}

	store, err := stats.OpenDB(cfg.DB)
	if err != nil {
		log.Fatalf("open database %s: %v", cfg.DB, err)
	}
	defer store.Close()

	ingestor := stats.NewIngestor(store, cfg.Debug)
	syncer := stats.NewSyncer(store, ingestor, cfg.DataDir, cfg.ArchiveDir, true, cfg.Debug)

	summary, err := syncer.Sync(dryRun)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}

	if dryRun {
		log.Printf("dry run: %d files would be processed", summary.FilesFound)
		for _, name := range summary.FilesToProcess {
			log.Printf("  %s", name)
		}
		return
	}

	log.Printf("status=%s files_found=%d files_processed=%d files_failed=%d rows_inserted=%d",
		summary.Status, summary.FilesFound, summary.FilesProcessed, summary.FilesFailed, summary.TotalRecords)
	for _, f := range summary.FailedFiles {
		log.Printf("failed: %s: %s", f.Filename, f.Error)
	}
	if summary.Status == stats.StatusError {
		os.Exit(1)
	}
}
