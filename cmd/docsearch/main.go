// Command docsearch is an interactive demo over an in-process engine.
//
// Commands, one per line:
//
//	create            generate a data file, load it and commit
//	search            val:value11* against the held snapshot
//	all               the fixed query tour
//	q <query>         any query, e.g. q +val:value1* -num:[0 TO 10]
//	refresh           report whether a newer snapshot exists
//	refresh_acquire   move the held snapshot to the current one
//	refresh_blocking  wait for an in-flight commit
//
// An empty line exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	dataFile := flag.String("data", filepath.Join("index_files", "index_data.txt"), "data file written by create")
	records := flag.Int("records", 1000, "records per create")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetupWriter(os.Stderr, "warn", "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The demo keeps everything in memory and commits explicitly.
	cfg.Indexer.Persist = false
	cfg.Indexer.MaxPending = 0
	engine, err := indexer.NewEngine(cfg)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	r := newREPL(engine, *dataFile, *records, cfg.Search.DefaultLimit, os.Stdout)
	if err := r.Run(ctx, os.Stdin); err != nil {
		slog.Error("reading commands failed", "error", err)
		os.Exit(1)
	}
}
