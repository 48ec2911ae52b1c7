// hackchat - streaming chat client for the Hack Club AI endpoint.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/morganforge/hackchat/internal/cli"
	"github.com/morganforge/hackchat/internal/completions"
	"github.com/morganforge/hackchat/internal/config"
	"github.com/morganforge/hackchat/internal/index"
	"github.com/morganforge/hackchat/internal/netcheck"
	"github.com/morganforge/hackchat/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("hackchat %s (%s)\n", Version, GitCommit)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hackchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// A persisted in-flight flag cannot survive the process that set
	// it, so reset leftovers before anything reads chat state.
	if pruned, err := st.NormalizeOnStart(); err != nil {
		return fmt.Errorf("normalize store: %w", err)
	} else if pruned > 0 {
		fmt.Fprintf(os.Stderr, "pruned %d empty chat(s)\n", pruned)
	}

	// The index is derived data; a failed open degrades /search but
	// never blocks chatting.
	var idx *index.MessageIndex
	idx, err = index.Open(filepath.Join(cfg.Storage.DataDir, "index.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "search index unavailable: %v\n", err)
		idx = nil
	} else {
		defer idx.Close()
		if err := idx.Rebuild(st.Chats()); err != nil {
			fmt.Fprintf(os.Stderr, "search index rebuild failed: %v\n", err)
		}
	}

	client := completions.NewClient(completions.Config{
		BaseURL:           cfg.Endpoint.URL,
		Model:             cfg.Endpoint.Model,
		Timeout:           time.Duration(cfg.Endpoint.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Endpoint.MaxRetries,
		RequestsPerMinute: cfg.Endpoint.RequestsPerMinute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var monitor *netcheck.Monitor
	monitor, err = netcheck.NewMonitor(cfg.Endpoint.URL, time.Duration(cfg.Network.ProbeIntervalSecs)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reachability checks disabled: %v\n", err)
		monitor = nil
	} else {
		go monitor.Run(ctx)
	}

	return cli.New(cfg, st, idx, client, monitor).Run(ctx)
}
