// rigchat - conversational AI chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jeranaias/rigchat/internal/cache"
	"github.com/jeranaias/rigchat/internal/cloud"
	"github.com/jeranaias/rigchat/internal/config"
	chatctx "github.com/jeranaias/rigchat/internal/context"
	"github.com/jeranaias/rigchat/internal/retrieval"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.rigchat/config.toml)")
	addr := flag.String("addr", "", "listen address override, host:port")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rigchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("CONFIG_LOAD_FAILED | err=%v", err)
	}
	if *addr != "" {
		if err := applyAddr(cfg, *addr); err != nil {
			log.Fatalf("CONFIG_ADDR_INVALID | addr=%s err=%v", *addr, err)
		}
	}

	if err := run(cfg, *configPath); err != nil {
		log.Fatalf("SERVER_FAILED | err=%v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	// --- persistence ---
	store, err := openStore(cfg)
	if err != nil {
		// The server degrades to in-memory sessions without a store.
		log.Printf("STORE_OPEN_FAILED | path=%s err=%v", cfg.Storage.Path, err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	// --- provider ---
	provider := cloud.NewClient(cfg.Provider.APIKey).
		WithBaseURL(cfg.Provider.BaseURL).
		WithModel(cfg.Provider.Model).
		WithTimeout(time.Duration(cfg.Provider.TimeoutSecs) * time.Second).
		WithRateLimit(cfg.Provider.RequestsPerSecond, 1)
	if !provider.IsConfigured() {
		log.Printf("PROVIDER_UNCONFIGURED | set RIGCHAT_API_KEY to enable completions")
	}

	// --- context pipeline ---
	var searcher chatctx.Searcher
	if cfg.Retrieval.Enabled {
		searcher = retrieval.NewSearcher(retrieval.Corpus())
	}
	pipeline := chatctx.NewAssembler(searcher, chatctx.NewSummarizer(provider))

	// --- response cache ---
	responseCache := cache.NewResponseCache(time.Duration(cfg.Cache.TTLMinutes) * time.Minute)
	if cfg.Cache.Enabled {
		responseCache.StartSweep(time.Duration(cfg.Cache.SweepMinutes) * time.Minute)
		defer responseCache.StopSweep()
	}

	// --- sessions ---
	sessions := session.NewManager(store, session.DefaultConfig())
	sessions.StartReaper()

	srv := server.NewServer(cfg).
		WithProvider(provider).
		WithSessions(sessions).
		WithPipeline(pipeline).
		WithCache(responseCache).
		WithStore(store)

	// Hot reload only logs: most settings are wired at startup and need a
	// restart to take effect.
	if configPath == "" {
		configPath, _ = config.ConfigPath()
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			watcher, werr := config.Watch(configPath, func(next *config.Config) {
				log.Printf("CONFIG_RELOADED | path=%s (restart to apply server settings)", configPath)
			})
			if werr != nil {
				log.Printf("CONFIG_WATCH_FAILED | path=%s err=%v", configPath, werr)
			} else {
				defer watcher.Close()
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("SERVER_SHUTDOWN | signal=%s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("SERVER_SHUTDOWN_FAILED | err=%v", err)
	}
	if err := sessions.Close(ctx); err != nil {
		log.Printf("SESSIONS_CLOSE_FAILED | err=%v", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func applyAddr(cfg *config.Config, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	cfg.Server.Port = port
	return nil
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	path := cfg.Storage.Path
	if path == "" {
		p, err := storage.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return storage.Open(path)
}
