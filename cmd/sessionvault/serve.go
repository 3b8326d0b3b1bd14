package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wesm/sessionvault/internal/bridge"
	"github.com/wesm/sessionvault/internal/config"
	"github.com/wesm/sessionvault/internal/sync"
)

const (
	periodicSyncInterval = 15 * time.Minute
	watcherDebounce      = 500 * time.Millisecond
	shutdownTimeout      = 5 * time.Second
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	config.RegisterServeFlags(fs)
	parseFlags(fs, args)

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	e := mustOpen()
	e.cfg = cfg
	defer e.close()

	tally, err := e.engine.Sync()
	if err != nil {
		log.Fatalf("initial sync: %v", err)
	}
	fmt.Printf("sync: %d added, %d updated, %d deleted, %d unchanged\n",
		tally.Added, tally.Updated, tally.Deleted, tally.Unchanged)

	stopWatcher := startWatcher(e.engine)
	defer stopWatcher()
	go periodicSync(e.engine)

	cfgStore := config.NewServerConfigStore(cfg.ServerConfigPath())
	auth, err := bridge.NewAuth(cfgStore)
	if err != nil {
		log.Fatalf("initializing auth: %v", err)
	}
	if !auth.PasswordSet() {
		fmt.Println("no bridge password set; run `sessionvault password` first")
	}

	srv := bridge.New(cfg, e.svc, auth, bridge.NewNotifier(cfgStore, nil))

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("shutting down")
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func startWatcher(engine *sync.Engine) func() {
	onChange := func() {
		if _, err := engine.Sync(); err != nil {
			log.Printf("watch sync: %v", err)
		}
	}
	watcher, err := sync.NewWatcher(watcherDebounce, onChange)
	if err != nil {
		log.Printf("warning: file watcher unavailable: %v", err)
		return func() {}
	}

	if n, err := watcher.WatchProjects(engine.ProjectsDir()); err != nil {
		log.Printf("warning: watching projects: %v", err)
	} else {
		log.Printf("watching %d directories", n)
	}
	watcher.Start()
	return watcher.Stop
}

func periodicSync(engine *sync.Engine) {
	ticker := time.NewTicker(periodicSyncInterval)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := engine.Sync(); err != nil {
			log.Printf("scheduled sync: %v", err)
		}
	}
}
