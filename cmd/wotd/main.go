// cmd/wotd/main.go
//
// wotd is the ai-wot daemon. It serves the localhost HTTP API (scores,
// attestations, candidate review, relay health), the public SVG trust
// badge, and Prometheus metrics, and it watches the relays for DVM
// results addressed to the local key, queueing review candidates.
//
// Usage:
//
//	wotd [--addr 127.0.0.1:8480] [--config path] [--dev-relay] [--no-watch] [--debug]
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeletor/ai-wot/internal/candidate"
	"github.com/jeletor/ai-wot/internal/config"
	"github.com/jeletor/ai-wot/internal/keys"
	"github.com/jeletor/ai-wot/internal/relay"
	"github.com/jeletor/ai-wot/internal/relay/relaytest"
	"github.com/jeletor/ai-wot/internal/server"
	"github.com/jeletor/ai-wot/internal/storage"
	"github.com/jeletor/ai-wot/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	addr := flag.String("addr", "", "listen address (overrides config)")
	devRelay := flag.Bool("dev-relay", false, "run an in-process relay and talk only to it")
	noWatch := flag.Bool("no-watch", false, "disable the DVM result watcher")
	debug := flag.Bool("debug", false, "verbose development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}

	log, err := cfg.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *devRelay {
		url, stop := startDevRelay(log)
		defer stop()
		cfg.Relays = []string{url}
	}

	// Signing identity. First run generates and stores the key.
	if err := os.MkdirAll(filepath.Dir(cfg.Key.Path), 0700); err != nil {
		log.Fatal("create key directory", zap.Error(err))
	}
	ks, created, err := keys.LoadOrGenerate(cfg.Key.Path, cfg.Key.Passphrase)
	if err != nil {
		log.Fatal("load signing key", zap.Error(err))
	}
	if created {
		log.Info("generated signing key", zap.String("path", cfg.Key.Path))
	}
	log.Info("signing identity", zap.String("pubkey", ks.PublicKey()))

	// Candidate queue, persisted through SQLite.
	if err := os.MkdirAll(filepath.Dir(cfg.Candidates.DBPath), 0700); err != nil {
		log.Fatal("create data directory", zap.Error(err))
	}
	db, err := storage.NewDB(cfg.Candidates.DBPath)
	if err != nil {
		log.Fatal("open candidate database", zap.Error(err))
	}
	defer db.Close()

	existing, err := db.LoadCandidates()
	if err != nil {
		log.Fatal("load candidates", zap.Error(err))
	}
	store := candidate.NewStore(candidate.Config{
		MaxAge:        cfg.Candidates.MaxAge,
		MaxCandidates: cfg.Candidates.MaxCandidates,
		Persist:       db.SaveCandidates,
		Logger:        log.Named("candidates"),
	})
	store.Load(existing)
	log.Info("candidate store ready", zap.Int("loaded", len(existing)))

	client := relay.NewClient(relay.Options{
		Relays: cfg.Relays,
		Logger: log.Named("relay"),
	})

	srv := server.New(server.Options{
		Client:     client,
		Store:      store,
		Signer:     ks,
		Scoring:    cfg.ScoringOptions(),
		RateLimit:  cfg.Server.RateLimit,
		RateWindow: cfg.Server.RateWindow,
		Logger:     log.Named("http"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Watcher.Enabled && !*noWatch {
		w, err := watcher.New(watcher.Options{
			Relays: cfg.Relays,
			PubKey: ks.PublicKey(),
			Store:  store,
			Logger: log.Named("watcher"),
		})
		if err != nil {
			log.Fatal("create watcher", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv}
	go func() {
		log.Info("wotd listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Strings("relays", cfg.Relays))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()
}

// startDevRelay serves an in-process relay on an ephemeral localhost
// port so the daemon can run without touching public relays.
func startDevRelay(log *zap.Logger) (url string, stop func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal("start dev relay", zap.Error(err))
	}
	go http.Serve(ln, relaytest.New())

	url = "ws://" + ln.Addr().String()
	log.Info("dev relay running", zap.String("url", url))
	return url, func() { ln.Close() }
}
