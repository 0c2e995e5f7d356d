// Command server starts the passcode relay WebSocket server.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mkrivosheev/passrelay/internal/crypto"
	"github.com/mkrivosheev/passrelay/internal/ingest"
	"github.com/mkrivosheev/passrelay/internal/limiter"
	"github.com/mkrivosheev/passrelay/internal/migrate"
	"github.com/mkrivosheev/passrelay/internal/queue"
	"github.com/mkrivosheev/passrelay/internal/repository/sqlite"
	"github.com/mkrivosheev/passrelay/internal/server/ws"
	"github.com/mkrivosheev/passrelay/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, prepares storage, and serves the relay endpoint.
func main() {
	// Flags
	addr := flag.String("addr", ":29985", "listen address")
	wsPath := flag.String("ws-path", "/ws", "websocket endpoint path")
	dbPath := flag.String("db", "codeserver.db", "storage file path")
	secret := flag.String("secret", "", "shared secret required on register (optional)")
	minVersion := flag.Int("min-version", 1, "minimum accepted client protocol version")
	certFile := flag.String("tls-cert", "", "TLS certificate (PEM); enables TLS together with -tls-key")
	keyFile := flag.String("tls-key", "", "TLS private key (PEM)")
	wipe := flag.Bool("wipe", false, "wipe and recreate storage at startup")
	seedFile := flag.String("load", "", "seed codes from a text file at startup")
	authWindow := flag.Duration("auth-window", 15*time.Minute, "window for counting failed register attempts")
	authMaxFails := flag.Int("auth-max-fails", 5, "failed registers per window before lockout")
	authLockout := flag.Duration("auth-lockout", 15*time.Minute, "register lockout duration")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *wipe {
		// WAL mode leaves sidecar files next to the database
		for _, p := range []string{*dbPath, *dbPath + "-wal", *dbPath + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Fatal("wipe storage", zap.String("file", p), zap.Error(err))
			}
		}
		logger.Info("storage wiped", zap.String("db", *dbPath))
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	defer store.Close()

	if err := migrate.Up(ctx, store.DB()); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	svc := service.NewRelay(store, queue.New(store), logger)
	if err := svc.Warm(ctx); err != nil {
		logger.Fatal("warm mirror", zap.Error(err))
	}

	if *seedFile != "" {
		n, err := ingest.SeedFromFile(ctx, *seedFile, svc, logger)
		if err != nil {
			logger.Fatal("seed codes", zap.Error(err))
		}
		logger.Info("codes seeded", zap.Int("count", n), zap.String("file", *seedFile))
	}

	cfg := ws.Config{Path: *wsPath, MinVersion: *minVersion}
	if *secret != "" {
		if cfg.Secret, err = crypto.NewSecret(*secret); err != nil {
			logger.Fatal("digest shared secret", zap.Error(err))
		}
	}

	lim := limiter.NewSQLite(store.DB(), *authWindow, *authMaxFails, *authLockout)
	relay := ws.NewServer(cfg, svc, lim, logger)

	httpSrv := &http.Server{Addr: *addr, Handler: relay.Handler()}
	errCh := make(chan error, 1)
	go func() {
		if *certFile != "" && *keyFile != "" {
			logger.Info("listening (TLS)", zap.String("addr", *addr), zap.String("path", *wsPath))
			errCh <- httpSrv.ListenAndServeTLS(*certFile, *keyFile)
			return
		}
		logger.Info("listening", zap.String("addr", *addr), zap.String("path", *wsPath))
		errCh <- httpSrv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		relay.Shutdown(shutdownCtx)
		_ = httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
