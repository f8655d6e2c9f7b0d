/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config/.env.<env>, BILLING_* env)
  2. Apply command-line flag overrides
  3. Initialize logging
  4. Open the store (sqlite3, postgres or memory)
  5. Build the billing service, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides BILLING_PORT)
  -driver  sqlite3 | postgres | memory (overrides BILLING_DB_DRIVER)
  -db      SQLite path or Postgres DSN (overrides BILLING_DB_DSN)
           Use ":memory:" for an in-memory SQLite database
  -token   user:role - print a signed API token and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run against Postgres
  ./server -driver=postgres -db="postgres://billing@localhost/billing?sslmode=disable"

  # Issue an admin token (requires BILLING_JWT_SECRET)
  ./server -token="alice:admin"

SEE ALSO:
  - internal/config: configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/warp/fee-ledger/api"
	"github.com/warp/fee-ledger/billing"
	"github.com/warp/fee-ledger/billing/store"
	"github.com/warp/fee-ledger/internal/config"
	"github.com/warp/fee-ledger/internal/logging"
	"github.com/warp/fee-ledger/store/sqlite"
)

const tokenLifetime = 12 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.DBDriver, "database driver: sqlite3, postgres or memory")
	dsn := flag.String("db", cfg.DBDSN, "SQLite database path or Postgres DSN")
	issue := flag.String("token", "", "print a token for user:role and exit")
	flag.Parse()
	cfg.Port, cfg.DBDriver, cfg.DBDSN = *port, *driver, *dsn
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.Setup(cfg.LogLevel)

	var tokens *api.TokenManager
	if cfg.AuthEnabled() {
		tokens = api.NewTokenManager(cfg.JWTSecret, tokenLifetime)
	}
	if *issue != "" {
		return printToken(tokens, *issue)
	}

	// Initialize store
	st, closeStore, ping, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := billing.NewService(st, billing.WithMaxRetries(cfg.MaxRetries))

	opts := []api.HandlerOption{api.WithLogger(log)}
	if cfg.EnableScenarios {
		resetter, ok := st.(api.Resetter)
		if ok {
			opts = append(opts, api.WithScenarios(resetter))
		} else {
			log.Warn("scenarios enabled but the store cannot be reset", slog.String("driver", cfg.DBDriver))
		}
	}
	handler := api.NewHandler(svc, opts...)

	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		Tokens:      tokens,
		Ping:        ping,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.Int("port", cfg.Port),
			slog.String("env", cfg.Env),
			slog.String("driver", cfg.DBDriver),
			slog.Bool("auth", cfg.AuthEnabled()),
			slog.Bool("scenarios", cfg.EnableScenarios),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore builds the configured store. ping is nil for the memory store.
func openStore(cfg config.Config) (billing.TxStore, func(), func(context.Context) error, error) {
	switch cfg.DBDriver {
	case "memory":
		return store.NewTxMemory(), func() {}, nil, nil
	case sqlite.DriverPostgres:
		s, err := sqlite.Open(sqlite.DriverPostgres, cfg.DBDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, func() { s.Close() }, s.Ping, nil
	default:
		s, err := sqlite.New(cfg.DBDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, func() { s.Close() }, s.Ping, nil
	}
}

func printToken(tokens *api.TokenManager, subject string) error {
	if tokens == nil {
		return errors.New("BILLING_JWT_SECRET is not set")
	}
	user, role, ok := strings.Cut(subject, ":")
	if !ok || user == "" || role == "" {
		return fmt.Errorf("token subject must be user:role, got %q", subject)
	}
	token, err := tokens.Generate(user, role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
