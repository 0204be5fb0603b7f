// Command sofad serves a document store over HTTP.
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

	"github.com/jacentio/sofa/httpapi"
	"github.com/jacentio/sofa/store"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	backendName := flag.String("backend", "couch", "document backend: couch, dynamo, sqlite, postgres or memory")
	envFile := flag.String("env", ".env", "dotenv file with COUCH_* settings")
	dsn := flag.String("dsn", "", "data source name for the sqlite and postgres backends")
	dynamoEndpoint := flag.String("dynamo-endpoint", "", "DynamoDB endpoint override")
	initTable := flag.Bool("init", false, "create the SQL table if it does not exist")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*addr, *envFile, backendOptions{
		Name:           *backendName,
		DSN:            *dsn,
		DynamoEndpoint: *dynamoEndpoint,
		InitTable:      *initTable,
	}, logger); err != nil {
		logger.Error("sofad stopped", "error", err)
		os.Exit(1)
	}
}

func run(addr, envFile string, opts backendOptions, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := store.LoadConfig(envFile)
	if err != nil {
		return err
	}

	backend, err := openBackend(ctx, opts, cfg)
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, backend, cfg, store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewServer(s, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("sofad listening", "addr", addr, "backend", opts.Name, "database", cfg.Database)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("sofad shutting down")
	return srv.Shutdown(shutdownCtx)
}
