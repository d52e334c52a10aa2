package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cubbyd/cubby"
	"github.com/cubbyd/cubby/config"
	cubbyhttp "github.com/cubbyd/cubby/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the cubby HTTP server.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen address (default: 0.0.0.0)")
	serveCmd.Flags().Int("port", 0, "HTTP server port (default: 8080)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	service, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := cubbyhttp.NewHandler(cfg.CORS, service)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "storage_root", cfg.Storage.Root)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// buildService wires the resolver, stores and lifecycle service from config.
// The returned cleanup closes the metadata store.
func buildService(ctx context.Context, cfg *config.Config) (*cubby.Service, func(), error) {
	if err := os.MkdirAll(cfg.Storage.Root, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create storage root: %w", err)
	}

	service, cleanup, err := newService(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return service, cleanup, nil
}
