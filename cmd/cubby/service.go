package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cubbyd/cubby"
	"github.com/cubbyd/cubby/config"
	"github.com/cubbyd/cubby/filesystem"
	"github.com/cubbyd/cubby/metastore"
	"github.com/cubbyd/cubby/pathsafe"
)

// newService constructs the lifecycle service from a loaded config. The
// storage root must already exist.
func newService(ctx context.Context, cfg *config.Config) (*cubby.Service, func(), error) {
	resolver, err := pathsafe.NewResolver(cfg.Storage.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage root: %w", err)
	}

	meta, err := metastore.Open(ctx, cfg.DatabaseDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open metadata store: %w", err)
	}
	slog.Info("metadata store opened", "dsn", cfg.DatabaseDSN())

	cleanup := func() {
		if err := meta.Close(); err != nil {
			slog.Warn("failed to close metadata store", "err", err)
		}
	}

	service := cubby.NewService(resolver, meta, filesystem.NewStore(), cubby.Secrets{
		BucketCreate: cfg.Secrets.BucketCreate,
		Upload:       cfg.Secrets.Upload,
	})
	return service, cleanup, nil
}
