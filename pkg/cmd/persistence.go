// Package cmd provides shared initialization for the command-line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kronion-io/kronion/pkg/persistence"
	"github.com/kronion-io/kronion/pkg/persistence/file"
	"github.com/kronion-io/kronion/pkg/persistence/postgresql"
)

// NewPersistence builds the store from a database URL. postgres:// URLs
// select PostgreSQL; anything else is treated as a file store root,
// with an optional file:// prefix.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "":
		return nil, fmt.Errorf("database URL is required")
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "file://"):
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	default:
		return file.NewPersistence(databaseURL)
	}
}
