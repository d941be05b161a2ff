package repository

import (
	"context"
	"log/slog"

	"github.com/UnknownOlympus/hexatlas/internal/features"
	"github.com/UnknownOlympus/hexatlas/internal/hexgrid"
)

// Repository stores feature tables in PostGIS.
type Repository struct {
	db  Database
	log *slog.Logger
}

// Interface is the persistence contract used by the pipeline.
type Interface interface {
	SaveFeatureTable(ctx context.Context, city string, table *features.Table) error
	LoadFeatureTable(ctx context.Context, city string, idx *hexgrid.Indexer) (*features.Table, error)
}

// NewRepository creates a new instance of Repository with the provided Database.
// It returns a pointer to the newly created Repository.
func NewRepository(db Database, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}
