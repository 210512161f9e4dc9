// Package leadsource persists the Bitrix lead source dictionary.
package leadsource

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/database"
	"github.com/avezor/funnelboard/pkg/models"
	"github.com/avezor/funnelboard/pkg/tracing"
)

const table = "lead_sources"

var columns = []string{"id", "bitrix_id", "name", "is_active", "last_sync", "created_at", "updated_at"}

// Repository handles lead source persistence.
type Repository struct {
	db     database.DB
	logger *zap.Logger
}

// NewRepository creates a new lead source repository.
func NewRepository(db database.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// List returns all known sources sorted by name.
func (r *Repository) List(ctx context.Context) ([]models.LeadSource, error) {
	ctx, span := tracing.StartSpan(ctx, "leadsource.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.OrderBy("name")

	query, args := sb.Build()
	sources := []models.LeadSource{}
	if err := r.db.SelectContext(ctx, &sources, query, args...); err != nil {
		r.logger.Error("failed to list lead sources", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to list lead sources")
	}
	return sources, nil
}

// GetByBitrixID returns one source by its CRM identifier, or nil when
// the dictionary has no such entry.
func (r *Repository) GetByBitrixID(ctx context.Context, bitrixID string) (*models.LeadSource, error) {
	ctx, span := tracing.StartSpan(ctx, "leadsource.Repository.GetByBitrixID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("bitrix_id", bitrixID))

	query, args := sb.Build()
	var source models.LeadSource
	if err := r.db.GetContext(ctx, &source, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get lead source",
			zap.String("bitrix_id", bitrixID),
			zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to get lead source")
	}
	return &source, nil
}

// Create inserts a new dictionary entry.
func (r *Repository) Create(ctx context.Context, bitrixID, name string, syncedAt time.Time) (*models.LeadSource, error) {
	ctx, span := tracing.StartSpan(ctx, "leadsource.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	source := &models.LeadSource{
		ID:        uuid.New(),
		BitrixID:  bitrixID,
		Name:      name,
		IsActive:  true,
		LastSync:  syncedAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(source.ID, source.BitrixID, source.Name, source.IsActive, source.LastSync, source.CreatedAt, source.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to create lead source",
			zap.String("bitrix_id", bitrixID),
			zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to create lead source")
	}

	r.logger.Info("lead source created",
		zap.String("bitrix_id", bitrixID),
		zap.String("name", name))
	return source, nil
}

// Update refreshes the name and sync timestamp of an existing entry.
func (r *Repository) Update(ctx context.Context, bitrixID, name string, syncedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "leadsource.Repository.Update")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("name", name),
		sb.Assign("is_active", true),
		sb.Assign("last_sync", syncedAt),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("bitrix_id", bitrixID))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to update lead source",
			zap.String("bitrix_id", bitrixID),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update lead source")
	}
	return nil
}

// DeactivateMissing flags every source absent from the given CRM set
// as inactive. Entries are never deleted so historical reports keep
// resolving names.
func (r *Repository) DeactivateMissing(ctx context.Context, presentBitrixIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "leadsource.Repository.DeactivateMissing")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("is_active", false),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	if len(presentBitrixIDs) > 0 {
		ids := make([]any, len(presentBitrixIDs))
		for i, id := range presentBitrixIDs {
			ids[i] = id
		}
		sb.Where(sb.NotIn("bitrix_id", ids...))
	}

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to deactivate missing lead sources", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to deactivate missing lead sources")
	}
	return nil
}
