// Package sources maintains the lead source dictionary: a Postgres
// copy of the CRM's source list plus an in-memory name cache.
package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/bitrix"
	"github.com/avezor/funnelboard/pkg/events"
	"github.com/avezor/funnelboard/pkg/funnel"
	"github.com/avezor/funnelboard/pkg/models"
	"github.com/avezor/funnelboard/pkg/tracing"
)

// Repository is the persistence surface the service needs.
type Repository interface {
	List(ctx context.Context) ([]models.LeadSource, error)
	GetByBitrixID(ctx context.Context, bitrixID string) (*models.LeadSource, error)
	Create(ctx context.Context, bitrixID, name string, syncedAt time.Time) (*models.LeadSource, error)
	Update(ctx context.Context, bitrixID, name string, syncedAt time.Time) error
	DeactivateMissing(ctx context.Context, presentBitrixIDs []string) error
}

// CRM is the slice of the Bitrix client the service needs.
type CRM interface {
	FetchSources(ctx context.Context) ([]bitrix.Source, error)
}

// Service keeps the dictionary in sync and answers name lookups from
// a TTL cache. The cache is rebuilt wholesale, never merged.
type Service struct {
	repo    Repository
	crm     CRM
	emitter *events.Emitter
	ttl     time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	names    map[string]string
	cachedAt time.Time
}

// NewService creates the source dictionary service.
func NewService(repo Repository, crm CRM, emitter *events.Emitter, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		crm:     crm,
		emitter: emitter,
		ttl:     ttl,
		logger:  logger,
		names:   make(map[string]string),
	}
}

// ResolveName answers a source display name from the cache, empty when
// unknown. Safe for concurrent use.
func (s *Service) ResolveName(sourceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.names[sourceID]
}

// Resolver adapts the cache to the aggregator's lookup signature.
func (s *Service) Resolver() funnel.NameResolver {
	return s.ResolveName
}

// EnsureFresh rebuilds the name cache from Postgres when the TTL has
// lapsed. A refresh failure keeps the stale cache and is not fatal.
func (s *Service) EnsureFresh(ctx context.Context) {
	s.mu.RLock()
	fresh := time.Since(s.cachedAt) < s.ttl && len(s.names) > 0
	s.mu.RUnlock()
	if fresh {
		return
	}

	if err := s.refreshCache(ctx); err != nil {
		s.logger.Warn("source name cache refresh failed, serving stale data", zap.Error(err))
	}
}

func (s *Service) refreshCache(ctx context.Context) error {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	names := make(map[string]string, len(stored))
	for _, src := range stored {
		names[src.BitrixID] = src.Name
	}

	s.mu.Lock()
	s.names = names
	s.cachedAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("source name cache rebuilt", zap.Int("entries", len(names)))
	return nil
}

// List returns the persisted dictionary sorted by name.
func (s *Service) List(ctx context.Context) ([]models.LeadSource, error) {
	ctx, span := tracing.StartSpan(ctx, "sources.Service.List")
	defer span.End()

	return s.repo.List(ctx)
}

// SyncResult summarizes one dictionary sync run.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// Sync pulls the source list from the CRM, upserts it into Postgres,
// deactivates entries the CRM no longer knows and rebuilds the cache.
func (s *Service) Sync(ctx context.Context) (*SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "sources.Service.Sync")
	defer span.End()

	fetched, err := s.crm.FetchSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch sources: %w", err)
	}

	syncedAt := time.Now().UTC()
	result := &SyncResult{Total: len(fetched)}
	presentIDs := make([]string, 0, len(fetched))

	for _, src := range fetched {
		name := src.Name
		if name == "" {
			name = fmt.Sprintf("Источник %s", src.ID)
		}
		presentIDs = append(presentIDs, src.ID)

		existing, err := s.repo.GetByBitrixID(ctx, src.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			if _, err := s.repo.Create(ctx, src.ID, name, syncedAt); err != nil {
				return nil, err
			}
			result.Created++
			continue
		}
		if err := s.repo.Update(ctx, src.ID, name, syncedAt); err != nil {
			return nil, err
		}
		result.Updated++
	}

	if err := s.repo.DeactivateMissing(ctx, presentIDs); err != nil {
		return nil, err
	}

	if err := s.refreshCache(ctx); err != nil {
		s.logger.Warn("cache refresh after sync failed", zap.Error(err))
	}

	s.emitter.EmitSourcesSynced(ctx, result.Created, result.Updated, result.Total)

	s.logger.Info("source dictionary synced",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("total", result.Total))
	return result, nil
}
