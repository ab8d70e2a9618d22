package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type classStore interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	ListWithAvailability(ctx context.Context, filter models.ClassFilter) ([]models.ClassAvailability, int, error)
}

type availabilityCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type availabilityPage struct {
	Classes []models.ClassAvailability `json:"classes"`
	Total   int                        `json:"total"`
}

// ClassService serves class reads. Availability listings are cached briefly
// in Redis; seat counts shown there may lag by up to the TTL, the ledger
// itself always recomputes from source rows.
type ClassService struct {
	classes  classStore
	cache    availabilityCache
	cacheTTL time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewClassService constructs the service.
func NewClassService(classes classStore, cache availabilityCache, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &ClassService{classes: classes, cache: cache, cacheTTL: cacheTTL, metrics: metrics, logger: logger}
}

// Get returns a single class.
func (s *ClassService) Get(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.classes.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

// ListAvailability returns classes with live seat and waitlist counts.
func (s *ClassService) ListAvailability(ctx context.Context, filter models.ClassFilter) ([]models.ClassAvailability, int, error) {
	key := availabilityCacheKey(filter)

	if s.cache != nil {
		var cached availabilityPage
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached.Classes, cached.Total, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("availability cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	classes, total, err := s.classes.ListWithAvailability(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, availabilityPage{Classes: classes, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return classes, total, nil
}

// InvalidateAvailability drops every cached availability page.
func (s *ClassService) InvalidateAvailability(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "classes:availability:*"); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Error(err))
	}
}

func availabilityCacheKey(filter models.ClassFilter) string {
	return fmt.Sprintf("classes:availability:%s:%s:%d:%d:%s",
		filter.TeacherID, filter.Search, filter.Page, filter.PageSize, filter.SortOrder)
}
