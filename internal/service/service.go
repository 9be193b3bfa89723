package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"poscore/backend/internal/cache"
	"poscore/backend/internal/domain"
	"poscore/backend/internal/lock"
	"poscore/backend/internal/logging"
	"poscore/backend/internal/metrics"
	"poscore/backend/internal/store"
	"poscore/backend/internal/xid"
)

type Options struct {
	DefaultStoreID   string
	BaseCurrency     string
	Cache            cache.CatalogCache
	CatalogCacheTTL  time.Duration
	Locker           lock.Locker
	RequestLockTTL   time.Duration
	Logger           *logrus.Logger
	Metrics          *metrics.Metrics
	ReturnCostPolicy string
}

type Service struct {
	repo           store.Repository
	cache          cache.CatalogCache
	cacheTTL       time.Duration
	locker         lock.Locker
	lockTTL        time.Duration
	logger         *logrus.Logger
	metrics        *metrics.Metrics
	defaultStoreID string
	baseCurrency   string
	costPolicy     []CostSource
}

func New(repo store.Repository, opts Options) (*Service, error) {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = "DOP"
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopCatalogCache{}
	}
	if opts.CatalogCacheTTL <= 0 {
		opts.CatalogCacheTTL = time.Minute
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.RequestLockTTL <= 0 {
		opts.RequestLockTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	policy, err := ParseCostPolicy(opts.ReturnCostPolicy)
	if err != nil {
		return nil, err
	}

	return &Service{
		repo:           repo,
		cache:          opts.Cache,
		cacheTTL:       opts.CatalogCacheTTL,
		locker:         opts.Locker,
		lockTTL:        opts.RequestLockTTL,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		defaultStoreID: opts.DefaultStoreID,
		baseCurrency:   strings.ToUpper(opts.BaseCurrency),
		costPolicy:     policy,
	}, nil
}

func (s *Service) Repository() store.Repository {
	return s.repo
}

// session fills store and currency defaults and rejects an anonymous caller.
func (s *Service) session(sess domain.Session) (domain.Session, error) {
	sess.UserID = strings.TrimSpace(sess.UserID)
	if sess.UserID == "" {
		return sess, store.Validation(store.CodeInvalidInput, "session user is required", nil)
	}
	if sess.StoreID == "" {
		sess.StoreID = s.defaultStoreID
	}
	if sess.BaseCurrency == "" {
		sess.BaseCurrency = s.baseCurrency
	}
	sess.BaseCurrency = strings.ToUpper(sess.BaseCurrency)
	sess.RegisterID = strings.TrimSpace(sess.RegisterID)
	sess.ShiftID = strings.TrimSpace(sess.ShiftID)
	return sess, nil
}

func (s *Service) registerSession(sess domain.Session) (domain.Session, error) {
	sess, err := s.session(sess)
	if err != nil {
		return sess, err
	}
	if sess.RegisterID == "" {
		return sess, store.Validation(store.CodeInvalidInput, "session register is required", nil)
	}
	return sess, nil
}

// lookupItems resolves catalog items through the cache. Every id must exist
// and be active.
func (s *Service) lookupItems(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	out := make(map[string]domain.Item, len(ids))
	var missing []string
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		item, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("item_id", id).Warn("catalog cache read failed")
		}
		if ok && item != nil {
			out[id] = *item
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		found, err := s.repo.GetItems(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup: %w", err)
		}
		for _, id := range missing {
			item, ok := found[id]
			if !ok {
				return nil, store.NotFound("item", id)
			}
			out[id] = item
			if err := s.cache.Set(ctx, item, s.cacheTTL); err != nil {
				s.logger.WithError(err).WithField("item_id", id).Warn("catalog cache write failed")
			}
		}
	}

	for id, item := range out {
		if !item.Active {
			return nil, store.Validation(store.CodeInvalidInput, "item is not active", map[string]any{"item_id": id})
		}
	}
	return out, nil
}

// withRequestLock serializes concurrent copies of one request key. An empty
// key runs fn unguarded.
func (s *Service) withRequestLock(ctx context.Context, key string, fn func() error) error {
	if key == "" {
		return fn()
	}
	release, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return store.Conflict(store.CodeRequestInProgress, "an identical request is still being processed", map[string]any{"key": key})
	}
	if err != nil {
		return fmt.Errorf("obtain request lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("request lock release failed")
		}
	}()
	return fn()
}

func (s *Service) observe(operation string, err error) {
	if err == nil {
		s.metrics.Operation(operation, "ok")
		return
	}
	code := store.CodeOf(err)
	if code == "" {
		code = "internal"
		logging.LogError(s.logger, "service", operation, "operation failed", nil, err)
	}
	s.metrics.Operation(operation, code)
}

func (s *Service) logAudit(ctx context.Context, sess domain.Session, action string, entityType string, entityID string, detail string) {
	actor := sess.UserID
	if actor == "" {
		actor = "system"
	}
	storeID := sess.StoreID
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    storeID,
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, sess domain.Session, limit int) ([]domain.AuditLog, error) {
	sess, err := s.session(sess)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, sess.StoreID, limit)
}
