package entity

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// writeTimeout bounds each listener-driven write.
const writeTimeout = 2 * time.Second

// Registry caches entity records in memory in front of a Repository.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository
	now  func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]*Record

	loggerMu sync.RWMutex
	logger   Logger
}

// NewRegistry creates a registry. Call RefreshCache to load stored records.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		now:    time.Now,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// RefreshCache reloads every record from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	cache := make(map[string]*Record, len(records))
	for i := range records {
		rec := records[i].Clone()
		cache[rec.Key] = &rec
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.log().Info("entity cache refreshed", "count", len(records))
	return nil
}

// Get returns the record for key, a copy safe to modify.
func (r *Registry) Get(ctx context.Context, key string) (*Record, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[key]
	r.cacheMu.RUnlock()
	if ok {
		rec := cached.Clone()
		return &rec, nil
	}

	rec, err := r.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	r.store(*rec)
	return rec, nil
}

// List returns every cached record ordered by key.
func (r *Registry) List() []Record {
	r.cacheMu.RLock()
	records := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		records = append(records, rec.Clone())
	}
	r.cacheMu.RUnlock()

	slices.SortFunc(records, func(a, b Record) int { return strings.Compare(a.Key, b.Key) })
	return records
}

// Count returns the number of cached records.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Scenes returns the stored scenes.
func (r *Registry) Scenes(ctx context.Context) ([]SceneRecord, error) {
	return r.repo.ListScenes(ctx)
}

// RecordDiscovery persists the entries a directory change touched.
// Suitable as a mesh.DiscoveryListener once bound to a directory.
func (r *Registry) RecordDiscovery(ctx context.Context, dir *mesh.Directory, change mesh.DirectoryChange) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	now := r.now()
	addresses := slices.Concat(change.Added, change.Updated)

	var errs []error
	for _, addr := range addresses {
		var err error
		switch change.Category {
		case mesh.CategoryLights:
			if d, ok := dir.Light(addr); ok {
				err = r.upsert(ctx, RecordFromDescriptor(d, now))
			}
		case mesh.CategoryGroups:
			if d, ok := dir.Group(addr); ok {
				err = r.upsert(ctx, RecordFromDescriptor(d, now))
			}
		case mesh.CategoryScenes:
			if s, ok := dir.Scene(addr); ok {
				err = r.repo.UpsertScene(ctx, SceneRecord{ID: s.ID, Name: s.Name, LastSeenAt: now})
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		r.log().Warn("failed to persist discovery",
			"category", string(change.Category),
			"failed", len(errs),
			"error", errs[0])
		return fmt.Errorf("persisting %s: %d of %d failed: %w", change.Category, len(errs), len(addresses), errs[0])
	}

	r.log().Debug("discovery persisted", "category", string(change.Category), "count", len(addresses))
	return nil
}

func (r *Registry) upsert(ctx context.Context, rec Record) error {
	r.cacheMu.RLock()
	if existing, ok := r.cache[rec.Key]; ok {
		rec.FirstSeenAt = existing.FirstSeenAt
		rec.State = existing.State
	}
	r.cacheMu.RUnlock()

	if err := r.repo.Upsert(ctx, rec); err != nil {
		return err
	}
	r.store(rec)
	return nil
}

// RecordState persists the latest snapshot of an entity.
// Suitable as a mesh.StateListener.
func (r *Registry) RecordState(ctx context.Context, es mesh.EntityState) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	state, err := StateFromEntity(es, r.now())
	if err != nil {
		return err
	}
	if err := r.repo.SaveState(ctx, es.Key, state); err != nil {
		r.log().Warn("failed to persist entity state", "entity", es.Key, "error", err)
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[es.Key]; ok {
		updated := cached.Clone()
		updated.State = &state
		r.cache[es.Key] = &updated
	}
	r.cacheMu.Unlock()
	return nil
}

func (r *Registry) store(rec Record) {
	c := rec.Clone()
	r.cacheMu.Lock()
	r.cache[c.Key] = &c
	r.cacheMu.Unlock()
}
