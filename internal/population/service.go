package population

import (
	"context"
	"log"
	"strconv"

	"golang.org/x/sync/errgroup"

	"popwatch/internal/sources"
	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// worldTTLSeconds is how long a reconciled world record stays cached.
const worldTTLSeconds = 60 * 3

// Service is the query facade: it answers per-world and all-world lookups
// from the world cache, falling back to a concurrent fan-out over every
// enabled source followed by reconciliation.
type Service struct {
	srcs     []sources.Source
	disabled map[string]bool
	order    []string

	sourceCache *cache.Cache
	worldCache  *cache.Cache
}

// NewService builds a facade over srcs. disabled names sources that stay in
// the per-service view but are never called; they contribute the same
// sentinel a failed source would.
func NewService(srcs []sources.Source, disabled map[string]bool, sourceCache, worldCache *cache.Cache) *Service {
	order := make([]string, 0, len(srcs))
	for _, s := range srcs {
		order = append(order, s.Name())
	}
	return &Service{
		srcs:        srcs,
		disabled:    disabled,
		order:       order,
		sourceCache: sourceCache,
		worldCache:  worldCache,
	}
}

// SourceNames returns the configured source order.
func (s *Service) SourceNames() []string { return s.order }

// CacheDisabled reports whether the caches run in diagnostic pass-through
// mode.
func (s *Service) CacheDisabled() bool { return s.worldCache.Disabled() }

// GetWorld returns the reconciled record for one world, reconciling afresh
// on a cache miss. A record with a nil World payload means no source had
// data; that outcome is cached like any other.
func (s *Service) GetWorld(ctx context.Context, id int) models.WorldRecord {
	key := strconv.Itoa(id)

	var rec models.WorldRecord
	if s.worldCache.Get(ctx, key, &rec) {
		return rec
	}

	rec = Reconcile(id, s.order, s.fetchAll(ctx, id))
	s.worldCache.Put(ctx, key, rec, worldTTLSeconds)
	return rec
}

// fetchAll invokes every enabled source concurrently and substitutes the
// shared sentinel for failures, so one slow or dead provider costs nothing
// but its own column.
func (s *Service) fetchAll(ctx context.Context, id int) map[string]models.SourceResult {
	results := make([]models.SourceResult, len(s.srcs))

	var g errgroup.Group
	for i, src := range s.srcs {
		if s.disabled[src.Name()] {
			results[i] = sources.NoData()
			continue
		}
		i, src := i, src
		g.Go(func() error {
			res, err := src.FetchWorld(ctx, id, s.sourceCache)
			if err != nil {
				log.Printf("[population] source %s, world %d: %v", src.Name(), id, err)
				res = sources.NoData()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	byName := make(map[string]models.SourceResult, len(s.srcs))
	for i, src := range s.srcs {
		byName[src.Name()] = results[i]
	}
	return byName
}

// GetAll returns a record for every known world in enumeration order.
//
// The first world is resolved alone before the rest are dispatched
// concurrently: its fan-out warms every provider's bulk payload in the
// source cache, so the remaining worlds resolve as cache hits instead of
// duplicating the bulk upstream calls.
func (s *Service) GetAll(ctx context.Context) []models.WorldRecord {
	records := make([]models.WorldRecord, len(models.AllWorldIDs))
	records[0] = s.GetWorld(ctx, models.AllWorldIDs[0])

	var g errgroup.Group
	for i, id := range models.AllWorldIDs {
		if i == 0 {
			continue
		}
		i, id := i, id
		g.Go(func() error {
			records[i] = s.GetWorld(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return records
}

// SnapshotAll is GetAll plus maintenance of the bulk snapshot key: the
// payload-only view of every world cached under "all".
func (s *Service) SnapshotAll(ctx context.Context) []*models.WorldPayload {
	var payloads []*models.WorldPayload
	if s.worldCache.Get(ctx, "all", &payloads) {
		return payloads
	}

	records := s.GetAll(ctx)
	payloads = make([]*models.WorldPayload, len(records))
	for i, rec := range records {
		payloads[i] = rec.World
	}

	s.worldCache.Put(ctx, "all", payloads, worldTTLSeconds)
	return payloads
}
