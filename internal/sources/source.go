package sources

import (
	"context"
	"time"

	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// Source is implemented by each upstream population provider.
//
// FetchWorld returns the provider's measurement for one world. Providers are
// queried in bulk: the first call inside a cache window fetches every world
// the provider knows about and stores the raw payload in the source cache
// under the provider's name, so sibling lookups reuse it instead of hitting
// the upstream again. A failed bulk fetch is never cached; the next call
// retries.
type Source interface {
	Name() string
	FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error)
}

// bulkTTLSeconds is how long a provider's raw bulk payload stays valid.
// Deliberately shorter than the world cache TTL so a reconciled record is
// never built from a source payload older than itself.
const bulkTTLSeconds = 60

// httpTimeout bounds every upstream call.
const httpTimeout = 10 * time.Second

// NoData is the shared fallback result for a source that failed, was
// disabled, or does not cover the requested world. The -1 total is a
// sentinel: reconciliation excludes it from every aggregate, but the
// per-service view still shows it as returned.
func NoData() models.SourceResult {
	return models.SourceResult{
		Population: models.Population{Total: -1},
		FetchedAt:  time.Now(),
	}
}

// timings builds the enter/upstream/exit record for a fetch that ran between
// start and end.
func timings(start, end time.Time) *models.Timings {
	return &models.Timings{
		Enter:    start.UnixMilli(),
		Upstream: end.Sub(start).Milliseconds(),
		Exit:     end.UnixMilli(),
	}
}

func intp(v int) *int { return &v }
