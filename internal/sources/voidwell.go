package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// Voidwell fetches world state from voidwell.com, fanning out over its
// per-platform endpoints and merging partial successes.
//
// Voidwell only exposes faction splits per zone and is missing newer zones
// entirely, so its zone numbers cannot be trusted as a full faction
// breakdown. It therefore contributes a total (onlineCharacters) and no
// faction data.
type Voidwell struct {
	BaseURL string
	UsePS4  bool
	Client  *http.Client

	sf singleflight.Group
}

func NewVoidwell(usePS4 bool) *Voidwell {
	return &Voidwell{
		BaseURL: "https://api.voidwell.com",
		UsePS4:  usePS4,
		Client:  &http.Client{Timeout: httpTimeout},
	}
}

func (v *Voidwell) Name() string { return "voidwell" }

type voidwellWorld struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	IsOnline         bool   `json:"isOnline"`
	OnlineCharacters int    `json:"onlineCharacters"`
}

func (v *Voidwell) fetchPlatform(ctx context.Context, platform string) ([]voidwellWorld, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		v.BaseURL+"/ps2/worldstate/?platform="+platform, nil)
	if err != nil {
		return nil, fmt.Errorf("voidwell: build request: %w", err)
	}

	res, err := v.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voidwell: request %s: %w", platform, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("voidwell: %s status %d: %s", platform, res.StatusCode, string(b))
	}

	var worlds []voidwellWorld
	if err := json.NewDecoder(res.Body).Decode(&worlds); err != nil {
		return nil, fmt.Errorf("voidwell: decode %s: %w", platform, err)
	}
	return worlds, nil
}

func (v *Voidwell) fetchAllWorlds(ctx context.Context, c *cache.Cache) ([]voidwellWorld, error) {
	var merged []voidwellWorld
	if c.Get(ctx, v.Name(), &merged) {
		return merged, nil
	}

	out, err, _ := v.sf.Do(v.Name(), func() (any, error) {
		platforms := []string{"pc"}
		if v.UsePS4 {
			platforms = append(platforms, "ps4us", "ps4eu")
		}

		results := make([][]voidwellWorld, len(platforms))
		var g errgroup.Group
		for i, platform := range platforms {
			i, platform := i, platform
			g.Go(func() error {
				worlds, err := v.fetchPlatform(ctx, platform)
				if err != nil {
					// one dead platform must not sink the others
					log.Printf("[sources] voidwell platform %s: %v", platform, err)
					return nil
				}
				results[i] = worlds
				return nil
			})
		}
		_ = g.Wait()

		var all []voidwellWorld
		for _, worlds := range results {
			all = append(all, worlds...)
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("voidwell: all platforms failed")
		}

		c.Put(ctx, v.Name(), all, bulkTTLSeconds)
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]voidwellWorld), nil
}

func (v *Voidwell) FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error) {
	start := time.Now()
	worlds, err := v.fetchAllWorlds(ctx, c)
	end := time.Now()
	if err != nil {
		return models.SourceResult{}, err
	}

	for _, w := range worlds {
		if w.ID != worldID {
			continue
		}

		raw, _ := json.Marshal(w)
		return models.SourceResult{
			Population: models.Population{
				Total: w.OnlineCharacters,
			},
			Raw:       raw,
			FetchedAt: end,
			Timings:   timings(start, end),
		}, nil
	}

	return models.SourceResult{}, fmt.Errorf("voidwell: world %d not found", worldID)
}
