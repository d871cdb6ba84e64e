package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// sanctuaryStaleAfter is how old a sanctuary sample may be before it is
// treated as missing. Sanctuary is the only provider that timestamps its
// samples, so it is the only one with a staleness check.
const sanctuaryStaleAfter = 5 * time.Minute

// Sanctuary fetches population from the Sanctuary census mirror. It has no
// PS4 data and does not track Jaeger; requests for those worlds yield the
// shared no-data sentinel instead of an error.
type Sanctuary struct {
	BaseURL string
	Client  *http.Client

	sf singleflight.Group

	// now is swapped in tests to pin the staleness clock
	now func() time.Time
}

func NewSanctuary() *Sanctuary {
	return &Sanctuary{
		BaseURL: "https://census.lithafalcon.cc",
		Client:  &http.Client{Timeout: httpTimeout},
		now:     time.Now,
	}
}

func (s *Sanctuary) Name() string { return "sanctuary" }

type sanctuaryWorld struct {
	WorldID     int   `json:"world_id"`
	LastUpdated int64 `json:"last_updated"`
	Total       int   `json:"total"`
	Population  struct {
		NC  int `json:"NC"`
		TR  int `json:"TR"`
		VS  int `json:"VS"`
		NSO int `json:"NSO"`
	} `json:"population"`
}

type sanctuaryResponse struct {
	WorldPopulationList []sanctuaryWorld `json:"world_population_list"`
}

func (s *Sanctuary) fetchAllWorlds(ctx context.Context, c *cache.Cache) (sanctuaryResponse, error) {
	var resp sanctuaryResponse
	if c.Get(ctx, s.Name(), &resp) {
		return resp, nil
	}

	v, err, _ := s.sf.Do(s.Name(), func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			s.BaseURL+"/get/ps2/world_population?c:censusJSON=false", nil)
		if err != nil {
			return nil, fmt.Errorf("sanctuary: build request: %w", err)
		}

		res, err := s.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sanctuary: request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(res.Body)
			return nil, fmt.Errorf("sanctuary: status %d: %s", res.StatusCode, string(b))
		}

		var out sanctuaryResponse
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("sanctuary: decode: %w", err)
		}

		c.Put(ctx, s.Name(), out, bulkTTLSeconds)
		return out, nil
	})
	if err != nil {
		return sanctuaryResponse{}, err
	}
	return v.(sanctuaryResponse), nil
}

func (s *Sanctuary) FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error) {
	// no PS4 data nor Jaeger
	if worldID == 1000 || worldID == 2000 || worldID == models.JaegerWorldID {
		return NoData(), nil
	}

	start := time.Now()
	resp, err := s.fetchAllWorlds(ctx, c)
	end := time.Now()
	if err != nil {
		return models.SourceResult{}, err
	}

	for _, w := range resp.WorldPopulationList {
		if w.WorldID != worldID {
			continue
		}

		// an old sample is as useless as a missing one
		if w.LastUpdated < s.now().Add(-sanctuaryStaleAfter).Unix() {
			return models.SourceResult{}, fmt.Errorf("sanctuary: world %d is stale", worldID)
		}

		raw, _ := json.Marshal(w)
		return models.SourceResult{
			Population: models.Population{
				Total: w.Total,
				NC:    intp(w.Population.NC),
				TR:    intp(w.Population.TR),
				VS:    intp(w.Population.VS),
			},
			Raw:       raw,
			FetchedAt: end,
			Timings:   timings(start, end),
		}, nil
	}

	return models.SourceResult{}, fmt.Errorf("sanctuary: world %d not found", worldID)
}
