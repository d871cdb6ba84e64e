package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// Fisu fetches population from the fisu stats network. Fisu partitions by
// platform behind separate subdomains, so one bulk fetch fans out to the PC,
// PS4US and PS4EU endpoints concurrently and merges whatever succeeded; a
// dead partition costs only its own worlds.
type Fisu struct {
	PCBase    string
	PS4USBase string
	PS4EUBase string
	UsePS4EU  bool
	Client    *http.Client

	sf singleflight.Group
}

func NewFisu(usePS4EU bool) *Fisu {
	return &Fisu{
		PCBase:    "https://ps2.fisu.pw",
		PS4USBase: "https://ps4us.ps2.fisu.pw",
		PS4EUBase: "https://ps4eu.ps2.fisu.pw",
		UsePS4EU:  usePS4EU,
		Client:    &http.Client{Timeout: httpTimeout},
	}
}

func (f *Fisu) Name() string { return "fisu" }

type fisuWorld struct {
	WorldID int `json:"worldId"`
	VS      int `json:"vs"`
	NC      int `json:"nc"`
	TR      int `json:"tr"`
	NS      int `json:"ns"`
}

// fisuMerged is the normalized bulk payload cached under the provider name:
// world ID (as a string key, for JSON) to the latest sample.
type fisuMerged map[string]fisuWorld

// fetchPartition fetches one fisu endpoint. The PC endpoint keys its result
// by world ID; the PS4 endpoints return a bare array, so the result field is
// decoded loosely and both shapes are accepted.
func (f *Fisu) fetchPartition(ctx context.Context, base string, worldIDs string) ([]fisuWorld, error) {
	url := base + "/api/population/?world=" + worldIDs

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fisu: build request: %w", err)
	}

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fisu: request %s: %w", base, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("fisu: %s status %d: %s", base, res.StatusCode, string(b))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("fisu: decode %s: %w", base, err)
	}

	var byWorld map[string][]fisuWorld
	if err := json.Unmarshal(envelope.Result, &byWorld); err == nil {
		out := make([]fisuWorld, 0, len(byWorld))
		for _, samples := range byWorld {
			if len(samples) > 0 {
				out = append(out, samples[0])
			}
		}
		return out, nil
	}

	var list []fisuWorld
	if err := json.Unmarshal(envelope.Result, &list); err != nil {
		return nil, fmt.Errorf("fisu: decode %s result: %w", base, err)
	}
	return list, nil
}

func (f *Fisu) fetchAllWorlds(ctx context.Context, c *cache.Cache) (fisuMerged, error) {
	var merged fisuMerged
	if c.Get(ctx, f.Name(), &merged) {
		return merged, nil
	}

	v, err, _ := f.sf.Do(f.Name(), func() (any, error) {
		partitions := []struct {
			base   string
			worlds string
		}{
			{f.PCBase, "1,10,13,17,19,40"},
			{f.PS4USBase, "1000"},
		}
		if f.UsePS4EU {
			partitions = append(partitions, struct {
				base   string
				worlds string
			}{f.PS4EUBase, "2000"})
		}

		results := make([][]fisuWorld, len(partitions))
		var g errgroup.Group
		for i, p := range partitions {
			i, p := i, p
			g.Go(func() error {
				worlds, err := f.fetchPartition(ctx, p.base, p.worlds)
				if err != nil {
					// one dead partition must not sink the others
					log.Printf("[sources] fisu partition %s: %v", p.base, err)
					return nil
				}
				results[i] = worlds
				return nil
			})
		}
		_ = g.Wait()

		out := make(fisuMerged)
		for _, worlds := range results {
			for _, w := range worlds {
				out[strconv.Itoa(w.WorldID)] = w
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("fisu: all partitions failed")
		}

		c.Put(ctx, f.Name(), out, bulkTTLSeconds)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(fisuMerged), nil
}

func (f *Fisu) FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error) {
	start := time.Now()
	merged, err := f.fetchAllWorlds(ctx, c)
	end := time.Now()
	if err != nil {
		return models.SourceResult{}, err
	}

	w, ok := merged[strconv.Itoa(worldID)]
	if !ok {
		return models.SourceResult{}, fmt.Errorf("fisu: world %d not found", worldID)
	}

	raw, _ := json.Marshal(w)
	return models.SourceResult{
		Population: models.Population{
			Total: w.VS + w.NC + w.TR + w.NS,
			NC:    intp(w.NC),
			TR:    intp(w.TR),
			VS:    intp(w.VS),
		},
		Raw:       raw,
		FetchedAt: end,
		Timings:   timings(start, end),
	}, nil
}
