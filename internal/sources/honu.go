package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// Honu fetches population from the honu world tracker, which covers every
// tracked world (PC and PS4) behind one bulk endpoint. Honu counts NS
// characters separately per the faction they currently fight for, so those
// are folded back into the three faction figures.
type Honu struct {
	BaseURL string
	Client  *http.Client

	sf singleflight.Group
}

func NewHonu() *Honu {
	return &Honu{
		BaseURL: "https://wt.honu.pw",
		Client:  &http.Client{Timeout: httpTimeout},
	}
}

func (h *Honu) Name() string { return "honu" }

type honuWorld struct {
	WorldID int `json:"worldID"`
	Total   int `json:"total"`
	NC      int `json:"nc"`
	TR      int `json:"tr"`
	VS      int `json:"vs"`
	NsVS    int `json:"ns_vs"`
	NsTR    int `json:"ns_tr"`
	NsNC    int `json:"ns_nc"`
}

func (h *Honu) fetchAllWorlds(ctx context.Context, c *cache.Cache) ([]honuWorld, error) {
	var worlds []honuWorld
	if c.Get(ctx, h.Name(), &worlds) {
		return worlds, nil
	}

	v, err, _ := h.sf.Do(h.Name(), func() (any, error) {
		q := url.Values{}
		for _, id := range models.AllWorldIDs {
			q.Add("worldID", strconv.Itoa(id))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			h.BaseURL+"/api/population/multiple?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("honu: build request: %w", err)
		}

		res, err := h.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("honu: request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(res.Body)
			return nil, fmt.Errorf("honu: status %d: %s", res.StatusCode, string(b))
		}

		var out []honuWorld
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("honu: decode: %w", err)
		}

		c.Put(ctx, h.Name(), out, bulkTTLSeconds)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]honuWorld), nil
}

func (h *Honu) FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error) {
	start := time.Now()
	worlds, err := h.fetchAllWorlds(ctx, c)
	end := time.Now()
	if err != nil {
		return models.SourceResult{}, err
	}

	for _, w := range worlds {
		if w.WorldID != worldID {
			continue
		}

		raw, _ := json.Marshal(w)
		return models.SourceResult{
			Population: models.Population{
				Total: w.Total,
				NC:    intp(w.NC + w.NsNC),
				TR:    intp(w.TR + w.NsTR),
				VS:    intp(w.VS + w.NsVS),
			},
			Raw:       raw,
			FetchedAt: end,
			Timings:   timings(start, end),
		}, nil
	}

	return models.SourceResult{}, fmt.Errorf("honu: world %d not found", worldID)
}
