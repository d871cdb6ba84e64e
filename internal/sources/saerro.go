package sources

import (
	"bytes"
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

// Saerro fetches population from the saerro GraphQL API. It reports totals
// and full faction splits for every tracked world in a single query.
type Saerro struct {
	BaseURL string
	Client  *http.Client

	sf singleflight.Group
}

func NewSaerro() *Saerro {
	return &Saerro{
		BaseURL: "https://saerro.ps2.live",
		Client:  &http.Client{Timeout: httpTimeout},
	}
}

func (s *Saerro) Name() string { return "saerro" }

type saerroWorld struct {
	ID         int `json:"id"`
	Population struct {
		Total int `json:"total"`
		NC    int `json:"nc"`
		TR    int `json:"tr"`
		VS    int `json:"vs"`
	} `json:"population"`
}

type saerroResponse struct {
	Data struct {
		AllWorlds []saerroWorld `json:"allWorlds"`
	} `json:"data"`
}

const saerroQuery = `{ allWorlds { id population { total nc tr vs } } }`

func (s *Saerro) fetchAllWorlds(ctx context.Context, c *cache.Cache) (saerroResponse, error) {
	var resp saerroResponse
	if c.Get(ctx, s.Name(), &resp) {
		return resp, nil
	}

	v, err, _ := s.sf.Do(s.Name(), func() (any, error) {
		body, err := json.Marshal(map[string]string{"query": saerroQuery})
		if err != nil {
			return nil, fmt.Errorf("saerro: encode query: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/graphql", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("saerro: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := s.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("saerro: request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(res.Body)
			return nil, fmt.Errorf("saerro: status %d: %s", res.StatusCode, string(b))
		}

		var out saerroResponse
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("saerro: decode: %w", err)
		}

		c.Put(ctx, s.Name(), out, bulkTTLSeconds)
		return out, nil
	})
	if err != nil {
		return saerroResponse{}, err
	}
	return v.(saerroResponse), nil
}

func (s *Saerro) FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error) {
	start := time.Now()
	resp, err := s.fetchAllWorlds(ctx, c)
	end := time.Now()
	if err != nil {
		return models.SourceResult{}, err
	}

	for _, w := range resp.Data.AllWorlds {
		if w.ID != worldID {
			continue
		}

		raw, _ := json.Marshal(w)
		return models.SourceResult{
			Population: models.Population{
				Total: w.Population.Total,
				NC:    intp(w.Population.NC),
				TR:    intp(w.Population.TR),
				VS:    intp(w.Population.VS),
			},
			Raw:       raw,
			FetchedAt: end,
			Timings:   timings(start, end),
		}, nil
	}

	return models.SourceResult{}, fmt.Errorf("saerro: world %d not found", worldID)
}
