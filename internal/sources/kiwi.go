package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"popwatch/pkg/cache"
	"popwatch/pkg/models"
)

// Kiwi fetches population over the kiwi tracker's socket.io endpoint. One
// websocket round-trip requests the full world list, so the payload is
// cached like any other bulk fetch.
//
// The endpoint is unofficial and flaky, which is why this source ships
// disabled unless POPWATCH_ENABLE_KIWI is set.
type Kiwi struct {
	URL    string // websocket URL including engine.io query params
	Origin string

	sf singleflight.Group
}

func NewKiwi() *Kiwi {
	return &Kiwi{
		URL:    "wss://planetside-2-api.herokuapp.com/socket.io/?EIO=3&transport=websocket",
		Origin: "https://ps2.nice.kiwi",
	}
}

func (k *Kiwi) Name() string { return "kiwi" }

type kiwiWorld struct {
	WorldID int `json:"worldId"`
	Stats   struct {
		Population struct {
			NC    int `json:"nc"`
			TR    int `json:"tr"`
			VS    int `json:"vs"`
			Total int `json:"total"`
		} `json:"population"`
	} `json:"stats"`
}

const kiwiRequestFrame = `42["worlds-update-request"]`

// fetchOnce runs the socket.io handshake dance: engine.io open ("0..."),
// socket.io namespace connect ("40"), then the event frame ("42[...]") that
// carries the world list. Pings ("2") are answered so the server does not
// drop the connection mid-wait.
func (k *Kiwi) fetchOnce(ctx context.Context) ([]kiwiWorld, error) {
	dialer := websocket.Dialer{HandshakeTimeout: httpTimeout}
	header := http.Header{"Origin": []string{k.Origin}}

	conn, _, err := dialer.DialContext(ctx, k.URL, header)
	if err != nil {
		return nil, fmt.Errorf("kiwi: dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(httpTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(kiwiRequestFrame)); err != nil {
		return nil, fmt.Errorf("kiwi: send request: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("kiwi: read: %w", err)
		}
		payload := string(msg)

		switch {
		case payload == "2":
			_ = conn.WriteMessage(websocket.TextMessage, []byte("3"))
		case payload == "40":
			// namespace connected; re-request in case the first frame
			// arrived before the server joined us to the namespace
			if err := conn.WriteMessage(websocket.TextMessage, []byte(kiwiRequestFrame)); err != nil {
				return nil, fmt.Errorf("kiwi: send request: %w", err)
			}
		case strings.HasPrefix(payload, "42"):
			var frame []json.RawMessage
			if err := json.Unmarshal(msg[2:], &frame); err != nil {
				return nil, fmt.Errorf("kiwi: decode frame: %w", err)
			}
			if len(frame) < 2 {
				return nil, fmt.Errorf("kiwi: short frame: %s", payload)
			}

			var worlds []kiwiWorld
			if err := json.Unmarshal(frame[1], &worlds); err != nil {
				return nil, fmt.Errorf("kiwi: decode worlds: %w", err)
			}
			return worlds, nil
		}
	}
}

func (k *Kiwi) fetchAllWorlds(ctx context.Context, c *cache.Cache) ([]kiwiWorld, error) {
	var worlds []kiwiWorld
	if c.Get(ctx, k.Name(), &worlds) {
		return worlds, nil
	}

	v, err, _ := k.sf.Do(k.Name(), func() (any, error) {
		out, err := k.fetchOnce(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, k.Name(), out, bulkTTLSeconds)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]kiwiWorld), nil
}

func (k *Kiwi) FetchWorld(ctx context.Context, worldID int, c *cache.Cache) (models.SourceResult, error) {
	start := time.Now()
	worlds, err := k.fetchAllWorlds(ctx, c)
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
				Total: w.Stats.Population.Total,
				NC:    intp(w.Stats.Population.NC),
				TR:    intp(w.Stats.Population.TR),
				VS:    intp(w.Stats.Population.VS),
			},
			Raw:       raw,
			FetchedAt: end,
			Timings:   timings(start, end),
		}, nil
	}

	return models.SourceResult{}, fmt.Errorf("kiwi: world %d not found", worldID)
}
