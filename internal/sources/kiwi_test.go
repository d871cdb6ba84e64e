package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestKiwiFetchWorld(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// engine.io open + socket.io namespace connect, like the real endpoint
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"x","pingInterval":25000,"pingTimeout":5000}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("40"))

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.HasPrefix(string(msg), "42") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(
					`42["worlds-update",[{"worldId":17,"stats":{"population":{"nc":93,"tr":94,"vs":94,"total":281}}}]]`))
				return
			}
		}
	}))
	defer srv.Close()

	k := NewKiwi()
	k.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=3&transport=websocket"
	c := testCache(t)
	ctx := context.Background()

	res, err := k.FetchWorld(ctx, 17, c)
	if err != nil {
		t.Fatalf("FetchWorld: %v", err)
	}
	if res.Population.Total != 281 {
		t.Errorf("total = %d, want 281", res.Population.Total)
	}
	if res.Population.NC == nil || *res.Population.NC != 93 {
		t.Errorf("nc = %v, want 93", res.Population.NC)
	}

	// second lookup must come from the cached payload, the server is gone
	srv.Close()
	if _, err := k.FetchWorld(ctx, 17, c); err != nil {
		t.Errorf("cached lookup after server shutdown: %v", err)
	}
}
