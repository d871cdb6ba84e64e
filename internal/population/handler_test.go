package population

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"popwatch/internal/sources"
	"popwatch/pkg/models"
	"popwatch/pkg/utils"
)

func testRouter(t *testing.T, srcs []sources.Source, disabled map[string]bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srcCache, worldCache := testCaches(t)
	svc := NewService(srcs, disabled, srcCache, worldCache)
	h := NewHandler(svc, utils.Config{})

	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func TestOneWorldEndpoint(t *testing.T) {
	r := testRouter(t, []sources.Source{
		&fakeSource{name: "a", res: result(283, 100, 100, 83)},
		&fakeSource{name: "b", res: result(271, 90, 91, 90)},
	}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/17", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var payload models.WorldPayload
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ID != 17 || payload.Average != 277 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Services["a"] != 283 || payload.Services["b"] != 271 {
		t.Errorf("services = %v", payload.Services)
	}
}

func TestOneWorldDebugIncludesDiagnostics(t *testing.T) {
	r := testRouter(t, []sources.Source{
		&fakeSource{name: "a", res: result(100, 34, 33, 33)},
	}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/17?debug=1", nil))

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"average", "raw", "timings", "lastFetchTimes"} {
		if _, ok := body[key]; !ok {
			t.Errorf("debug response missing %q", key)
		}
	}

	// and the default response must omit the diagnostics
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/17", nil))
	body = nil
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["raw"]; ok {
		t.Error("default response must not carry raw payloads")
	}
}

func TestNoDataIs404(t *testing.T) {
	r := testRouter(t, []sources.Source{
		&fakeSource{name: "dead", err: fmt.Errorf("unreachable")},
	}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/17", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "No data available" {
		t.Errorf("error = %q", body["error"])
	}

	// non-numeric IDs get the same no-data signal, not a 500
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAllWorldsEndpointKeepsOrder(t *testing.T) {
	r := testRouter(t, []sources.Source{
		&fakeSource{name: "a", res: result(120, 40, 40, 40)},
	}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/all", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var payloads []*models.WorldPayload
	if err := json.Unmarshal(w.Body.Bytes(), &payloads); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payloads) != len(models.AllWorldIDs) {
		t.Fatalf("got %d worlds, want %d", len(payloads), len(models.AllWorldIDs))
	}
	for i, p := range payloads {
		if p == nil {
			t.Fatalf("world %d payload is null", models.AllWorldIDs[i])
		}
		if p.ID != models.AllWorldIDs[i] {
			t.Errorf("position %d has id %d, want %d", i, p.ID, models.AllWorldIDs[i])
		}
	}
}

func TestFlagsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srcCache, worldCache := testCaches(t)
	svc := NewService([]sources.Source{&fakeSource{name: "a", res: result(1, 1, 0, 0)}}, nil, srcCache, worldCache)
	h := NewHandler(svc, utils.Config{DisableFisu: true, FisuUsePS4EU: true})

	r := gin.New()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population~/flags", nil))

	var body map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["disableFisu"] || body["disableHonu"] {
		t.Errorf("flags = %v", body)
	}
	if body["disableCache"] {
		t.Error("cache is enabled in this setup")
	}
}

func TestRootRedirectsToLanding(t *testing.T) {
	r := testRouter(t, []sources.Source{&fakeSource{name: "a", res: result(1, 1, 0, 0)}}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/population/" {
		t.Errorf("location = %q", loc)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/population/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("landing status = %d, want 200", w.Code)
	}
}
