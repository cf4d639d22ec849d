package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genome-tiles/server/internal/cache"
	"github.com/genome-tiles/server/internal/config"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/render"
	"github.com/genome-tiles/server/internal/service"
	"github.com/genome-tiles/server/internal/source"
)

type stateChecker struct {
	mu    sync.Mutex
	state genome.State
}

func (c *stateChecker) CheckState(context.Context, string, string, string) (*genome.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return genome.WithState(c.state), nil
}

func featureSource(_ context.Context, req source.Request) (*genome.Dataset, error) {
	d := &genome.Dataset{State: genome.StateData, Kind: genome.KindFeatures, Region: req.Region}
	if req.Region.Start < 100 {
		d.Features = []genome.Feature{{UID: "a", Start: 10, End: 100, Name: "geneA"}}
	}
	return d, nil
}

// setupRouter initializes all components and returns the router.
func setupRouter(t *testing.T, checker source.StateChecker) http.Handler {
	t.Helper()

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: 16,
		TileTTL:         1 * time.Minute,
		QueryCacheSize:  10,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cacheManager.Close() })

	svc, err := service.NewTrackService(service.TrackServiceConfig{
		Tracks: []config.TrackConfig{
			{ID: "genes", Name: "Genes", Type: "feature", DatasetID: "d1", Mode: "Auto"},
			{ID: "cov", Name: "Coverage", Type: "line", DatasetID: "d2", Mode: "Histogram"},
		},
		Fetcher:       source.FetcherFunc(featureSource),
		Checker:       checker,
		Cache:         cacheManager,
		Renderer:      render.NewTileRenderer(render.Config{TileSize: 400}),
		MaxRows:       10,
		QueryWait:     5 * time.Millisecond,
		ViewWidth:     800,
		FrameInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to initialize track service: %v", err)
	}
	t.Cleanup(svc.Close)

	return NewRouter(RouterConfig{
		Service:     svc,
		CORSOrigins: []string{"http://localhost:3000"},
		Title:       "Test",
	})
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v (body %q)", err, rec.Body.String())
	}
	return payload
}

func TestHealth(t *testing.T) {
	h := setupRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestTracksEndpoint(t *testing.T) {
	h := setupRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/api/tracks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}
	payload := decodeJSON(t, rec)
	tracks, _ := payload["tracks"].([]any)
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %v", payload["tracks"])
	}
	first, _ := tracks[0].(map[string]any)
	if first["id"] != "genes" || first["row_limited"] != true {
		t.Fatalf("unexpected first track %v", first)
	}
	if payload["title"] != "Test" {
		t.Fatalf("unexpected title %v", payload["title"])
	}
}

func TestTileEndpoint(t *testing.T) {
	h := setupRouter(t, &stateChecker{state: genome.StateData})

	rec := do(t, h, http.MethodGet, "/t/genes/tiles/0.5/0.png?chrom=chr1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("failed to decode tile: %v", err)
	}
	if img.Bounds().Dx() != 400 {
		t.Fatalf("expected 400px wide tile, got %d", img.Bounds().Dx())
	}
	if got := rec.Header().Get("X-Tile-Mode"); got != "Pack" {
		t.Fatalf("expected Pack mode, got %q", got)
	}
	if got := rec.Header().Get("X-Tile-All-Slotted"); got != "true" {
		t.Fatalf("expected all slotted, got %q", got)
	}
}

func TestTileEndpointErrors(t *testing.T) {
	h := setupRouter(t, &stateChecker{state: genome.StateData})

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"unknownTrack", "/t/nope/tiles/1/0.png?chrom=chr1", http.StatusNotFound},
		{"badResolution", "/t/genes/tiles/abc/0.png?chrom=chr1", http.StatusBadRequest},
		{"badIndex", "/t/genes/tiles/1/x.png?chrom=chr1", http.StatusBadRequest},
		{"missingChrom", "/t/genes/tiles/1/0.png", http.StatusBadRequest},
		{"negativeIndex", "/t/genes/tiles/1/-1.png?chrom=chr1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTileEndpointPendingDataset(t *testing.T) {
	h := setupRouter(t, &stateChecker{state: genome.StatePending})

	rec := do(t, h, http.MethodGet, "/t/genes/tiles/1/0.png?chrom=chr1", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected %d, got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Tile-Message") == "" {
		t.Fatal("expected a status message for the placeholder tile")
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Fatalf("failed to decode placeholder: %v", err)
	}

	rec = do(t, h, http.MethodGet, "/api/tracks/genes/state?chrom=chr1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}
	if st := decodeJSON(t, rec); st["state"] != string(genome.StatePending) || st["enabled"] != false {
		t.Fatalf("unexpected state %v", st)
	}
}

func TestStateEndpointRequiresChrom(t *testing.T) {
	h := setupRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/api/tracks/genes/state", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestRowsEndpoint(t *testing.T) {
	h := setupRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/t/genes/rows", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if n := decodeJSON(t, rec)["max_rows"]; n != float64(20) {
		t.Fatalf("expected 20 rows, got %v", n)
	}

	rec = do(t, h, http.MethodPost, "/t/cov/rows", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestMoreEndpoint(t *testing.T) {
	h := setupRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/t/genes/more?chrom=chr1&start=0&end=400&resolution=1", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected %d before any data, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/t/genes/tiles/1/0.png?chrom=chr1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/t/genes/more?chrom=chr1&start=0&end=400&resolution=1&kind=breadth", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/t/genes/more?chrom=chr1&start=0&end=400", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected %d without resolution, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestConfigEndpoint(t *testing.T) {
	h := setupRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/tracks/genes/config", `{"mode":"Dense"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if ch := decodeJSON(t, rec); ch["mode"] != true {
		t.Fatalf("expected mode change, got %v", ch)
	}

	rec = do(t, h, http.MethodPost, "/api/tracks/genes/config", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestViewAndPositions(t *testing.T) {
	h := setupRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/view.png?chrom=chr1&low=0&high=800&width=800", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	if img.Bounds().Dx() != 800 {
		t.Fatalf("expected 800px wide view, got %d", img.Bounds().Dx())
	}

	rec = do(t, h, http.MethodGet, "/api/view/positions?track=genes&x=50&y=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	f, _ := decodeJSON(t, rec)["feature"].(map[string]any)
	if f["uid"] != "a" {
		t.Fatalf("expected feature a, got %v", f)
	}

	rec = do(t, h, http.MethodGet, "/api/view/positions?track=genes&x=300&y=2", "")
	if got := decodeJSON(t, rec)["feature"]; got != nil {
		t.Fatalf("expected no feature, got %v", got)
	}

	rec = do(t, h, http.MethodGet, "/view.png?chrom=chr1&low=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, rec.Code)
	}
}
