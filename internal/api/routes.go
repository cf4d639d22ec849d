// Package api provides HTTP handlers for the genome tile server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/genome-tiles/server/internal/datamanager"
	"github.com/genome-tiles/server/internal/genome"
	"github.com/genome-tiles/server/internal/service"
	"github.com/genome-tiles/server/internal/track"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.TrackService
	CORSOrigins []string
	Title       string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Tile-Height", "X-Tile-Required-Height", "X-Tile-All-Slotted", "X-Tile-Mode", "X-Tile-Message"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	svc := cfg.Service
	r.Get("/api/tracks", tracksHandler(svc, cfg.Title))
	r.Get("/api/stats", statsHandler(svc))
	r.Get("/api/view/positions", positionsHandler(svc))
	r.Get("/view.png", viewHandler(svc))

	r.Route("/api/tracks/{track}", func(r chi.Router) {
		r.Use(trackMiddleware(svc))
		r.Get("/state", stateHandler(svc))
		r.Post("/retry", retryHandler(svc))
		r.Post("/config", configHandler(svc))
	})

	// Track-scoped tile routes: /t/{track}/...
	r.Route("/t/{track}", func(r chi.Router) {
		r.Use(trackMiddleware(svc))
		r.Get("/tiles/{resolution}/{index}.png", tileHandler(svc))
		r.Post("/more", moreHandler(svc))
		r.Post("/rows", rowsHandler(svc))
	})

	return r
}

// Context key for the resolved track id
type ctxKey string

const trackIDKey ctxKey = "trackID"

// trackMiddleware resolves the track from the URL and injects its id into
// the context.
func trackMiddleware(svc *service.TrackService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "track")
			if _, err := svc.Track(id); err != nil {
				http.Error(w, "track not found: "+id, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), trackIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func trackID(r *http.Request) string {
	id, _ := r.Context().Value(trackIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("component", "api").Debugf("failed to write response: %v", err)
	}
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownTrack):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTile),
		errors.Is(err, genome.ErrInvalidRegion),
		errors.Is(err, datamanager.ErrUnknownMoreKind):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotRowLimited),
		errors.Is(err, track.ErrNotEnabled),
		errors.Is(err, datamanager.ErrNoCurrentData):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTrackNotReady):
		w.Header().Set("Retry-After", "5")
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

func requireQuery(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", fmt.Errorf("missing required query param: %s", name)
	}
	return v, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v, err := requireQuery(r, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	v, err := requireQuery(r, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return f, nil
}

// tracksHandler returns the configured tracks.
func tracksHandler(svc *service.TrackService, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":  title,
			"tracks": svc.Tracks(),
		})
	}
}

func statsHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Stats())
	}
}

func stateHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chrom, err := requireQuery(r, "chrom")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st, err := svc.State(r.Context(), trackID(r), chrom)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func retryHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chrom, err := requireQuery(r, "chrom")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		st, err := svc.Retry(r.Context(), trackID(r), chrom)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func configHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u service.ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		ch, err := svc.Configure(trackID(r), u)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	}
}

func tileHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resolution, err := strconv.ParseFloat(chi.URLParam(r, "resolution"), 64)
		if err != nil {
			http.Error(w, "invalid resolution", http.StatusBadRequest)
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		chrom, err := requireQuery(r, "chrom")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mode := r.URL.Query().Get("mode")

		data, meta, err := svc.Tile(r.Context(), trackID(r), chrom, mode, resolution, index)
		if errors.Is(err, service.ErrTrackNotReady) {
			// Placeholder until the dataset is ready
			data, err = svc.EmptyTile()
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("X-Tile-Message", meta.Message)
			w.WriteHeader(http.StatusAccepted)
			w.Write(data)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Tile-Height", strconv.Itoa(meta.Height))
		w.Header().Set("X-Tile-Required-Height", strconv.Itoa(meta.MaxRequiredHeight))
		w.Header().Set("X-Tile-All-Slotted", strconv.FormatBool(meta.AllSlotted))
		w.Header().Set("X-Tile-Mode", meta.Mode)
		if meta.Message != "" {
			w.Header().Set("X-Tile-Message", meta.Message)
		}
		w.Write(data)
	}
}

func moreHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chrom, err := requireQuery(r, "chrom")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		start, err := queryInt(r, "start")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		end, err := queryInt(r, "end")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resolution, err := queryFloat(r, "resolution")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind := datamanager.MoreKind(r.URL.Query().Get("kind"))
		if kind == "" {
			kind = datamanager.Deep
		}

		region := genome.NewRegion(chrom, start, end)
		if err := svc.MoreData(r.Context(), trackID(r), region, resolution, kind); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"track":  trackID(r),
			"region": region,
			"kind":   kind,
		})
	}
}

func rowsHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.IncreaseRows(trackID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"track":    trackID(r),
			"max_rows": n,
		})
	}
}

func viewHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chrom, err := requireQuery(r, "chrom")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		low, err := queryInt(r, "low")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		high, err := queryInt(r, "high")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		width := 0
		if r.URL.Query().Has("width") {
			if width, err = queryInt(r, "width"); err != nil || width <= 0 {
				http.Error(w, "invalid width", http.StatusBadRequest)
				return
			}
		}

		data, err := svc.ViewImage(r.Context(), genome.NewRegion(chrom, low, high), width)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}

func positionsHandler(svc *service.TrackService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := requireQuery(r, "track")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		x, err := queryFloat(r, "x")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		y, err := queryFloat(r, "y")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f, err := svc.FeatureAt(id, x, y)
		if err != nil {
			writeError(w, err)
			return
		}
		if f.UID == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"feature": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"feature": f})
	}
}
