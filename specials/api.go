package specials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/bravo/shield"
	"github.com/hazyhaar/bravo/specials/internal/store"
)

var frequencyClasses = []string{store.ClassFrequent, store.ClassSometimes, store.ClassRare, store.ClassNever}

// NewAPI returns the read-only HTTP API over the service's repository.
func (s *Service) NewAPI() http.Handler {
	return NewAPI(s.repo, s.logger)
}

// NewAPI returns the read-only HTTP API over repo:
//
//	GET /health
//	GET /api/specials?store=
//	GET /api/intel?store=&class=&on_special=&limit=
//	GET /api/intel/{store}/{productID}
//	GET /api/history/{store}/{productID}
//	GET /api/catalogue?store=
//	GET /api/runs?limit=
func NewAPI(repo store.Repository, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/specials", func(w http.ResponseWriter, r *http.Request) {
			storeName, ok := storeParam(w, r)
			if !ok {
				return
			}
			rows, err := repo.ListSpecials(r.Context(), storeName)
			respond(w, r, nonNil(rows), err)
		})

		r.Get("/intel", func(w http.ResponseWriter, r *http.Request) {
			storeName, ok := storeParam(w, r)
			if !ok {
				return
			}
			f := store.IntelFilter{
				Store:          storeName,
				FrequencyClass: r.URL.Query().Get("class"),
				OnSpecialOnly:  r.URL.Query().Get("on_special") == "true",
				Limit:          queryInt(r, "limit", 0),
			}
			if f.FrequencyClass != "" && !slices.Contains(frequencyClasses, f.FrequencyClass) {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unknown class %q", f.FrequencyClass))
				return
			}
			rows, err := repo.ListIntel(r.Context(), f)
			respond(w, r, nonNil(rows), err)
		})

		r.Get("/intel/{store}/{productID}", func(w http.ResponseWriter, r *http.Request) {
			rec, err := repo.GetIntel(r.Context(), keyParam(r))
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			respond(w, r, rec, err)
		})

		r.Get("/history/{store}/{productID}", func(w http.ResponseWriter, r *http.Request) {
			rows, err := repo.KeyHistory(r.Context(), keyParam(r))
			respond(w, r, nonNil(rows), err)
		})

		r.Get("/catalogue", func(w http.ResponseWriter, r *http.Request) {
			storeName, ok := storeParam(w, r)
			if !ok {
				return
			}
			rows, err := repo.ListCatalogue(r.Context(), storeName)
			respond(w, r, nonNil(rows), err)
		})

		r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
			rows, err := repo.ListRuns(r.Context(), queryInt(r, "limit", 50))
			respond(w, r, nonNil(rows), err)
		})
	})
	return r
}

func keyParam(r *http.Request) store.Key {
	return store.Key{Store: chi.URLParam(r, "store"), ProductID: chi.URLParam(r, "productID")}
}

// storeParam reads ?store=. An unknown store is answered with 400.
func storeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("store")
	if name != "" && !slices.Contains(KnownStores, name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ErrUnknownStore, name))
		return "", false
	}
	return name, true
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: query failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
