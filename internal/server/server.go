// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/news"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/observability"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/opml"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/popularity"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/sources"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/tracker"
)

// Cache-Control values for read endpoints.
const (
	cacheControlFresh    = "s-maxage=300, stale-while-revalidate=60"
	cacheControlDegraded = "s-maxage=60, stale-while-revalidate=60"
)

// Deps are the services behind the handlers.
type Deps struct {
	Store      *kv.Store
	Tracker    *tracker.Tracker
	Popularity *popularity.Reader
	News       *news.Aggregator
	Sources    sources.Loader
	Policy     allowlist.Policy
	// SiteURL is the public origin used in the Atom feed.
	SiteURL string
}

// Server is the main HTTP server.
type Server struct {
	deps     Deps
	router   chi.Router
	validate *validator.Validate
	http     *http.Server
}

// New creates a new server.
func New(deps Deps) *Server {
	if deps.SiteURL == "" {
		deps.SiteURL = "https://marlowgate.com"
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	s := &Server{
		deps:     deps,
		validate: v,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestTiming)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/track", s.handleTrack)
		r.Get("/popular", s.handlePopular)
		r.Get("/popular/paths", s.handlePopularPaths)
		r.Get("/news", s.handleNews)
		r.Get("/news/feed.atom", s.handleNewsAtom)
		r.Get("/news/sources.opml", s.handleSourcesOPML)
		r.Get("/allowlist/check", s.handleAllowlistCheck)
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	log.Printf("server: listening on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// --- Handlers ---

type trackRequest struct {
	Path  string `json:"path" validate:"required,startswith=/,max=512"`
	Type  string `json:"type" validate:"max=64"`
	Title string `json:"title" validate:"max=300"`
	URL   string `json:"url" validate:"max=2048"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid json"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": validationMessage(err)})
		return
	}

	res, err := s.deps.Tracker.RecordView(r.Context(), model.ViewEvent{
		Path:     req.Path,
		ClientID: tracker.ClientID(r.Header),
		Type:     req.Type,
		Title:    req.Title,
		URL:      req.URL,
	})
	if errors.Is(err, tracker.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid path"})
		return
	}
	if err != nil {
		log.Printf("server: track %s: %v", req.Path, err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "internal error"})
		return
	}

	resp := map[string]interface{}{"ok": true}
	if !res.Counted {
		resp["dedupe"] = true
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// validationMessage names the first field that failed validation.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid " + verrs[0].Field()
	}
	return "invalid request"
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ranking := s.deps.Popularity.GetTop(r.Context(),
		q.Get("kind"), q.Get("window"), intParam(q.Get("limit"), popularity.DefaultLimit))
	setReadCache(w, ranking.Fallback)
	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) handlePopularPaths(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ranking := s.deps.Popularity.TopPaths(r.Context(),
		q.Get("window"), intParam(q.Get("limit"), popularity.DefaultLimit))
	setReadCache(w, ranking.Fallback)
	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	page := s.deps.News.GetNews(r.Context(), newsQuery(r))
	setReadCache(w, false)
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleNewsAtom(w http.ResponseWriter, r *http.Request) {
	page := s.deps.News.GetNews(r.Context(), newsQuery(r))
	updated := s.deps.News.Cache().FetchedAt()
	if updated.IsZero() {
		updated = time.Now()
	}
	feed := news.AtomFeed{
		Title:   "Marlowgate FX News",
		Link:    strings.TrimSuffix(s.deps.SiteURL, "/") + "/news",
		Updated: updated,
	}
	out, err := feed.ToAtom(page)
	if err != nil {
		log.Printf("server: render atom: %v", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
		return
	}
	setReadCache(w, false)
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.Write([]byte(out))
}

func (s *Server) handleSourcesOPML(w http.ResponseWriter, r *http.Request) {
	srcs, err := s.deps.Sources.Load()
	if err != nil {
		log.Printf("server: load sources: %v", err)
		srcs = nil
	}
	data, err := opml.Export("Marlowgate News Sources", srcs)
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=news-sources.opml")
	w.Write(data)
}

func (s *Server) handleAllowlistCheck(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":     raw,
		"allowed": s.deps.Policy.Permit(raw),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	reachable := s.deps.Store.Ping(ctx) == nil
	if !reachable {
		status = "degraded"
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"kv":          s.deps.Store.BackendName(),
		"kvReachable": reachable,
		"news":        s.deps.News.State().String(),
	})
}

// --- Helpers ---

func newsQuery(r *http.Request) news.Query {
	q := r.URL.Query()
	var ids []string
	for _, id := range strings.Split(q.Get("sources"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return news.Query{
		Sources: ids,
		Limit:   intParam(q.Get("limit"), news.DefaultLimit),
		Offset:  intParam(q.Get("offset"), 0),
	}
}

// intParam parses a query value, returning def when absent or malformed.
func intParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func setReadCache(w http.ResponseWriter, degraded bool) {
	if degraded {
		w.Header().Set("Cache-Control", cacheControlDegraded)
		return
	}
	w.Header().Set("Cache-Control", cacheControlFresh)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
