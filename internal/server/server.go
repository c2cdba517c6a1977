// Package server exposes the pipeline over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"personalens/internal/config"
	"personalens/internal/discovery"
	"personalens/internal/embedding"
	"personalens/internal/generate"
	"personalens/internal/llm"
	"personalens/internal/logging"
	"personalens/internal/perspective"
	"personalens/internal/pipeline"
	"personalens/internal/profile"
	"personalens/internal/scrape"
)

// Deps are the collaborators the API drives.
type Deps struct {
	Tracker     *pipeline.Tracker
	Discoverer  discovery.Discoverer
	Scrapers    []scrape.Scraper
	Client      llm.Client
	Embed       embedding.Engine
	Perspective *perspective.Engine
	Trigger     *generate.Trigger
	ScrapeOpts  pipeline.ScrapeOptions
}

// Server is the HTTP API surface.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/search-profiles", s.handleSearchProfiles)
	s.mux.HandleFunc("/api/scrape-profiles", s.handleScrapeProfiles)
	s.mux.HandleFunc("/api/generate-perspective", s.handleGeneratePerspective)
	s.mux.HandleFunc("/api/generate", s.handleGenerate)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Minute
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("API listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleIndex lists the available endpoints. The catch-all pattern also
// makes unknown paths a JSON 404 instead of the default text page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "personalens",
		"endpoints": []string{
			"GET /health",
			"POST /api/search-profiles",
			"POST /api/scrape-profiles",
			"POST /api/generate-perspective",
			"POST /api/generate",
			"GET /api/status",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSearchProfiles(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if s.deps.Discoverer == nil {
		writeError(w, http.StatusServiceUnavailable, "profile discovery is not configured")
		return
	}

	sub, err := s.deps.Tracker.Discover(r.Context(), s.deps.Discoverer, req.Name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	status, err := s.deps.Tracker.Status(sub.Key)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleScrapeProfiles runs the rest of the pipeline: scrape, categorize,
// finalize. Degraded completion is a 200 with the degraded flag set.
func (s *Server) handleScrapeProfiles(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx := r.Context()
	if err := s.deps.Tracker.Scrape(ctx, s.deps.Scrapers, req.Name, s.deps.ScrapeOpts); err != nil {
		s.writeFailure(w, err)
		return
	}
	if err := s.deps.Tracker.Categorize(ctx, s.deps.Client, s.deps.Embed, req.Name); err != nil {
		s.writeFailure(w, err)
		return
	}
	if err := s.deps.Tracker.Finalize(ctx, req.Name); err != nil {
		s.writeFailure(w, err)
		return
	}

	status, err := s.deps.Tracker.Status(req.Name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type perspectiveRequest struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
	Name    string `json:"name"`
	Persona bool   `json:"persona"`
}

// handleGeneratePerspective answers a query. With no name the retrieval
// spans every indexed subject.
func (s *Server) handleGeneratePerspective(w http.ResponseWriter, r *http.Request) {
	var req perspectiveRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ans, err := s.deps.Perspective.Answer(r.Context(), req.Name, req.Query, perspective.Options{
		TopK:    req.TopK,
		Persona: req.Persona,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type generateRequest struct {
	Name  string `json:"name"`
	Count int    `json:"number_of_images"`
}

type generateResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Prompt  string   `json:"prompt,omitempty"`
	Images  []string `json:"generated_images,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Count <= 0 {
		req.Count = 3
	}

	if s.deps.Trigger == nil {
		writeJSON(w, http.StatusServiceUnavailable, generateResponse{
			Message: "image generation is not configured",
		})
		return
	}

	res, err := s.deps.Trigger.Run(r.Context(), req.Name, req.Count)
	if err != nil {
		writeJSON(w, failureStatus(err), generateResponse{Message: err.Error()})
		return
	}

	urls := make([]string, 0, len(res.Images))
	for _, img := range res.Images {
		urls = append(urls, img.URL)
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Success: true,
		Message: fmt.Sprintf("generated %d image(s) for %s", len(urls), res.Subject),
		Prompt:  res.PersonaPrompt,
		Images:  urls,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	status, err := s.deps.Tracker.Status(name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// failureStatus maps pipeline errors onto HTTP statuses.
func failureStatus(err error) int {
	var (
		precond *profile.PreconditionError
		unavail *profile.UnavailableError
	)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, profile.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, profile.ErrInsufficientContext):
		return http.StatusUnprocessableEntity
	case errors.As(err, &precond):
		return http.StatusConflict
	case errors.As(err, &unavail):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := failureStatus(err)
	if status == http.StatusInternalServerError {
		logging.APIError("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

func decodePost(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
