package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tagship/tagship/internal/config"
	"github.com/tagship/tagship/internal/model"
	"github.com/tagship/tagship/internal/service"
	"github.com/tagship/tagship/internal/store"
	"go.uber.org/zap"
)

// API handles HTTP requests
type API struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *store.SQLiteStore
	publisher   *service.Publisher
	rateLimiter *RateLimiter
}

// NewAPI creates a new API instance
func NewAPI(cfg *config.Config, logger *zap.Logger, publisher *service.Publisher) (*API, error) {
	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}

	// Initialize rate limiter
	rateLimiter := NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst)

	return &API{
		cfg:         cfg,
		logger:      logger,
		store:       dbStore,
		publisher:   publisher,
		rateLimiter: rateLimiter,
	}, nil
}

// Close closes the API and its resources
func (a *API) Close() error {
	a.rateLimiter.Close()
	return a.store.Close()
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// Tag-push webhook
	r.Post("/hooks/tag", a.handleTagEvent)

	// API routes with rate limiting
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)
		r.Get("/runs", a.listRuns)
		r.Get("/runs/{id}", a.getRun)
		r.Get("/repos/{name}/runs", a.getRepoRuns)
	})

	// Admin routes (localhost only)
	r.Route("/admin", func(r chi.Router) {
		r.Use(LocalOnly)
		r.Post("/scan", a.triggerScan)
	})

	// Static file server for built artifacts with rate limiting
	artifactsDir := filepath.Join(a.cfg.Storage.Path, "artifacts")
	fileServer := http.FileServer(http.Dir(artifactsDir))
	r.Handle("/artifacts/*", a.rateLimiter.RateLimit(SecureArtifactServer(http.StripPrefix("/artifacts/", fileServer))))
}

// handleTagEvent accepts a tag-push delivery and starts the pipeline.
// The publish itself runs asynchronously; the delivery is answered 202
// as soon as the tag selects a repo and channel.
func (a *API) handleTagEvent(w http.ResponseWriter, r *http.Request) {
	var event model.TagEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if event.Repo == "" || event.Tag == "" {
		http.Error(w, "repo and tag are required", http.StatusBadRequest)
		return
	}

	if a.cfg.GetRepo(event.Repo) == nil {
		http.Error(w, "unknown repository", http.StatusNotFound)
		return
	}
	if a.cfg.MatchChannel(event.Tag) == nil {
		http.Error(w, "tag matches no channel", http.StatusUnprocessableEntity)
		return
	}

	a.logger.Info("tag event received",
		zap.String("repo", event.Repo),
		zap.String("tag", event.Tag),
	)

	// Start the publish in a goroutine to avoid blocking the delivery.
	// The request context dies with the delivery, so the run gets its own.
	go func() {
		if _, err := a.publisher.Publish(context.Background(), event.Repo, event.Tag); err != nil {
			a.logger.Error("publish failed", zap.String("tag", event.Tag), zap.Error(err))
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "publish started",
		"message": "Publish-and-verify run has been triggered",
	})
}

// listRuns returns the most recent runs
func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.GetRecentRuns(50)
	if err != nil {
		a.logger.Error("failed to get runs", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeRuns(w, runs)
}

// getRun returns a single run by id
func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "run id is required", http.StatusBadRequest)
		return
	}

	run, err := a.store.GetRunByID(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.toRunInfo(run))
}

// getRepoRuns returns the runs recorded for a repository
func (a *API) getRepoRuns(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "repository name is required", http.StatusBadRequest)
		return
	}

	if a.cfg.GetRepo(name) == nil {
		http.Error(w, "unknown repository", http.StatusNotFound)
		return
	}

	runs, err := a.store.GetRunsByRepo(name, 50)
	if err != nil {
		a.logger.Error("failed to get runs",
			zap.String("repo", name),
			zap.Error(err),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeRuns(w, runs)
}

// triggerScan triggers a manual scan of all repositories
func (a *API) triggerScan(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("manual scan triggered")

	// Start scan in a goroutine to avoid blocking
	go func() {
		if err := a.publisher.ScanAll(context.Background()); err != nil {
			a.logger.Error("manual scan failed", zap.Error(err))
		} else {
			a.logger.Info("manual scan completed successfully")
		}
	}()

	// Return immediately with a 202 Accepted status
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "scan started",
		"message": "Repository scan has been triggered",
	})
}

// writeRuns marshals a list of runs as API responses
func (a *API) writeRuns(w http.ResponseWriter, runs []*model.DBRun) {
	infos := make([]*model.RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, a.toRunInfo(run))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

// toRunInfo converts a stored run into its API representation
func (a *API) toRunInfo(run *model.DBRun) *model.RunInfo {
	info := &model.RunInfo{
		ID:        run.ID,
		Repo:      run.Repo,
		Tag:       run.Tag,
		Channel:   run.Channel,
		Package:   run.PackageName,
		Version:   run.Version,
		Commit:    run.CommitHash,
		Artifact:  run.ArtifactFile,
		Size:      run.Size,
		Status:    run.Status,
		Error:     run.Error,
		StartedAt: run.StartedAt.Unix(),
	}
	if run.Status != model.StatusRunning {
		info.FinishedAt = run.FinishedAt.Unix()
	}
	if run.ArtifactFile != "" {
		info.Download = a.cfg.Download.BaseURL + "/artifacts/" + run.ArtifactFile
	}
	return info
}
