package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/tagship/tagship/internal/config"
	"github.com/tagship/tagship/internal/manifest"
	"github.com/tagship/tagship/internal/model"
	"github.com/tagship/tagship/internal/store"
	"github.com/tagship/tagship/pkg/archive"
	"github.com/tagship/tagship/pkg/git"
	"github.com/tagship/tagship/pkg/index"
	"go.uber.org/zap"
)

// Publisher executes the publish-and-verify pipeline: select a channel
// from the tag, check out the tagged commit, read the project metadata,
// build the artifact, upload it, and confirm it is retrievable from the
// index. The pipeline is strictly linear; any step failing aborts the
// run with no retry and no rollback.
type Publisher struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.SQLiteStore
	index  *index.Client
	repos  map[string]*git.Repo
	mu     sync.Mutex
}

// NewPublisher creates a new Publisher instance
func NewPublisher(cfg *config.Config, logger *zap.Logger) (*Publisher, error) {
	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	p := &Publisher{
		cfg:    cfg,
		logger: logger,
		store:  dbStore,
		index:  index.NewClient(logger),
		repos:  make(map[string]*git.Repo),
	}

	// Initialize repositories
	for _, repo := range cfg.Repos {
		p.repos[repo.Name] = git.NewRepo(repo.Name, repo.URL, cfg.Storage.Path, logger)
	}

	return p, nil
}

// Close closes the publisher and its resources
func (p *Publisher) Close() error {
	return p.store.Close()
}

// Publish runs the full pipeline for one repo/tag pair. The returned
// run reflects the terminal state; err is non-nil unless the run ended
// confirmed.
func (p *Publisher) Publish(ctx context.Context, repoName, tag string) (*model.DBRun, error) {
	repoCfg := p.cfg.GetRepo(repoName)
	if repoCfg == nil {
		return nil, fmt.Errorf("unknown repository: %s", repoName)
	}

	channel := p.cfg.MatchChannel(tag)
	if channel == nil {
		return nil, fmt.Errorf("no channel matches tag %s", tag)
	}

	run := &model.DBRun{
		ID:      uuid.NewString(),
		Repo:    repoName,
		Tag:     tag,
		Channel: channel.Name,
	}
	if err := p.store.InsertRun(run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Acquire the repository state at the tag commit
	r := p.repos[repoName]
	if err := r.Sync(); err != nil {
		return p.fail(run, err)
	}
	commitHash, err := r.CheckoutTag(tag)
	if err != nil {
		return p.fail(run, err)
	}
	run.CommitHash = commitHash

	// Read the project's own declared name and version
	proj, err := manifest.Load(r.Path)
	if err != nil {
		return p.fail(run, err)
	}
	run.PackageName = proj.Name
	run.Version = proj.Version

	// Build the distributable artifact
	artifactPath, err := p.buildArtifact(ctx, repoCfg, r.Path, proj)
	if err != nil {
		return p.fail(run, err)
	}
	run.ArtifactFile = filepath.Base(artifactPath)
	if size, err := archive.GetFileSize(artifactPath); err == nil {
		run.Size = size
	}

	// Upload to the channel's index
	token, err := channel.Token()
	if err != nil {
		return p.fail(run, err)
	}
	err = p.index.Upload(ctx, index.UploadRequest{
		UploadURL: channel.UploadURL,
		Token:     token,
		Name:      proj.Name,
		Version:   proj.Version,
		FilePath:  artifactPath,
	})
	if err != nil {
		return p.fail(run, err)
	}

	// Confirm the uploaded version is retrievable. Single check, no
	// backoff; an index that has not finished indexing reports failure.
	found, err := p.index.Verify(ctx, channel.IndexURL, proj.Name, proj.Version)
	if err != nil {
		return p.fail(run, err)
	}
	if !found {
		return p.fail(run, fmt.Errorf("version %s of %s was not found in the %s index response",
			proj.Version, proj.Name, channel.Name))
	}

	run.Status = model.StatusConfirmed
	if err := p.store.FinishRun(run); err != nil {
		return run, fmt.Errorf("failed to record run result: %w", err)
	}

	p.logger.Info("publication confirmed",
		zap.String("repo", repoName),
		zap.String("tag", tag),
		zap.String("channel", channel.Name),
		zap.String("package", proj.Name),
		zap.String("version", proj.Version),
	)

	return run, nil
}

// fail records the terminal failed state and surfaces the step's error
func (p *Publisher) fail(run *model.DBRun, err error) (*model.DBRun, error) {
	run.Status = model.StatusFailed
	run.Error = err.Error()
	if dbErr := p.store.FinishRun(run); dbErr != nil {
		p.logger.Error("failed to record failed run", zap.String("run", run.ID), zap.Error(dbErr))
	}
	p.logger.Error("publish run failed",
		zap.String("run", run.ID),
		zap.String("repo", run.Repo),
		zap.String("tag", run.Tag),
		zap.Error(err),
	)
	return run, err
}

// buildArtifact produces the distributable artifact for a checkout and
// returns its path under the storage artifacts directory
func (p *Publisher) buildArtifact(ctx context.Context, repoCfg *config.Repo, checkout string, proj *manifest.Project) (string, error) {
	artifactsDir := filepath.Join(p.cfg.Storage.Path, "artifacts")

	if repoCfg.BuildCommand != "" {
		cmd := exec.CommandContext(ctx, "sh", "-c", repoCfg.BuildCommand)
		cmd.Dir = checkout
		output, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("build command failed: %w: %s", err, output)
		}

		distPath := repoCfg.DistPath
		if distPath == "" {
			distPath = "dist"
		}
		built, err := archive.NewestFile(filepath.Join(checkout, distPath))
		if err != nil {
			return "", err
		}

		target := filepath.Join(artifactsDir, filepath.Base(built))
		if err := copyFile(built, target); err != nil {
			return "", err
		}
		return target, nil
	}

	// No build command: package the source tree itself
	target := filepath.Join(artifactsDir, fmt.Sprintf("%s-%s.zip", proj.Name, proj.Version))
	if err := archive.CreateArchive(checkout, target); err != nil {
		return "", fmt.Errorf("failed to build artifact: %w", err)
	}
	return target, nil
}

// copyFile copies a built artifact into the storage artifacts directory
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create artifact copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	return nil
}
