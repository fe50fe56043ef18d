package git

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// Repo represents a Git repository tracked for publishing
type Repo struct {
	Name   string
	URL    string
	Path   string
	Logger *zap.Logger
}

// NewRepo creates a new Repo instance
func NewRepo(name, url, basePath string, logger *zap.Logger) *Repo {
	return &Repo{
		Name:   name,
		URL:    url,
		Path:   filepath.Join(basePath, "repos", name),
		Logger: logger,
	}
}

// Sync clones the repository if needed and fetches all tags from origin
func (r *Repo) Sync() error {
	repo, err := r.openOrClone()
	if err != nil {
		return fmt.Errorf("failed to open/clone repo: %w", err)
	}

	err = repo.Fetch(&git.FetchOptions{
		RemoteName: "origin",
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to fetch: %w", err)
	}

	return nil
}

// CheckoutTag checks out the commit the given tag points to and returns
// its hash. Both annotated and lightweight tags resolve.
func (r *Repo) CheckoutTag(tag string) (string, error) {
	repo, err := git.PlainOpen(r.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open repo: %w", err)
	}

	ref, err := repo.Tag(tag)
	if err != nil {
		return "", fmt.Errorf("tag %s not found: %w", tag, err)
	}

	// Annotated tags point at a tag object; peel it to the commit
	hash := ref.Hash()
	if obj, err := repo.TagObject(hash); err == nil {
		hash = obj.Target
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	err = worktree.Checkout(&git.CheckoutOptions{
		Hash:  hash,
		Force: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to checkout %s: %w", tag, err)
	}

	r.Logger.Info("checked out tag",
		zap.String("name", r.Name),
		zap.String("tag", tag),
		zap.String("commit", hash.String()),
	)

	return hash.String(), nil
}

// Tags returns the short names of all tags in the repository
func (r *Repo) Tags() ([]string, error) {
	repo, err := git.PlainOpen(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repo: %w", err)
	}

	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}

	var tags []string
	iter.ForEach(func(t *plumbing.Reference) error {
		tags = append(tags, t.Name().Short())
		return nil
	})

	return tags, nil
}

// openOrClone opens an existing repository or clones it if it doesn't exist
func (r *Repo) openOrClone() (*git.Repository, error) {
	// Try to open existing repository
	repo, err := git.PlainOpen(r.Path)
	if err == nil {
		return repo, nil
	}

	// If repository doesn't exist, clone it
	if err == git.ErrRepositoryNotExists {
		r.Logger.Info("cloning repository",
			zap.String("name", r.Name),
			zap.String("url", r.URL),
		)

		// Create directory if it doesn't exist
		if err := os.MkdirAll(r.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		// Clone the repository
		repo, err = git.PlainClone(r.Path, false, &git.CloneOptions{
			URL:  r.URL,
			Tags: git.AllTags,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clone: %w", err)
		}

		return repo, nil
	}

	return nil, err
}
