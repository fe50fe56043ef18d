package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
	"github.com/tagship/tagship/internal/config"
	"github.com/tagship/tagship/internal/model"
	"github.com/tagship/tagship/internal/store"
	"go.uber.org/zap"
)

// newSourceRepo creates a local repository with project metadata and
// tags on both channels
func newSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "project.yaml"), []byte("name: demo\nversion: 1.2.0\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print()\n"), 0644))

	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add(".")
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	commit, err := worktree.Commit("initial", &gogit.CommitOptions{Author: sig})
	require.NoError(t, err)

	_, err = repo.CreateTag("v1.2.0", commit, nil)
	require.NoError(t, err)
	_, err = repo.CreateTag("t1.2.0", commit, nil)
	require.NoError(t, err)

	return dir
}

// fakeIndex is an httptest stand-in for a package index
type fakeIndex struct {
	server     *httptest.Server
	uploads    atomic.Int64
	verifies   atomic.Int64
	uploadCode int
	verifyBody string

	mu     sync.Mutex
	tokens []string
}

// uploadTokens returns the credentials presented on every upload
func (f *fakeIndex) uploadTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func newFakeIndex(t *testing.T) *fakeIndex {
	t.Helper()
	f := &fakeIndex{
		uploadCode: http.StatusOK,
		verifyBody: `{"info":{"version":"1.2.0"}}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/legacy/", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		_, token, _ := r.BasicAuth()
		f.mu.Lock()
		f.tokens = append(f.tokens, token)
		f.mu.Unlock()
		w.WriteHeader(f.uploadCode)
	})
	mux.HandleFunc("/pypi/", func(w http.ResponseWriter, r *http.Request) {
		f.verifies.Add(1)
		w.Write([]byte(f.verifyBody))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func newTestPublisher(t *testing.T, idx *fakeIndex) (*Publisher, *config.Config) {
	t.Helper()
	t.Setenv("TAGSHIP_TEST_PROD_TOKEN", "prod-secret")
	t.Setenv("TAGSHIP_TEST_PRE_TOKEN", "pre-secret")

	storage := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "repos"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(storage, "artifacts"), 0755))

	cfg := &config.Config{
		Channels: []config.Channel{
			{
				Name:       "testing",
				TagPattern: "t*",
				IndexURL:   idx.server.URL,
				UploadURL:  idx.server.URL + "/legacy/",
				TokenEnv:   "TAGSHIP_TEST_PRE_TOKEN",
			},
			{
				Name:       "production",
				TagPattern: "v*",
				IndexURL:   idx.server.URL,
				UploadURL:  idx.server.URL + "/legacy/",
				TokenEnv:   "TAGSHIP_TEST_PROD_TOKEN",
			},
		},
		Repos: []config.Repo{
			{Name: "demo", URL: newSourceRepo(t)},
		},
		Storage: config.Storage{Path: storage},
	}

	p, err := NewPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, cfg
}

func TestPublishConfirmed(t *testing.T) {
	idx := newFakeIndex(t)
	p, cfg := newTestPublisher(t, idx)

	run, err := p.Publish(context.Background(), "demo", "v1.2.0")
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, run.Status)
	require.Equal(t, "production", run.Channel)
	require.Equal(t, "demo", run.PackageName)
	require.Equal(t, "1.2.0", run.Version)
	require.NotEmpty(t, run.CommitHash)
	require.Equal(t, int64(1), idx.uploads.Load())
	require.Equal(t, int64(1), idx.verifies.Load())

	// The production credential was presented and the pre-release
	// credential was never referenced
	require.Equal(t, []string{"prod-secret"}, idx.uploadTokens())

	// The built artifact landed in storage
	require.FileExists(t, filepath.Join(cfg.Storage.Path, "artifacts", run.ArtifactFile))
	require.Greater(t, run.Size, int64(0))
}

func TestPublishPreReleaseChannel(t *testing.T) {
	idx := newFakeIndex(t)
	p, _ := newTestPublisher(t, idx)

	run, err := p.Publish(context.Background(), "demo", "t1.2.0")
	require.NoError(t, err)
	require.Equal(t, "testing", run.Channel)
	require.Equal(t, model.StatusConfirmed, run.Status)

	// The pre-release credential was presented and the production
	// credential was never referenced
	require.Equal(t, []string{"pre-secret"}, idx.uploadTokens())
}

func TestPublishFailedUploadSkipsVerify(t *testing.T) {
	idx := newFakeIndex(t)
	idx.uploadCode = http.StatusInternalServerError
	p, _ := newTestPublisher(t, idx)

	run, err := p.Publish(context.Background(), "demo", "v1.2.0")
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, run.Status)
	require.NotEmpty(t, run.Error)

	// Fail-fast ordering: the confirmation check never executed
	require.Equal(t, int64(1), idx.uploads.Load())
	require.Equal(t, int64(0), idx.verifies.Load())
}

func TestPublishVersionNotFound(t *testing.T) {
	idx := newFakeIndex(t)
	idx.verifyBody = `{"message":"Not Found"}`
	p, _ := newTestPublisher(t, idx)

	run, err := p.Publish(context.Background(), "demo", "v1.2.0")
	require.Error(t, err)
	require.Contains(t, err.Error(), "was not found")
	require.Equal(t, model.StatusFailed, run.Status)
}

func TestPublishUnmatchedTag(t *testing.T) {
	idx := newFakeIndex(t)
	p, cfg := newTestPublisher(t, idx)

	_, err := p.Publish(context.Background(), "demo", "release-1")
	require.Error(t, err)
	require.Equal(t, int64(0), idx.uploads.Load())

	// Nothing was recorded
	s, err := store.NewSQLiteStore(cfg.Storage.Path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	seen, err := s.HasRunForTag("demo", "release-1")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestPublishUnknownRepo(t *testing.T) {
	idx := newFakeIndex(t)
	p, _ := newTestPublisher(t, idx)

	_, err := p.Publish(context.Background(), "ghost", "v1.2.0")
	require.Error(t, err)
	require.Equal(t, int64(0), idx.uploads.Load())
}

func TestScanAllPublishesNewTags(t *testing.T) {
	idx := newFakeIndex(t)
	p, cfg := newTestPublisher(t, idx)

	require.NoError(t, p.ScanAll(context.Background()))

	// Both tags matched a channel and were published, each with its
	// own channel's credential
	require.Equal(t, int64(2), idx.uploads.Load())
	require.ElementsMatch(t, []string{"prod-secret", "pre-secret"}, idx.uploadTokens())

	s, err := store.NewSQLiteStore(cfg.Storage.Path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	for _, tag := range []string{"v1.2.0", "t1.2.0"} {
		seen, err := s.HasRunForTag("demo", tag)
		require.NoError(t, err)
		require.True(t, seen, tag)
	}

	// A second scan finds nothing new
	require.NoError(t, p.ScanAll(context.Background()))
	require.Equal(t, int64(2), idx.uploads.Load())
}
