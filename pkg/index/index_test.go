package index

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo-1.2.0.zip")
	require.NoError(t, os.WriteFile(path, []byte("artifact-bytes"), 0644))
	return path
}

func TestUpload(t *testing.T) {
	artifact := writeArtifact(t)

	var gotUser, gotToken, gotName, gotVersion, gotAction string
	var gotContent []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotToken, _ = r.BasicAuth()
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotAction = r.FormValue(":action")
		gotName = r.FormValue("name")
		gotVersion = r.FormValue("version")

		file, _, err := r.FormFile("content")
		require.NoError(t, err)
		defer file.Close()
		buf := make([]byte, 64)
		n, _ := file.Read(buf)
		gotContent = buf[:n]

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(zap.NewNop())
	err := client.Upload(context.Background(), UploadRequest{
		UploadURL: server.URL,
		Token:     "pypi-secret",
		Name:      "demo",
		Version:   "1.2.0",
		FilePath:  artifact,
	})
	require.NoError(t, err)

	require.Equal(t, TokenUser, gotUser)
	require.Equal(t, "pypi-secret", gotToken)
	require.Equal(t, "file_upload", gotAction)
	require.Equal(t, "demo", gotName)
	require.Equal(t, "1.2.0", gotVersion)
	require.Equal(t, "artifact-bytes", string(gotContent))
}

func TestUploadRejected(t *testing.T) {
	artifact := writeArtifact(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "403 Invalid or non-existent authentication information", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(zap.NewNop())
	err := client.Upload(context.Background(), UploadRequest{
		UploadURL: server.URL,
		Token:     "bad-token",
		Name:      "demo",
		Version:   "1.2.0",
		FilePath:  artifact,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upload rejected")
}

func TestUploadMissingArtifact(t *testing.T) {
	client := NewClient(zap.NewNop())
	err := client.Upload(context.Background(), UploadRequest{
		UploadURL: "http://127.0.0.1:0",
		FilePath:  filepath.Join(t.TempDir(), "nope.zip"),
	})
	require.Error(t, err)
}

func TestVerifyFound(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"info":{"version":"1.2.0"}}`))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop())
	found, err := client.Verify(context.Background(), server.URL, "demo", "1.2.0")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/pypi/demo/1.2.0/json", gotPath)
}

func TestVerifyNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop())
	found, err := client.Verify(context.Background(), server.URL, "demo", "1.2.0")
	require.NoError(t, err)
	require.False(t, found)
}

func TestVerifyIsSubstringMatch(t *testing.T) {
	// The check is a literal substring match of the body, so the
	// version appearing in an unrelated field still confirms.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"info":{"description":"requires foo>=1.2.0"},"releases":{}}`))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop())
	found, err := client.Verify(context.Background(), server.URL, "demo", "1.2.0")
	require.NoError(t, err)
	require.True(t, found)
}

func TestVerifyEscapesPathSegments(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(zap.NewNop())
	_, err := client.Verify(context.Background(), server.URL, "demo/pkg", "1.2.0+local")
	require.NoError(t, err)
	require.Equal(t, "/pypi/demo%2Fpkg/1.2.0+local/json", gotPath)
}

func TestVerifyRequestError(t *testing.T) {
	client := NewClient(zap.NewNop())
	_, err := client.Verify(context.Background(), "http://127.0.0.1:1", "demo", "1.2.0")
	require.Error(t, err)
}
