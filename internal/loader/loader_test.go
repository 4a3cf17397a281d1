package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates path under dir (with parents) holding content.
func writeFile(t *testing.T, dir, path, content string) {
	t.Helper()
	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestLoadDir_LexicalOrderAndFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vacation.md", "Employees get 25 days.")
	writeFile(t, dir, "benefits.txt", "Health insurance is provided.")
	writeFile(t, dir, "policies/remote.md", "Remote work is allowed.")
	writeFile(t, dir, "logo.png", "not text")
	writeFile(t, dir, ".git/HEAD.md", "hidden")

	docs, err := LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, filepath.Join(dir, "benefits.txt"), docs[0].ID)
	assert.Equal(t, filepath.Join(dir, "policies", "remote.md"), docs[1].ID)
	assert.Equal(t, filepath.Join(dir, "vacation.md"), docs[2].ID)
	assert.Equal(t, "Employees get 25 days.", docs[2].Text)
}

func TestLoadDir_ExplicitExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "markdown")
	writeFile(t, dir, "b.TXT", "text")

	docs, err := LoadDir(context.Background(), dir, "txt")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "text", docs[0].Text)
}

func TestLoadDir_EmptyDirectory(t *testing.T) {
	docs, err := LoadDir(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadDir_FileRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "x")
	_, err := LoadDir(context.Background(), filepath.Join(dir, "a.md"))
	assert.Error(t, err)
}

func TestLoadDir_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadDir(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("page " + r.URL.Path))
	}))
	defer srv.Close()

	docs, err := FetchURLs(context.Background(), srv.Client(), []string{srv.URL + "/a", srv.URL + "/b"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, srv.URL+"/a", docs[0].ID)
	assert.Equal(t, "page /b", docs[1].Text)

	_, err = FetchURLs(context.Background(), srv.Client(), []string{srv.URL + "/missing"})
	assert.Error(t, err)
}
