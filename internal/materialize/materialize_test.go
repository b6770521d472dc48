package materialize

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/sitedeploy/internal/content"
	"github.com/splax/sitedeploy/internal/domain"
)

type mapSource map[string][]byte

func (s mapSource) Content(_ context.Context, item domain.FileDescriptor) ([]byte, error) {
	if item.Kind == domain.SourceLiteral {
		return []byte(item.Ref), nil
	}
	body, ok := s[item.Ref]
	if !ok {
		return nil, errors.New("unknown template")
	}
	return body, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readFile(t *testing.T, root, rel string) []byte {
	t.Helper()
	body, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return body
}

func TestMaterializeNestedPaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "site-1700000000000")
	src := mapSource{"a": []byte("alpha"), "b": []byte("beta"), "c": []byte("gamma")}
	items := []domain.FileDescriptor{
		{Path: "index.html", Kind: domain.SourceGenerated, Ref: "a"},
		{Path: "assets/css/deep/er/styles.css", Kind: domain.SourceGenerated, Ref: "b"},
		{Path: "assets/js/scripts.js", Kind: domain.SourceGenerated, Ref: "c"},
		{Path: "assets/images/logo.png", Kind: domain.SourceLiteral, Ref: "<!-- logo -->"},
	}

	m := New(nil, discardLogger(), WithChunkSize(2))
	res, err := m.Materialize(context.Background(), items, root, src, nil)

	require.NoError(t, err)
	assert.Equal(t, 4, res.ItemCount)
	assert.Equal(t, int64(len("alpha")+len("beta")+len("gamma")+len("<!-- logo -->")), res.BytesWritten)
	assert.Equal(t, "beta", string(readFile(t, root, "assets/css/deep/er/styles.css")))
	assert.Equal(t, "<!-- logo -->", string(readFile(t, root, "assets/images/logo.png")))
}

func TestDirectoriesListsEveryAncestorOnce(t *testing.T) {
	items := []domain.FileDescriptor{
		{Path: "index.html"},
		{Path: "a/b/c.txt"},
		{Path: "a/d.txt"},
	}

	dirs := Directories("/out", items)

	assert.Equal(t, []string{"/out", "/out/a", "/out/a/b"}, dirs)
}

func TestStreamedAndBufferedWritesMatch(t *testing.T) {
	const threshold = 1024
	for _, size := range []int{threshold - 1, threshold, threshold + 1, 3*streamBlockSize + 7} {
		body := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]
		root := t.TempDir()
		items := []domain.FileDescriptor{{Path: "out.bin", Kind: domain.SourceGenerated, Ref: "x"}}

		m := New(nil, discardLogger(), WithStreamThreshold(threshold))
		res, err := m.Materialize(context.Background(), items, root, mapSource{"x": body}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(size), res.BytesWritten)

		streamed := filepath.Join(t.TempDir(), "streamed")
		buffered := filepath.Join(t.TempDir(), "buffered")
		_, err = writeStreamed(streamed, body)
		require.NoError(t, err)
		_, err = writeBuffered(buffered, body)
		require.NoError(t, err)

		onDisk := readFile(t, root, "out.bin")
		s, _ := os.ReadFile(streamed)
		b, _ := os.ReadFile(buffered)
		assert.Equal(t, body, onDisk, "size %d", size)
		assert.Equal(t, s, b, "size %d", size)
	}
}

func TestDownloadFailureWritesPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.jpg" {
			_, _ = w.Write([]byte("jpeg-bytes"))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	root := t.TempDir()
	items := []domain.FileDescriptor{
		{Path: "assets/images/ok.jpg", Kind: domain.SourceDownload, Ref: srv.URL + "/ok.jpg"},
		{Path: "assets/images/broken.jpg", Kind: domain.SourceDownload, Ref: srv.URL + "/broken.jpg"},
		{Path: "assets/images/unreachable.jpg", Kind: domain.SourceDownload, Ref: "http://127.0.0.1:1/nope.jpg"},
	}

	m := New(content.NewHTTPFetcher(2*time.Second, 0, nil), discardLogger())
	res, err := m.Materialize(context.Background(), items, root, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, res.ItemCount)
	assert.Equal(t, "jpeg-bytes", string(readFile(t, root, "assets/images/ok.jpg")))
	assert.Equal(t, DownloadFailedPlaceholder, string(readFile(t, root, "assets/images/broken.jpg")))
	assert.Equal(t, DownloadFailedPlaceholder, string(readFile(t, root, "assets/images/unreachable.jpg")))
}

func TestDownloadOverSizeCapWritesPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.(http.Flusher).Flush()
		_, _ = w.Write(bytes.Repeat([]byte("x"), 4096))
	}))
	defer srv.Close()

	root := t.TempDir()
	items := []domain.FileDescriptor{{Path: "big.jpg", Kind: domain.SourceDownload, Ref: srv.URL}}

	m := New(content.NewHTTPFetcher(time.Second, 1024, nil), discardLogger())
	_, err := m.Materialize(context.Background(), items, root, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, DownloadFailedPlaceholder, string(readFile(t, root, "big.jpg")))
}

func TestCopyFailureIsFatalAndKeepsPartialOutput(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	good := filepath.Join(srcDir, "good.png")
	require.NoError(t, os.WriteFile(good, []byte("png"), 0o644))

	items := []domain.FileDescriptor{
		{Path: "index.html", Kind: domain.SourceLiteral, Ref: "<html></html>"},
		{Path: "assets/images/good.png", Kind: domain.SourceCopy, Ref: good},
		{Path: "assets/images/missing.png", Kind: domain.SourceCopy, Ref: filepath.Join(srcDir, "missing.png")},
		{Path: "sibling.txt", Kind: domain.SourceLiteral, Ref: "same chunk"},
		{Path: "later.txt", Kind: domain.SourceLiteral, Ref: "never"},
	}

	var calls [][2]int
	m := New(nil, discardLogger(), WithChunkSize(2))
	res, err := m.Materialize(context.Background(), items, root, mapSource{}, func(p, total int) {
		calls = append(calls, [2]int{p, total})
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "assets/images/missing.png")
	assert.Equal(t, 2, res.ItemCount)
	assert.Equal(t, [][2]int{{0, 5}, {2, 5}}, calls)
	assert.Equal(t, "png", string(readFile(t, root, "assets/images/good.png")))
	_, statErr := os.Stat(filepath.Join(root, "later.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProgressIsReportedPerChunkInOrder(t *testing.T) {
	items := make([]domain.FileDescriptor, 0, 11)
	for i := 0; i < 11; i++ {
		items = append(items, domain.FileDescriptor{
			Path: filepath.ToSlash(filepath.Join("dir", string(rune('a'+i))+".txt")),
			Kind: domain.SourceLiteral,
			Ref:  "x",
		})
	}

	var mu sync.Mutex
	var seen []int
	m := New(nil, discardLogger(), WithChunkSize(4))
	_, err := m.Materialize(context.Background(), items, t.TempDir(), mapSource{}, func(p, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 11, total)
		seen = append(seen, p)
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 8, 11}, seen)
}

func TestMaterializeRejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"../evil.txt", "a/../../b", "/etc/passwd", ""} {
		items := []domain.FileDescriptor{{Path: p, Kind: domain.SourceLiteral, Ref: "x"}}
		_, err := New(nil, discardLogger()).Materialize(context.Background(), items, root, mapSource{}, nil)
		assert.ErrorIs(t, err, ErrUnsafePath, p)
	}
}

func TestMaterializeSourceErrorIsFatal(t *testing.T) {
	items := []domain.FileDescriptor{{Path: "index.html", Kind: domain.SourceGenerated, Ref: "missing"}}

	_, err := New(nil, discardLogger()).Materialize(context.Background(), items, t.TempDir(), mapSource{}, nil)

	assert.Error(t, err)
}
