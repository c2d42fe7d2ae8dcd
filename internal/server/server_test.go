package server

import (
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/report"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	require.NoError(t, compare.WritePNG(filepath.Join(root, "roads", "night", compare.ExpectedFile), img))
	require.NoError(t, compare.WritePNG(filepath.Join(root, "roads", "night", compare.DiffFile), img))

	reportPath := filepath.Join(t.TempDir(), "report.json")
	rep := report.New([]runner.Result{
		{Name: "basic", Outcome: runner.Passed, Allowed: 0.00015},
		{Name: "roads/night", Outcome: runner.Failed, Score: 0.5, Allowed: 0.00015},
	}, report.Options{Backend: "vector"})
	require.NoError(t, rep.WriteJSON(reportPath))

	w, err := mbtiles.Create(filepath.Join(root, "tiles.mbtiles"), mbtiles.Metadata{Name: "t", Format: "png"})
	require.NoError(t, err)
	require.NoError(t, w.WriteTile(tile.NewCoords(1, 1, 0), []byte("tile-bytes")))
	require.NoError(t, w.Close())

	s, err := New(Config{Root: root, ReportPath: reportPath, MBTilesPath: filepath.Join(root, "tiles.mbtiles")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, rep.RunID
}

func TestServerHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServerArtifacts(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/tests/roads/night/expected.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNotFound, get(t, s, "/tests/roads/night/actual.png").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/tests/roads/night/notes.png").Code)
}

func TestServerReport(t *testing.T) {
	s, runID := newTestServer(t)

	rec := get(t, s, "/report.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var got report.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, runID, got.RunID)
	assert.Equal(t, report.Totals{Passed: 1, Failed: 1}, got.Totals)

	index := get(t, s, "/")
	assert.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "/tests/roads/night/diff.png")
	assert.NotContains(t, index.Body.String(), "/tests/basic/")

	assert.Equal(t, http.StatusNotFound, get(t, s, "/nothing-here").Code)
}

func TestServerWithoutReport(t *testing.T) {
	s, err := New(Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/report.json").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/tiles/0/0/0.png").Code)
	assert.NoError(t, s.Close())
}

func TestServerTiles(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/tiles/1/1/0.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tile-bytes", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	assert.Equal(t, http.StatusNotFound, get(t, s, "/tiles/1/0/0.png").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/tiles/1/0/0.gif").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/tiles/1/1/0@2x.png").Code)

	opts := httptest.NewRequest(http.MethodOptions, "/tiles/1/1/0.png", nil)
	optsRec := httptest.NewRecorder()
	s.ServeHTTP(optsRec, opts)
	assert.Equal(t, http.StatusNoContent, optsRec.Code)
}

func TestNewFailsOnMissingMBTiles(t *testing.T) {
	_, err := New(Config{Root: t.TempDir(), MBTilesPath: filepath.Join(t.TempDir(), "missing.mbtiles")}, nil)
	assert.Error(t, err)
}
