package suite

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
	"github.com/MeKo-Tech/renderdiff/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTest(t *testing.T, root, name, doc string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, StyleFile), []byte(doc), 0o644))
	return dir
}

const plainTest = `{"version": 8, "metadata": {"test": {"width": 4, "height": 4}}}`

type recordingExecutor struct {
	mu   sync.Mutex
	seen []string
}

func (e *recordingExecutor) Run(_ context.Context, d *descriptor.Descriptor) runner.Result {
	e.mu.Lock()
	e.seen = append(e.seen, d.Dir())
	e.mu.Unlock()
	return runner.Result{Name: filepath.Base(d.Dir()), Dir: d.Dir(), Outcome: runner.Passed, Allowed: d.Allowed}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	b := writeTest(t, root, "render/b", plainTest)
	a := writeTest(t, root, "render/a/nested", plainTest)
	q := writeTest(t, root, "query/x", plainTest)
	require.NoError(t, os.WriteFile(filepath.Join(root, "render", "expected.png"), nil, 0o644))

	dirs, err := Discover(root, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{q, a, b}, dirs)

	dirs, err = Discover(root, []string{"render", "render/b"})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, dirs)

	_, err = Discover(root, []string{"missing"})
	assert.Error(t, err)
}

func TestLoadIgnores(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "ignores.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"render-tests/text-font": "needs glyphs", "/abs/test": "flaky"}`), 0o644))
	ig, err := LoadIgnores(jsonPath, "/suite")
	require.NoError(t, err)
	reason, ok := ig.Reason("/suite/render-tests/text-font/")
	assert.True(t, ok)
	assert.Equal(t, "needs glyphs", reason)
	_, ok = ig.Reason("/abs/test")
	assert.True(t, ok)

	yamlPath := filepath.Join(dir, "ignores.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("render-tests/line-dasharray: skip - not implemented\n"), 0o644))
	ig, err = LoadIgnores(yamlPath, "/suite")
	require.NoError(t, err)
	reason, ok = ig.Reason("/suite/render-tests/line-dasharray")
	assert.True(t, ok)
	assert.Equal(t, "skip - not implemented", reason)

	ig, err = LoadIgnores(filepath.Join(dir, "none.json"), "/suite")
	require.NoError(t, err)
	assert.Empty(t, ig)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`["not", "an", "object"]`), 0o644))
	_, err = LoadIgnores(bad, "/suite")
	assert.Error(t, err)
}

func TestShuffleIsSeeded(t *testing.T) {
	base := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	first := slices.Clone(base)
	Shuffle(first, 42)
	second := slices.Clone(base)
	Shuffle(second, 42)
	assert.Equal(t, first, second)
	assert.ElementsMatch(t, base, first)

	other := slices.Clone(base)
	Shuffle(other, 7)
	assert.NotEqual(t, first, other)
}

func TestRunSkipsIgnoredAndUnsupported(t *testing.T) {
	root := t.TempDir()
	ok := writeTest(t, root, "ok", plainTest)
	ignored := writeTest(t, root, "ignored", plainTest)
	writeTest(t, root, "fade", `{"metadata": {"test": {"fadeDuration": 100}}}`)
	writeTest(t, root, "broken", `{"metadata": `)

	exec := &recordingExecutor{}
	var last worker.Tally
	s := New(Config{
		Root:       root,
		Paths:      localize.NewPaths(root),
		Ignores:    Ignores{ignored: "known failure"},
		Workers:    2,
		Executor:   exec,
		OnProgress: func(t worker.Tally) { last = t },
	})

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	byName := map[string]runner.Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, runner.Passed, byName["ok"].Outcome)
	assert.Equal(t, runner.Skipped, byName["ignored"].Outcome)
	assert.Equal(t, "ignored: known failure", byName["ignored"].Reason)
	assert.Equal(t, runner.Skipped, byName["fade"].Outcome)
	assert.Contains(t, byName["fade"].Reason, "fadeDuration")
	assert.Equal(t, runner.Skipped, byName["broken"].Outcome)
	assert.Contains(t, byName["broken"].Reason, "malformed")

	assert.Equal(t, []string{ok}, exec.seen, "skipped tests never reach a scene")
	assert.Equal(t, worker.Tally{Total: 4, Passed: 1, Skipped: 3}, last)
}

func TestRunReportsProgressWhenEverythingIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeTest(t, root, "fade", `{"metadata": {"test": {"fadeDuration": 100}}}`)

	var calls []worker.Tally
	s := New(Config{
		Root:       root,
		Paths:      localize.NewPaths(root),
		Executor:   &recordingExecutor{},
		OnProgress: func(t worker.Tally) { calls = append(calls, t) },
	})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []worker.Tally{{Total: 1, Skipped: 1}}, calls)
}

func TestRunKeepsPlanOrder(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d"} {
		writeTest(t, root, name, plainTest)
	}

	s := New(Config{Root: root, Paths: localize.NewPaths(root), Shuffle: true, Seed: 3, Workers: 3, Executor: &recordingExecutor{}})
	plan, err := s.Plan()
	require.NoError(t, err)

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(plan))
	for i, r := range results {
		assert.Equal(t, plan[i], r.Dir)
	}
}
