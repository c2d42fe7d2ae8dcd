package interp

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/runloop"
	"github.com/MeKo-Tech/renderdiff/internal/scene/scenetest"
	"github.com/jonboulle/clockwork"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingConverger struct{ calls int }

func (c *countingConverger) Converge(context.Context) (*image.RGBA, error) {
	c.calls++
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

type fixture struct {
	paths localize.Paths
	desc  *descriptor.Descriptor
	scene *scenetest.Fake
	clock *clockwork.FakeClock
	loop  *runloop.Loop
	conv  *countingConverger
	in    *Interpreter
}

func newFixture(t *testing.T, operations string) *fixture {
	t.Helper()
	paths := localize.NewPaths(t.TempDir())

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"version": 8, "metadata": {"test": {"operations": `+operations+`}}}`), &doc))
	d, err := descriptor.FromDocument(filepath.Join(paths.Root, "t", "style.json"), doc, paths, nil)
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	f := &fixture{
		paths: paths,
		desc:  d,
		scene: scenetest.New(d.SceneOptions()),
		clock: clock,
		loop:  runloop.New(clock),
		conv:  &countingConverger{},
	}
	f.in = New(d, Config{Scene: f.scene, Loop: f.loop, Converger: f.conv, Paths: paths})
	return f
}

func writeImage(t *testing.T, path string, w, h int, c color.NRGBA) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, img))
	require.NoError(t, out.Close())
}

func TestEmptyQueueFinishesWithoutSceneCalls(t *testing.T) {
	f := newFixture(t, `[]`)
	require.True(t, f.desc.HasOperations)

	assert.Equal(t, Done, f.in.Step(context.Background()))
	assert.False(t, f.desc.HasOperations)
	assert.Empty(t, f.scene.Calls)
	assert.Equal(t, Done, f.in.Step(context.Background()))
}

func TestStepAppliesOneOperation(t *testing.T) {
	f := newFixture(t, `[["setZoom", 2], ["setBearing", 10]]`)
	ctx := context.Background()

	assert.Equal(t, Draining, f.in.Step(ctx))
	assert.Equal(t, []string{"jumpTo zoom=2"}, f.scene.Calls)
	assert.Equal(t, 1, f.desc.Operations.Len())

	assert.Equal(t, Draining, f.in.Step(ctx))
	assert.Equal(t, Done, f.in.Step(ctx))
	assert.Len(t, f.scene.Calls, 2)
}

func TestSleepArmsAndFires(t *testing.T) {
	f := newFixture(t, `[["setZoom", 1], ["sleep", 500], ["setZoom", 2]]`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.Equal(t, Draining, f.in.Step(ctx))
	assert.Equal(t, Armed, f.in.Step(ctx))

	// Further steps are no-ops until the timer fires.
	assert.Equal(t, Armed, f.in.Step(ctx))
	assert.Equal(t, 2, f.desc.Operations.Len())
	assert.Equal(t, []string{"jumpTo zoom=1"}, f.scene.Calls)

	f.clock.Advance(499 * time.Millisecond)
	assert.Equal(t, 0, f.loop.RunOnce())
	assert.Equal(t, Armed, f.in.State())

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.loop.Wait(ctx))
	assert.Equal(t, Draining, f.in.State())
	assert.Equal(t, 1, f.desc.Operations.Len())
	assert.Equal(t, []string{"jumpTo zoom=1"}, f.scene.Calls)

	assert.Equal(t, Draining, f.in.Step(ctx))
	assert.Equal(t, []string{"jumpTo zoom=1", "jumpTo zoom=2"}, f.scene.Calls)
	assert.Equal(t, Done, f.in.Step(ctx))
}

func TestRunWaitsOutDefaultSleep(t *testing.T) {
	f := newFixture(t, `[["sleep"], ["setZoom", 3]]`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.in.Run(ctx) }()

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(descriptor.DefaultSleep)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Run did not finish after the sleep elapsed")
	}
	assert.Equal(t, []string{"jumpTo zoom=3"}, f.scene.Calls)
	assert.False(t, f.desc.HasOperations)
}

func TestRunCanceledWhileArmed(t *testing.T) {
	f := newFixture(t, `[["sleep", 1000], ["setZoom", 3]]`)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.in.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, f.scene.Calls)
}

func TestUpdateImageReplaces(t *testing.T) {
	f := newFixture(t, `[
		["addImage", "marker", "image/a.png"],
		["updateImage", "marker", "image/b.png", {"pixelRatio": 2}]
	]`)
	writeImage(t, f.paths.IntegrationFile("image/a.png"), 2, 2, color.NRGBA{255, 0, 0, 255})
	writeImage(t, f.paths.IntegrationFile("image/b.png"), 4, 4, color.NRGBA{0, 0, 255, 255})

	require.NoError(t, f.in.Run(context.Background()))

	require.Len(t, f.scene.Images, 1)
	img := f.scene.Images["marker"]
	assert.Equal(t, 4, img.Pixels.Bounds().Dx())
	assert.Equal(t, 2.0, img.PixelRatio)
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, img.Pixels.RGBAAt(0, 0))
}

func TestFailuresAreNonFatal(t *testing.T) {
	f := newFixture(t, `[
		["removeLayer", "ghost"],
		["addImage", "missing", "image/none.png"],
		["setFilter", "ghost", ["within", 1]],
		["setPaintProperty", "ghost", "fill-color", "red"],
		["frobnicate", 1, 2],
		["setCenter", "nowhere"],
		["wait"],
		["setZoom", 5]
	]`)

	require.NoError(t, f.in.Run(context.Background()))
	assert.Equal(t, Done, f.in.State())
	assert.Equal(t, 0, f.desc.Operations.Len())
	assert.Equal(t, 1, f.conv.calls)
	assert.Equal(t, []string{
		"removeLayer ghost missing",
		"setPaintProperty ghost missing",
		"jumpTo zoom=5",
	}, f.scene.Calls)
	assert.Empty(t, f.scene.Images)
}

func TestUnknownOperationLogsError(t *testing.T) {
	f := newFixture(t, `[["frobnicate"], ["setZoom", 1]]`)
	var buf bytes.Buffer
	f.in.cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))

	require.NoError(t, f.in.Run(context.Background()))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), `msg="Unsupported operation" op=frobnicate`)
	assert.Equal(t, []string{"jumpTo zoom=1"}, f.scene.Calls)
}

func TestSetStyleFromFile(t *testing.T) {
	f := newFixture(t, `[["setStyle", "local://styles/next.json"]]`)
	path := f.paths.IntegrationFile("styles/next.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 8, "sources": {}, "layers": [{"id": "land", "type": "background"}]}`), 0o644))

	require.NoError(t, f.in.Run(context.Background()))
	assert.Equal(t, []string{"loadStyle layers=land"}, f.scene.Calls)
}

func TestOperationTraceGolden(t *testing.T) {
	f := newFixture(t, `[
		["setStyle", {"version": 8,
			"sources": {"pts": {"type": "geojson", "data": {"type": "FeatureCollection", "features": []}}},
			"layers": [{"id": "bg", "type": "background"}, {"id": "dots", "type": "circle", "source": "pts"}]}],
		["setCenter", [10, 20]],
		["setZoom", 3],
		["setBearing", 45],
		["addImage", "marker", "image/marker.png"],
		["setFilter", "dots", ["==", "kind", "a"]],
		["setPaintProperty", "dots", "circle-color", "red"],
		["setLayoutProperty", "dots", "visibility", "none"],
		["addSource", "more", {"type": "geojson", "data": {"type": "FeatureCollection", "features": []}}],
		["addLayer", {"id": "more", "type": "circle", "source": "more"}, "dots"],
		["removeLayer", "ghost"],
		["removeLayer", "more"],
		["removeSource", "more"],
		["wait"],
		["frobnicate"]
	]`)
	writeImage(t, f.paths.IntegrationFile("image/marker.png"), 2, 2, color.NRGBA{0, 0, 0, 255})

	require.NoError(t, f.in.Run(context.Background()))
	assert.Equal(t, []string{"bg", "dots"}, f.scene.Layers)

	g := goldie.New(t)
	g.Assert(t, "operation_trace", []byte(f.scene.Trace()))
}

func TestStateString(t *testing.T) {
	names := []string{Idle.String(), Draining.String(), Armed.String(), Done.String()}
	assert.Equal(t, "idle draining armed done", strings.Join(names, " "))
	assert.Equal(t, "State(9)", State(9).String())
}
