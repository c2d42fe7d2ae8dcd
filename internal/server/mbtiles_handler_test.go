package server

import "testing"

func TestParseTilePath(t *testing.T) {
	t.Run("base tile", func(t *testing.T) {
		coords, ok := parseTilePath("/tiles/13/4317/2692.png")
		if !ok {
			t.Fatalf("expected ok")
		}
		if coords.String() != "13/4317/2692" {
			t.Fatalf("unexpected coords: %s", coords.String())
		}
	})

	t.Run("reject hidpi tile", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/5/1/2@2x.png"); ok {
			t.Fatalf("expected not ok")
		}
	})

	t.Run("webp tile", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/5/1/2.webp"); !ok {
			t.Fatalf("expected ok")
		}
	})

	t.Run("reject unknown extension", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/5/1/2.gif"); ok {
			t.Fatalf("expected not ok")
		}
		if _, ok := parseTilePath("/tiles/5/1/2"); ok {
			t.Fatalf("expected not ok")
		}
	})

	t.Run("reject other prefix", func(t *testing.T) {
		if _, ok := parseTilePath("/demo/5/1/2.png"); ok {
			t.Fatalf("expected not ok")
		}
	})

	t.Run("reject outside grid", func(t *testing.T) {
		if _, ok := parseTilePath("/tiles/1/2/0.png"); ok {
			t.Fatalf("expected not ok")
		}
	})
}

func TestParseArtifactPath(t *testing.T) {
	tests := []struct {
		path string
		name string
		kind string
		ok   bool
	}{
		{"/tests/basic/diff.png", "basic", "diff", true},
		{"/tests/roads/night/expected.png", "roads/night", "expected", true},
		{"/tests/roads/actual.png", "roads", "actual", true},
		{"/tests/roads/other.png", "", "", false},
		{"/tests/diff.png", "", "", false},
		{"/tests/../secret/diff.png", "", "", false},
		{"/tests/a/../b/diff.png", "", "", false},
		{"/tests/roads/diff.jpg", "", "", false},
	}

	for _, tt := range tests {
		name, kind, ok := parseArtifactPath(tt.path)
		if ok != tt.ok || name != tt.name || kind != tt.kind {
			t.Errorf("parseArtifactPath(%q) = %q, %q, %v; want %q, %q, %v", tt.path, name, kind, ok, tt.name, tt.kind, tt.ok)
		}
	}
}
