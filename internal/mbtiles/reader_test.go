package mbtiles

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/paulmach/orb"
)

func testMetadata() Metadata {
	return Metadata{
		Name:        "Test Tileset",
		Format:      "png",
		MinZoom:     10,
		MaxZoom:     14,
		Bounds:      orb.Bound{Min: orb.Point{9.5, 51.8}, Max: orb.Point{9.9, 52.1}},
		Center:      orb.Point{9.7, 51.95},
		CenterZoom:  12,
		Description: "Test description",
		Type:        "baselayer",
		Version:     "1.0",
	}
}

func TestReader_RoundTrip(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		name := "plain"
		if compressed {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), "test.mbtiles")

			var opts []WriterOption
			if compressed {
				opts = append(opts, WithGzip())
			}
			w, err := Create(dbPath, testMetadata(), opts...)
			if err != nil {
				t.Fatalf("Failed to create writer: %v", err)
			}

			pngData := []byte("fake png data for testing")
			tiles := []tile.Coords{
				tile.NewCoords(13, 4317, 2692),
				tile.NewCoords(13, 4318, 2692),
				tile.NewCoords(14, 8634, 5384),
			}
			for _, c := range tiles {
				if err := w.WriteTile(c, pngData); err != nil {
					t.Fatalf("Failed to write tile %s: %v", c, err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Failed to close writer: %v", err)
			}

			r, err := OpenReader(dbPath)
			if err != nil {
				t.Fatalf("Failed to open reader: %v", err)
			}
			defer r.Close()

			for _, c := range tiles {
				data, err := r.ReadTile(c)
				if err != nil {
					t.Fatalf("Failed to read tile %s: %v", c, err)
				}
				if string(data) != string(pngData) {
					t.Errorf("Tile %s data mismatch: got %q, want %q", c, data, pngData)
				}
			}
		})
	}
}

func TestReader_Metadata(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.mbtiles")
	expected := testMetadata()

	w, err := Create(dbPath, expected)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	r, err := OpenReader(dbPath)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer r.Close()

	got, err := r.Metadata()
	if err != nil {
		t.Fatalf("Failed to read metadata: %v", err)
	}
	if got != expected {
		t.Errorf("Metadata mismatch:\n got  %+v\n want %+v", got, expected)
	}
}

func TestReader_TileNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.mbtiles")
	w, err := Create(dbPath, Metadata{Name: "empty"})
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	r, err := OpenReader(dbPath)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer r.Close()

	_, err = r.ReadTile(tile.NewCoords(1, 0, 0))
	if !errors.Is(err, ErrTileNotFound) {
		t.Fatalf("expected ErrTileNotFound, got %v", err)
	}
}

func TestReader_RejectsNonMBTiles(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "missing.mbtiles")); err == nil {
		t.Fatal("expected error for a database without tiles table")
	}
}

func TestMetadataToMapOmitsZeroFields(t *testing.T) {
	m := Metadata{Name: "x"}.ToMap()
	if len(m) != 1 || m["name"] != "x" {
		t.Errorf("ToMap() = %v, want only name", m)
	}

	full := testMetadata().ToMap()
	if full["bounds"] != "9.500000,51.800000,9.900000,52.100000" {
		t.Errorf("bounds = %q", full["bounds"])
	}
	if full["center"] != "9.700000,51.950000,12" {
		t.Errorf("center = %q", full["center"])
	}
}
