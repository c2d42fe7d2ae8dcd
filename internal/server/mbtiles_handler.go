package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
)

// contentTypes maps MBTiles formats to response content types.
var contentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"webp": "image/webp",
	"pbf":  "application/x-protobuf",
}

// MBTilesHandler serves tiles from an MBTiles database.
type MBTilesHandler struct {
	reader       *mbtiles.Reader
	logger       *slog.Logger
	contentType  string
	cacheControl string
}

// MBTilesConfig configures the MBTiles handler.
type MBTilesConfig struct {
	MBTilesPath  string
	CacheControl string
}

// NewMBTilesHandler creates a new MBTiles handler. The content type of every
// tile follows the format recorded in the database metadata.
func NewMBTilesHandler(cfg MBTilesConfig, logger *slog.Logger) (*MBTilesHandler, error) {
	reader, err := mbtiles.OpenReader(cfg.MBTilesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MBTiles: %w", err)
	}

	meta, err := reader.Metadata()
	if err != nil {
		reader.Close() // nolint:errcheck // Already returning an error
		return nil, fmt.Errorf("failed to read MBTiles metadata: %w", err)
	}
	contentType, ok := contentTypes[meta.Format]
	if !ok {
		contentType = "image/png"
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}

	return &MBTilesHandler{
		reader:       reader,
		logger:       logger,
		contentType:  contentType,
		cacheControl: cfg.CacheControl,
	}, nil
}

// Handler returns the HTTP handler function.
func (h *MBTilesHandler) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveTile(w, r)
	}
}

// serveTile serves a single tile from the MBTiles database.
func (h *MBTilesHandler) serveTile(w http.ResponseWriter, r *http.Request) {
	coords, ok := parseTilePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := h.reader.ReadTile(coords)
	if errors.Is(err, mbtiles.ErrTileNotFound) {
		http.Error(w, "Tile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log().Error("Failed to read tile", "coords", coords.String(), "error", err)
		http.Error(w, "Failed to read tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", h.cacheControl)
	w.Header().Set("Content-Type", h.contentType)
	if _, err := w.Write(data); err != nil {
		h.log().Error("Failed to write response", "error", err)
	}
}

// Close closes the MBTiles reader.
func (h *MBTilesHandler) Close() error {
	return h.reader.Close()
}

func (h *MBTilesHandler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// parseTilePath parses a tile path like /tiles/13/4317/2692.png.
// An MBTiles file holds a single tile size, so @2x paths are rejected.
func parseTilePath(requestPath string) (tile.Coords, bool) {
	name, ok := strings.CutPrefix(requestPath, "/tiles/")
	if !ok {
		return tile.Coords{}, false
	}
	ext := name[strings.LastIndexByte(name, '/')+1:]
	dot := strings.IndexByte(ext, '.')
	if dot < 0 {
		return tile.Coords{}, false
	}
	if _, ok := contentTypes[ext[dot+1:]]; !ok {
		return tile.Coords{}, false
	}
	if strings.HasSuffix(ext[:dot], "@2x") {
		return tile.Coords{}, false
	}

	coords, err := tile.ParseCoords(name)
	if err != nil {
		return tile.Coords{}, false
	}
	return coords, true
}
