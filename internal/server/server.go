// Package server exposes a test suite over HTTP: the images each test wrote,
// the JSON run report and the tiles of an MBTiles fixture.
package server

import (
	"log/slog"
	"net/http"
)

// Config configures the artifact server.
type Config struct {
	// Root is the suite root holding one directory per test.
	Root string
	// ReportPath is the JSON report written by a run, if any.
	ReportPath string
	// MBTilesPath enables /tiles/ when set.
	MBTilesPath  string
	CacheControl string
}

// Server routes requests to the artifact and tile handlers.
type Server struct {
	mux   *http.ServeMux
	tiles *MBTilesHandler
}

// New builds the routes. Close releases the MBTiles database.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	s := &Server{mux: http.NewServeMux()}
	artifacts := NewArtifacts(cfg.Root, cfg.ReportPath, logger)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("/", artifacts.IndexHandler())
	s.mux.Handle("/report.json", withCORS(artifacts.ReportHandler()))
	s.mux.Handle("/tests/", withCORS(artifacts.ImageHandler()))

	if cfg.MBTilesPath != "" {
		tiles, err := NewMBTilesHandler(MBTilesConfig{
			MBTilesPath:  cfg.MBTilesPath,
			CacheControl: cfg.CacheControl,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.tiles = tiles
		s.mux.Handle("/tiles/", withCORS(tiles.Handler()))
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close closes the tile database when one is served.
func (s *Server) Close() error {
	if s.tiles == nil {
		return nil
	}
	return s.tiles.Close()
}

// Allow browser-based viewers on other origins to fetch images and tiles.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
