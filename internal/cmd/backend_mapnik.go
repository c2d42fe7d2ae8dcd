//go:build mapnik

package cmd

// Registers the mapnik backend for --backend=mapnik.
import _ "github.com/MeKo-Tech/renderdiff/internal/renderer"
