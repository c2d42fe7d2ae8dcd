package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/fixture"
	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Generate test fixtures",
	Long:  `Generate images, GeoJSON sources and MBTiles used by render tests.`,
}

var patternCmd = &cobra.Command{
	Use:   "pattern <output.png>",
	Short: "Write a deterministic noise image for addImage and updateImage operations",
	Args:  cobra.ExactArgs(1),
	RunE:  runPattern,
}

var osmCmd = &cobra.Command{
	Use:   "osm <output.geojson>",
	Short: "Capture OpenStreetMap data inside a bounding box as GeoJSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runOSM,
}

var packCmd = &cobra.Command{
	Use:   "pack <tiles-dir> <output.mbtiles>",
	Short: "Pack a {z}/{x}/{y} tile folder into an MBTiles file",
	Args:  cobra.ExactArgs(2),
	RunE:  runPack,
}

func init() {
	rootCmd.AddCommand(fixturesCmd)
	fixturesCmd.AddCommand(patternCmd, osmCmd, packCmd)

	defaults := fixture.DefaultPatternOptions()
	patternCmd.Flags().Int("width", defaults.Width, "Image width in pixels")
	patternCmd.Flags().Int("height", defaults.Height, "Image height in pixels")
	patternCmd.Flags().Float64("scale", defaults.Scale, "Noise wavelength in pixels")
	patternCmd.Flags().Int64("seed", defaults.Seed, "Noise seed")
	patternCmd.Flags().Float32("blur", 0, "Gaussian blur sigma (0 disables)")
	patternCmd.Flags().String("low", style.FormatColor(defaults.Low), "Color at the noise minimum")
	patternCmd.Flags().String("high", style.FormatColor(defaults.High), "Color at the noise maximum")

	osmCmd.Flags().String("bbox", "", "Bounding box: minLon,minLat,maxLon,maxLat (e.g., \"9.7,52.3,9.9,52.4\")")
	osmCmd.Flags().String("endpoint", fixture.DefaultOverpassEndpoint, "Overpass API endpoint")
	osmCmd.Flags().StringSlice("filter", nil, "Overpass filters such as way[\"highway\"] (default: water, parks, landuse, roads, buildings, amenities)")

	packCmd.Flags().String("name", "", "Tileset name (default: folder name)")
	packCmd.Flags().String("description", "", "Tileset description")

	bindFlags := []struct {
		cmd  *cobra.Command
		key  string
		flag string
	}{
		{patternCmd, "fixtures.pattern.width", "width"},
		{patternCmd, "fixtures.pattern.height", "height"},
		{patternCmd, "fixtures.pattern.scale", "scale"},
		{patternCmd, "fixtures.pattern.seed", "seed"},
		{patternCmd, "fixtures.pattern.blur", "blur"},
		{patternCmd, "fixtures.pattern.low", "low"},
		{patternCmd, "fixtures.pattern.high", "high"},
		{osmCmd, "fixtures.osm.bbox", "bbox"},
		{osmCmd, "fixtures.osm.endpoint", "endpoint"},
		{osmCmd, "fixtures.osm.filter", "filter"},
		{packCmd, "fixtures.pack.name", "name"},
		{packCmd, "fixtures.pack.description", "description"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, bf.cmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runPattern(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	low, err := style.ParseColor(viper.GetString("fixtures.pattern.low"))
	if err != nil {
		return fmt.Errorf("invalid --low: %w", err)
	}
	high, err := style.ParseColor(viper.GetString("fixtures.pattern.high"))
	if err != nil {
		return fmt.Errorf("invalid --high: %w", err)
	}

	opts := fixture.PatternOptions{
		Width:  viper.GetInt("fixtures.pattern.width"),
		Height: viper.GetInt("fixtures.pattern.height"),
		Scale:  viper.GetFloat64("fixtures.pattern.scale"),
		Seed:   viper.GetInt64("fixtures.pattern.seed"),
		Blur:   float32(viper.GetFloat64("fixtures.pattern.blur")),
		Low:    low,
		High:   high,
	}
	img, err := fixture.Pattern(opts)
	if err != nil {
		return err
	}
	if err := compare.WritePNG(args[0], img); err != nil {
		return err
	}

	logger.Info("Pattern written", "path", args[0], "width", opts.Width, "height", opts.Height, "seed", opts.Seed)
	return nil
}

func runOSM(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bboxStr := viper.GetString("fixtures.osm.bbox")
	if bboxStr == "" {
		return fmt.Errorf("--bbox is required")
	}
	bbox, err := parseBBox(bboxStr)
	if err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	bound := orb.Bound{Min: orb.Point{bbox[0], bbox[1]}, Max: orb.Point{bbox[2], bbox[3]}}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := viper.GetString("fixtures.osm.endpoint")
	logger.Info("Querying Overpass", "endpoint", endpoint, "bbox", bboxStr)

	client := fixture.NewOSMClient(endpoint, nil)
	fc, err := client.Fetch(ctx, bound, viper.GetStringSlice("fixtures.osm.filter"))
	if err != nil {
		return err
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(args[0]), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", args[0], err)
	}

	logger.Info("GeoJSON written", "path", args[0], "features", len(fc.Features), "bytes", len(data))
	return nil
}

func runPack(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	inputDir, output := args[0], args[1]
	if _, err := os.Stat(inputDir); os.IsNotExist(err) {
		return fmt.Errorf("input directory does not exist: %s", inputDir)
	}

	logger.Info("Packing tiles into MBTiles", "input_dir", inputDir, "output", output)

	n, err := fixture.Pack(inputDir, output, mbtiles.Metadata{
		Name:        viper.GetString("fixtures.pack.name"),
		Description: viper.GetString("fixtures.pack.description"),
		Version:     "1.0",
	})
	if err != nil {
		return err
	}

	logger.Info("Pack complete", "output", output, "tiles", n)
	return nil
}

func parseBBox(s string) ([4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return [4]float64{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	var bbox [4]float64
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [4]float64{}, fmt.Errorf("invalid number at position %d: %w", i, err)
		}
		bbox[i] = val
	}

	// Validate
	if bbox[0] >= bbox[2] {
		return [4]float64{}, fmt.Errorf("minLon (%.4f) must be < maxLon (%.4f)", bbox[0], bbox[2])
	}
	if bbox[1] >= bbox[3] {
		return [4]float64{}, fmt.Errorf("minLat (%.4f) must be < maxLat (%.4f)", bbox[1], bbox[3])
	}

	return bbox, nil
}
