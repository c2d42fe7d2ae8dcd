package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/converge"
	"github.com/MeKo-Tech/renderdiff/internal/engine"
	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/report"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
	"github.com/MeKo-Tech/renderdiff/internal/suite"
	"github.com/MeKo-Tech/renderdiff/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run [test names...]",
	Short: "Run render tests",
	Long: `Run every render test below --root, or only the named tests.

Each test prints one line with its score and the allowed tolerance. With
UPDATE=1 (or --update) the expected images are overwritten with the rendered
frames instead of being compared.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("root", "", "Test root (default: <fixtures>/integration/render-tests)")
	runCmd.Flags().String("ignores", "", "Ignore list, JSON or YAML (default: <fixtures>/ignores.json)")
	runCmd.Flags().BoolP("shuffle", "s", false, "Shuffle the test order")
	runCmd.Flags().Uint64("seed", 1, "Shuffle seed")
	runCmd.Flags().IntP("workers", "w", 0, "Number of parallel tests (default: number of CPUs)")
	runCmd.Flags().String("backend", engine.DefaultBackend, fmt.Sprintf("Render backend %v", engine.Backends()))
	runCmd.Flags().Bool("update", false, "Overwrite expected images with the rendered frames")
	runCmd.Flags().Bool("read-only", false, "Never write to the fixture tree")
	runCmd.Flags().String("report", "", "Write a JSON run report to this file")
	runCmd.Flags().Bool("fail-on-error", false, "Exit non-zero when a test fails")
	runCmd.Flags().BoolP("recycle-map", "r", false, "Reuse one map for all tests (ignored, every test gets its own scene)")
	runCmd.Flags().Bool("progress", false, "Show a progress bar on stderr")
	runCmd.Flags().Int("max-iterations", converge.DefaultMaxIterations, "Render passes allowed before a test is abandoned (0 = unlimited)")
	runCmd.Flags().Duration("timeout", converge.DefaultTimeout, "Time allowed for one convergence pass (0 = unlimited)")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"run.root", "root"},
		{"run.ignores", "ignores"},
		{"run.shuffle", "shuffle"},
		{"run.seed", "seed"},
		{"run.workers", "workers"},
		{"run.backend", "backend"},
		{"run.update", "update"},
		{"run.read_only", "read-only"},
		{"run.report", "report"},
		{"run.fail_on_error", "fail-on-error"},
		{"run.recycle_map", "recycle-map"},
		{"run.progress", "progress"},
		{"run.max_iterations", "max-iterations"},
		{"run.timeout", "timeout"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, runCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
	if err := viper.BindEnv("run.update", "UPDATE", "RENDERDIFF_UPDATE"); err != nil {
		panic(fmt.Sprintf("failed to bind env: %v", err))
	}
}

// runOptions is the resolved configuration of one suite run.
type runOptions struct {
	Fixtures    string
	Root        string
	Names       []string
	IgnoresPath string
	Shuffle     bool
	Seed        uint64
	Workers     int
	Backend     string
	Update      bool
	ReadOnly    bool
	ReportPath  string
	Progress    bool
	Policy      converge.Policy
}

func runRun(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	opts := runOptions{
		Fixtures:    viper.GetString("fixture_root"),
		Root:        viper.GetString("run.root"),
		Names:       args,
		IgnoresPath: viper.GetString("run.ignores"),
		Shuffle:     viper.GetBool("run.shuffle"),
		Seed:        viper.GetUint64("run.seed"),
		Workers:     viper.GetInt("run.workers"),
		Backend:     viper.GetString("run.backend"),
		Update:      viper.GetBool("run.update"),
		ReadOnly:    viper.GetBool("run.read_only"),
		ReportPath:  viper.GetString("run.report"),
		Progress:    viper.GetBool("run.progress"),
		Policy: converge.Policy{
			MaxIterations: viper.GetInt("run.max_iterations"),
			Timeout:       viper.GetDuration("run.timeout"),
		},
	}
	if viper.GetBool("run.recycle_map") {
		logger.Warn("--recycle-map is ignored, every test renders on its own scene")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := runSuite(ctx, opts, os.Stdout, logger)
	if err != nil {
		return err
	}
	if viper.GetBool("run.fail_on_error") && rep.Failed() {
		return fmt.Errorf("%d of %d tests failed", rep.Totals.Failed+rep.Totals.Errored, len(rep.Results))
	}
	return nil
}

// runSuite discovers, runs and reports the tests described by opts. Result
// lines are written to out.
func runSuite(ctx context.Context, opts runOptions, out io.Writer, logger *slog.Logger) (*report.Report, error) {
	if opts.Fixtures == "" {
		opts.Fixtures = "."
	}
	paths := localize.NewPaths(opts.Fixtures)
	if opts.Root == "" {
		opts.Root = filepath.Join(paths.Integration, "render-tests")
	}
	if opts.IgnoresPath == "" {
		opts.IgnoresPath = filepath.Join(opts.Fixtures, "ignores.json")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Backend == "" {
		opts.Backend = engine.DefaultBackend
	}
	if opts.Update && opts.ReadOnly {
		return nil, fmt.Errorf("--update cannot be combined with --read-only")
	}

	factory, err := engine.NewFactory(opts.Backend, logger)
	if err != nil {
		return nil, err
	}
	ignores, err := suite.LoadIgnores(opts.IgnoresPath, paths.Integration)
	if err != nil {
		return nil, err
	}

	r := runner.New(runner.Config{
		Root:       opts.Root,
		Paths:      paths,
		Factory:    factory,
		Comparator: compare.New(opts.Update, opts.ReadOnly, logger),
		Policy:     opts.Policy,
		Logger:     logger,
	})

	progress := worker.NewProgress(0, opts.Progress)
	s := suite.New(suite.Config{
		Root:       opts.Root,
		Names:      opts.Names,
		Paths:      paths,
		Ignores:    ignores,
		Shuffle:    opts.Shuffle,
		Seed:       opts.Seed,
		Workers:    opts.Workers,
		Executor:   r,
		OnProgress: progress.Callback(),
		Logger:     logger,
	})

	logger.Info("Starting render tests",
		"root", opts.Root,
		"backend", opts.Backend,
		"workers", opts.Workers,
		"update", opts.Update,
		"shuffle", opts.Shuffle,
		"seed", opts.Seed,
	)

	started := time.Now()
	results, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}
	progress.Done()

	rep := report.New(results, report.Options{
		Started:  started,
		Elapsed:  time.Since(started),
		Backend:  opts.Backend,
		Shuffled: opts.Shuffle,
		Seed:     opts.Seed,
	})
	report.NewPrinter(out).PrintAll(rep)
	logger.Info(progress.Summary(), "run_id", rep.RunID)

	if opts.ReportPath != "" {
		if err := rep.WriteJSON(opts.ReportPath); err != nil {
			return nil, err
		}
		logger.Info("Report written", "path", opts.ReportPath)
	}
	return rep, nil
}
