// Package suite discovers render tests under a root directory and runs them
// through the worker pool.
package suite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/runner"
	"github.com/MeKo-Tech/renderdiff/internal/worker"
	"gopkg.in/yaml.v3"
)

// StyleFile marks a test directory.
const StyleFile = "style.json"

// Discover walks root, or root/name for each of names, and returns every
// directory holding a style.json in lexical order.
func Discover(root string, names []string) ([]string, error) {
	if len(names) == 0 {
		names = []string{""}
	}

	seen := map[string]bool{}
	var dirs []string
	for _, name := range names {
		start := filepath.Join(root, filepath.FromSlash(name))
		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Name() != StyleFile {
				return nil
			}
			dir := filepath.Dir(path)
			if !seen[dir] {
				seen[dir] = true
				dirs = append(dirs, dir)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover tests in %s: %w", start, err)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Ignores maps cleaned test directories to the reason they are ignored.
type Ignores map[string]string

// LoadIgnores reads an ignore list: an object of test name to reason, as JSON
// or, for .yaml and .yml files, YAML. Relative names are resolved against
// base. A missing file yields an empty list.
func LoadIgnores(path, base string) (Ignores, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Ignores{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ignores: %w", err)
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse ignores %s: %w", path, err)
	}

	ignores := make(Ignores, len(raw))
	for name, reason := range raw {
		dir := filepath.FromSlash(name)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		ignores[filepath.Clean(dir)] = fmt.Sprint(reason)
	}
	return ignores, nil
}

// Reason reports whether dir is ignored and why.
func (ig Ignores) Reason(dir string) (string, bool) {
	reason, ok := ig[filepath.Clean(dir)]
	return reason, ok
}

// Shuffle permutes dirs in place. The order depends only on seed.
func Shuffle(dirs []string, seed uint64) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r.Shuffle(len(dirs), func(i, j int) { dirs[i], dirs[j] = dirs[j], dirs[i] })
}

// Config configures a suite run.
type Config struct {
	// Root is the directory tests are discovered under and named relative to.
	Root string
	// Names restricts discovery to these subdirectories of Root.
	Names   []string
	Paths   localize.Paths
	Ignores Ignores

	Shuffle bool
	Seed    uint64

	Workers    int
	Executor   worker.Executor
	OnProgress worker.ProgressFunc
	Logger     *slog.Logger
}

// Suite runs a set of render tests.
type Suite struct {
	cfg Config
}

// New creates a suite.
func New(cfg Config) *Suite {
	return &Suite{cfg: cfg}
}

func (s *Suite) log() *slog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return slog.Default()
}

// Plan discovers the tests and returns their directories in run order.
func (s *Suite) Plan() ([]string, error) {
	dirs, err := Discover(s.cfg.Root, s.cfg.Names)
	if err != nil {
		return nil, err
	}
	if s.cfg.Shuffle {
		s.log().Info("Shuffling tests", "seed", s.cfg.Seed)
		Shuffle(dirs, s.cfg.Seed)
	}
	return dirs, nil
}

// Run executes every discovered test and returns one result per test in run
// order. Ignored tests and tests whose descriptor cannot be used are skipped
// without creating a scene. Only discovery failures are returned as errors.
func (s *Suite) Run(ctx context.Context) ([]runner.Result, error) {
	dirs, err := s.Plan()
	if err != nil {
		return nil, err
	}

	results := make([]runner.Result, len(dirs))
	var tasks []worker.Task
	for i, dir := range dirs {
		name := s.name(dir)
		if reason, ok := s.cfg.Ignores.Reason(dir); ok {
			s.log().Info("Ignoring test", "test", name, "reason", reason)
			results[i] = runner.Skip(name, dir, "ignored: "+reason)
			continue
		}

		d, err := descriptor.Parse(filepath.Join(dir, StyleFile), s.cfg.Paths, s.log())
		if err != nil {
			if !errors.Is(err, descriptor.ErrSkip) {
				err = fmt.Errorf("%w: %v", descriptor.ErrMalformed, err)
			}
			s.log().Warn("Skipping test", "test", name, "error", err)
			results[i] = runner.Skip(name, dir, err.Error())
			continue
		}
		tasks = append(tasks, worker.Task{Index: i, Name: name, Descriptor: d})
	}

	skipped := len(dirs) - len(tasks)
	onProgress := s.cfg.OnProgress
	if onProgress != nil && skipped > 0 {
		onProgress = func(t worker.Tally) {
			t.Total += skipped
			t.Skipped += skipped
			s.cfg.OnProgress(t)
		}
		if len(tasks) == 0 {
			onProgress(worker.Tally{})
		}
	}

	pool := worker.New(worker.Config{
		Workers:    s.cfg.Workers,
		Executor:   s.cfg.Executor,
		OnProgress: onProgress,
	})
	for _, r := range pool.Run(ctx, tasks) {
		results[r.Task.Index] = r.Result
	}
	return results, nil
}

func (s *Suite) name(dir string) string {
	rel, err := filepath.Rel(s.cfg.Root, dir)
	if err != nil {
		return dir
	}
	return filepath.ToSlash(rel)
}
