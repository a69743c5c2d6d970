package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/store"
	"github.com/jward/grove/internal/watch"
)

var (
	flagDB      string
	flagBackend string
	flagFormat  string
	flagWorkers int
	flagBudget  int
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "grove",
	Short:         "Incremental static analysis for PHP",
	Long:          "Grove checks PHP code with tree-sitter and keeps its results between runs, so later runs re-analyze only what an edit can affect.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := applyConfig(cmd, args); err != nil {
			return err
		}
		return validateFormat(flagFormat)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "state database path (default: .grove/state.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "state backend: sqlite|bolt (default: from the --db extension)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "parallel workers (default: number of CPUs)")
	rootCmd.PersistentFlags().IntVar(&flagBudget, "budget", 0, "invalidation cascade budget before falling back to a full run")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log engine events to stderr")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(watchCmd)
}

var flagFull bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Analyze a PHP project",
	Long:  "Analyzes every PHP file under path. State saved by a previous run is reused, so only files affected by changes since then are re-analyzed.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&flagFull, "full", false, "ignore saved state and analyze from scratch")
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Re-analyze a PHP project as files change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

// session is an engine bound to a project and its state store.
type session struct {
	dir     string
	dbPath  string
	source  *grove.DirSource
	engine  *grove.Engine
	backend store.Backend
}

func openSession(args []string) (*session, error) {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	dbPath := resolveDBPath(findRepoRoot(targetDir))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	backend, err := store.Open(dbPath, store.Kind(flagBackend))
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	source := grove.NewDirSource(targetDir)
	engine, err := grove.New(source, engineOptions()...)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return &session{
		dir:     targetDir,
		dbPath:  dbPath,
		source:  source,
		engine:  engine,
		backend: backend,
	}, nil
}

func engineOptions() []grove.Option {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelInfo
	}
	opts := []grove.Option{
		grove.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))),
	}
	if flagWorkers > 0 {
		opts = append(opts, grove.WithWorkers(flagWorkers))
	}
	if flagBudget > 0 {
		opts = append(opts, grove.WithCascadeBudget(flagBudget))
	}
	return opts
}

// start runs the first analysis, resuming from saved state unless full is
// set.
func (s *session) start(ctx context.Context, full bool) (*grove.Result, error) {
	if full {
		return s.engine.Analyze(ctx)
	}
	snap, err := s.backend.LoadSnapshot()
	if err != nil {
		// Unreadable state only costs a full run.
		fmt.Fprintf(os.Stderr, "Ignoring saved state: %s\n", err)
		snap = nil
	}
	return s.engine.Restore(ctx, snap)
}

func (s *session) save() error {
	snap := s.engine.Snapshot()
	if snap == nil {
		return nil
	}
	if err := s.backend.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	return s.backend.Close()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	start := time.Now()
	s, err := openSession(args)
	if err != nil {
		return outputError("analyze", err)
	}
	defer s.Close()

	res, err := s.start(cmd.Context(), flagFull)
	if err != nil {
		return outputError("analyze", fmt.Errorf("analyzing: %w", err))
	}
	if err := s.save(); err != nil {
		return outputError("analyze", err)
	}
	if err := outputResult(os.Stdout, "analyze", res); err != nil {
		return err
	}
	printSummary(s, res, time.Since(start))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	s, err := openSession(args)
	if err != nil {
		return outputError("watch", err)
	}
	defer s.Close()

	res, err := s.start(ctx, flagFull)
	if err != nil {
		return outputError("watch", fmt.Errorf("analyzing: %w", err))
	}
	if err := s.save(); err != nil {
		return outputError("watch", err)
	}
	if err := outputResult(os.Stdout, "watch", res); err != nil {
		return err
	}
	printSummary(s, res, time.Since(start))

	w, err := watch.New(s.dir)
	if err != nil {
		return outputError("watch", fmt.Errorf("starting watcher: %w", err))
	}
	defer w.Close()
	fmt.Fprintf(os.Stderr, "Watching %s\n", s.dir)

	err = w.Run(ctx, func(paths []string) {
		hint := hintFor(s.source, paths)
		if len(hint) == 0 {
			return
		}
		t := time.Now()
		res, err := s.engine.AnalyzeIncremental(ctx, hint)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			return
		}
		if err := s.save(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		if err := outputResult(os.Stdout, "watch", res); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		printSummary(s, res, time.Since(t))
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// hintFor maps absolute event paths to source paths, dropping any outside
// the project.
func hintFor(src *grove.DirSource, paths []string) []string {
	hint := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, ok := src.Rel(p); ok {
			hint = append(hint, rel)
		}
	}
	return hint
}

// resolveTargetDir returns the absolute path of the directory to analyze.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the state path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".grove", "state.db")
}
