package grove

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/grove/internal/atom"
	"github.com/jward/grove/internal/codebase"
	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/php"
	"github.com/jward/grove/internal/refs"
)

// Scanner extracts the declarations and signature of one file. It must be
// deterministic and safe for concurrent use.
type Scanner interface {
	Scan(ctx context.Context, file codebase.File, src []byte) (*codebase.ScanResult, error)
}

// Analyzer checks one file against a populated codebase. It must not
// mutate the codebase and must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, file codebase.File, src []byte, cb *codebase.Codebase) (*codebase.AnalysisResult, error)
}

// fileState is what the engine remembers about a tracked file between
// calls.
type fileState struct {
	file   codebase.File
	hash   uint64
	keys   []codebase.EntryKey
	issues []issue.Issue
}

type scanKey struct {
	path string
	hash uint64
}

// Engine is the incremental analysis service. It owns the codebase, the
// reference graph and the per-file state of the previous call, and brings
// them up to date with the file source on every call.
//
// An Engine is safe for concurrent use; calls are serialized.
type Engine struct {
	source    FileSource
	workers   int
	budget    int
	logger    *slog.Logger
	cacheSize int
	scanner   Scanner
	analyzer  Analyzer
	newScan   func(*atom.Interner) Scanner

	mu       sync.Mutex
	symbols  *atom.Interner
	paths    *atom.Interner
	cb       *codebase.Codebase
	refs     *refs.References
	files    map[string]*fileState
	cbIssues []issue.Issue
	cache    *lru.Cache[scanKey, *codebase.ScanResult]
	builtins *codebase.ScanResult

	initialized bool
	// stale is set when a call was interrupted after it began mutating
	// state; the next call starts over with a full run.
	stale bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of files scanned or analyzed at once.
// The default is the number of CPUs.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCascadeBudget sets the number of cascade steps after which an
// incremental call gives up and re-analyzes everything.
func WithCascadeBudget(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.budget = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithScanCacheSize sets how many scan results are kept by content hash.
// Zero disables the cache.
func WithScanCacheSize(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.cacheSize = n
		}
	}
}

// WithScanner replaces the PHP scanner. newScanner receives the interner
// every symbol name must be interned with.
func WithScanner(newScanner func(*atom.Interner) Scanner) Option {
	return func(e *Engine) {
		e.newScan = newScanner
	}
}

// WithAnalyzer replaces the PHP analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Engine) {
		e.analyzer = a
	}
}

// New creates an Engine reading files from source. No analysis happens
// until Analyze is called.
func New(source FileSource, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("grove: new: nil file source")
	}
	e := &Engine{
		source:    source,
		workers:   runtime.NumCPU(),
		budget:    refs.DefaultCascadeBudget,
		logger:    slog.Default(),
		cacheSize: 4096,
		symbols:   atom.New(),
		paths:     atom.NewExact(),
		files:     make(map[string]*fileState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newScan != nil {
		e.scanner = e.newScan(e.symbols)
	} else {
		e.scanner = php.NewScanner(e.symbols)
	}
	if e.analyzer == nil {
		e.analyzer = php.NewAnalyzer()
	}
	if e.cacheSize > 0 {
		cache, err := lru.New[scanKey, *codebase.ScanResult](e.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("grove: scan cache: %w", err)
		}
		e.cache = cache
	}
	e.cb = codebase.New(e.symbols)
	e.refs = refs.New()
	return e, nil
}

// SetSource replaces the file source. The next incremental call compares
// the new source against the state built from the old one.
func (e *Engine) SetSource(source FileSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = source
}

// Codebase returns the current codebase. It must not be mutated and is
// only stable between calls.
func (e *Engine) Codebase() *codebase.Codebase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

// References returns the current reference graph. It must not be mutated
// and is only stable between calls.
func (e *Engine) References() *refs.References {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}

// Initialized reports whether a full analysis has completed.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Analyze analyzes every file from scratch, discarding any previous state.
func (e *Engine) Analyze(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	obs, err := e.observe(ctx, nil)
	if err != nil {
		return nil, err
	}
	res, err := e.full(ctx, obs, ModeFull)
	if err != nil {
		return nil, err
	}
	res.Stats.Duration = time.Since(start)
	return res, nil
}

// AnalyzeIncremental brings the previous results up to date with the file
// source, re-analyzing only what the changes can affect. hint, when
// non-nil, lists the paths that may have changed; every other known file
// is assumed unchanged and is not re-read.
//
// AnalyzeIncremental panics if Analyze (or Restore) has not completed.
func (e *Engine) AnalyzeIncremental(ctx context.Context, hint []string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		panic("grove: AnalyzeIncremental called before Analyze")
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	if e.stale {
		e.logger.Warn("incremental.stale", "reason", "previous call was interrupted")
		var obs *observation
		obs, err = e.observe(ctx, nil)
		if err != nil {
			return nil, err
		}
		res, err = e.full(ctx, obs, ModeFallback)
	} else {
		var obs *observation
		obs, err = e.observe(ctx, hint)
		if err != nil {
			return nil, err
		}
		res, err = e.incremental(ctx, obs)
	}
	if err != nil {
		return nil, err
	}
	res.Stats.Duration = time.Since(start)
	return res, nil
}

// =============================================================================
// Observation
// =============================================================================

// observation is the file set as seen at the start of a call.
type observation struct {
	listed   []string
	read     map[string]bool
	contents map[string][]byte
	hashes   map[string]uint64
	readErrs map[string]error
}

// observe lists the source and reads the files that need hashing: all of
// them without a hint, otherwise the hinted ones plus any not yet known.
func (e *Engine) observe(ctx context.Context, hint []string) (*observation, error) {
	listed, err := e.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("grove: list files: %w", err)
	}
	sort.Strings(listed)

	var toRead []string
	if hint == nil {
		toRead = listed
	} else {
		hinted := make(map[string]bool, len(hint))
		for _, p := range hint {
			hinted[p] = true
		}
		for _, p := range listed {
			if _, known := e.files[p]; hinted[p] || !known {
				toRead = append(toRead, p)
			}
		}
	}

	obs, err := e.readFiles(ctx, toRead)
	if err != nil {
		return nil, err
	}
	obs.listed = listed
	return obs, nil
}

// classify splits the observation into changed and deleted paths, both
// sorted. A path that could not be read counts as deleted.
func (e *Engine) classify(obs *observation) (changed, deleted []string) {
	listed := make(map[string]bool, len(obs.listed))
	for _, p := range obs.listed {
		listed[p] = true
		if !obs.read[p] || obs.readErrs[p] != nil {
			continue
		}
		st, ok := e.files[p]
		if !ok || st.hash != obs.hashes[p] {
			changed = append(changed, p)
		}
	}
	for p := range e.files {
		if !listed[p] || obs.readErrs[p] != nil {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)

	gone := make(map[string]bool, len(deleted))
	for _, p := range deleted {
		gone[p] = true
	}
	for _, p := range changed {
		if gone[p] {
			panic(fmt.Sprintf("grove: %s classified as both changed and deleted", p))
		}
	}
	return changed, deleted
}

// =============================================================================
// Full analysis
// =============================================================================

func (e *Engine) fileFor(path string) codebase.File {
	return codebase.File{ID: e.paths.Intern(path), Path: path}
}

func (e *Engine) scanBuiltins(ctx context.Context) (*codebase.ScanResult, error) {
	if e.builtins != nil {
		return e.builtins, nil
	}
	file := codebase.File{ID: e.paths.Intern(php.BuiltinsPath), Path: php.BuiltinsPath, Builtin: true}
	res, err := e.scanner.Scan(ctx, file, php.Builtins())
	if err != nil {
		return nil, fmt.Errorf("grove: scan builtins: %w", err)
	}
	e.builtins = res
	return res, nil
}

// reset discards all state and seeds the codebase with the builtins.
func (e *Engine) reset(ctx context.Context) error {
	builtins, err := e.scanBuiltins(ctx)
	if err != nil {
		return err
	}
	e.cb = codebase.New(e.symbols)
	e.refs = refs.New()
	e.files = make(map[string]*fileState)
	e.cbIssues = nil
	e.cb.Extend(builtins.Metadata)
	return nil
}

// full rebuilds everything from the observation, reading any file it did
// not cover.
func (e *Engine) full(ctx context.Context, obs *observation, mode Mode) (*Result, error) {
	var unread []string
	for _, p := range obs.listed {
		if !obs.read[p] {
			unread = append(unread, p)
		}
	}
	if len(unread) > 0 {
		more, err := e.readFiles(ctx, unread)
		if err != nil {
			return nil, err
		}
		obs.merge(more)
	}

	e.stale = true
	if err := e.reset(ctx); err != nil {
		return nil, err
	}

	var files []codebase.File
	for _, p := range obs.listed {
		if obs.readErrs[p] == nil {
			files = append(files, e.fileFor(p))
		}
	}

	t := time.Now()
	scans, hits, err := e.scanFiles(ctx, files, obs)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		res := scans[f.Path]
		e.files[f.Path] = &fileState{
			file: f,
			hash: obs.hashes[f.Path],
			keys: e.cb.Extend(res.Metadata),
		}
		e.cb.SetSignature(res.Signature)
	}
	e.logger.Debug("pass.timing", "pass", "scan", "files", len(files), "elapsed", time.Since(t))

	t = time.Now()
	e.cb.Populate(codebase.PopulateOptions{})
	e.logger.Debug("pass.timing", "pass", "populate", "elapsed", time.Since(t))

	if err := e.analyzeInto(ctx, files, obs); err != nil {
		return nil, err
	}
	e.cbIssues = e.codebaseIssues()
	e.initialized = true
	e.stale = false

	return &Result{
		Issues: e.assemble(obs),
		Stats: Stats{
			Mode:      mode,
			Files:     len(obs.listed),
			Changed:   len(files),
			Scanned:   len(files),
			Analyzed:  len(files),
			CacheHits: hits,
		},
	}, nil
}

// analyzeInto analyzes files, stores their issues and merges their
// references into the graph.
func (e *Engine) analyzeInto(ctx context.Context, files []codebase.File, obs *observation) error {
	t := time.Now()
	results, err := e.analyzeFiles(ctx, files, obs)
	if err != nil {
		return err
	}
	for _, f := range files {
		res := results[f.Path]
		e.files[f.Path].issues = res.Issues
		e.refs.Extend(res.References)
	}
	e.logger.Debug("pass.timing", "pass", "analyze", "files", len(files), "elapsed", time.Since(t))
	return nil
}

// assemble returns the codebase-level issues, every tracked file's cached
// issues and this call's read errors, sorted.
func (e *Engine) assemble(obs *observation) []Issue {
	out := make([]Issue, 0, len(e.cbIssues))
	out = append(out, e.cbIssues...)
	for _, st := range e.files {
		out = append(out, st.issues...)
	}
	for path, err := range obs.readErrs {
		out = append(out, Issue{
			Kind:    issue.ReadError,
			File:    path,
			Line:    1,
			Column:  1,
			Message: err.Error(),
		})
	}
	return issue.Normalize(out)
}
