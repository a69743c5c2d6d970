package grove

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/issue"
	"github.com/jward/grove/internal/refs"
	"github.com/jward/grove/internal/store"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestEngine(t *testing.T, src FileSource, opts ...Option) *Engine {
	t.Helper()
	e, err := New(src, append([]Option{quiet(), WithWorkers(4)}, opts...)...)
	require.NoError(t, err)
	return e
}

// analyzed runs Analyze on a fresh engine over files.
func analyzed(t *testing.T, files map[string]string, opts ...Option) (*Engine, *MemorySource, *Result) {
	t.Helper()
	src := NewMemorySource(files)
	e := newTestEngine(t, src, opts...)
	res, err := e.Analyze(context.Background())
	require.NoError(t, err)
	return e, src, res
}

// fullIssues is what a from-scratch analysis of src reports.
func fullIssues(t *testing.T, src FileSource) []Issue {
	t.Helper()
	e := newTestEngine(t, src)
	res, err := e.Analyze(context.Background())
	require.NoError(t, err)
	return res.Issues
}

func incremental(t *testing.T, e *Engine, hint []string) *Result {
	t.Helper()
	res, err := e.AnalyzeIncremental(context.Background(), hint)
	require.NoError(t, err)
	return res
}

func issueKinds(issues []Issue) []IssueKind {
	out := make([]IssueKind, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Kind)
	}
	return out
}

func symbol(e *Engine, name string) refs.SymbolID {
	return refs.Symbol(e.symbols.Intern(name))
}

var getValueFiles = map[string]string{
	"a.php": `<?php
function get_value(): int { return 42; }
`,
	"b.php": `<?php
function use_value(): int { return get_value(); }
`,
	"c.php": `<?php
function other(): int { return 1; }
`,
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_NilSource(t *testing.T) {
	t.Parallel()
	_, err := New(nil)
	require.Error(t, err)
}

func TestAnalyzeIncremental_PanicsBeforeAnalyze(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, NewMemorySource(getValueFiles))
	assert.False(t, e.Initialized())
	assert.Panics(t, func() {
		_, _ = e.AnalyzeIncremental(context.Background(), nil)
	})
}

func TestSnapshot_NilBeforeAnalyze(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, NewMemorySource(getValueFiles))
	assert.Nil(t, e.Snapshot())
}

// =============================================================================
// Full analysis
// =============================================================================

func TestAnalyze_CleanProject(t *testing.T) {
	t.Parallel()
	e, _, res := analyzed(t, getValueFiles)
	assert.Empty(t, res.Issues)
	assert.Equal(t, ModeFull, res.Stats.Mode)
	assert.Equal(t, 3, res.Stats.Files)
	assert.Equal(t, 3, res.Stats.Scanned)
	assert.Equal(t, 3, res.Stats.Analyzed)
	assert.True(t, e.Initialized())
	assert.NotNil(t, e.Codebase().FunctionByName("get_value"))
	assert.NotNil(t, e.Codebase().FunctionByName("strlen"), "builtins are loaded")
}

func TestAnalyze_ReportsAcrossFiles(t *testing.T) {
	t.Parallel()
	_, _, res := analyzed(t, map[string]string{
		"a.php": `<?php function get_value(): string { return "x"; }`,
		"b.php": `<?php
function use_value(): int { return get_value(); }
missing();
`,
	})
	require.Len(t, res.Issues, 2)
	assert.Equal(t, "b.php", res.Issues[0].File)
	assert.Equal(t, issue.InvalidReturn, res.Issues[0].Kind)
	assert.Equal(t, issue.UndefinedFunction, res.Issues[1].Kind)
}

func TestAnalyze_BuiltinsAreNotUserFiles(t *testing.T) {
	t.Parallel()
	_, _, res := analyzed(t, map[string]string{
		"a.php": `<?php function strlen(string $s): int { return 0; }`,
	})
	require.Len(t, res.Issues, 1)
	is := res.Issues[0]
	assert.Equal(t, issue.DuplicateSymbol, is.Kind)
	assert.Equal(t, "a.php", is.File)
	assert.Contains(t, is.Message, "the builtins")
}

// =============================================================================
// No change
// =============================================================================

func TestAnalyzeIncremental_NoChangeIsIdempotent(t *testing.T) {
	t.Parallel()
	e, _, first := analyzed(t, map[string]string{
		"a.php": `<?php function f(): int { return "no"; }`,
		"b.php": `<?php g();`,
	})
	require.Len(t, first.Issues, 2)

	for range 2 {
		res := incremental(t, e, nil)
		assert.Equal(t, ModeNoChange, res.Stats.Mode)
		assert.Zero(t, res.Stats.Scanned)
		assert.Zero(t, res.Stats.Analyzed)
		assert.Equal(t, 2, res.Stats.Skipped)
		assert.Equal(t, first.Issues, res.Issues)
	}
}

// =============================================================================
// Body-only edits
// =============================================================================

func TestAnalyzeIncremental_BodyOnlyEdit(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)

	src.Set("a.php", `<?php
function get_value(): int { return 99; }
`)
	res := incremental(t, e, nil)

	assert.Equal(t, ModeBodyOnly, res.Stats.Mode)
	assert.Equal(t, 1, res.Stats.Changed)
	assert.Equal(t, 1, res.Stats.Scanned)
	assert.Equal(t, 1, res.Stats.Analyzed, "b.php is not re-analyzed")
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

func TestAnalyzeIncremental_BodyOnlyKeepsSignatureReferences(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, map[string]string{
		"box.php":  `<?php class Box {}`,
		"make.php": `<?php function make_box(Box $b): Box { return $b; }`,
		"use.php":  `<?php function use_box(): Box { return make_box(new Box()); }`,
	})
	makeBox := symbol(e, "make_box")
	before := e.References().SignatureReferences(makeBox).Clone()
	require.True(t, before.Has(symbol(e, "Box")))

	src.Set("make.php", `<?php function make_box(Box $b): Box { $c = $b; return $c; }`)
	res := incremental(t, e, nil)

	assert.Equal(t, ModeBodyOnly, res.Stats.Mode)
	assert.Equal(t, 1, res.Stats.Analyzed)
	assert.Equal(t, before, e.References().SignatureReferences(makeBox))
	assert.True(t, e.References().BodyReferences(symbol(e, "use_box")).Has(makeBox))
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

// =============================================================================
// Signature changes
// =============================================================================

func TestAnalyzeIncremental_SignatureChangeCascades(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)

	src.Set("a.php", `<?php
function get_value(): string { return "forty-two"; }
`)
	res := incremental(t, e, nil)

	assert.Equal(t, ModeCascade, res.Stats.Mode)
	assert.Equal(t, 2, res.Stats.Analyzed)
	assert.Equal(t, 1, res.Stats.Skipped, "c.php does not reference get_value")
	assert.GreaterOrEqual(t, res.Stats.Invalid, 2)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, issue.InvalidReturn, res.Issues[0].Kind)
	assert.Equal(t, "b.php", res.Issues[0].File)
	assert.Equal(t, "use_value", res.Issues[0].Symbol)
	assert.Equal(t, fullIssues(t, src), res.Issues)

	// And back.
	src.Set("a.php", getValueFiles["a.php"])
	res = incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1, res.Stats.CacheHits, "reverted content reuses its scan")
}

func TestAnalyzeIncremental_MemberChangeReachesCallers(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, map[string]string{
		"svc.php": `<?php
class Service {
    public function run(int $n): void {}
}
`,
		"main.php": `<?php
function main(): void {
    $s = new Service();
    $s->run(1);
}
`,
	})

	src.Set("svc.php", `<?php
class Service {
    public function run(int $n, int $m): void {}
}
`)
	res := incremental(t, e, nil)
	assert.Equal(t, ModeCascade, res.Stats.Mode)
	assert.Equal(t, []IssueKind{issue.TooFewArguments}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, src), res.Issues)

	src.Set("svc.php", `<?php
class Service {
    public function __call($name, $args) {}
}
`)
	res = incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

func TestAnalyzeIncremental_InheritanceChange(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, map[string]string{
		"base.php": `<?php
class Base {
    public function hello(): string { return "hi"; }
}
`,
		"child.php": `<?php
class Child extends Base {
    public function greet(): string { return $this->hello(); }
}
`,
	})

	src.Set("base.php", `<?php
class Base {}
`)
	res := incremental(t, e, nil)
	assert.Equal(t, []IssueKind{issue.UndefinedMethod}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

// =============================================================================
// Additions and deletions
// =============================================================================

func TestAnalyzeIncremental_DeleteAndRestoreFile(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)

	src.Delete("a.php")
	res := incremental(t, e, nil)
	assert.Equal(t, ModeCascade, res.Stats.Mode)
	assert.Equal(t, 1, res.Stats.Deleted)
	assert.Equal(t, []IssueKind{issue.UndefinedFunction}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, src), res.Issues)
	assert.Nil(t, e.Codebase().FunctionByName("get_value"))

	src.Set("a.php", getValueFiles["a.php"])
	res = incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

func TestAnalyzeIncremental_NewFileDefinesMissingSymbol(t *testing.T) {
	t.Parallel()
	e, src, first := analyzed(t, map[string]string{
		"main.php": `<?php echo helper();`,
	})
	require.Equal(t, []IssueKind{issue.UndefinedFunction}, issueKinds(first.Issues))

	src.Set("helper.php", `<?php function helper(): string { return "ok"; }`)
	res := incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 2, res.Stats.Analyzed)
}

func TestAnalyzeIncremental_Duplicates(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, map[string]string{
		"a.php": `<?php function dup(): int { return 1; }`,
		"b.php": `<?php echo dup();`,
	})

	src.Set("c.php", `<?php function dup(): int { return 2; }`)
	res := incremental(t, e, nil)
	require.Equal(t, []IssueKind{issue.DuplicateSymbol}, issueKinds(res.Issues))
	assert.Equal(t, "c.php", res.Issues[0].File)
	assert.Contains(t, res.Issues[0].Message, "a.php")
	assert.Equal(t, fullIssues(t, src), res.Issues)

	// The second declaration takes over when the first goes away.
	src.Delete("a.php")
	res = incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

func TestAnalyzeIncremental_SameShapeDuplicateTakesOver(t *testing.T) {
	t.Parallel()
	e, src, first := analyzed(t, map[string]string{
		"svc.php": `<?php
class Service {
    public function run(): int { return 1; }
}
`,
		"main.php": `<?php
function main(): int {
    $s = new Service();
    return $s->run();
}
`,
	})
	require.Empty(t, first.Issues)

	// aaa.php sorts first, so its empty Service becomes effective. The
	// class-level hashes match, yet run() no longer exists.
	src.Set("aaa.php", `<?php
class Service {}
`)
	res := incremental(t, e, nil)
	assert.Equal(t, ModeCascade, res.Stats.Mode)
	assert.ElementsMatch(t, []IssueKind{issue.UndefinedMethod, issue.DuplicateSymbol}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, src), res.Issues)

	// Deleting the winner hands the name back to svc.php.
	src.Delete("aaa.php")
	res = incremental(t, e, nil)
	assert.Equal(t, ModeCascade, res.Stats.Mode)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)

	// A later-sorting duplicate changes nothing for callers.
	src.Set("zzz.php", `<?php
class Service {}
`)
	res = incremental(t, e, nil)
	assert.Equal(t, []IssueKind{issue.DuplicateSymbol}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

func TestAnalyzeIncremental_WriteOnlyProperty(t *testing.T) {
	t.Parallel()
	e, src, first := analyzed(t, map[string]string{
		"cache.php": `<?php
class Cache {
    private array $hits = [];
    public function hit(): void { $this->hits = []; }
}
`,
	})
	require.Equal(t, []IssueKind{issue.WriteOnlyProperty}, issueKinds(first.Issues))
	assert.Equal(t, 3, first.Issues[0].Line)

	src.Set("cache.php", `<?php
class Cache {
    private array $hits = [];
    public function hit(): void { $this->hits = []; }
    public function all(): array { return $this->hits; }
}
`)
	res := incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

// =============================================================================
// Hints
// =============================================================================

func TestAnalyzeIncremental_HintLimitsRehashing(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)

	src.Set("a.php", `<?php function get_value(): int { return 1; }`)
	src.Set("c.php", `<?php function other(): string { return "1"; }`)

	res := incremental(t, e, []string{"a.php"})
	assert.Equal(t, 1, res.Stats.Changed, "c.php is not re-read without a hint")

	res = incremental(t, e, []string{})
	assert.Equal(t, ModeNoChange, res.Stats.Mode)

	res = incremental(t, e, nil)
	assert.Equal(t, 1, res.Stats.Changed)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

func TestAnalyzeIncremental_HintPicksUpUnknownFiles(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)

	src.Set("d.php", `<?php undefined_thing();`)
	res := incremental(t, e, []string{})
	assert.Equal(t, 1, res.Stats.Changed)
	assert.Equal(t, []IssueKind{issue.UndefinedFunction}, issueKinds(res.Issues))
}

// =============================================================================
// Read failures
// =============================================================================

// flakySource fails reads of selected paths.
type flakySource struct {
	*MemorySource
	mu      sync.Mutex
	failing map[string]bool
}

func (f *flakySource) fail(path string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = on
}

func (f *flakySource) Read(path string) ([]byte, error) {
	f.mu.Lock()
	failing := f.failing[path]
	f.mu.Unlock()
	if failing {
		return nil, errors.New("permission denied")
	}
	return f.MemorySource.Read(path)
}

func TestAnalyzeIncremental_ReadErrorActsAsDeletion(t *testing.T) {
	t.Parallel()
	src := &flakySource{MemorySource: NewMemorySource(getValueFiles), failing: map[string]bool{}}
	e := newTestEngine(t, src)
	_, err := e.Analyze(context.Background())
	require.NoError(t, err)

	src.fail("a.php", true)
	res := incremental(t, e, nil)
	assert.Equal(t, 1, res.Stats.Deleted)
	assert.ElementsMatch(t, []IssueKind{issue.ReadError, issue.UndefinedFunction}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, src), res.Issues)

	// Still unreadable: nothing to do, same answer.
	res = incremental(t, e, nil)
	assert.Equal(t, ModeNoChange, res.Stats.Mode)
	assert.Equal(t, fullIssues(t, src), res.Issues)

	src.fail("a.php", false)
	res = incremental(t, e, nil)
	assert.Empty(t, res.Issues)
}

// =============================================================================
// Fallback
// =============================================================================

func TestAnalyzeIncremental_CascadeBudgetFallsBack(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	src := NewMemorySource(map[string]string{
		"a.php": `<?php
function one(): int { return 1; }
function two(): int { return 2; }
`,
		"b.php": `<?php
function sum(): int { return one() + two(); }
`,
	})
	e, err := New(src, WithCascadeBudget(1), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	_, err = e.Analyze(context.Background())
	require.NoError(t, err)

	src.Set("a.php", `<?php
function one(): string { return "1"; }
function two(): string { return "2"; }
`)
	res := incremental(t, e, nil)
	assert.Equal(t, ModeFallback, res.Stats.Mode)
	assert.Equal(t, 2, res.Stats.Analyzed)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "incremental.fallback")
	assert.Equal(t, fullIssues(t, src), res.Issues)

	// The engine keeps working incrementally afterwards.
	src.Set("b.php", `<?php
function sum(): string { return one() . two(); }
`)
	res = incremental(t, e, nil)
	assert.Empty(t, res.Issues)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

// =============================================================================
// Cancellation
// =============================================================================

func TestAnalyzeIncremental_CancelledContext(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)
	src.Set("a.php", `<?php function get_value(): string { return ""; }`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.AnalyzeIncremental(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	res := incremental(t, e, nil)
	assert.Equal(t, fullIssues(t, src), res.Issues)
}

// =============================================================================
// Planning
// =============================================================================

func TestPlan_SkipsOnlyFullySafeFiles(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"a.php": getValueFiles["a.php"],
		"b.php": getValueFiles["b.php"],
		"c.php": getValueFiles["c.php"],
		"d.php": `<?php function use_value(): int { return 0; }`,
		"e.php": `<?php echo other();`,
	}
	e, _, _ := analyzed(t, files)

	unchanged := make([]string, 0, len(e.files))
	for p := range e.files {
		unchanged = append(unchanged, p)
	}
	sort.Strings(unchanged)

	inv := emptyInvalidation()
	inv.Symbols.Add(symbol(e, "use_value"))
	inv.Files[e.files["e.php"].file.ID] = struct{}{}

	pl := e.plan(inv, nil, nil, unchanged, map[string]refs.Set{})
	// d.php shares use_value with b.php.
	assert.Equal(t, []string{"b.php", "d.php", "e.php"}, pl.analyze)
	assert.Equal(t, []string{"a.php", "c.php"}, pl.skip)

	for _, p := range pl.skip {
		st := e.files[p]
		assert.True(t, pl.safe.ContainsFile(st.file.ID))
		assert.NotContains(t, inv.Files, st.file.ID)
		for id := range e.Codebase().Signature(st.file.ID).Symbols() {
			assert.True(t, inv.IsSafe(id), "%s declares an unsafe symbol", p)
			assert.True(t, pl.safe.Contains(id))
		}
	}
}

// =============================================================================
// Equivalence under edit chains
// =============================================================================

var projectFiles = map[string]string{
	"model.php": `<?php
abstract class Model {
    protected int $id = 0;
    public function id(): int { return $this->id; }
    abstract public function table(): string;
}
`,
	"user.php": `<?php
class User extends Model {
    private string $email = "";
    public function table(): string { return "users"; }
    public function email(): string { return $this->email; }
}
`,
	"repo.php": `<?php
class Repo {
    public function find(int $id): User { return new User(); }
    public function label(int $id): string { return $this->find($id)->email(); }
}
`,
	"helpers.php": `<?php
function format_id(int $id): string { return "#" . $id; }
`,
	"main.php": `<?php
$repo = new Repo();
echo $repo->label(1);
echo format_id($repo->find(2)->id());
`,
}

func TestAnalyzeIncremental_EquivalentToFullAcrossEdits(t *testing.T) {
	t.Parallel()
	e, src, first := analyzed(t, projectFiles)
	assert.Empty(t, first.Issues)

	steps := []struct {
		name  string
		edit  func()
		check func(t *testing.T, res *Result)
	}{
		{"body only", func() {
			src.Set("user.php", `<?php
class User extends Model {
    private string $email = "";
    public function table(): string { return "users"; }
    public function email(): string { return strtoupper($this->email); }
}
`)
		}, func(t *testing.T, res *Result) {
			assert.Equal(t, ModeBodyOnly, res.Stats.Mode)
		}},
		{"nullable return", func() {
			src.Set("repo.php", `<?php
class Repo {
    public function find(int $id): ?User { return new User(); }
    public function label(int $id): string { return $this->find($id)->email(); }
}
`)
		}, nil},
		{"rename method", func() {
			src.Set("user.php", `<?php
class User extends Model {
    private string $email = "";
    public function table(): string { return "users"; }
    public function mail(): string { return $this->email; }
}
`)
		}, func(t *testing.T, res *Result) {
			assert.Contains(t, issueKinds(res.Issues), issue.UndefinedMethod)
		}},
		{"revert user", func() { src.Set("user.php", projectFiles["user.php"]) }, nil},
		{"revert repo", func() { src.Set("repo.php", projectFiles["repo.php"]) }, func(t *testing.T, res *Result) {
			assert.Empty(t, res.Issues)
		}},
		{"delete helpers", func() { src.Delete("helpers.php") }, func(t *testing.T, res *Result) {
			assert.Contains(t, issueKinds(res.Issues), issue.UndefinedFunction)
		}},
		{"helpers with new parameter type", func() {
			src.Set("helpers.php", `<?php
function format_id(string $id): string { return "#" . $id; }
`)
		}, func(t *testing.T, res *Result) {
			assert.Contains(t, issueKinds(res.Issues), issue.InvalidArgument)
		}},
		{"duplicate class", func() {
			src.Set("legacy.php", `<?php
class User {}
`)
		}, func(t *testing.T, res *Result) {
			assert.Contains(t, issueKinds(res.Issues), issue.DuplicateSymbol)
		}},
		{"remove duplicate", func() { src.Delete("legacy.php") }, nil},
		{"abstract method added", func() {
			src.Set("model.php", `<?php
abstract class Model {
    protected int $id = 0;
    public function id(): int { return $this->id; }
    abstract public function table(): string;
    abstract public function key(): string;
}
`)
		}, nil},
		{"top-level edit", func() {
			src.Set("main.php", `<?php
$repo = new Repo();
echo $repo->label("one");
echo $repo->missing();
`)
		}, func(t *testing.T, res *Result) {
			assert.Contains(t, issueKinds(res.Issues), issue.UndefinedMethod)
		}},
		{"write-only property", func() {
			src.Set("user.php", `<?php
class User extends Model {
    private string $email = "";
    private array $log = [];
    public function table(): string { return "users"; }
    public function email(): string { return $this->email; }
    public function touch(): void { $this->log = []; }
}
`)
		}, func(t *testing.T, res *Result) {
			assert.Contains(t, issueKinds(res.Issues), issue.WriteOnlyProperty)
		}},
		{"restore everything", func() {
			for p, s := range projectFiles {
				src.Set(p, s)
			}
		}, func(t *testing.T, res *Result) {
			assert.Empty(t, res.Issues)
		}},
	}

	for _, step := range steps {
		step.edit()
		res := incremental(t, e, nil)
		assert.Equal(t, fullIssues(t, src), res.Issues, "after step %q", step.name)
		if step.check != nil {
			step.check(t, res)
		}
		assert.Equal(t, res.Stats.Analyzed+res.Stats.Skipped, len(e.files), "after step %q", step.name)
	}
}

// editVariants lists the contents each file cycles through in random edit
// chains. An empty string deletes the file. aaa.php and zzz.php sort before
// and after the main declarations, so their duplicates take over a name or
// lose to it.
var editVariants = map[string][]string{
	"lib.php": {
		`<?php function helper(int $n): int { return $n; }`,
		`<?php function helper(int $n): int { return 2; }`,
		`<?php function helper(int $n): string { return "x"; }`,
		`<?php function helper(int $n, int $m): int { return $m; }`,
		"",
	},
	"svc.php": {
		`<?php class Service { public function run(): int { return 1; } }`,
		`<?php class Service { public function run(): int { return 5; } }`,
		`<?php class Service { public function run(int $n): int { return $n; } }`,
		`<?php class Service { public function run(): int { return helper(1); } }`,
		`<?php class Service {}`,
		"",
	},
	"child.php": {
		`<?php class Child extends Service { public function go(): int { return $this->run(); } }`,
		`<?php class Child extends Service {}`,
		"",
	},
	"main.php": {
		`<?php
function main(): int {
    $s = new Service();
    $s->run();
    return helper(1);
}
`,
		`<?php
function main(): string {
    return helper(2);
}
`,
		`<?php
$c = new Child();
echo $c->go();
echo helper(3);
`,
		"",
	},
	"aaa.php": {
		"",
		`<?php class Service {}`,
		`<?php class Service { public function run(): int { return 7; } }`,
		`<?php function helper(int $n): int { return 0; }`,
	},
	"zzz.php": {
		"",
		`<?php function helper(int $n): string { return ""; }`,
		`<?php class Service { public function run(): string { return ""; } }`,
	},
}

func applyVariant(src *MemorySource, path string, i int) {
	if content := editVariants[path][i]; content != "" {
		src.Set(path, content)
		return
	}
	src.Delete(path)
}

func TestAnalyzeIncremental_RandomEditChains(t *testing.T) {
	t.Parallel()
	paths := make([]string, 0, len(editVariants))
	for p := range editVariants {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for seed := int64(1); seed <= 12; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			t.Parallel()
			rng := rand.New(rand.NewSource(seed))
			src := NewMemorySource(nil)
			for _, p := range paths {
				applyVariant(src, p, 0)
			}
			e := newTestEngine(t, src)
			_, err := e.Analyze(context.Background())
			require.NoError(t, err)

			for step := 0; step < 30; step++ {
				// Most steps edit one file; some edit several at once.
				edits := 1 + rng.Intn(3)/2
				var log []string
				for i := 0; i < edits; i++ {
					p := paths[rng.Intn(len(paths))]
					v := rng.Intn(len(editVariants[p]))
					applyVariant(src, p, v)
					log = append(log, fmt.Sprintf("%s#%d", p, v))
				}
				res := incremental(t, e, nil)
				require.Equal(t, fullIssues(t, src), res.Issues,
					"seed %d step %d after %v (mode %s)", seed, step, log, res.Stats.Mode)
			}
		})
	}
}

// =============================================================================
// Snapshots
// =============================================================================

func saveAndLoad(t *testing.T, snap *Snapshot) *Snapshot {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "grove.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate())
	require.NoError(t, s.SaveSnapshot(snap))
	loaded, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	return loaded
}

func TestRestore_UnchangedFilesAreNotReanalyzed(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"a.php": `<?php function get_value(): string { return "x"; }`,
		"b.php": `<?php function use_value(): int { return get_value(); }`,
	}
	e, src, first := analyzed(t, files)
	require.NotEmpty(t, first.Issues)
	snap := saveAndLoad(t, e.Snapshot())

	restored := newTestEngine(t, src)
	res, err := restored.Restore(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, ModeRestored, res.Stats.Mode)
	assert.Zero(t, res.Stats.Analyzed)
	assert.Equal(t, 2, res.Stats.Scanned)
	assert.Equal(t, first.Issues, res.Issues)
	assert.True(t, restored.Initialized())
	assert.NotNil(t, restored.Codebase().Resolution(restored.symbols.Intern("exception")), "codebase is populated")
}

func TestRestore_PicksUpEditsMadeWhileStopped(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)
	snap := saveAndLoad(t, e.Snapshot())

	src.Set("a.php", `<?php function get_value(): string { return "x"; }`)
	src.Delete("c.php")
	src.Set("d.php", `<?php echo other();`)

	restored := newTestEngine(t, src)
	res, err := restored.Restore(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, ModeRestored, res.Stats.Mode)
	assert.Equal(t, 2, res.Stats.Changed)
	assert.Equal(t, 1, res.Stats.Deleted)
	assert.Equal(t, fullIssues(t, src), res.Issues)
	assert.ElementsMatch(t, []IssueKind{issue.InvalidReturn, issue.UndefinedFunction}, issueKinds(res.Issues))

	// Incremental calls continue from the restored state.
	src.Set("a.php", getValueFiles["a.php"])
	res2 := incremental(t, restored, nil)
	assert.Equal(t, fullIssues(t, src), res2.Issues)
}

func TestRestore_IncompatibleSnapshotRunsFull(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, getValueFiles)
	snap := e.Snapshot()
	snap.Version++

	restored := newTestEngine(t, src)
	res, err := restored.Restore(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Stats.Mode)
	assert.Equal(t, 3, res.Stats.Analyzed)

	res, err = newTestEngine(t, src).Restore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Stats.Mode)
}

func TestSnapshot_RoundTripsReferenceGraph(t *testing.T) {
	t.Parallel()
	e, src, _ := analyzed(t, projectFiles)
	snap := saveAndLoad(t, e.Snapshot())

	restored := newTestEngine(t, src)
	_, err := restored.Restore(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, e.References().Len(), restored.References().Len())
	assert.Equal(t, e.Snapshot().References, restored.Snapshot().References)
}

func TestSetSource_SwapsFileSet(t *testing.T) {
	t.Parallel()
	e, _, _ := analyzed(t, getValueFiles)

	next := NewMemorySource(map[string]string{
		"a.php": getValueFiles["a.php"],
		"z.php": `<?php echo get_value(1);`,
	})
	e.SetSource(next)
	res := incremental(t, e, nil)
	assert.Equal(t, 1, res.Stats.Changed)
	assert.Equal(t, 2, res.Stats.Deleted)
	assert.Equal(t, []IssueKind{issue.TooManyArguments}, issueKinds(res.Issues))
	assert.Equal(t, fullIssues(t, next), res.Issues)
}
