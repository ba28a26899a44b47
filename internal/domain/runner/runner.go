package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codesphere/backend/internal/domain/room"
	"github.com/codesphere/backend/internal/infrastructure/logging"
	"github.com/codesphere/backend/internal/infrastructure/resilience"
	"github.com/codesphere/backend/internal/shared/id"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxOutputBytes = 64 << 10
	DefaultMaxConcurrent  = 8

	workspacePrefix = "run-"
	waitDelay       = time.Second
)

// Options configures a Runner.
type Options struct {
	Timeout        time.Duration
	WorkDir        string
	MaxOutputBytes int
	MaxConcurrent  int
	// EmbeddedJS runs javascript in-process instead of spawning node.
	EmbeddedJS bool
	Toolchains Toolchains
	Breakers   *resilience.Group
	Logger     *logging.Logger
	Recorder   Recorder
}

// Runner executes untrusted snippets in per-request workspaces under a hard
// deadline. It is safe for concurrent use.
type Runner struct {
	timeout    time.Duration
	root       string
	maxOutput  int
	slots      chan struct{}
	embedded   bool
	toolchains Toolchains
	breakers   *resilience.Group
	log        *logging.Logger
	recorder   Recorder
}

// LanguageInfo describes how a language is served on this host.
type LanguageInfo struct {
	Language  room.Language `json:"language"`
	Available bool          `json:"available"`
	Engine    string        `json:"engine"`
}

// New creates a runner and its workspace root.
func New(opts Options) (*Runner, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "codesphere-runs")
	}
	if opts.Toolchains == nil {
		opts.Toolchains = DefaultToolchains()
	}
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewGroup(resilience.Settings{Timeout: 30 * time.Second})
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkspace, err)
	}

	return &Runner{
		timeout:    opts.Timeout,
		root:       opts.WorkDir,
		maxOutput:  opts.MaxOutputBytes,
		slots:      make(chan struct{}, opts.MaxConcurrent),
		embedded:   opts.EmbeddedJS,
		toolchains: opts.Toolchains,
		breakers:   opts.Breakers,
		log:        opts.Logger,
		recorder:   opts.Recorder,
	}, nil
}

// Timeout returns the per-request deadline.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// WorkDir returns the workspace root.
func (r *Runner) WorkDir() string { return r.root }

// Languages reports toolchain availability for every supported language.
func (r *Runner) Languages() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(r.toolchains))
	for _, lang := range room.Languages() {
		if lang == room.JavaScript && r.embedded {
			out = append(out, LanguageInfo{Language: lang, Available: true, Engine: "embedded"})
			continue
		}
		tc := r.toolchains[lang]
		engine := ""
		if len(tc.Run) > 0 {
			engine = filepath.Base(tc.Run[0])
			if len(tc.Compile) > 0 {
				engine = filepath.Base(tc.Compile[0])
			}
		}
		out = append(out, LanguageInfo{Language: lang, Available: tc.Available(), Engine: engine})
	}
	return out
}

// Execute runs one submission to completion. It always returns a terminal
// result; server-side faults are reported with Kind internal and Err set.
func (r *Runner) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	runID := id.NewRunID()

	lang, ok := room.ParseLanguage(req.Language)
	if !ok {
		r.recorder.RecordExecution("unknown", string(KindUnsupported), 0)
		return Result{
			Output:  "Unsupported language",
			IsError: true,
			Kind:    KindUnsupported,
			Err:     fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language),
		}
	}

	log := r.log.With(zap.String("run_id", runID.String()), zap.String("language", lang.String()))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var res Result
	if r.acquire(ctx) {
		res = r.runInSlot(ctx, lang, req.Source)
	} else {
		res = r.deadlineResult(ctx, "", "")
	}

	res.Language = lang
	res.Duration = time.Since(start)
	r.recorder.RecordExecution(lang.String(), string(res.Kind), res.Duration)

	if res.Fault() {
		log.Error("Execution failed on the server side", zap.Error(res.Err), zap.Duration("duration", res.Duration))
	} else {
		log.Debug("Execution finished",
			zap.String("kind", string(res.Kind)),
			zap.Duration("duration", res.Duration),
			zap.Bool("truncated", res.Truncated))
	}
	return res
}

// acquire waits for a free slot until the request deadline.
func (r *Runner) acquire(ctx context.Context) bool {
	select {
	case r.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) runInSlot(ctx context.Context, lang room.Language, text string) Result {
	r.recorder.ExecutionStarted()
	defer func() {
		r.recorder.ExecutionFinished()
		<-r.slots
	}()
	return r.run(ctx, lang, text)
}

func (r *Runner) run(ctx context.Context, lang room.Language, text string) Result {
	if lang == room.JavaScript && r.embedded {
		return r.runEmbedded(ctx, text)
	}

	tc, ok := r.toolchains[lang]
	if !ok || len(tc.Run) == 0 {
		return internal(fmt.Errorf("%w: no toolchain for %s", ErrToolchainUnavailable, lang))
	}

	dir, err := r.createWorkspace()
	if err != nil {
		return internal(err)
	}
	defer r.removeWorkspace(dir)

	src := PrepareSource(lang, text)
	if err := os.WriteFile(filepath.Join(dir, src.File), []byte(src.Text), 0o644); err != nil {
		return internal(fmt.Errorf("%w: %v", ErrWorkspace, err))
	}

	done, err := r.breakers.Get(lang.String()).Allow()
	if err != nil {
		return internal(fmt.Errorf("%w: %s: %v", ErrToolchainUnavailable, lang, err))
	}

	if len(tc.Compile) > 0 {
		step := r.spawn(ctx, dir, expand(tc.Compile, src, dir))
		done(step.started)
		if res, ended := r.classify(ctx, step, KindCompile); ended {
			return res
		}
		if done, err = r.breakers.Get(lang.String()).Allow(); err != nil {
			return internal(fmt.Errorf("%w: %s: %v", ErrToolchainUnavailable, lang, err))
		}
	}

	step := r.spawn(ctx, dir, expand(tc.Run, src, dir))
	done(step.started)
	if res, ended := r.classify(ctx, step, KindRuntime); ended {
		return res
	}

	output, truncated := render(step.stdout)
	if strings.TrimSpace(output) == "" && !truncated {
		output = NoOutput
	}
	return Result{Output: output, Kind: KindSuccess, Truncated: truncated}
}

type stepResult struct {
	stdout  *capture
	stderr  *capture
	started bool
	err     error
}

func (r *Runner) spawn(ctx context.Context, dir string, argv []string) stepResult {
	step := stepResult{stdout: newCapture(r.maxOutput), stderr: newCapture(r.maxOutput)}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = step.stdout
	cmd.Stderr = step.stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killTree(cmd) }
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		step.err = fmt.Errorf("%w: %s: %v", ErrSpawn, argv[0], err)
		return step
	}
	step.started = true
	step.err = cmd.Wait()
	return step
}

// classify maps a finished step to a terminal result. It reports false when
// the step succeeded and execution should continue.
func (r *Runner) classify(ctx context.Context, step stepResult, stage Kind) (Result, bool) {
	if !step.started {
		return internal(step.err), true
	}
	if ctx.Err() != nil {
		stdout, _ := render(step.stdout)
		stderr, _ := render(step.stderr)
		return r.deadlineResult(ctx, stdout, stderr), true
	}
	if step.err == nil {
		return Result{}, false
	}

	stdout, outTrunc := render(step.stdout)
	stderr, errTrunc := render(step.stderr)
	detail := firstNonEmpty(stderr, stdout, step.err.Error())

	label := "Runtime error:"
	if stage == KindCompile {
		label = "Compilation failed:"
	}
	return Result{
		Output:    label + "\n" + detail,
		IsError:   true,
		Kind:      stage,
		Truncated: outTrunc || errTrunc,
	}, true
}

func (r *Runner) deadlineResult(ctx context.Context, stdout, stderr string) Result {
	if errors.Is(ctx.Err(), context.Canceled) {
		return internal(fmt.Errorf("execution cancelled: %w", ctx.Err()))
	}
	msg := fmt.Sprintf("Timed out after %s", r.timeout)
	if partial := firstNonEmpty(stderr, stdout); partial != "" {
		msg += "\n" + partial
	}
	return Result{Output: msg, IsError: true, Kind: KindTimeout}
}

func (r *Runner) createWorkspace() (string, error) {
	dir := filepath.Join(r.root, workspacePrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorkspace, err)
	}
	return dir, nil
}

func (r *Runner) removeWorkspace(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		r.log.Warn("Failed to remove workspace", zap.String("dir", dir), zap.Error(err))
	}
}

func internal(err error) Result {
	return Result{
		Output:  "Internal error: " + err.Error(),
		IsError: true,
		Kind:    KindInternal,
		Err:     err,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// BreakerStates reports the spawn breaker state per language.
func (r *Runner) BreakerStates() map[string]string {
	out := make(map[string]string)
	for name, state := range r.breakers.States() {
		out[name] = state.String()
	}
	return out
}
