package runner

import (
	"errors"
	"time"

	"github.com/codesphere/backend/internal/domain/room"
)

var (
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrWorkspace            = errors.New("workspace unavailable")
	ErrSpawn                = errors.New("failed to start process")
	ErrToolchainUnavailable = errors.New("toolchain unavailable")
)

// Kind classifies how an execution ended.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindCompile     Kind = "compile"
	KindRuntime     Kind = "runtime"
	KindTimeout     Kind = "timeout"
	KindUnsupported Kind = "unsupported"
	KindInternal    Kind = "internal"
)

// NoOutput is reported when a successful program printed nothing.
const NoOutput = "No output"

// Request is a single execution submission.
type Request struct {
	Source   string
	Language string
}

// Result is the terminal outcome of an execution. User-code failures are
// results, not errors.
type Result struct {
	Output    string
	IsError   bool
	Kind      Kind
	Language  room.Language
	Duration  time.Duration
	Truncated bool
	// Err is set only for server-side faults.
	Err error
}

// Fault reports whether the result stems from a server-side problem rather
// than the submitted program.
func (r Result) Fault() bool {
	return r.Kind == KindInternal
}

// Recorder receives execution metrics.
type Recorder interface {
	RecordExecution(language, outcome string, duration time.Duration)
	ExecutionStarted()
	ExecutionFinished()
}

type nopRecorder struct{}

func (nopRecorder) RecordExecution(string, string, time.Duration) {}
func (nopRecorder) ExecutionStarted()                             {}
func (nopRecorder) ExecutionFinished()                            {}
