// Package encoder runs the external ffmpeg process for an export: it starts
// the process in its own process group, parses the progress stream, watches
// for stalls and guarantees the group is reaped on cancellation.
package encoder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Invocation is a fully built encoder command line. Args excludes the output
// path, which is appended by Argv.
type Invocation struct {
	Program       string
	Args          []string
	OutputPath    string
	TotalDuration time.Duration
	OutputFPS     float64
	// VideoEncoder is the -c:v value, used for capability checks.
	VideoEncoder string
	Hardware     bool
}

// Argv returns the arguments passed to Program, ending with the output path.
func (inv Invocation) Argv() []string {
	argv := make([]string, 0, len(inv.Args)+2)
	argv = append(argv, inv.Args...)
	return append(argv, "-y", inv.OutputPath)
}

// String renders the command line for logs.
func (inv Invocation) String() string {
	return inv.Program + " " + strings.Join(inv.Argv(), " ")
}

// Result is the outcome of one encoder run.
type Result struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r Result) IsSuccess() bool { return r.ExitCode == 0 }

// ErrStalled is wrapped by the error returned when the stall watchdog killed
// the encoder.
var ErrStalled = errors.New("encoder made no progress")

// ExternalToolError reports an encoder that could not start or exited
// unsuccessfully.
type ExternalToolError struct {
	Program  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Program, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Program, e.Err)
	}
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
