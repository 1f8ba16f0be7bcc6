//go:build unix

package encoder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder writes an executable shell script standing in for ffmpeg.
func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testInvocation(program string, total time.Duration) Invocation {
	return Invocation{
		Program:       program,
		Args:          []string{"-hide_banner", "-progress", "pipe:1"},
		OutputPath:    "/tmp/clipforge-test-out.mp4",
		TotalDuration: total,
		OutputFPS:     30,
		VideoEncoder:  "libx264",
	}
}

func TestRunner_Success(t *testing.T) {
	script := fakeEncoder(t, `
echo "frame=15"
echo "fps=30.0"
echo "out_time_us=500000"
echo "progress=continue"
echo "Stream mapping: fake" >&2
echo "frame=30"
echo "out_time_us=1000000"
echo "progress=end"
exit 0`)

	progress := make(chan Progress, 16)
	r := NewRunner(5*time.Second, nil)

	res, err := r.Run(context.Background(), testInvocation(script, time.Second), progress)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	assert.Contains(t, res.StderrTail, "Stream mapping")

	close(progress)
	var recs []Progress
	for p := range progress {
		recs = append(recs, p)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, 0.5, recs[0].Progress)
	assert.Equal(t, int64(30), recs[1].CurrentFrame)
	assert.Equal(t, int64(30), recs[1].TotalFrames)
	assert.Equal(t, 1.0, recs[1].Progress)
}

func TestRunner_ReceivesOutputPath(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")
	script := fakeEncoder(t, `for last; do :; done
echo rendered > "$last"`)

	inv := testInvocation(script, time.Second)
	inv.OutputPath = out
	_, err := NewRunner(0, nil).Run(context.Background(), inv, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "rendered\n", string(data))
}

func TestRunner_NonzeroExit(t *testing.T) {
	script := fakeEncoder(t, `echo "Unknown encoder 'h264_nvenc'" >&2
exit 3`)

	res, err := NewRunner(0, nil).Run(context.Background(), testInvocation(script, time.Second), nil)

	var toolErr *ExternalToolError
	require.True(t, errors.As(err, &toolErr), "error = %v", err)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, toolErr.Stderr, "Unknown encoder")
	assert.Contains(t, err.Error(), "Unknown encoder 'h264_nvenc'")
}

func TestRunner_MissingProgram(t *testing.T) {
	_, err := NewRunner(0, nil).Run(context.Background(), testInvocation("/nonexistent/ffmpeg-clipforge", time.Second), nil)

	var toolErr *ExternalToolError
	require.True(t, errors.As(err, &toolErr), "error = %v", err)
	assert.Equal(t, -1, toolErr.ExitCode)
}

func TestRunner_CancelKillsProcess(t *testing.T) {
	script := fakeEncoder(t, `echo "frame=1"
echo "progress=continue"
sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	r := NewRunner(0, nil)
	r.KillGrace = time.Second

	start := time.Now()
	_, err := r.Run(ctx, testInvocation(script, 10*time.Second), make(chan Progress, 4))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation should not wait for the child")
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(0, nil).Run(ctx, testInvocation("/bin/true", time.Second), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunner_StallTimeout(t *testing.T) {
	script := fakeEncoder(t, `sleep 30`)

	r := NewRunner(200*time.Millisecond, nil)
	r.KillGrace = time.Second

	start := time.Now()
	_, err := r.Run(context.Background(), testInvocation(script, 10*time.Second), nil)

	assert.ErrorIs(t, err, ErrStalled)
	var toolErr *ExternalToolError
	assert.True(t, errors.As(err, &toolErr))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_ProgressResetsStallTimer(t *testing.T) {
	var body strings.Builder
	for i := 1; i <= 6; i++ {
		body.WriteString("echo \"frame=" + strings.Repeat("1", i) + "\"\necho \"progress=continue\"\nsleep 0.1\n")
	}
	script := fakeEncoder(t, body.String())

	r := NewRunner(400*time.Millisecond, nil)
	_, err := r.Run(context.Background(), testInvocation(script, 10*time.Second), make(chan Progress, 16))
	assert.NoError(t, err)
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if lw.String() != "hello" {
		t.Errorf("after short write got %q, want %q", lw.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got, want := lw.String(), " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestScanCRLF(t *testing.T) {
	var lines []string
	err := scanLines(strings.NewReader("frame=1 fps=2\rframe=2 fps=2\r\nlast"), nil, func(s string) {
		lines = append(lines, s)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"frame=1 fps=2", "frame=2 fps=2", "", "last"}, lines)
}

func TestExternalToolError(t *testing.T) {
	err := &ExternalToolError{Program: "ffmpeg", ExitCode: 1, Stderr: "line one\nConversion failed!\n"}
	assert.Equal(t, "ffmpeg exited with code 1: Conversion failed!", err.Error())

	wrapped := &ExternalToolError{Program: "ffmpeg", ExitCode: -1, Err: ErrStalled}
	assert.ErrorIs(t, wrapped, ErrStalled)
	assert.Equal(t, "ffmpeg: encoder made no progress", wrapped.Error())
}

func TestInvocation_Argv(t *testing.T) {
	inv := Invocation{Program: "ffmpeg", Args: []string{"-i", "in.mp4"}, OutputPath: "out.mp4"}
	assert.Equal(t, []string{"-i", "in.mp4", "-y", "out.mp4"}, inv.Argv())
	assert.Equal(t, "ffmpeg -i in.mp4 -y out.mp4", inv.String())
	assert.Len(t, inv.Args, 2, "Argv must not alias Args")
}
