// Package tools runs external scanner binaries and checks their
// availability.
package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command describes one invocation of an external binary.
type Command struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

// String renders the command line for logs and dry runs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Binary}, c.Args...), " ")
}

// Result captures the outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// OutputLine is one line of live output.
type OutputLine struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Done      bool      `json:"done,omitempty"`
}

var ErrNotInstalled = errors.New("not installed or not on PATH")

// LookPath resolves binary on PATH.
func LookPath(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s: %w", binary, ErrNotInstalled)
	}
	return path, nil
}

// Run executes cmd and sends each output line to output, which is closed
// when the process exits. output may be nil. A non-zero exit is reported
// through Result.ExitCode together with a non-nil error.
func Run(ctx context.Context, cmd Command, output chan<- OutputLine) (*Result, error) {
	if output != nil {
		defer close(output)
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	start := time.Now()
	proc := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)

	stdout, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Binary, err)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go stream(&wg, stdout, "stdout", &outBuf, output)
	go stream(&wg, stderr, "stderr", &errBuf, output)
	// pipes must be drained before Wait
	wg.Wait()

	res := &Result{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	waitErr := proc.Wait()
	res.Duration = time.Since(start)

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if res.TimedOut {
			return res, fmt.Errorf("%s timed out after %s", cmd.Binary, cmd.Timeout)
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s: %w", cmd.Binary, ctx.Err())
		}
		return res, fmt.Errorf("%s exited with code %d: %w", cmd.Binary, res.ExitCode, waitErr)
	}
	return res, nil
}

func stream(wg *sync.WaitGroup, r io.Reader, name string, buf *strings.Builder, output chan<- OutputLine) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if output != nil {
			output <- OutputLine{Timestamp: time.Now(), Stream: name, Line: line}
		}
	}
}
