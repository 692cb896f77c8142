package devshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultOutputLimit = 64 << 10
	timeoutExitCode    = 124
)

// Runner 在开发者模式下执行 shell 命令
// Runner executes dev-mode shell commands in a fixed directory.
type Runner struct {
	Dir         string
	Timeout     time.Duration
	OutputLimit int
}

// Outcome 命令执行结果
type Outcome struct {
	Command   string
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	Duration  time.Duration
}

// OK reports a zero exit status.
func (o Outcome) OK() bool { return o.ExitCode == 0 }

// Transcript renders the outcome as the body of a dev shell result turn.
func (o Outcome) Transcript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\nexit %d (%s)\n", o.Command, o.ExitCode, o.Duration.Round(time.Millisecond))
	if s := strings.TrimRight(o.Stdout, "\n"); s != "" {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	if s := strings.TrimRight(o.Stderr, "\n"); s != "" {
		b.WriteString("stderr:\n")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Run 通过 /bin/sh -lc 执行命令；超时返回 exit code 124
// Run executes command with /bin/sh -lc. A timeout yields exit code 124
// rather than an error; only failures to start are returned as errors.
func (r Runner) Run(ctx context.Context, command string) (Outcome, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Outcome{}, errors.New("shell command is empty")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-lc", command)
	cmd.Dir = r.Dir
	// Children that outlive the shell would otherwise hold the pipes open.
	cmd.WaitDelay = 500 * time.Millisecond
	stdout := newCappedBuffer(r.OutputLimit)
	stderr := newCappedBuffer(r.OutputLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	out := Outcome{
		Command:  command,
		Duration: time.Since(start),
	}
	if err != nil {
		var ee *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			out.ExitCode = timeoutExitCode
		case errors.As(err, &ee):
			out.ExitCode = ee.ExitCode()
		default:
			return Outcome{}, fmt.Errorf("run shell command: %w", err)
		}
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	out.Truncated = stdout.truncated || stderr.truncated
	return out, nil
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = defaultOutputLimit
	}
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.truncated || len(p) == 0 {
		return len(p), nil
	}
	remain := b.max - b.buf.Len()
	if len(p) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if !b.truncated {
		return b.buf.String()
	}
	return b.buf.String() + "\n[output truncated]"
}
