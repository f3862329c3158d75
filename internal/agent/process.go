package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wreckit/wreckit/internal/config"
)

// gracePeriod is how long Process waits after SIGTERM before escalating to
// SIGKILL on cancellation or timeout.
const gracePeriod = 5 * time.Second

// ProcessBackend delegates to a subprocess: the assembled prompt is piped to
// standard input, standard output/error are streamed to the event sink and
// watched for the completion signal, and the timeout is enforced by racing
// the process against a timer. Termination escalates SIGTERM -> SIGKILL
// after gracePeriod.
type ProcessBackend struct{}

func (b *ProcessBackend) Run(ctx context.Context, cfg config.AgentConfig, opts Options) (Result, error) {
	if opts.DryRun {
		return runDryRun(cfg, opts), nil
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.Command(command, cfg.CommandArgs...)
	cmd.Dir = opts.Cwd
	cmd.Stdin = strings.NewReader(opts.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	var output strings.Builder
	var mu sync.Mutex
	completionSeen := false
	signal := opts.CompletionSignal

	streamDone := make(chan struct{}, 2)
	streamLine := func(r io.Reader) {
		defer func() { streamDone <- struct{}{} }()
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := sc.Text()
			mu.Lock()
			output.WriteString(line)
			output.WriteByte('\n')
			if signal != "" && strings.Contains(line, signal) {
				completionSeen = true
			}
			mu.Unlock()
			if opts.EventSink != nil {
				opts.EventSink(Event{Kind: EventAssistantText, Text: line})
			}
		}
	}
	go streamLine(stdout)
	go streamLine(stderr)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitDone:
	case <-runCtx.Done():
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		waitErr = terminateEscalating(cmd, waitDone)
	}

	<-streamDone
	<-streamDone

	mu.Lock()
	out := output.String()
	done := completionSeen
	mu.Unlock()

	if timedOut {
		if opts.EventSink != nil {
			opts.EventSink(Event{Kind: EventError, Err: context.DeadlineExceeded})
		}
		return Result{Output: out, TimedOut: true, ExitCode: cmd.ProcessState.ExitCode()}, context.DeadlineExceeded
	}

	exitCode := 0
	success := waitErr == nil
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if !done {
		done = cmd.ProcessState != nil && cmd.ProcessState.Success()
	}

	if opts.EventSink != nil {
		opts.EventSink(Event{Kind: EventRunResult})
	}

	return Result{
		Success:            success,
		Output:             out,
		ExitCode:           exitCode,
		CompletionDetected: done,
	}, nil
}

// terminateEscalating sends SIGTERM and, if waitDone (cmd.Wait's result
// channel) has not fired within gracePeriod, escalates to SIGKILL. It
// returns the eventual Wait error.
func terminateEscalating(cmd *exec.Cmd, waitDone <-chan error) error {
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case err := <-waitDone:
		return err
	case <-time.After(gracePeriod):
		_ = cmd.Process.Kill()
		return <-waitDone
	}
}
