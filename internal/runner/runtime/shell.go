package runtime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// ShellRuntime runs attempts as raw OS processes. It provides no
// dependency isolation, so the selector only uses it for jobs that
// need none. Resource ceilings are applied with ulimit where the
// shell can express them.
type ShellRuntime struct{}

// NewShellRuntime creates a process-based runtime.
func NewShellRuntime() *ShellRuntime {
	return &ShellRuntime{}
}

// Start implements Runtime.Start using /bin/sh in its own process
// group, so Stop and Kill cover every child the command spawns.
func (r *ShellRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	cmd := exec.Command("/bin/sh", "-c", buildScript(opts))
	cmd.Dir = opts.WorkDir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start shell worker: %w", err)
	}

	h := &shellHandle{cmd: cmd, pgid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// buildScript prefixes the command with ulimit ceilings. The CPU share
// limit has no shell equivalent; jobs that request one are routed to a
// container runner by the selector.
func buildScript(opts StartOptions) string {
	var b strings.Builder
	if opts.RAMLimitMB > 0 {
		fmt.Fprintf(&b, "ulimit -v %d; ", opts.RAMLimitMB*1024)
	}
	if opts.PIDLimit > 0 {
		fmt.Fprintf(&b, "ulimit -u %d; ", opts.PIDLimit)
	}
	b.WriteString(opts.Command)
	return b.String()
}

type shellHandle struct {
	cmd     *exec.Cmd
	pgid    int
	done    chan struct{}
	waitErr error
}

func (h *shellHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-ctx.Done():
		return ExitResult{ExitCode: -1}, ctx.Err()
	case <-h.done:
	}

	if h.waitErr == nil {
		return ExitResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		// Signaled processes report -1.
		return ExitResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExitResult{ExitCode: -1}, h.waitErr
}

func (h *shellHandle) Stop(ctx context.Context) error {
	return h.signal(syscall.SIGTERM)
}

func (h *shellHandle) Kill(ctx context.Context) error {
	return h.signal(syscall.SIGKILL)
}

// Close force-kills anything still running and reaps the process.
func (h *shellHandle) Close(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	_ = h.signal(syscall.SIGKILL)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

func (h *shellHandle) signal(sig syscall.Signal) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	// Negative pid signals the whole process group.
	if err := syscall.Kill(-h.pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to signal worker group: %w", err)
	}
	return nil
}
