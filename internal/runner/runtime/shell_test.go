package runtime

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestShellRuntime_ExitCodes(t *testing.T) {
	r := NewShellRuntime()
	ctx := context.Background()

	var stdout, stderr bytes.Buffer
	h, err := r.Start(ctx, StartOptions{
		AttemptID: "att_test",
		Command:   "echo hello; echo oops >&2",
		WorkDir:   t.TempDir(),
		Stdout:    &stdout,
		Stderr:    &stderr,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Close(ctx)

	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("got exit code %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(stdout.String()) != "hello" {
		t.Errorf("got stdout %q", stdout.String())
	}
	if strings.TrimSpace(stderr.String()) != "oops" {
		t.Errorf("got stderr %q", stderr.String())
	}
}

func TestShellRuntime_NonZeroExit(t *testing.T) {
	r := NewShellRuntime()
	ctx := context.Background()

	h, err := r.Start(ctx, StartOptions{
		AttemptID: "att_test",
		Command:   "exit 3",
		WorkDir:   t.TempDir(),
		Stdout:    &bytes.Buffer{},
		Stderr:    &bytes.Buffer{},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close(ctx)

	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("got exit code %d, want 3", res.ExitCode)
	}
}

func TestShellRuntime_KillCoversChildren(t *testing.T) {
	r := NewShellRuntime()
	ctx := context.Background()

	h, err := r.Start(ctx, StartOptions{
		AttemptID: "att_test",
		Command:   "sleep 60 & sleep 60",
		WorkDir:   t.TempDir(),
		Stdout:    &bytes.Buffer{},
		Stderr:    &bytes.Buffer{},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Kill(ctx); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := h.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait after Kill failed: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("killed worker must not report success")
	}
	if err := h.Close(ctx); err != nil {
		t.Errorf("Close after Kill failed: %v", err)
	}
}

func TestShellRuntime_WorkDirIsCwd(t *testing.T) {
	r := NewShellRuntime()
	ctx := context.Background()
	dir := t.TempDir()

	var stdout bytes.Buffer
	h, err := r.Start(ctx, StartOptions{
		AttemptID: "att_test",
		Command:   "pwd",
		WorkDir:   dir,
		Stdout:    &stdout,
		Stderr:    &bytes.Buffer{},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close(ctx)

	if _, err := h.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(stdout.String()) != dir {
		t.Errorf("got cwd %q, want %q", stdout.String(), dir)
	}
}

func TestBuildScript(t *testing.T) {
	script := buildScript(StartOptions{Command: "echo hi", RAMLimitMB: 64, PIDLimit: 10})
	want := "ulimit -v 65536; ulimit -u 10; echo hi"
	if script != want {
		t.Errorf("got %q, want %q", script, want)
	}

	if got := buildScript(StartOptions{Command: "echo hi"}); got != "echo hi" {
		t.Errorf("got %q, want bare command", got)
	}
}
