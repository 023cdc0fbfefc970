// Package runner chooses an execution strategy for a job from a request
// hint and environment capability, with deterministic fallback.
package runner

import (
	"runbox/internal/fault"
	"runbox/internal/store"
)

// Runner identifies one execution strategy.
type Runner string

const (
	RunnerShell  Runner = "shell"
	RunnerDocker Runner = "docker"
	RunnerVM     Runner = "vm"
)

// Parse validates a runner name from a request. Empty means no
// preference.
func Parse(s string) (Runner, error) {
	switch Runner(s) {
	case "", RunnerShell, RunnerDocker, RunnerVM:
		return Runner(s), nil
	}
	return "", fault.Newf(fault.KindValidation, "unknown runner %q", s).WithDetail("field", "runner.requested")
}

// Isolation is the strength of sandboxing a job requires.
type Isolation int

const (
	IsolationNone Isolation = iota
	IsolationModerate
	IsolationKernel
)

func (i Isolation) String() string {
	switch i {
	case IsolationModerate:
		return "moderate"
	case IsolationKernel:
		return "kernel"
	default:
		return "none"
	}
}

// ParseIsolation validates an isolation name from a request. Empty means
// derive from the policy.
func ParseIsolation(s string) (Isolation, error) {
	switch s {
	case "", "none":
		return IsolationNone, nil
	case "moderate":
		return IsolationModerate, nil
	case "kernel":
		return IsolationKernel, nil
	}
	return 0, fault.Newf(fault.KindValidation, "unknown isolation %q", s).WithDetail("field", "runner.isolation")
}

// Capabilities reports which runtimes the host can actually provide.
// Probed once at startup and narrowed by configuration.
type Capabilities struct {
	Shell  bool
	Docker bool
	VM     bool
}

// Requirements is what a job demands from its runtime.
type Requirements struct {
	Isolation Isolation
}

// Required derives the isolation a job needs from its effective policy
// and the caller's explicit requirement, whichever is stronger. A job
// with no network restrictions and no resource limits beyond the wall
// clock runs unisolated; anything else needs at least a container.
func Required(policy store.Policy, explicit Isolation) Requirements {
	derived := IsolationNone
	if len(policy.AllowlistDomains) > 0 ||
		policy.Limits.CPULimitMillis > 0 ||
		policy.Limits.RAMLimitMB > 0 ||
		policy.Limits.PIDLimit > 0 {
		derived = IsolationModerate
	}
	if explicit > derived {
		derived = explicit
	}
	return Requirements{Isolation: derived}
}

// satisfies reports whether a runner provides at least the required
// isolation. Shell provides none, docker moderate, vm kernel.
func satisfies(r Runner, isolation Isolation) bool {
	switch r {
	case RunnerShell:
		return isolation == IsolationNone
	case RunnerDocker:
		return isolation <= IsolationModerate
	case RunnerVM:
		return true
	}
	return false
}

func (c Capabilities) available(r Runner) bool {
	switch r {
	case RunnerShell:
		return c.Shell
	case RunnerDocker:
		return c.Docker
	case RunnerVM:
		return c.VM
	}
	return false
}

// Select picks the runner for a job. Ordered and deterministic: an
// explicit request wins when it is available and sufficient, then
// shell for unisolated jobs, then docker, then vm as the last resort.
// Exhaustion returns a no_runner_available fault.
func Select(requested Runner, req Requirements, caps Capabilities) (Runner, string, error) {
	if requested != "" && caps.available(requested) && satisfies(requested, req.Isolation) {
		return requested, "requested by caller", nil
	}

	if caps.Shell && satisfies(RunnerShell, req.Isolation) {
		return RunnerShell, "no isolation required", nil
	}
	if caps.Docker && satisfies(RunnerDocker, req.Isolation) {
		return RunnerDocker, req.Isolation.String() + " isolation via container", nil
	}
	if caps.VM {
		if req.Isolation == IsolationKernel {
			return RunnerVM, "kernel isolation required", nil
		}
		return RunnerVM, "container tooling unavailable, falling back to vm", nil
	}

	return "", "", fault.Newf(fault.KindNoRunner, "no runner satisfies %s isolation", req.Isolation)
}
