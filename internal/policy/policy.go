// Package policy validates a requested execution policy against system
// caps and the job command. Evaluation is pure; callers log and persist
// the outcome.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"runbox/internal/config"
	"runbox/internal/fault"
	"runbox/internal/store"
)

// Network targets are detected by static inspection of the command text.
// URLs are the only declared-target syntax recognized; anything a command
// resolves dynamically at run time is out of scope and handled by the
// runner's network settings instead.
var urlPattern = regexp.MustCompile(`https?://([^/\s]+)`)

// hostPattern accepts DNS-style host names with an optional port.
var hostPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*(:[0-9]{1,5})?$`)

// Evaluate checks the requested policy for a command against system caps
// and returns the effective policy to record on the job.
//
// Limits above a cap are clamped to the cap rather than denied, so a
// given (request, caps) pair always yields the same effective policy.
// Negative limits and malformed allowlist hosts are validation errors;
// a command whose URLs fall outside a non-empty allowlist is denied
// with policy_denied.
func Evaluate(command string, requested store.Policy, caps config.Caps, defaultTimeLimitSeconds int) (store.Policy, error) {
	effective := store.Policy{}

	allowset := make(map[string]bool, len(requested.AllowlistDomains))
	for _, entry := range requested.AllowlistDomains {
		host := strings.ToLower(strings.TrimSpace(entry))
		if !hostPattern.MatchString(host) {
			return store.Policy{}, fault.Newf(fault.KindValidation, "invalid allowlist host %q", entry).
				WithDetail("field", "allowlist_domains")
		}
		if !allowset[host] {
			allowset[host] = true
			effective.AllowlistDomains = append(effective.AllowlistDomains, host)
		}
	}

	limits, err := clampLimits(requested.Limits, caps, defaultTimeLimitSeconds)
	if err != nil {
		return store.Policy{}, err
	}
	effective.Limits = limits

	if len(effective.AllowlistDomains) > 0 {
		for _, target := range DeclaredTargets(command) {
			if !allowset[target] {
				return store.Policy{}, fault.Newf(fault.KindPolicyDenied, "network target %s is not in the allowlist", target).
					WithDetail("target", target)
			}
		}
	}

	return effective, nil
}

// DeclaredTargets returns the lowercased hosts of every URL that appears
// literally in the command text, in order of appearance.
func DeclaredTargets(command string) []string {
	var targets []string
	for _, match := range urlPattern.FindAllStringSubmatch(command, -1) {
		targets = append(targets, strings.ToLower(match[1]))
	}
	return targets
}

func clampLimits(requested store.Limits, caps config.Caps, defaultTimeLimitSeconds int) (store.Limits, error) {
	limits := requested

	// Checked in a fixed order so the reported field is stable when
	// several limits are negative.
	checks := []struct {
		field string
		value int
	}{
		{"time_limit_seconds", limits.TimeLimitSeconds},
		{"cpu_limit", limits.CPULimitMillis},
		{"ram_limit_mb", limits.RAMLimitMB},
		{"pid_limit", limits.PIDLimit},
	}
	for _, c := range checks {
		if c.value < 0 {
			return store.Limits{}, fault.Newf(fault.KindValidation, "limit %s must not be negative", c.field).
				WithDetail("field", c.field)
		}
	}

	if limits.TimeLimitSeconds == 0 {
		limits.TimeLimitSeconds = defaultTimeLimitSeconds
	}
	limits.TimeLimitSeconds = clamp(limits.TimeLimitSeconds, caps.MaxTimeLimitSeconds)
	limits.CPULimitMillis = clamp(limits.CPULimitMillis, caps.MaxCPULimitMillis)
	limits.RAMLimitMB = clamp(limits.RAMLimitMB, caps.MaxRAMLimitMB)
	limits.PIDLimit = clamp(limits.PIDLimit, caps.MaxPIDLimit)

	return limits, nil
}

func clamp(v, ceiling int) int {
	if ceiling > 0 && v > ceiling {
		return ceiling
	}
	return v
}

// Describe renders the effective policy for decision logs and
// selection_reason context.
func Describe(p store.Policy) string {
	network := "network unrestricted"
	if len(p.AllowlistDomains) > 0 {
		network = fmt.Sprintf("network restricted to %s", strings.Join(p.AllowlistDomains, ","))
	}
	return fmt.Sprintf("%s, time limit %ds", network, p.Limits.TimeLimitSeconds)
}
