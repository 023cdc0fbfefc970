package server

import (
	"runbox/internal/store"
	"runbox/pkg/api"
)

func toAPIJobSummary(j *store.Job) api.JobSummary {
	return api.JobSummary{
		JobID:     j.ID,
		Status:    string(j.Status),
		Command:   j.Command,
		CreatedAt: store.FormatTime(j.CreatedAt),
		Runner:    toAPIRunner(j.Runner),
	}
}

func toAPIRunner(d store.RunnerDecision) *api.Runner {
	if d.Requested == "" && d.Selected == "" {
		return nil
	}
	return &api.Runner{
		Requested:       d.Requested,
		Selected:        d.Selected,
		SelectionReason: d.SelectionReason,
	}
}

func toAPIPolicy(p store.Policy) *api.Policy {
	return &api.Policy{
		AllowlistDomains: p.AllowlistDomains,
		Limits: &api.PolicyLimits{
			TimeLimitSeconds: p.Limits.TimeLimitSeconds,
			CPULimitMillis:   p.Limits.CPULimitMillis,
			RAMLimitMB:       p.Limits.RAMLimitMB,
			PIDLimit:         p.Limits.PIDLimit,
		},
	}
}

func fromAPIPolicy(p *api.Policy) store.Policy {
	if p == nil {
		return store.Policy{}
	}
	out := store.Policy{AllowlistDomains: p.AllowlistDomains}
	if p.Limits != nil {
		out.Limits = store.Limits{
			TimeLimitSeconds: p.Limits.TimeLimitSeconds,
			CPULimitMillis:   p.Limits.CPULimitMillis,
			RAMLimitMB:       p.Limits.RAMLimitMB,
			PIDLimit:         p.Limits.PIDLimit,
		}
	}
	return out
}

func toAPIAttempt(a store.Attempt) api.Attempt {
	out := api.Attempt{
		AttemptID:    a.ID,
		Status:       string(a.Status),
		ExitCode:     a.ExitCode,
		ErrorSummary: a.ErrorSummary,
	}
	if a.StartedAt != nil {
		s := store.FormatTime(*a.StartedAt)
		out.StartedAt = &s
	}
	if a.FinishedAt != nil {
		s := store.FormatTime(*a.FinishedAt)
		out.FinishedAt = &s
	}
	return out
}

func toAPIArtifact(a store.Artifact) api.Artifact {
	return api.Artifact{
		Name:        a.Name,
		Path:        a.Path,
		SHA256:      a.SHA256,
		SizeBytes:   a.SizeBytes,
		ContentType: a.ContentType,
		CreatedAt:   store.FormatTime(a.CreatedAt),
	}
}

func toAPIJob(j *store.Job) api.Job {
	out := api.Job{
		JobID:             j.ID,
		Command:           j.Command,
		Status:            string(j.Status),
		CreatedAt:         store.FormatTime(j.CreatedAt),
		Policy:            toAPIPolicy(j.Policy),
		Runner:            toAPIRunner(j.Runner),
		Attempts:          make([]api.Attempt, 0, len(j.Attempts)),
		ArtifactsManifest: make([]api.Artifact, 0, len(j.Artifacts)),
	}
	if j.CompletedAt != nil {
		s := store.FormatTime(*j.CompletedAt)
		out.CompletedAt = &s
	}
	for _, a := range j.Attempts {
		out.Attempts = append(out.Attempts, toAPIAttempt(a))
	}
	for _, a := range j.Artifacts {
		out.ArtifactsManifest = append(out.ArtifactsManifest, toAPIArtifact(a))
	}
	return out
}

func toAPILogLine(l store.LogLine) api.LogLine {
	return api.LogLine{
		TS:      store.FormatTime(l.TS),
		Level:   l.Level,
		Message: l.Message,
	}
}
