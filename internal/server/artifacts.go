package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"runbox/internal/fault"
	"runbox/internal/store"
	"runbox/pkg/api"
)

// ListArtifacts handles GET /api/jobs/{id}/artifacts.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	manifest := make([]api.Artifact, 0, len(job.Artifacts))
	for _, a := range job.Artifacts {
		manifest = append(manifest, toAPIArtifact(a))
	}

	requestID, now := h.stamp(r.Context())
	h.respondJSON(w, http.StatusOK, api.ListArtifactsResponse{
		ArtifactsManifest: manifest,
		RequestID:         requestID,
		ServerTimeUTC:     now,
	})
}

// DownloadArtifact handles GET /api/jobs/{id}/artifacts/{name...}.
// The raw bytes are served with the recorded content type.
func (h *Handlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	name := r.PathValue("name")
	var artifact *store.Artifact
	for i := range job.Artifacts {
		if job.Artifacts[i].Name == name {
			artifact = &job.Artifacts[i]
			break
		}
	}
	if artifact == nil {
		h.respondError(w, r, fault.Newf(fault.KindArtifactNotFound, "artifact %q not found for job %s", name, job.ID))
		return
	}

	path, err := h.artifactPath(job, artifact)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("X-Content-Sha256", artifact.SHA256)
	http.ServeFile(w, r, path)
}

// artifactPath locates the recorded file on disk. Work areas live per
// attempt, so the newest attempt that still has the file wins. The
// resolved path must stay inside the attempt's work area; a manifest
// entry that escapes it is treated as missing.
func (h *Handlers) artifactPath(job *store.Job, artifact *store.Artifact) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(artifact.Path))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fault.Newf(fault.KindArtifactNotFound, "artifact %q is not retrievable", artifact.Name)
	}

	for i := len(job.Attempts) - 1; i >= 0; i-- {
		workDir := filepath.Join(h.dataDir, job.ID, job.Attempts[i].ID)
		candidate := filepath.Join(workDir, rel)
		if !strings.HasPrefix(candidate, workDir+string(filepath.Separator)) {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", fault.Newf(fault.KindArtifactNotFound, "artifact %q is no longer on disk", artifact.Name)
}
