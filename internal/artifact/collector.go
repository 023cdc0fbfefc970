// Package artifact scans a completed attempt's work area and builds the
// job's artifact manifest: content hashes, sizes, and types for every
// file the command left behind.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"runbox/internal/store"
)

// Collector reads work areas into manifest entries.
type Collector struct {
	log *slog.Logger
}

// New creates a collector.
func New(log *slog.Logger) *Collector {
	return &Collector{log: log}
}

// Collect walks the work area and returns one artifact per regular
// file, named by its path relative to the root. Unreadable files are
// logged and skipped; the scan itself only fails when the root cannot
// be walked. Call only after the attempt reached a terminal state, so
// the files no longer change underneath the hashes.
func (c *Collector) Collect(ctx context.Context, jobID, workArea string) ([]store.Artifact, error) {
	if _, err := os.Stat(workArea); os.IsNotExist(err) {
		// The attempt never got far enough to create a work area.
		return nil, nil
	}

	var artifacts []store.Artifact

	err := filepath.WalkDir(workArea, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(workArea, path)
		if err != nil {
			return err
		}

		a, err := c.readFile(jobID, path, rel)
		if err != nil {
			c.log.Error("artifact_read_error",
				"job_id", jobID, "path", rel, "error", err)
			return nil
		}
		artifacts = append(artifacts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func (c *Collector) readFile(jobID, path, rel string) (store.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Artifact{}, err
	}
	defer f.Close()

	// The first block feeds both content sniffing and the hash.
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return store.Artifact{}, err
	}
	head = head[:n]

	hasher := sha256.New()
	hasher.Write(head)
	rest, err := io.Copy(hasher, f)
	if err != nil {
		return store.Artifact{}, err
	}

	return store.Artifact{
		JobID:       jobID,
		Name:        rel,
		Path:        rel,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes:   int64(n) + rest,
		ContentType: contentType(rel, head),
		CreatedAt:   store.UTCNow(),
	}, nil
}

// contentType resolves by extension first, then sniffs the content,
// falling back to application/octet-stream.
func contentType(name string, head []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		if base, _, ok := strings.Cut(ct, ";"); ok {
			return base
		}
		return ct
	}
	if len(head) > 0 {
		if base, _, ok := strings.Cut(http.DetectContentType(head), ";"); ok {
			return base
		}
		return http.DetectContentType(head)
	}
	return "application/octet-stream"
}
