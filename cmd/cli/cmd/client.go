package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"runbox/pkg/api"
)

// JobClient handles API calls to the runbox orchestrator.
type JobClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewJobClient creates a new client for the given base URL.
func NewJobClient(baseURL string) *JobClient {
	return &JobClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// SubmitJob sends POST /api/jobs to submit a new job.
func (c *JobClient) SubmitJob(req api.CreateJobRequest) (*api.CreateJobResponse, error) {
	var result api.CreateJobResponse
	if err := c.do(http.MethodPost, "/api/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /api/jobs/{id} to retrieve job details.
func (c *JobClient) GetJob(jobID string) (*api.GetJobResponse, error) {
	var result api.GetJobResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/jobs/%s", jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /api/jobs with the given filters.
func (c *JobClient) ListJobs(status, query, cursor string, limit int) (*api.ListJobsResponse, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if query != "" {
		q.Set("q", query)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryJob sends POST /api/jobs/{id}/retry to start a new attempt.
func (c *JobClient) RetryJob(jobID string) (*api.RetryJobResponse, error) {
	var result api.RetryJobResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/jobs/%s/retry", jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLogs sends GET /api/jobs/{id}/logs to fetch buffered log lines.
func (c *JobClient) GetLogs(jobID, attemptID string, afterSeq int64, tail int) (*api.GetLogsResponse, error) {
	q := url.Values{}
	if attemptID != "" {
		q.Set("attempt_id", attemptID)
	}
	if afterSeq > 0 {
		q.Set("after_seq", fmt.Sprintf("%d", afterSeq))
	}
	if tail > 0 {
		q.Set("tail", fmt.Sprintf("%d", tail))
	}
	path := fmt.Sprintf("/api/jobs/%s/logs", jobID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result api.GetLogsResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListArtifacts sends GET /api/jobs/{id}/artifacts to read the manifest.
func (c *JobClient) ListArtifacts(jobID string) (*api.ListArtifactsResponse, error) {
	var result api.ListArtifactsResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/jobs/%s/artifacts", jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadArtifact streams GET /api/jobs/{id}/artifacts/{name} to w.
func (c *JobClient) DownloadArtifact(jobID, name string, w io.Writer) (int64, error) {
	httpReq, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/jobs/%s/artifacts/%s", c.BaseURL, jobID, name), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, decodeError(resp.StatusCode, respBody)
	}

	return io.Copy(w, resp.Body)
}

func (c *JobClient) do(method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return decodeError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// decodeError turns an error envelope into an APIError, falling back
// to the raw body when the envelope does not parse.
func decodeError(statusCode int, body []byte) error {
	var envelope api.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return &APIError{StatusCode: statusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{StatusCode: statusCode, Message: string(body)}
}
