package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"flotilla/internal/config"
)

const (
	defaultBaseURL = "https://api.github.com"
	perPage        = 100
)

// Workflow run and job states as reported by the API.
const (
	RunStatusQueued     = "queued"
	JobStatusQueued     = "queued"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
)

// Runner agent connectivity as reported by the API.
const (
	RunnerStatusOnline  = "online"
	RunnerStatusOffline = "offline"
)

// WorkflowRun is a workflow run in the repository
type WorkflowRun struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// WorkflowJob is a single job of a workflow run
type WorkflowJob struct {
	ID         int64    `json:"id"`
	RunID      int64    `json:"run_id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	Labels     []string `json:"labels"`
	RunnerID   int64    `json:"runner_id"`
	RunnerName string   `json:"runner_name"`
}

// RunnerLabel is one label registered on a self-hosted runner
type RunnerLabel struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SelfHostedRunner is a runner agent registered with the repository
type SelfHostedRunner struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	OS     string        `json:"os"`
	Status string        `json:"status"`
	Busy   bool          `json:"busy"`
	Labels []RunnerLabel `json:"labels"`
}

// RegistrationToken is a short-lived token for registering a new runner
type RegistrationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Client struct {
	token     string
	repo      string // owner/name
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

func NewClient(cfg config.GitHubConfig, version string, logger *slog.Logger) *Client {
	return &Client{
		token:     cfg.Token,
		repo:      cfg.Repository,
		baseURL:   defaultBaseURL,
		userAgent: "flotilla/" + version,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:    logger.With("component", "github"),
	}
}

// Repository returns the owner/name the client operates on.
func (c *Client) Repository() string {
	return c.repo
}

// ListQueuedWorkflowRuns returns the runs currently waiting for capacity.
func (c *Client) ListQueuedWorkflowRuns(ctx context.Context) ([]*WorkflowRun, error) {
	var runs []*WorkflowRun

	for page := 1; ; page++ {
		var result struct {
			TotalCount   int            `json:"total_count"`
			WorkflowRuns []*WorkflowRun `json:"workflow_runs"`
		}

		path := fmt.Sprintf("/repos/%s/actions/runs?status=queued&per_page=%d&page=%d", c.repo, perPage, page)
		if err := c.do(ctx, http.MethodGet, path, &result); err != nil {
			return nil, fmt.Errorf("failed to list queued workflow runs: %w", err)
		}

		runs = append(runs, result.WorkflowRuns...)
		if len(result.WorkflowRuns) < perPage || len(runs) >= result.TotalCount {
			return runs, nil
		}
	}
}

// ListWorkflowJobs returns all jobs of the given run.
func (c *Client) ListWorkflowJobs(ctx context.Context, runID int64) ([]*WorkflowJob, error) {
	var jobs []*WorkflowJob

	for page := 1; ; page++ {
		var result struct {
			TotalCount int            `json:"total_count"`
			Jobs       []*WorkflowJob `json:"jobs"`
		}

		path := fmt.Sprintf("/repos/%s/actions/runs/%d/jobs?per_page=%d&page=%d", c.repo, runID, perPage, page)
		if err := c.do(ctx, http.MethodGet, path, &result); err != nil {
			return nil, fmt.Errorf("failed to list jobs for run %d: %w", runID, err)
		}

		jobs = append(jobs, result.Jobs...)
		if len(result.Jobs) < perPage || len(jobs) >= result.TotalCount {
			return jobs, nil
		}
	}
}

// ListRunners returns all self-hosted runners registered with the repository.
func (c *Client) ListRunners(ctx context.Context) ([]*SelfHostedRunner, error) {
	var runners []*SelfHostedRunner

	for page := 1; ; page++ {
		var result struct {
			TotalCount int                 `json:"total_count"`
			Runners    []*SelfHostedRunner `json:"runners"`
		}

		path := fmt.Sprintf("/repos/%s/actions/runners?per_page=%d&page=%d", c.repo, perPage, page)
		if err := c.do(ctx, http.MethodGet, path, &result); err != nil {
			return nil, fmt.Errorf("failed to list runners: %w", err)
		}

		runners = append(runners, result.Runners...)
		if len(result.Runners) < perPage || len(runners) >= result.TotalCount {
			return runners, nil
		}
	}
}

// GetRunner returns one self-hosted runner by its numeric ID.
func (c *Client) GetRunner(ctx context.Context, id int64) (*SelfHostedRunner, error) {
	var runner SelfHostedRunner

	path := fmt.Sprintf("/repos/%s/actions/runners/%d", c.repo, id)
	if err := c.do(ctx, http.MethodGet, path, &runner); err != nil {
		return nil, fmt.Errorf("failed to get runner %d: %w", id, err)
	}

	return &runner, nil
}

// CreateRegistrationToken mints a short-lived token for registering a runner.
func (c *Client) CreateRegistrationToken(ctx context.Context) (*RegistrationToken, error) {
	var token RegistrationToken

	path := fmt.Sprintf("/repos/%s/actions/runners/registration-token", c.repo)
	if err := c.do(ctx, http.MethodPost, path, &token); err != nil {
		return nil, fmt.Errorf("failed to create registration token: %w", err)
	}

	return &token, nil
}

// DeleteRunner removes a self-hosted runner registration.
func (c *Client) DeleteRunner(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/repos/%s/actions/runners/%d", c.repo, id)
	if err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("failed to delete runner %d: %w", id, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}

	return nil
}

// HealthCheck verifies the token can reach the repository runner API.
func (c *Client) HealthCheck(ctx context.Context) error {
	path := fmt.Sprintf("/repos/%s/actions/runners?per_page=1", c.repo)
	if err := c.do(ctx, http.MethodGet, path, nil); err != nil {
		return fmt.Errorf("github health check failed: %w", err)
	}
	return nil
}
