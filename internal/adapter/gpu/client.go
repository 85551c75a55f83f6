package gpu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/port"
)

const (
	statusQueued  = "queued"
	statusRunning = "running"
	statusDone    = "done"
	statusOOM     = "oom"
	statusError   = "error"

	// maxPollErrors is how many consecutive failed status polls are tolerated
	// before the job is given up as an infrastructure fault.
	maxPollErrors = 3
	maxBodyBytes  = 4096
)

// StatusError is a non-2xx answer from the GPU backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gpu backend: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and throttling. Other
// client errors (4xx) are permanent.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Messages reported by the backend that are known to be transient. Content
// patterns carry the text users see; backend messages never reach them.
var (
	infraPatterns   = []string{"out of memory", "cuda", "device unavailable", "timed out", "connection reset"}
	contentPatterns = []struct{ pattern, public string }{
		{"no pose", "no pose found in the drawing"},
		{"no face", "no face found in the drawing"},
		{"low confidence", "the drawing could not be read reliably"},
		{"could not detect", "the drawing could not be read reliably"},
		{"no speech", "no speech found in the audio"},
	}
)

type animateRequest struct {
	InputRef    string          `json:"input_ref"`
	Stage       string          `json:"stage"`
	StageParams json.RawMessage `json:"stage_params,omitempty"`
	Resource    string          `json:"resource"`
}

type animateResponse struct {
	JobToken string `json:"job_token"`
}

type resultResponse struct {
	Status    string `json:"status"`
	ResultRef string `json:"result_ref,omitempty"`
	Error     string `json:"error,omitempty"`
	// Progress is a percentage, sent by backends that track it.
	Progress *float64 `json:"progress,omitempty"`
}

// Client runs stages on the remote GPU service: submit, then poll the result
// until it is terminal or the context ends.
type Client struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	httpClient   *http.Client
}

func NewClient(baseURL, token string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Run(ctx context.Context, call port.StageCall) (port.StageOutput, error) {
	var accepted animateResponse
	err := c.do(ctx, http.MethodPost, "/v1/animate", nil, animateRequest{
		InputRef:    call.InputRef,
		Stage:       string(call.Kind),
		StageParams: call.Params,
		Resource:    call.ResourceID,
	}, &accepted)
	if err != nil {
		return port.StageOutput{}, classifyTransport("submit", err)
	}
	if accepted.JobToken == "" {
		return port.StageOutput{}, domain.InfraFailure("gpu backend returned no job token", nil)
	}
	logger.Info.Printf("job %s submitted to %s as %s", call.JobID, call.ResourceID, accepted.JobToken)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	pollErrors := 0
	for {
		select {
		case <-ctx.Done():
			c.cancel(context.WithoutCancel(ctx), accepted.JobToken)
			return port.StageOutput{}, ctx.Err()
		case <-ticker.C:
		}

		var res resultResponse
		err := c.do(ctx, http.MethodGet, "/v1/animate/results", url.Values{"job_token": {accepted.JobToken}}, nil, &res)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failure := classifyTransport("poll", err)
			if failure.Class != domain.FailureTransientInfra {
				return port.StageOutput{}, failure
			}
			pollErrors++
			logger.Debug.Printf("poll %s failed (%d/%d): %v", accepted.JobToken, pollErrors, maxPollErrors, err)
			if pollErrors >= maxPollErrors {
				return port.StageOutput{}, failure
			}
			continue
		}
		pollErrors = 0

		switch res.Status {
		case statusQueued, statusRunning:
			if res.Progress != nil {
				call.Report(int(*res.Progress))
			}
			continue
		case statusDone:
			if res.ResultRef == "" {
				return port.StageOutput{}, domain.PermanentFailure("gpu backend returned no result", nil)
			}
			return port.StageOutput{Output: res.ResultRef, External: true}, nil
		case statusOOM:
			return port.StageOutput{}, domain.InfraFailure("out of memory", fmt.Errorf("resource %s", call.ResourceID))
		case statusError:
			return port.StageOutput{}, classifyMessage(res.Error)
		default:
			return port.StageOutput{}, domain.PermanentFailure(fmt.Sprintf("unknown backend status %q", res.Status), nil)
		}
	}
}

// Probe checks that the backend can serve the resource again.
func (c *Client) Probe(ctx context.Context, resourceID string) error {
	return c.do(ctx, http.MethodGet, "/v1/health", url.Values{"resource": {resourceID}}, nil, nil)
}

// cancel is best effort, the backend may already have finished.
func (c *Client) cancel(ctx context.Context, jobToken string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodPost, "/v1/animate/cancel", url.Values{"job_token": {jobToken}}, nil, nil); err != nil {
		logger.Warn.Printf("failed to cancel remote job %s: %v", jobToken, err)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyTransport maps request errors: 4xx is permanent, everything else
// (5xx, network, undecodable answers) is an infrastructure fault.
func classifyTransport(op string, err error) *domain.StageFailure {
	var se *StatusError
	if errors.As(err, &se) && !se.IsRetryable() {
		return domain.PermanentFailure("gpu backend rejected "+op, err)
	}
	return domain.InfraFailure("gpu backend "+op+" failed", err)
}

func classifyMessage(msg string) *domain.StageFailure {
	lower := strings.ToLower(msg)
	for _, p := range infraPatterns {
		if strings.Contains(lower, p) {
			return domain.InfraFailure(msg, nil)
		}
	}
	for _, p := range contentPatterns {
		if strings.Contains(lower, p.pattern) {
			return domain.ContentFailure(msg, nil).WithPublic(p.public)
		}
	}
	if msg == "" {
		msg = "gpu backend reported an error"
	}
	return domain.PermanentFailure(msg, nil)
}

var (
	_ port.StageBackend = (*Client)(nil)
	_ port.Prober       = (*Client)(nil)
)
