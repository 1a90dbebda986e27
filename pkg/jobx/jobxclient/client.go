// Package jobxclient calls the job endpoints served by jobxapi.
package jobxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Abraxas-365/repohub/pkg/asyncx"
	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxapi"
	"github.com/Abraxas-365/repohub/pkg/wirex"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultJobsPath = "/api/v1/jobs"
)

var clientErrors = errx.NewRegistry("JOBXCLIENT")

var (
	ErrRequest  = clientErrors.Register("REQUEST", errx.TypeExternal, http.StatusBadGateway, "Job API request failed")
	ErrResponse = clientErrors.Register("RESPONSE", errx.TypeExternal, http.StatusBadGateway, "Unexpected job API response")
)

// Client submits, polls and cancels jobs over HTTP.
type Client struct {
	baseURL    string
	jobsPath   string
	token      string
	httpClient *http.Client
	codec      *wirex.Codec
	backoff    asyncx.Backoff
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithJobsPath changes where the job endpoints are mounted.
func WithJobsPath(p string) Option { return func(c *Client) { c.jobsPath = p } }

// WithBackoff sets the polling schedule Await follows.
func WithBackoff(b asyncx.Backoff) Option { return func(c *Client) { c.backoff = b } }

// New creates a client. codec must know every request and response type
// the caller exchanges.
func New(baseURL string, codec *wirex.Codec, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		jobsPath:   DefaultJobsPath,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		codec:      codec,
		backoff:    asyncx.DefaultBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result is one poll of a job: either still pending with its status, or
// finished with its response.
type Result struct {
	Pending  bool
	Status   *jobxapi.StatusDocument
	Response wirex.Entity
}

// Start submits req and returns the job id.
func (c *Client) Start(ctx context.Context, req wirex.Entity) (string, error) {
	body, err := c.codec.Encode(req)
	if err != nil {
		return "", err
	}
	status, raw, err := c.do(ctx, http.MethodPost, c.jobsPath, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted {
		return "", unexpected(status, raw)
	}
	var out jobxapi.SubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.JobID == "" {
		return "", clientErrors.NewWithMessage(ErrResponse, "submit response has no jobId").WithDetail("body", string(raw))
	}
	return out.JobID, nil
}

// Get polls a job once. Failed, cancelled and unknown jobs come back as the
// server's typed errors (JOBX_JOB_FAILED, JOBX_JOB_CANCELLED, JOBX_JOB_NOT_FOUND).
func (c *Client) Get(ctx context.Context, jobID string) (*Result, error) {
	status, raw, err := c.do(ctx, http.MethodGet, c.jobPath(jobID), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		resp, err := c.codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp}, nil
	case http.StatusAccepted:
		var doc jobxapi.StatusDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, clientErrors.NewWithCause(ErrResponse, err).WithDetail("job_id", jobID)
		}
		return &Result{Pending: true, Status: &doc}, nil
	}
	return nil, unexpected(status, raw)
}

// Status returns the status document of a job in any state.
func (c *Client) Status(ctx context.Context, jobID string) (*jobxapi.StatusDocument, error) {
	status, raw, err := c.do(ctx, http.MethodGet, c.jobPath(jobID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, unexpected(status, raw)
	}
	var doc jobxapi.StatusDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, clientErrors.NewWithCause(ErrResponse, err).WithDetail("job_id", jobID)
	}
	return &doc, nil
}

// Cancel asks the job to stop.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	status, raw, err := c.do(ctx, http.MethodDelete, c.jobPath(jobID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return unexpected(status, raw)
	}
	return nil
}

// Await polls until the job finishes or ctx ends, backing off between
// polls. It returns the response or the job's typed error.
func (c *Client) Await(ctx context.Context, jobID string) (wirex.Entity, error) {
	return asyncx.RetryWithBackoff(ctx, c.backoff, 0, jobx.ErrNotReady.Is, func(ctx context.Context) (wirex.Entity, error) {
		res, err := c.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if res.Pending {
			return nil, jobx.NotReady(jobID, res.Status.JobState)
		}
		return res.Response, nil
	})
}

// AwaitAs is Await with the response checked against T.
func AwaitAs[T wirex.Entity](ctx context.Context, c *Client, jobID string) (T, error) {
	var zero T
	resp, err := c.Await(ctx, jobID)
	if err != nil {
		return zero, err
	}
	v, ok := resp.(T)
	if !ok {
		return zero, clientErrors.NewWithMessage(ErrResponse, "job response has an unexpected type").
			WithDetail("job_id", jobID).
			WithDetail("concrete_type", resp.ConcreteType())
	}
	return v, nil
}

func (c *Client) jobPath(jobID string) string {
	return c.jobsPath + "/" + url.PathEscape(jobID)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return 0, nil, clientErrors.NewWithCause(ErrRequest, err).WithDetail("path", path)
	}
	req.Header.Set("Accept", wirex.MediaType)
	if body != nil {
		req.Header.Set("Content-Type", wirex.MediaType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, clientErrors.NewWithCause(ErrRequest, err).WithDetail("path", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, clientErrors.NewWithCause(ErrResponse, err).WithDetail("path", path)
	}
	return resp.StatusCode, raw, nil
}

// unexpected turns an error document back into the server's typed error.
func unexpected(status int, raw []byte) error {
	var doc errx.HTTPErrorResponse
	if err := json.Unmarshal(raw, &doc); err == nil && doc.Code != "" {
		if doc.StatusCode == 0 {
			doc.StatusCode = status
		}
		return errx.FromHTTPResponse(doc)
	}
	return clientErrors.New(ErrResponse).
		WithDetail("status_code", status).
		WithDetail("body", string(raw))
}
