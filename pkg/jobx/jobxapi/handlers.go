// Package jobxapi exposes the job protocol over HTTP: submit a request
// envelope, poll its job, cancel it.
package jobxapi

import (
	"strconv"
	"time"

	"github.com/Abraxas-365/repohub/pkg/iam"
	"github.com/Abraxas-365/repohub/pkg/iam/auth"
	"github.com/Abraxas-365/repohub/pkg/iam/scopes"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	"github.com/gofiber/fiber/v2"
)

// SubmitResponse is the body of an accepted submission.
type SubmitResponse struct {
	JobID    string     `json:"jobId"`
	JobState jobx.State `json:"jobState"`
}

// StatusDocument describes a job without its result. Pending polls return it.
type StatusDocument struct {
	JobID           string          `json:"jobId"`
	JobState        jobx.State      `json:"jobState"`
	RequestType     string          `json:"requestType"`
	ProgressCurrent *int64          `json:"progressCurrent,omitempty"`
	ProgressTotal   *int64          `json:"progressTotal,omitempty"`
	ProgressMessage string          `json:"progressMessage,omitempty"`
	Error           *jobx.ErrorInfo `json:"error,omitempty"`
	StartedOn       time.Time       `json:"startedOn"`
	LastChangedOn   time.Time       `json:"lastChangedOn"`
}

// NewStatusDocument builds the status view of rec.
func NewStatusDocument(rec *jobx.JobRecord) StatusDocument {
	doc := StatusDocument{
		JobID:         rec.JobID,
		JobState:      rec.State,
		RequestType:   rec.RequestType,
		Error:         rec.Error,
		StartedOn:     rec.StartedOn,
		LastChangedOn: rec.LastChangedOn,
	}
	if p := rec.Progress; p != nil {
		cur, total := p.Current, p.Total
		doc.ProgressCurrent = &cur
		if total > 0 {
			doc.ProgressTotal = &total
		}
		doc.ProgressMessage = p.Message
	}
	return doc
}

// Handlers serves submit, poll and cancel for every registered job type.
type Handlers struct {
	dispatcher *jobx.Dispatcher
	status     *jobx.StatusService
	limiter    *OwnerLimiter
	retryAfter time.Duration
}

// Option configures Handlers.
type Option func(*Handlers)

// WithLimiter rate limits submissions per owner.
func WithLimiter(l *OwnerLimiter) Option {
	return func(h *Handlers) { h.limiter = l }
}

// WithRetryAfter sets the Retry-After hint sent with pending polls.
func WithRetryAfter(d time.Duration) Option {
	return func(h *Handlers) { h.retryAfter = d }
}

func NewHandlers(dispatcher *jobx.Dispatcher, status *jobx.StatusService, opts ...Option) *Handlers {
	h := &Handlers{dispatcher: dispatcher, status: status, retryAfter: 2 * time.Second}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes mounts the generic job endpoints under /api/v1/jobs.
func (h *Handlers) RegisterRoutes(router fiber.Router, authMiddleware fiber.Handler) {
	jobs := router.Group("/api/v1/jobs", authMiddleware)

	jobs.Post("/", auth.RequireScope(scopes.JobsStart), h.Submit())
	jobs.Get("/:jobId", auth.RequireScope(scopes.JobsRead), h.Poll())
	jobs.Get("/:jobId/status", auth.RequireScope(scopes.JobsRead), h.Status())
	jobs.Delete("/:jobId", auth.RequireScope(scopes.JobsCancel), h.Cancel())
}

// Submit accepts any registered request envelope.
func (h *Handlers) Submit() fiber.Handler {
	return h.submit(func(c *wirex.Codec, body []byte) (wirex.Entity, error) {
		return c.Decode(body)
	})
}

// SubmitAs accepts only request envelopes whose type is a T, so a family
// controller rejects other families with WIRE_TYPE_MISMATCH.
func SubmitAs[T wirex.Entity](h *Handlers) fiber.Handler {
	return h.submit(func(c *wirex.Codec, body []byte) (wirex.Entity, error) {
		return wirex.DecodeAs[T](c, body)
	})
}

func (h *Handlers) submit(decode func(*wirex.Codec, []byte) (wirex.Entity, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := negotiate(c, true); err != nil {
			return err
		}
		owner, err := ownerOf(c)
		if err != nil {
			return err
		}
		if ok, wait := h.limiter.Allow(owner); !ok {
			c.Set(fiber.HeaderRetryAfter, seconds(wait))
			return apiErrors.New(ErrRateLimited).WithDetail("retry_after_seconds", seconds(wait))
		}

		req, err := decode(h.dispatcher.Codec(), c.Body())
		if err != nil {
			return err
		}
		jobID, err := h.dispatcher.Start(c.UserContext(), owner, req)
		if err != nil {
			return err
		}

		logx.WithFields(logx.Fields{
			"job_id":     jobID,
			"job_type":   req.ConcreteType(),
			"owner_id":   owner,
			"request_id": c.Get(fiber.HeaderXRequestID),
		}).Debug("jobxapi: job submitted")

		return c.Status(fiber.StatusAccepted).JSON(SubmitResponse{JobID: jobID, JobState: jobx.StateCreated})
	}
}

// Poll answers 202 with a status document while the job is pending, 200
// with the response envelope once complete, and the job's error otherwise.
func (h *Handlers) Poll() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := negotiate(c, false); err != nil {
			return err
		}
		owner, jobID, err := target(c)
		if err != nil {
			return err
		}

		o, err := h.status.Get(c.UserContext(), owner, jobID)
		if err != nil {
			return err
		}
		switch o.Kind {
		case jobx.OutcomeSuccess:
			body, err := h.dispatcher.Codec().Encode(o.Response)
			if err != nil {
				return err
			}
			c.Set(fiber.HeaderContentType, wirex.MediaType)
			return c.Status(fiber.StatusOK).Send(body)
		case jobx.OutcomePending:
			c.Set(fiber.HeaderRetryAfter, seconds(h.retryAfter))
			return c.Status(fiber.StatusAccepted).JSON(NewStatusDocument(o.Record))
		}
		return o.Err()
	}
}

// Status returns the status document of a job in any state.
func (h *Handlers) Status() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := negotiate(c, false); err != nil {
			return err
		}
		owner, jobID, err := target(c)
		if err != nil {
			return err
		}
		o, err := h.status.Get(c.UserContext(), owner, jobID)
		if err != nil {
			return err
		}
		return c.JSON(NewStatusDocument(o.Record))
	}
}

// Cancel asks the job to stop and answers 204.
func (h *Handlers) Cancel() fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner, jobID, err := target(c)
		if err != nil {
			return err
		}
		if err := h.status.Cancel(c.UserContext(), owner, jobID); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// negotiate enforces the single media type on request bodies and on the
// Accept header.
func negotiate(c *fiber.Ctx, hasBody bool) error {
	if hasBody && !c.Is("json") {
		return apiErrors.New(ErrUnsupportedMediaType).WithDetail("content_type", c.Get(fiber.HeaderContentType))
	}
	if c.Accepts(wirex.MediaType) == "" {
		return apiErrors.New(ErrNotAcceptable).WithDetail("accept", c.Get(fiber.HeaderAccept))
	}
	return nil
}

func ownerOf(c *fiber.Ctx) (kernel.OwnerID, error) {
	ac, ok := auth.FromFiber(c)
	if !ok {
		return "", iam.ErrUnauthorized()
	}
	return ac.OwnerID(), nil
}

func target(c *fiber.Ctx) (kernel.OwnerID, string, error) {
	owner, err := ownerOf(c)
	if err != nil {
		return "", "", err
	}
	jobID := c.Params("jobId")
	if jobID == "" {
		return "", "", apiErrors.New(ErrMissingJobID)
	}
	return owner, jobID, nil
}

func seconds(d time.Duration) string {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.FormatInt(s, 10)
}
