package jobxapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/iam/auth"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxmemory"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tableRequest interface {
	wirex.Entity
	table() string
}

type uploadJob struct {
	File string `json:"file"`
}

func (*uploadJob) ConcreteType() string { return "UploadJob" }
func (u *uploadJob) table() string      { return u.File }

type uploadResult struct {
	Rows int `json:"rows"`
}

func (*uploadResult) ConcreteType() string { return "UploadResult" }

type brokenJob struct{}

func (*brokenJob) ConcreteType() string { return "BrokenJob" }

type fixture struct {
	app   *fiber.App
	store *jobxmemory.Store
	queue *jobxmemory.Queue
	disp  *jobx.Dispatcher
}

// fakeAuth trusts the X-Test-User header ("tenant/user").
func fakeAuth(c *fiber.Ctx) error {
	tenant, user, ok := strings.Cut(c.Get("X-Test-User"), "/")
	if ok {
		uid := kernel.UserID(user)
		c.Locals(auth.LocalsKey, &kernel.AuthContext{UserID: &uid, TenantID: kernel.TenantID(tenant), Scopes: []string{"*"}})
	}
	return c.Next()
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := wirex.NewRegistry()
	wirex.MustRegisterType[uploadJob](reg)
	wirex.MustRegisterType[uploadResult](reg)
	wirex.MustRegisterType[brokenJob](reg)
	codec := wirex.NewCodec(reg)

	store := jobxmemory.NewStore()
	queue := jobxmemory.NewQueue(16)
	disp := jobx.NewDispatcher(store, queue, codec, jobx.WithCancelCheckInterval(0))
	require.NoError(t, jobx.Handle(disp, func(context.Context, *jobx.Execution, *uploadJob) (wirex.Entity, error) {
		return &uploadResult{Rows: 120}, nil
	}))
	require.NoError(t, jobx.Handle(disp, func(context.Context, *jobx.Execution, *brokenJob) (wirex.Entity, error) {
		return nil, jobx.Fail(jobx.ClassResourceExhausted, "disk full")
	}))

	h := NewHandlers(disp, jobx.NewStatusService(store, codec), opts...)
	app := fiber.New(fiber.Config{ErrorHandler: errx.FiberErrorHandler})
	h.RegisterRoutes(app, fakeAuth)
	app.Post("/tables/start", fakeAuth, SubmitAs[tableRequest](h))

	return &fixture{app: app, store: store, queue: queue, disp: disp}
}

func (f *fixture) do(t *testing.T, method, path, user, body string, header ...string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (f *fixture) submit(t *testing.T, user, body string) string {
	t.Helper()
	resp, raw := f.do(t, "POST", "/api/v1/jobs", user, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, raw)
	var out SubmitResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	require.NotEmpty(t, out.JobID)
	assert.Equal(t, jobx.StateCreated, out.JobState)
	return out.JobID
}

func (f *fixture) runNext(t *testing.T) {
	t.Helper()
	id, err := f.queue.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	f.disp.Process(context.Background(), id)
}

func errorDoc(t *testing.T, raw string) errx.HTTPErrorResponse {
	t.Helper()
	var doc errx.HTTPErrorResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &doc), raw)
	return doc
}

const alice = "acme/alice"

func TestSubmitPoll_HappyPath(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, `{"concreteType":"UploadJob","file":"a.csv"}`)

	resp, raw := f.do(t, "GET", "/api/v1/jobs/"+id, alice, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
	var doc StatusDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, id, doc.JobID)
	assert.Equal(t, jobx.StateCreated, doc.JobState)
	assert.Equal(t, "UploadJob", doc.RequestType)

	f.runNext(t)

	resp, raw = f.do(t, "GET", "/api/v1/jobs/"+id, alice, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"concreteType":"UploadResult","rows":120}`, raw)

	resp, raw = f.do(t, "GET", "/api/v1/jobs/"+id+"/status", alice, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, jobx.StateComplete, doc.JobState)
}

func TestSubmit_RejectsBadPayloads(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid json", `{"concreteType":`, 400, "WIRE_MALFORMED_PAYLOAD"},
		{"missing discriminator", `{"file":"a.csv"}`, 400, "WIRE_MALFORMED_PAYLOAD"},
		{"unknown discriminator", `{"concreteType":"DropTable"}`, 400, "WIRE_UNKNOWN_TYPE"},
		{"wrong field shape", `{"concreteType":"UploadJob","file":["a"]}`, 400, "WIRE_MALFORMED_PAYLOAD"},
		{"registered but not a request", `{"concreteType":"UploadResult","rows":1}`, 400, "JOBX_NO_HANDLER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := f.do(t, "POST", "/api/v1/jobs", alice, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorDoc(t, raw).Code)
		})
	}
	assert.Equal(t, 0, f.store.Len(), "bad submissions are never stored")
}

func TestSubmit_ContentNegotiation(t *testing.T) {
	f := newFixture(t)

	resp, raw := f.do(t, "POST", "/api/v1/jobs", alice, `{"concreteType":"UploadJob"}`, "Content-Type", "text/plain")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "JOBXAPI_UNSUPPORTED_MEDIA_TYPE", errorDoc(t, raw).Code)

	resp, raw = f.do(t, "POST", "/api/v1/jobs", alice, `{"concreteType":"UploadJob"}`, "Accept", "application/xml")
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	assert.Equal(t, "JOBXAPI_NOT_ACCEPTABLE", errorDoc(t, raw).Code)

	resp, _ = f.do(t, "POST", "/api/v1/jobs", alice, `{"concreteType":"UploadJob"}`, "Content-Type", "application/json; charset=utf-8")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSubmit_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	resp, raw := f.do(t, "POST", "/api/v1/jobs", "", `{"concreteType":"UploadJob"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "IAM_UNAUTHORIZED", errorDoc(t, raw).Code)
}

func TestPoll_FailureSurfaced(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, `{"concreteType":"BrokenJob"}`)
	f.runNext(t)

	resp, raw := f.do(t, "GET", "/api/v1/jobs/"+id, alice, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	doc := errorDoc(t, raw)
	assert.Equal(t, "JOBX_JOB_FAILED", doc.Code)
	assert.Equal(t, "disk full", doc.Message)
	assert.Equal(t, "RESOURCE_EXHAUSTED", doc.Details["classification"])

	info, ok := jobx.FailureFromError(errx.FromHTTPResponse(doc))
	require.True(t, ok)
	assert.True(t, info.Classification.Retryable())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, `{"concreteType":"UploadJob"}`)

	resp, _ := f.do(t, "DELETE", "/api/v1/jobs/"+id, alice, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, "DELETE", "/api/v1/jobs/"+id, alice, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	f.runNext(t)

	resp, raw := f.do(t, "GET", "/api/v1/jobs/"+id, alice, "")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "JOBX_JOB_CANCELLED", errorDoc(t, raw).Code)
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, alice, `{"concreteType":"UploadJob"}`)

	for _, path := range []string{"/api/v1/jobs/" + id, "/api/v1/jobs/" + id + "/status"} {
		resp, raw := f.do(t, "GET", path, "acme/bob", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "JOBX_JOB_NOT_FOUND", errorDoc(t, raw).Code)
	}

	foreign, rawForeign := f.do(t, "DELETE", "/api/v1/jobs/"+id, "globex/alice", "")
	missing, rawMissing := f.do(t, "DELETE", "/api/v1/jobs/nope", "globex/alice", "")
	assert.Equal(t, http.StatusNotFound, foreign.StatusCode)
	assert.Equal(t, missing.StatusCode, foreign.StatusCode)
	assert.Equal(t, errorDoc(t, rawMissing).Message, errorDoc(t, rawForeign).Message)
}

func TestSubmit_RateLimitedPerOwner(t *testing.T) {
	f := newFixture(t, WithLimiter(NewOwnerLimiter(0.5, 1)))

	f.submit(t, alice, `{"concreteType":"UploadJob"}`)
	resp, raw := f.do(t, "POST", "/api/v1/jobs", alice, `{"concreteType":"UploadJob"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
	assert.Equal(t, "JOBXAPI_RATE_LIMITED", errorDoc(t, raw).Code)

	f.submit(t, "acme/bob", `{"concreteType":"UploadJob"}`)
}

func TestSubmitAs_FamilyMismatch(t *testing.T) {
	f := newFixture(t)

	resp, raw := f.do(t, "POST", "/tables/start", alice, `{"concreteType":"BrokenJob"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "WIRE_TYPE_MISMATCH", errorDoc(t, raw).Code)

	resp, _ = f.do(t, "POST", "/tables/start", alice, `{"concreteType":"UploadJob","file":"t.csv"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
