package jobxclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Abraxas-365/repohub/pkg/asyncx"
	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/iam/auth"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxapi"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxmemory"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadJob struct {
	File string `json:"file"`
}

func (*uploadJob) ConcreteType() string { return "UploadJob" }

type uploadResult struct {
	Rows int `json:"rows"`
}

func (*uploadResult) ConcreteType() string { return "UploadResult" }

type brokenJob struct{}

func (*brokenJob) ConcreteType() string { return "BrokenJob" }

func newCodec() *wirex.Codec {
	reg := wirex.NewRegistry()
	wirex.MustRegisterType[uploadJob](reg)
	wirex.MustRegisterType[uploadResult](reg)
	wirex.MustRegisterType[brokenJob](reg)
	return wirex.NewCodec(reg)
}

var fast = asyncx.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}

// newServer runs the real API, a worker loop and JWT auth behind httptest.
func newServer(t *testing.T, release <-chan struct{}) (*Client, *auth.JWTService, string) {
	t.Helper()
	codec := newCodec()
	store := jobxmemory.NewStore()
	disp := jobx.NewDispatcher(store, jobxmemory.NewQueue(16), codec,
		jobx.WithDequeueTimeout(10*time.Millisecond),
		jobx.WithCancelCheckInterval(5*time.Millisecond),
		jobx.WithShutdownTimeout(time.Second),
	)
	require.NoError(t, jobx.Handle(disp, func(ctx context.Context, _ *jobx.Execution, req *uploadJob) (wirex.Entity, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &uploadResult{Rows: len(req.File)}, nil
	}))
	require.NoError(t, jobx.Handle(disp, func(context.Context, *jobx.Execution, *brokenJob) (wirex.Entity, error) {
		return nil, jobx.Fail(jobx.ClassResourceExhausted, "disk full")
	}))

	jwtSvc := auth.NewJWTService("secret", time.Minute, "")
	app := fiber.New(fiber.Config{ErrorHandler: errx.FiberErrorHandler})
	jobxapi.NewHandlers(disp, jobx.NewStatusService(store, codec)).
		RegisterRoutes(app, auth.NewAuthMiddleware(jwtSvc).Authenticate())

	srv := httptest.NewServer(adaptor.FiberApp(app))
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = disp.Run(ctx)
	}()
	t.Cleanup(func() {
		stop()
		<-done
		srv.Close()
	})

	token, err := jwtSvc.GenerateAccessToken("alice", "acme", map[string]any{"scopes": []string{"jobs:operator"}})
	require.NoError(t, err)
	return New(srv.URL, newCodec(), WithToken(token), WithBackoff(fast)), jwtSvc, srv.URL
}

func TestClient_StartAwait(t *testing.T) {
	release := make(chan struct{})
	c, _, _ := newServer(t, release)
	ctx := context.Background()

	id, err := c.Start(ctx, &uploadJob{File: "a.csv"})
	require.NoError(t, err)

	res, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.Equal(t, id, res.Status.JobID)

	close(release)
	got, err := AwaitAs[*uploadResult](ctx, c, id)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Rows)

	doc, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.StateComplete, doc.JobState)
}

func TestClient_AwaitFailure(t *testing.T) {
	c, _, _ := newServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Start(ctx, &brokenJob{})
	require.NoError(t, err)

	_, err = c.Await(ctx, id)
	require.True(t, jobx.ErrJobFailed.Is(err), "got %v", err)
	info, ok := jobx.FailureFromError(err)
	require.True(t, ok)
	assert.Equal(t, jobx.ErrorInfo{Message: "disk full", Classification: jobx.ClassResourceExhausted}, info)
}

func TestClient_CancelAndOwnership(t *testing.T) {
	c, jwtSvc, url := newServer(t, make(chan struct{}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.Start(ctx, &uploadJob{File: "big.csv"})
	require.NoError(t, err)

	bobToken, err := jwtSvc.GenerateAccessToken("bob", "acme", map[string]any{"scopes": []string{"jobs:operator"}})
	require.NoError(t, err)
	bob := New(url, newCodec(), WithToken(bobToken), WithBackoff(fast))
	_, err = bob.Get(ctx, id)
	assert.True(t, jobx.ErrJobNotFound.Is(err))
	assert.True(t, jobx.ErrJobNotFound.Is(bob.Cancel(ctx, id)))

	require.NoError(t, c.Cancel(ctx, id))
	require.NoError(t, c.Cancel(ctx, id))

	_, err = c.Await(ctx, id)
	assert.True(t, jobx.ErrJobCancelled.Is(err), "got %v", err)
}

func TestClient_AwaitHonoursContext(t *testing.T) {
	c, _, _ := newServer(t, make(chan struct{}))
	id, err := c.Start(context.Background(), &uploadJob{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Await(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnexpected_NonErrorBody(t *testing.T) {
	err := unexpected(502, []byte("<html>bad gateway</html>"))
	assert.True(t, ErrResponse.Is(err))

	var e *errx.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 502, e.Details["status_code"])
	assert.Contains(t, e.DetailString("body"), "bad gateway")
}

func TestUnexpected_ErrorDocument(t *testing.T) {
	body := `{"code":"JOBX_JOB_NOT_FOUND","message":"Job not found","type":"NOT_FOUND","details":{"job_id":"x"}}`
	err := unexpected(404, []byte(body))
	assert.True(t, jobx.ErrJobNotFound.Is(err))

	var e *errx.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 404, e.HTTPStatus)
	assert.Equal(t, "x", e.DetailString("job_id"))
}
