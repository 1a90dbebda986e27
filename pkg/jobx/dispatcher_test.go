package jobx_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/repohub/pkg/errx"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxmemory"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/wirex"
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

type reportResult struct {
	Detail wirex.Nested[wirex.Entity] `json:"detail,omitzero"`
}

func (*reportResult) ConcreteType() string { return "ReportResult" }

// unlisted is never registered with the harness codec.
type unlisted struct{}

func (*unlisted) ConcreteType() string { return "Unlisted" }

const (
	alice kernel.OwnerID = "acme/alice"
	bob   kernel.OwnerID = "acme/bob"
)

type harness struct {
	store  *jobxmemory.Store
	queue  *jobxmemory.Queue
	disp   *jobx.Dispatcher
	status *jobx.StatusService
}

func newHarness(t *testing.T, opts ...jobx.WorkerOption) *harness {
	t.Helper()
	reg := wirex.NewRegistry()
	wirex.MustRegisterType[uploadJob](reg)
	wirex.MustRegisterType[uploadResult](reg)
	wirex.MustRegisterType[brokenJob](reg)
	wirex.MustRegisterType[reportResult](reg)
	codec := wirex.NewCodec(reg)

	store := jobxmemory.NewStore()
	queue := jobxmemory.NewQueue(64)
	opts = append([]jobx.WorkerOption{jobx.WithCancelCheckInterval(0)}, opts...)
	return &harness{
		store:  store,
		queue:  queue,
		disp:   jobx.NewDispatcher(store, queue, codec, opts...),
		status: jobx.NewStatusService(store, codec),
	}
}

// next pops the job id Start queued.
func (h *harness) next(t *testing.T) string {
	t.Helper()
	id, err := h.queue.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func rows(n int) func(context.Context, *jobx.Execution, *uploadJob) (wirex.Entity, error) {
	return func(context.Context, *jobx.Execution, *uploadJob) (wirex.Entity, error) {
		return &uploadResult{Rows: n}, nil
	}
}

func TestSubmitPollHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, rows(120)))

	id, err := h.disp.Start(ctx, alice, &uploadJob{File: "a.csv"})
	require.NoError(t, err)

	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomePending, o.Kind)
	assert.Equal(t, jobx.StateCreated, o.Record.State)
	assert.Equal(t, "UploadJob", o.Record.RequestType)
	assert.JSONEq(t, `{"concreteType":"UploadJob","file":"a.csv"}`, string(o.Record.Request))

	_, err = h.status.GetOrThrow(ctx, alice, id)
	assert.True(t, jobx.ErrNotReady.Is(err))

	h.disp.Process(ctx, h.next(t))

	o, err = h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeSuccess, o.Kind)
	assert.Equal(t, &uploadResult{Rows: 120}, o.Response)
	assert.JSONEq(t, `{"concreteType":"UploadResult","rows":120}`, string(o.Record.Response))

	res, err := jobx.GetAs[*uploadResult](ctx, h.status, alice, id)
	require.NoError(t, err)
	assert.Equal(t, 120, res.Rows)
}

func TestFailureSurfaced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, func(context.Context, *jobx.Execution, *brokenJob) (wirex.Entity, error) {
		return nil, jobx.Fail(jobx.ClassResourceExhausted, "disk full")
	}))

	id, err := h.disp.Start(ctx, alice, &brokenJob{})
	require.NoError(t, err)
	h.disp.Process(ctx, h.next(t))

	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeFailure, o.Kind)
	assert.Equal(t, &jobx.ErrorInfo{Message: "disk full", Classification: jobx.ClassResourceExhausted}, o.Failure)
	assert.Nil(t, o.Record.Response)

	_, err = h.status.GetOrThrow(ctx, alice, id)
	require.True(t, jobx.ErrJobFailed.Is(err))
	info, ok := jobx.FailureFromError(err)
	require.True(t, ok)
	assert.Equal(t, "disk full", info.Message)
	assert.Equal(t, jobx.ClassResourceExhausted, info.Classification)

	var e *errx.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusServiceUnavailable, e.HTTPStatus)
	assert.Equal(t, true, e.Details["retryable"])
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want jobx.ErrorInfo
	}{
		{"failure", jobx.Fail(jobx.ClassConflict, "taken"), jobx.ErrorInfo{Message: "taken", Classification: jobx.ClassConflict}},
		{"wrapped failure", errors.Join(errors.New("ctx"), jobx.Fail(jobx.ClassUnavailable, "down")), jobx.ErrorInfo{Message: "down", Classification: jobx.ClassUnavailable}},
		{"errx validation", errx.New("bad column", errx.TypeValidation), jobx.ErrorInfo{Message: "bad column", Classification: jobx.ClassInvalidRequest}},
		{"deadline", context.DeadlineExceeded, jobx.ErrorInfo{Message: context.DeadlineExceeded.Error(), Classification: jobx.ClassDeadlineExceeded}},
		{"plain", errors.New("oops"), jobx.ErrorInfo{Message: "oops", Classification: jobx.ClassInternal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jobx.Classify(tt.err))
		})
	}
}

func TestHandlerPanicFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, func(context.Context, *jobx.Execution, *brokenJob) (wirex.Entity, error) {
		panic("nil map")
	}))

	id, err := h.disp.Start(ctx, alice, &brokenJob{})
	require.NoError(t, err)
	h.disp.Process(ctx, h.next(t))

	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	require.Equal(t, jobx.OutcomeFailure, o.Kind)
	assert.Equal(t, jobx.ClassInternal, o.Failure.Classification)
}

func TestUnencodableResponseFailsJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, func(context.Context, *jobx.Execution, *brokenJob) (wirex.Entity, error) {
		return &reportResult{Detail: wirex.NewNested[wirex.Entity](&unlisted{})}, nil
	}))

	id, err := h.disp.Start(ctx, alice, &brokenJob{})
	require.NoError(t, err)
	h.disp.Process(ctx, h.next(t))

	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	require.Equal(t, jobx.OutcomeFailure, o.Kind)
	assert.Equal(t, jobx.StateFailed, o.Record.State)
	assert.Equal(t, jobx.ClassInternal, o.Failure.Classification)
	assert.Equal(t, "job response cannot be encoded", o.Failure.Message)
	assert.Nil(t, o.Record.Response)
	assert.Nil(t, o.Response)
}

func TestStart_RejectsUnhandledRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.disp.Start(context.Background(), alice, &brokenJob{})
	assert.True(t, jobx.ErrNoHandler.Is(err))
	assert.Equal(t, 0, h.store.Len())

	_, err = h.disp.Start(context.Background(), "", &uploadJob{})
	assert.True(t, jobx.ErrInvalidJob.Is(err))
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, rows(1)))
	assert.True(t, jobx.ErrDuplicateHandler.Is(jobx.Handle(h.disp, rows(2))))
	assert.Equal(t, []string{"UploadJob"}, h.disp.RequestTypes())

	assert.True(t, wirex.ErrUnknownType.Is(h.disp.Register("Nope", nil)))
}

// blocking returns a handler that signals started and waits for release.
func blocking(started chan<- struct{}, release <-chan struct{}, checkpoint bool) func(context.Context, *jobx.Execution, *uploadJob) (wirex.Entity, error) {
	return func(ctx context.Context, exec *jobx.Execution, _ *uploadJob) (wirex.Entity, error) {
		close(started)
		<-release
		if checkpoint {
			if err := exec.Checkpoint(ctx); err != nil {
				return nil, err
			}
		}
		return &uploadResult{Rows: 1}, nil
	}
}

func TestCancelRace(t *testing.T) {
	for _, checkpoint := range []bool{false, true} {
		t.Run(map[bool]string{false: "worker ignores flag", true: "worker checks flag"}[checkpoint], func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			started, release := make(chan struct{}), make(chan struct{})
			require.NoError(t, jobx.Handle(h.disp, blocking(started, release, checkpoint)))

			id, err := h.disp.Start(ctx, alice, &uploadJob{File: "big.csv"})
			require.NoError(t, err)

			jobID := h.next(t)
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.disp.Process(ctx, jobID)
			}()
			<-started

			require.NoError(t, h.status.Cancel(ctx, alice, id))
			o, err := h.status.Get(ctx, alice, id)
			require.NoError(t, err)
			assert.Equal(t, jobx.OutcomePending, o.Kind)
			assert.Equal(t, jobx.StateCancelling, o.Record.State)

			close(release)
			<-done

			for i := 0; i < 3; i++ {
				o, err := h.status.Get(ctx, alice, id)
				require.NoError(t, err)
				assert.Equal(t, jobx.OutcomeCancelled, o.Kind)
				assert.Nil(t, o.Record.Response)
				assert.Nil(t, o.Record.Error)
			}
			_, err = h.status.GetOrThrow(ctx, alice, id)
			assert.True(t, jobx.ErrJobCancelled.Is(err))
		})
	}
}

func TestCancelBeforeClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	called := false
	require.NoError(t, jobx.Handle(h.disp, func(context.Context, *jobx.Execution, *uploadJob) (wirex.Entity, error) {
		called = true
		return &uploadResult{}, nil
	}))

	id, err := h.disp.Start(ctx, alice, &uploadJob{})
	require.NoError(t, err)
	require.NoError(t, h.status.Cancel(ctx, alice, id))
	h.disp.Process(ctx, h.next(t))

	assert.False(t, called)
	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeCancelled, o.Kind)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, rows(3)))

	pending, err := h.disp.Start(ctx, alice, &uploadJob{})
	require.NoError(t, err)
	require.NoError(t, h.status.Cancel(ctx, alice, pending))
	require.NoError(t, h.status.Cancel(ctx, alice, pending))

	finished, err := h.disp.Start(ctx, alice, &uploadJob{})
	require.NoError(t, err)
	h.disp.Process(ctx, h.next(t))
	h.disp.Process(ctx, h.next(t))

	require.NoError(t, h.status.Cancel(ctx, alice, finished))
	require.NoError(t, h.status.Cancel(ctx, alice, finished))

	o, err := h.status.Get(ctx, alice, finished)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeSuccess, o.Kind)

	o, err = h.status.Get(ctx, alice, pending)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeCancelled, o.Kind)
}

func TestOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, jobx.Handle(h.disp, rows(1)))

	id, err := h.disp.Start(ctx, alice, &uploadJob{})
	require.NoError(t, err)

	_, foreignErr := h.status.Get(ctx, bob, id)
	_, missingErr := h.status.Get(ctx, bob, "00000000-0000-0000-0000-000000000000")
	assert.True(t, jobx.ErrJobNotFound.Is(foreignErr))
	assert.True(t, jobx.ErrJobNotFound.Is(missingErr))

	var fe, me *errx.Error
	require.True(t, errors.As(foreignErr, &fe))
	require.True(t, errors.As(missingErr, &me))
	assert.Equal(t, me.Message, fe.Message)
	assert.Equal(t, me.HTTPStatus, fe.HTTPStatus)
	assert.Equal(t, len(me.Details), len(fe.Details))

	assert.True(t, jobx.ErrJobNotFound.Is(h.status.Cancel(ctx, bob, id)))
	_, err = h.status.GetOrThrow(ctx, bob, id)
	assert.True(t, jobx.ErrJobNotFound.Is(err))

	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.StateCreated, o.Record.State, "foreign cancel must not touch the job")
}

func TestProgressReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reported, release := make(chan struct{}), make(chan struct{})
	require.NoError(t, jobx.Handle(h.disp, func(ctx context.Context, exec *jobx.Execution, _ *uploadJob) (wirex.Entity, error) {
		if err := exec.Progress(ctx, 500, 1000, "rows"); err != nil {
			return nil, err
		}
		close(reported)
		<-release
		return &uploadResult{Rows: 1000}, nil
	}))

	id, err := h.disp.Start(ctx, alice, &uploadJob{})
	require.NoError(t, err)
	jobID := h.next(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.disp.Process(ctx, jobID)
	}()
	<-reported

	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.StateProcessing, o.Record.State)
	assert.Equal(t, &jobx.Progress{Current: 500, Total: 1000, Message: "rows"}, o.Record.Progress)

	_, err = h.status.GetOrThrow(ctx, alice, id)
	var e *errx.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "PROCESSING", e.Details["job_state"])

	close(release)
	<-done
}

func TestCancelInterruptsContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jobx.WithCancelCheckInterval(5*time.Millisecond))
	started := make(chan struct{})
	require.NoError(t, jobx.Handle(h.disp, func(ctx context.Context, _ *jobx.Execution, _ *uploadJob) (wirex.Entity, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	id, err := h.disp.Start(ctx, alice, &uploadJob{})
	require.NoError(t, err)
	jobID := h.next(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.disp.Process(ctx, jobID)
	}()
	<-started
	require.NoError(t, h.status.Cancel(ctx, alice, id))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not interrupted")
	}
	o, err := h.status.Get(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeCancelled, o.Kind)
}

func TestRun_ProcessesAndObservationsAreMonotonic(t *testing.T) {
	h := newHarness(t, jobx.WithConcurrency(2), jobx.WithDequeueTimeout(10*time.Millisecond))
	require.NoError(t, jobx.Handle(h.disp, func(ctx context.Context, exec *jobx.Execution, _ *uploadJob) (wirex.Entity, error) {
		for i := int64(1); i <= 5; i++ {
			if err := exec.Progress(ctx, i, 5, ""); err != nil {
				return nil, err
			}
			time.Sleep(2 * time.Millisecond)
		}
		return &uploadResult{Rows: 5}, nil
	}))

	ctx, stop := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- h.disp.Run(ctx) }()

	id, err := h.disp.Start(context.Background(), alice, &uploadJob{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			var terminal *jobx.JobRecord
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				o, err := h.status.Get(context.Background(), alice, id)
				if !assert.NoError(t, err) {
					return
				}
				rank := o.Record.State.Rank()
				assert.GreaterOrEqual(t, rank, last)
				last = rank
				if terminal != nil {
					assert.Equal(t, terminal.State, o.Record.State)
					assert.Equal(t, string(terminal.Response), string(o.Record.Response))
					return
				}
				if o.Record.State.IsTerminal() {
					terminal = o.Record
				}
			}
			t.Error("job did not finish")
		}()
	}
	wg.Wait()

	o, err := h.status.Get(context.Background(), alice, id)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeSuccess, o.Kind)

	assert.True(t, jobx.ErrAlreadyRunning.Is(h.disp.Run(context.Background())))

	stop()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// brokenQueue panics on every Pop.
type brokenQueue struct{ *jobxmemory.Queue }

func (brokenQueue) Pop(context.Context, time.Duration) (string, error) {
	panic("queue connection lost")
}

func TestRun_WorkerPanicDoesNotCrash(t *testing.T) {
	reg := wirex.NewRegistry()
	wirex.MustRegisterType[uploadJob](reg)
	disp := jobx.NewDispatcher(jobxmemory.NewStore(), brokenQueue{jobxmemory.NewQueue(1)}, wirex.NewCodec(reg),
		jobx.WithConcurrency(2), jobx.WithShutdownTimeout(time.Second))

	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	assert.NoError(t, disp.Run(ctx))
}
