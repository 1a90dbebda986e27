package jobx

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/repohub/pkg/asyncx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	"github.com/google/uuid"
)

// HandlerFunc computes the response for one decoded request. Return a
// Failure (see Fail) to control how the error is classified.
type HandlerFunc func(ctx context.Context, exec *Execution, req wirex.Entity) (wirex.Entity, error)

// Dispatcher accepts typed requests, persists them as JobRecords and runs
// them on its worker loop.
type Dispatcher struct {
	store    Store
	queue    Queue
	codec    *wirex.Codec
	opts     WorkerOptions
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	running  bool
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. Handlers are added with Handle.
func NewDispatcher(store Store, queue Queue, codec *wirex.Codec, options ...WorkerOption) *Dispatcher {
	opts := defaultWorkerOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Dispatcher{
		store:    store,
		queue:    queue,
		codec:    codec,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Codec returns the codec requests and responses are encoded with.
func (d *Dispatcher) Codec() *wirex.Codec { return d.codec }

// Register adds the handler for requests whose discriminator is requestType.
func (d *Dispatcher) Register(requestType string, handler HandlerFunc) error {
	if _, err := d.codec.Registry().Resolve(requestType); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[requestType]; ok {
		return jobxErrors.New(ErrDuplicateHandler).WithDetail("request_type", requestType)
	}
	d.handlers[requestType] = handler
	return nil
}

// Handle registers a handler typed on its request. The request type must
// be registered with the dispatcher's codec.
func Handle[T any, PT interface {
	*T
	wirex.Entity
}](d *Dispatcher, h func(ctx context.Context, exec *Execution, req PT) (wirex.Entity, error)) error {
	requestType := PT(new(T)).ConcreteType()
	return d.Register(requestType, func(ctx context.Context, exec *Execution, req wirex.Entity) (wirex.Entity, error) {
		typed, ok := req.(PT)
		if !ok {
			return nil, Failf(ClassInvalidRequest, "request %s has unexpected type", requestType)
		}
		return h(ctx, exec, typed)
	})
}

// RequestTypes lists the request discriminators that have a handler.
func (d *Dispatcher) RequestTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) handler(requestType string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[requestType]
	return h, ok
}

// Start persists req as a CREATED job owned by owner, queues it and returns
// its id. It never waits for the job to run.
func (d *Dispatcher) Start(ctx context.Context, owner kernel.OwnerID, req wirex.Entity) (string, error) {
	if owner.IsEmpty() {
		return "", jobxErrors.NewWithMessage(ErrInvalidJob, "owner is required")
	}
	if req == nil {
		return "", jobxErrors.NewWithMessage(ErrInvalidJob, "request is required")
	}
	requestType := req.ConcreteType()
	if _, ok := d.handler(requestType); !ok {
		return "", jobxErrors.New(ErrNoHandler).WithDetail("request_type", requestType)
	}
	payload, err := d.codec.Encode(req)
	if err != nil {
		return "", err
	}

	now := d.now()
	rec := &JobRecord{
		JobID:         uuid.NewString(),
		OwnerID:       owner,
		RequestType:   requestType,
		State:         StateCreated,
		Request:       payload,
		StartedOn:     now,
		LastChangedOn: now,
	}
	if err := d.store.Create(ctx, rec); err != nil {
		return "", err
	}

	log := logx.WithFields(logx.Fields{"job_id": rec.JobID, "job_type": requestType, "owner_id": owner})
	if err := d.queue.Push(ctx, rec.JobID); err != nil {
		log.WithError(err).Error("jobx: enqueue failed")
		info := ErrorInfo{Message: "job could not be queued", Classification: ClassUnavailable}
		if _, _, tErr := d.store.Transition(ctx, rec.JobID, Transition{From: []State{StateCreated}, To: StateFailed, Error: &info}); tErr != nil {
			log.WithError(tErr).Error("jobx: failed to mark unqueued job as failed")
		}
		return "", jobxErrors.NewWithCause(ErrEnqueueFailed, err).WithDetail("job_id", rec.JobID)
	}

	log.Info("jobx: job created")
	return rec.JobID, nil
}

// Run processes queued jobs until ctx is cancelled, then waits up to the
// shutdown timeout for running jobs to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return jobxErrors.New(ErrAlreadyRunning)
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	logx.Infof("jobx: starting %d workers for %v", d.opts.Concurrency, d.RequestTypes())

	var wg sync.WaitGroup
	for i := range d.opts.Concurrency {
		wg.Add(1)
		asyncx.Go(func() {
			defer wg.Done()
			d.workerLoop(ctx, i)
		}, func(p *asyncx.PanicError) {
			logx.WithField("worker", i).WithError(p).Error("jobx: worker stopped after panic")
		})
	}

	<-ctx.Done()
	logx.Info("jobx: shutting down workers...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("jobx: all workers stopped")
	case <-time.After(d.opts.ShutdownTimeout):
		logx.Warn("jobx: shutdown timed out, some jobs may not have completed")
	}
	return nil
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := d.queue.Pop(ctx, d.opts.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warnf("jobx: worker %d dequeue error", id)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.opts.PollInterval):
			}
			continue
		}
		if jobID == "" {
			continue
		}

		// Running jobs are not interrupted by shutdown; Run bounds the wait.
		d.Process(context.WithoutCancel(ctx), jobID)
	}
}

// Process runs one queued job to a terminal state. Workers call it for every
// id they pop; a job that is no longer CREATED is skipped.
func (d *Dispatcher) Process(ctx context.Context, jobID string) {
	log := logx.WithField("job_id", jobID)

	rec, claimed, err := d.store.Transition(ctx, jobID, Transition{From: []State{StateCreated}, To: StateProcessing})
	if err != nil {
		log.WithError(err).Error("jobx: claim failed")
		return
	}
	if !claimed {
		if rec.State == StateCancelling {
			d.commit(ctx, rec, Transition{From: []State{StateCancelling}, To: StateCancelled})
			return
		}
		log.Debugf("jobx: skipping job in state %s", rec.State)
		return
	}
	log = log.WithFields(logx.Fields{"job_type": rec.RequestType, "owner_id": rec.OwnerID})
	log.Info("jobx: job started")

	handler, ok := d.handler(rec.RequestType)
	if !ok {
		d.fail(ctx, rec, Failf(ClassInvalidRequest, "no handler registered for request type %s", rec.RequestType))
		return
	}
	req, err := d.codec.Decode(rec.Request)
	if err != nil {
		d.fail(ctx, rec, FailWith(ClassInvalidRequest, "stored request cannot be decoded", err))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec := newExecution(d.store, rec, cancel)
	stopWatch := d.watchCancel(jobCtx, exec)

	var resp wirex.Entity
	err = asyncx.Safe(func() error {
		var hErr error
		resp, hErr = handler(jobCtx, exec, req)
		return hErr
	})
	stopWatch()

	switch {
	case err != nil && (ErrJobCancelled.Is(err) || (exec.Cancelled() && errors.Is(err, context.Canceled))):
		d.commit(ctx, rec, Transition{From: []State{StateProcessing, StateCancelling}, To: StateCancelled})
	case err != nil:
		var p *asyncx.PanicError
		if errors.As(err, &p) {
			log.WithError(err).Errorf("jobx: handler panicked\n%s", p.Stack)
			err = Fail(ClassInternal, "job handler panicked")
		}
		d.fail(ctx, rec, err)
	case resp == nil:
		d.fail(ctx, rec, Fail(ClassInternal, "job handler returned no response"))
	default:
		body, encErr := d.codec.Encode(resp)
		if encErr != nil {
			d.fail(ctx, rec, FailWith(ClassInternal, "job response cannot be encoded", encErr))
			return
		}
		d.commit(ctx, rec, Transition{From: []State{StateProcessing}, To: StateComplete, Response: body})
	}
}

func (d *Dispatcher) fail(ctx context.Context, rec *JobRecord, err error) {
	info := Classify(err)
	logx.WithFields(logx.Fields{"job_id": rec.JobID, "job_type": rec.RequestType, "classification": info.Classification}).
		WithError(err).
		Warn("jobx: job failed")
	d.commit(ctx, rec, Transition{From: []State{StateProcessing}, To: StateFailed, Error: &info})
}

// commit writes the terminal transition. A job asked to cancel while it was
// finishing ends as CANCELLED.
func (d *Dispatcher) commit(ctx context.Context, rec *JobRecord, t Transition) {
	log := logx.WithFields(logx.Fields{"job_id": rec.JobID, "job_type": rec.RequestType})

	cur, applied, err := d.store.Transition(ctx, rec.JobID, t)
	if err == nil && !applied && cur.State == StateCancelling {
		t = Transition{From: []State{StateCancelling}, To: StateCancelled}
		cur, applied, err = d.store.Transition(ctx, rec.JobID, t)
	}
	switch {
	case err != nil:
		log.WithError(err).Errorf("jobx: failed to move job to %s", t.To)
	case !applied:
		log.Warnf("jobx: job already %s, dropping %s", cur.State, t.To)
	default:
		log.Infof("jobx: job %s", cur.State)
	}
}

// watchCancel cancels the job's context when its record turns CANCELLING.
func (d *Dispatcher) watchCancel(ctx context.Context, exec *Execution) (stop func()) {
	if d.opts.CancelCheckInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	asyncx.Go(func() {
		defer close(done)
		ticker := time.NewTicker(d.opts.CancelCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := exec.Checkpoint(ctx); err != nil && !ErrJobCancelled.Is(err) && ctx.Err() == nil {
					logx.WithField("job_id", exec.JobID()).WithError(err).Warn("jobx: cancel check failed")
				}
				if exec.Cancelled() {
					return
				}
			}
		}
	}, func(p *asyncx.PanicError) {
		logx.WithField("job_id", exec.JobID()).WithError(p).Error("jobx: cancel watcher panicked")
	})
	return func() {
		cancel()
		<-done
	}
}
