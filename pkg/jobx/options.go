package jobx

import "time"

// WorkerOptions configures the dispatcher's worker loop.
type WorkerOptions struct {
	Concurrency     int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	DequeueTimeout  time.Duration

	// CancelCheckInterval is how often a running job's record is re-read so
	// a cancel request also cancels the handler's context. Zero disables it;
	// handlers then only notice cancellation at their own checkpoints.
	CancelCheckInterval time.Duration
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:         4,
		PollInterval:        time.Second,
		ShutdownTimeout:     30 * time.Second,
		DequeueTimeout:      5 * time.Second,
		CancelCheckInterval: time.Second,
	}
}

// WorkerOption is a functional option for configuring the dispatcher.
type WorkerOption func(*WorkerOptions)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithPollInterval sets the pause after a failed dequeue.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.PollInterval = d
	}
}

// WithShutdownTimeout sets the maximum time to wait for workers to finish on shutdown.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.ShutdownTimeout = d
	}
}

// WithDequeueTimeout sets the timeout passed to the blocking Queue.Pop call.
func WithDequeueTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.DequeueTimeout = d
	}
}

// WithCancelCheckInterval sets how often running jobs look for a cancel request.
func WithCancelCheckInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.CancelCheckInterval = d
	}
}
