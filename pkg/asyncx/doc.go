// Package asyncx holds the small concurrency helpers shared by the job
// worker loop and the job client.
//
// # Panic safety
//
// [Safe] runs a function and converts a panic into a [*PanicError] carrying
// the recovered value and stack, so a misbehaving job handler fails its job
// instead of the worker process:
//
//	err := asyncx.Safe(func() error {
//	    return handler(ctx, req)
//	})
//
// # Retry
//
// [RetryWithBackoff] calls a function until it succeeds, the error is not
// retryable, the attempts are used up or the context ends. Delays grow by
// [Backoff.Multiplier] up to [Backoff.Max]:
//
//	resp, err := asyncx.RetryWithBackoff(ctx, asyncx.DefaultBackoff, 0,
//	    isNotReady,
//	    func(ctx context.Context) (*Response, error) { return client.Get(ctx, id) },
//	)
package asyncx
