// Package async runs background work off the request path.
//
// WorkerPool is a bounded queue served by a fixed number of workers. Submit
// never blocks: a full queue is reported as ErrQueueFull so request
// handlers can degrade instead of stalling.
//
//	pool := async.NewWorkerPool(ctx, 2, 100, "invitation delivery", 30*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	err := pool.Submit(func(ctx context.Context) error {
//		return mailer.Send(ctx, msg)
//	})
//
// Tasks get their own timeout. Errors and panics are logged with the task
// name and never reach the caller.
//
// # Related Packages
//
//   - pkg/sso: QueuedNotifier delivers invitations through a pool
package async
