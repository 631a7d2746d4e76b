// Package worker launches the daemon's background workers.
//
// A Dispatcher holds an ordered list of workers. Launch initialises all of
// them in order and only then starts each Run in its own goroutine, so a
// failing Init aborts startup before anything is running.
//
// Workers are not restarted. A panic is recovered and the worker is marked
// failed; the rest of the daemon keeps running without it. A worker that
// returns an error other than context cancellation is reported on Fatal so
// the caller can shut down.
//
// Example usage:
//
//	d := worker.NewDispatcher()
//	d.SetLogger(logger)
//	if err := d.Register(mon); err != nil {
//	    return err
//	}
//	if err := d.Launch(ctx); err != nil {
//	    return err // wraps worker.ErrSpawnFailed
//	}
//	select {
//	case err := <-d.Fatal():
//	    return err
//	case <-ctx.Done():
//	}
//	d.Wait()
package worker
