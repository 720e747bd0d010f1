package bot

import "context"

// Enqueue runs work on a worker goroutine.
func (robo *Robot) Enqueue(ctx context.Context, work func(context.Context)) {
	var w chan func(context.Context)
	// Get a worker if one exists. Otherwise, spawn a new one.
	select {
	case w = <-robo.works:
	default:
		w = make(chan func(context.Context), 1)
		go worker(ctx, robo.works, w)
	}
	robo.pending.Add(1)
	done := func(ctx context.Context) {
		defer robo.pending.Done()
		work(ctx)
	}
	select {
	case <-ctx.Done():
		robo.pending.Done()
	case w <- done:
	}
}

// Wait blocks until all work passed to Enqueue has finished.
func (robo *Robot) Wait() {
	robo.pending.Wait()
}

// worker runs works for a while. The provided context is passed to each work.
func worker(ctx context.Context, works chan chan func(context.Context), ch chan func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			// Work already handed to us still runs so that Wait returns.
			select {
			case work := <-ch:
				work(ctx)
			default:
			}
			return
		case work := <-ch:
			work(ctx)
			// Replace ourselves in the pool if it needs additional capacity.
			// Otherwise, we're done.
			select {
			case works <- ch:
			default:
				return
			}
		}
	}
}
