package assistant

import "context"

// Call is an in-flight completion running on its own goroutine.
type Call struct {
	done chan struct{}
	text string
	err  error
}

// Start dispatches req to c without blocking the caller. Each call owns its
// goroutine, so slow replies for one session never queue behind another.
func Start(ctx context.Context, c Completer, req Request) *Call {
	call := &Call{done: make(chan struct{})}
	go func() {
		defer close(call.done)
		call.text, call.err = c.Complete(ctx, req)
	}()
	return call
}

// Wait blocks until the completion finishes or ctx is done.
func (c *Call) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.text, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the completion has returned.
func (c *Call) Done() <-chan struct{} {
	return c.done
}
