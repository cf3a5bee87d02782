package engine

import (
	"context"

	"github.com/guseggert/uciproc/work"
)

// Handle submits positions to an Actor. Handles are cheap to copy and safe for concurrent use.
type Handle struct {
	mailbox chan<- request
	done    <-chan struct{}
}

// Go submits pos and waits for the engine's response.
//
// The mailbox holds a single position, so Go blocks while another caller's position is queued.
// Work that fails work.Validate is rejected without reaching the engine.
// If the actor has terminated, or terminates before replying, Go returns a *work.PositionFailed.
// If ctx is done first, Go returns a *work.PositionFailed wrapping ctx.Err(),
// and the actor abandons the search without affecting later positions.
func (h Handle) Go(ctx context.Context, pos work.Position) (*work.PositionResponse, error) {
	batchID := work.WorkID(pos.Work)
	failed := func(err error) error {
		return &work.PositionFailed{BatchID: batchID, Err: err}
	}
	if err := work.Validate(pos.Work); err != nil {
		return nil, failed(err)
	}

	req := request{
		pos:       pos,
		reply:     make(chan *work.PositionResponse, 1),
		abandoned: ctx.Done(),
	}

	select {
	case <-h.done:
		return nil, failed(ErrActorTerminated)
	case <-ctx.Done():
		return nil, failed(ctx.Err())
	case h.mailbox <- req:
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return nil, failed(ctx.Err())
	case <-h.done:
		// the reply may have been sent just before the actor stopped
		select {
		case res := <-req.reply:
			return res, nil
		default:
		}
		return nil, failed(ErrActorTerminated)
	}
}

// Done is closed once the actor has terminated.
func (h Handle) Done() <-chan struct{} { return h.done }
