package agent

import (
	"context"

	"github.com/guseggert/uciproc/work"
)

// Analyser serves positions. engine.Handle implements it.
type Analyser interface {
	Go(ctx context.Context, pos work.Position) (*work.PositionResponse, error)
}
