//go:build !windows

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/guseggert/uciproc/engine"
	"github.com/guseggert/uciproc/internal/netutil"
	"github.com/guseggert/uciproc/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const scriptedEngine = `
while IFS= read -r line; do
	case "$line" in
	isready) echo readyok ;;
	go*)
		echo "info depth 1 multipv 1 score cp 50 nodes 20 time 1 pv g1f3"
		echo "info depth 2 multipv 1 score mate 3 nodes 80 nps 40000 time 2 pv g1f3 g8f6"
		echo "bestmove g1f3"
		;;
	esac
done
`

func TestAgentServesEngine(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	handle, actor := engine.New(engine.Config{Command: "sh", Args: []string{"-c", scriptedEngine}}, engine.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	actorErr := make(chan error, 1)
	go func() { actorErr <- actor.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-actorErr)
	})

	addr, err := netutil.FreeTCPAddr()
	require.NoError(t, err)
	a := New(handle, WithListenAddr(addr), WithLogger(logger))
	go func() { _ = a.Run() }()
	t.Cleanup(func() { _ = a.Stop() })

	client := NewClient(addr, WithClientLogger(logger))
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	require.NoError(t, client.WaitForServer(waitCtx))

	pos := work.Position{
		Work:       &work.Move{ID: work.NewBatchID(), Level: 8},
		PositionID: 0,
		Variant:    work.Standard,
		RootFen:    "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
	}
	res, err := client.Analyse(waitCtx, pos)
	require.NoError(t, err)
	require.NotNil(t, res.BestMove)
	assert.Equal(t, work.Uci("g1f3"), *res.BestMove)
	assert.Equal(t, 2, res.Depth)
	assert.EqualValues(t, 80, res.Nodes)
	require.NotNil(t, res.NPS)
	assert.EqualValues(t, 40000, *res.NPS)

	score, depth, ok := res.Scores.Best()
	require.True(t, ok)
	assert.Equal(t, 2, depth)
	assert.Equal(t, work.Mate(3), score)

	assert.NotZero(t, logs.FilterMessage("serving").Len())
	assert.NotZero(t, logs.FilterMessage("engine is ready").Len())
}
