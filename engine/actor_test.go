//go:build !windows

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/guseggert/uciproc/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

// fakeEngine is a shell script speaking just enough UCI for the actor.
// Every line it receives is appended to $LOG. $ON_GO runs for each go command, with $n counting searches.
const fakeEngine = `
echo "Stockfish 16 by the Stockfish developers (see AUTHORS file)"
n=0
while IFS= read -r line; do
	echo "$line" >> "$LOG"
	case "$line" in
	isready) echo readyok ;;
	go*)
		n=$((n+1))
		eval "$ON_GO"
		;;
	quit) exit 0 ;;
	esac
done
`

const (
	// a plain search, reporting n as its node count
	answer = `echo "info depth 7 seldepth 9 multipv 1 score cp 21 nodes $n nps 1000 time 42 pv e2e4 e7e5"; echo "bestmove e2e4 ponder e7e5"`
	// the same, but slow enough for callers to queue up or give up
	slowAnswer = `sleep 0.3; ` + answer
)

type fake struct {
	cfg    Config
	logDir string
}

func newFake(t *testing.T, onGo string) *fake {
	dir := t.TempDir()
	return &fake{
		logDir: dir,
		cfg: Config{
			Command:  "sh",
			Args:     []string{"-c", fakeEngine},
			Env:      []string{"LOG=" + filepath.Join(dir, "log"), "ON_GO=" + onGo, "PIDFILE=" + filepath.Join(dir, "pid")},
			EvalFile: "nn-test.nnue",
		},
	}
}

// received returns the lines the fake engine has read so far.
func (f *fake) received(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.logDir, "log"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

type runningActor struct {
	handle Handle
	cancel context.CancelFunc
	errCh  chan error
	logs   *observer.ObservedLogs
}

func startActor(t *testing.T, cfg Config) *runningActor {
	core, logs := observer.New(zapcore.DebugLevel)
	handle, actor := New(cfg, WithLogger(zap.New(core)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- actor.Run(ctx) }()

	r := &runningActor{handle: handle, cancel: cancel, errCh: errCh, logs: logs}
	t.Cleanup(func() {
		cancel()
		<-handle.Done()
	})
	return r
}

func (r *runningActor) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("actor did not terminate")
		return nil
	}
}

func movePosition(id work.BatchID) work.Position {
	return work.Position{
		Work:    &work.Move{ID: id, Level: 8},
		Flavor:  work.Official,
		Variant: work.Standard,
		RootFen: startFen,
		Moves:   []work.Uci{"d2d4"},
	}
}

func TestActorRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFake(t, answer)
	a := startActor(t, f.cfg)

	pos := work.Position{
		Work:       &work.Analysis{ID: "round-trip", Nodes: work.NodeLimit{Classical: 5000, NNUE: 2500}, Depth: intPtr(7)},
		PositionID: 3,
		Flavor:     work.MultiVariant,
		Variant:    work.ThreeCheck,
		RootFen:    startFen,
		Moves:      []work.Uci{"e2e4", "e7e5", "g1f3"},
	}
	res, err := a.handle.Go(ctx, pos)
	require.NoError(t, err)

	require.NotNil(t, res.BestMove)
	assert.Equal(t, work.Uci("e2e4"), *res.BestMove)
	assert.Equal(t, 7, res.Depth)
	assert.Equal(t, uint64(1), res.Nodes)
	assert.Equal(t, 42*time.Millisecond, res.Time)
	require.NotNil(t, res.NPS)
	assert.Equal(t, uint32(1000), *res.NPS)
	assert.Equal(t, pos.Work, res.Work)
	assert.Equal(t, 3, res.PositionID)

	score, depth, ok := res.Scores.Best()
	require.True(t, ok)
	assert.Equal(t, work.Cp(21), score)
	assert.Equal(t, 7, depth)
	pv, ok := res.PVs.Get(1, 7)
	require.True(t, ok)
	assert.Equal(t, []work.Uci{"e2e4", "e7e5"}, pv)

	// initialization happens once, followed by the position's commands
	res, err = a.handle.Go(ctx, movePosition("second"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Nodes)

	second := movePosition("second")
	var expected []string
	expected = append(expected, EncodeInit("nn-test.nnue")...)
	expected = append(expected, EncodePosition(&pos)...)
	expected = append(expected, EncodePosition(&second)...)
	assert.Equal(t, expected, f.received(t))

	assert.Equal(t, 1, a.logs.FilterMessageSnippet("engine banner").Len())
}

func TestActorSpawnsLazily(t *testing.T) {
	f := newFake(t, answer)
	a := startActor(t, f.cfg)

	time.Sleep(100 * time.Millisecond)
	_, err := os.Stat(filepath.Join(f.logDir, "log"))
	assert.True(t, os.IsNotExist(err), "engine should not be started before the first position")

	a.cancel()
	assert.NoError(t, a.wait(t))
}

func TestActorSerializesCallers(t *testing.T) {
	f := newFake(t, slowAnswer)
	a := startActor(t, f.cfg)

	var (
		mut   sync.Mutex
		order []string
	)
	results := map[string]*work.PositionResponse{}

	group, ctx := errgroup.WithContext(context.Background())
	submit := func(id string) {
		group.Go(func() error {
			res, err := a.handle.Go(ctx, movePosition(work.BatchID(id)))
			if err != nil {
				return err
			}
			mut.Lock()
			defer mut.Unlock()
			order = append(order, id)
			results[id] = res
			return nil
		})
	}

	submit("first")
	time.Sleep(100 * time.Millisecond)
	submit("second")
	time.Sleep(100 * time.Millisecond)
	submit("third")
	require.NoError(t, group.Wait())

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, uint64(1), results["first"].Nodes)
	assert.Equal(t, uint64(2), results["second"].Nodes)
	assert.Equal(t, uint64(3), results["third"].Nodes)
	assert.Equal(t, work.BatchID("second"), work.WorkID(results["second"].Work))
}

func TestActorSurvivesAbandonedPosition(t *testing.T) {
	f := newFake(t, slowAnswer)
	a := startActor(t, f.cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := a.handle.Go(ctx, movePosition("abandoned"))
	var failed *work.PositionFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, work.BatchID("abandoned"), failed.BatchID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the abandoned search's bestmove is drained, not mistaken for this one's
	res, err := a.handle.Go(context.Background(), movePosition("next"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Nodes)
	assert.Equal(t, work.BatchID("next"), work.WorkID(res.Work))

	select {
	case err := <-a.errCh:
		t.Fatalf("actor terminated: %v", err)
	default:
	}
}

func TestActorSkipsPositionAbandonedWhileQueued(t *testing.T) {
	f := newFake(t, slowAnswer)
	a := startActor(t, f.cfg)

	group := errgroup.Group{}
	group.Go(func() error {
		_, err := a.handle.Go(context.Background(), movePosition("first"))
		return err
	})
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	queuedErr := make(chan error, 1)
	go func() {
		_, err := a.handle.Go(ctx, movePosition("queued"))
		queuedErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-queuedErr, context.Canceled)
	require.NoError(t, group.Wait())

	res, err := a.handle.Go(context.Background(), movePosition("last"))
	require.NoError(t, err)
	// the queued position never reached the engine
	assert.Equal(t, uint64(2), res.Nodes)
}

func TestActorProcessExitWhileIdle(t *testing.T) {
	cases := []struct {
		name    string
		code    int
		expExit bool
	}{
		{name: "clean exit", code: 0},
		{name: "failure", code: 3, expExit: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFake(t, answer+"; exit "+strconv.Itoa(c.code))
			a := startActor(t, f.cfg)

			res, err := a.handle.Go(context.Background(), movePosition("last"))
			require.NoError(t, err)
			assert.Equal(t, work.Uci("e2e4"), *res.BestMove)

			err = a.wait(t)
			if c.expExit {
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, c.code, exitErr.Code)
			} else {
				assert.NoError(t, err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err = a.handle.Go(ctx, movePosition("after"))
			var failed *work.PositionFailed
			require.ErrorAs(t, err, &failed)
			assert.ErrorIs(t, err, ErrActorTerminated)
			assert.Equal(t, work.BatchID("after"), failed.BatchID)
		})
	}
}

func TestActorFatalErrors(t *testing.T) {
	cases := []struct {
		name  string
		onGo  string
		check func(t *testing.T, err error)
	}{
		{
			name: "missing score",
			onGo: `echo "bestmove e2e4"`,
			check: func(t *testing.T, err error) {
				var perr *ProtocolError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, "missing score", perr.Reason)
			},
		},
		{
			name: "malformed info",
			onGo: `echo "info depth 3 multipv zero score cp 1"`,
			check: func(t *testing.T, err error) {
				var perr *ProtocolError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, "expected multipv", perr.Reason)
			},
		},
		{
			name: "crash mid search",
			onGo: `echo "info depth 1 score cp 5"; exit 1`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFake(t, c.onGo)
			a := startActor(t, f.cfg)

			_, err := a.handle.Go(context.Background(), movePosition("doomed"))
			var failed *work.PositionFailed
			require.ErrorAs(t, err, &failed)
			assert.ErrorIs(t, err, ErrActorTerminated)

			c.check(t, a.wait(t))
		})
	}
}

func TestActorTolerantInitialization(t *testing.T) {
	cfg := Config{
		Command: "sh",
		Args: []string{"-c", `
echo "Fairy-Stockfish 14 LB by Fabian Fichter"
echo "NNUE file loaded"
while IFS= read -r line; do
	case "$line" in
	isready) echo readyok ;;
	go*) echo "info depth 1 score mate 2"; echo "bestmove h5f7" ;;
	esac
done
`},
	}
	a := startActor(t, cfg)

	res, err := a.handle.Go(context.Background(), movePosition("init"))
	require.NoError(t, err)
	assert.Equal(t, work.Uci("h5f7"), *res.BestMove)

	warnings := a.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("unexpected engine initialization output")
	require.Equal(t, 1, warnings.Len())
	assert.Contains(t, warnings.All()[0].Message, "NNUE file loaded")
}

func TestActorKillsProcessOnShutdown(t *testing.T) {
	f := newFake(t, answer)
	// the fake records its pid before answering
	f.cfg.Args = []string{"-c", `echo $$ > "$PIDFILE"` + "\n" + fakeEngine}
	a := startActor(t, f.cfg)

	_, err := a.handle.Go(context.Background(), movePosition("one"))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(f.logDir, "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	require.NoError(t, syscall.Kill(pid, 0), "engine should be running")

	a.cancel()
	require.NoError(t, a.wait(t))
	assert.True(t, errors.Is(syscall.Kill(pid, 0), syscall.ESRCH), fmt.Sprintf("engine %d still running", pid))
}

func TestGoRejectsInvalidWork(t *testing.T) {
	handle, _ := New(Config{})
	cases := []struct {
		name string
		work work.Work
	}{
		{name: "no work", work: nil},
		{name: "nil move", work: (*work.Move)(nil)},
		{name: "skill level out of range", work: &work.Move{ID: "m", Level: 9}},
		{name: "multipv too wide", work: &work.Analysis{ID: "a", MultiPV: work.MaxMultiPV + 1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := handle.Go(context.Background(), work.Position{Work: c.work, RootFen: startFen})
			var failed *work.PositionFailed
			assert.ErrorAs(t, err, &failed)
		})
	}
}

func TestActorRejectsWideMultiPVAndKeepsServing(t *testing.T) {
	f := newFake(t, answer)
	a := startActor(t, f.cfg)
	ctx := context.Background()

	wide := work.Position{
		Work:    &work.Analysis{ID: "wide", Nodes: work.NodeLimit{NNUE: 1000}, MultiPV: 300},
		RootFen: startFen,
	}
	_, err := a.handle.Go(ctx, wide)
	var failed *work.PositionFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, work.BatchID("wide"), failed.BatchID)

	widest := work.Position{
		Work:    &work.Analysis{ID: "widest", Nodes: work.NodeLimit{NNUE: 1000}, MultiPV: work.MaxMultiPV},
		RootFen: startFen,
	}
	res, err := a.handle.Go(ctx, widest)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Nodes)
	assert.Contains(t, f.received(t), "setoption name MultiPV value 255")
}

func TestActorRunsEngineInOwnProcessGroup(t *testing.T) {
	f := newFake(t, answer)
	f.cfg.Args = []string{"-c", `echo $$ > "$PIDFILE"` + "\n" + fakeEngine}
	a := startActor(t, f.cfg)

	_, err := a.handle.Go(context.Background(), movePosition("one"))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(f.logDir, "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "engine should lead its own process group")
	assert.NotEqual(t, syscall.Getpgrp(), pgid, "engine should not share our process group")
}
