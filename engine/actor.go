package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/guseggert/uciproc/work"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes how to launch the engine.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// EvalFile is the NNUE network passed to the engine once after startup.
	EvalFile string
}

// bannerPrefixes are the first words engines print on startup.
var bannerPrefixes = []string{"Stockfish ", "Fairy-Stockfish "}

type request struct {
	pos   work.Position
	reply chan *work.PositionResponse
	// abandoned is closed when the caller stops waiting. Nil if the caller never gives up.
	abandoned <-chan struct{}
}

// Actor owns one engine process and serves positions one at a time.
// The process is spawned when the first position arrives and killed when Run returns.
type Actor struct {
	log     *zap.SugaredLogger
	cfg     Config
	mailbox chan request
	done    chan struct{}

	proc        *proc
	initialized bool
	// eof is set once the engine closed its stdout while idle
	eof bool
	// stale counts searches that were abandoned but whose bestmove has not been read yet
	stale int
}

type Option func(a *Actor)

func WithLogger(l *zap.Logger) Option {
	return func(a *Actor) {
		a.log = l.Named("engine_actor").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Actor) {
		a.log = a.log.WithOptions(zap.IncreaseLevel(l))
	}
}

// New creates an actor and a handle to it. Nothing happens until Run is called.
func New(cfg Config, opts ...Option) (Handle, *Actor) {
	a := &Actor{
		log:     zap.NewNop().Sugar(),
		cfg:     cfg,
		mailbox: make(chan request, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return Handle{mailbox: a.mailbox, done: a.done}, a
}

// Run serves positions until ctx is done, the engine process exits, or a fatal engine error occurs.
// An orderly shutdown or a successful process exit returns nil.
// Run must be called at most once.
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)
	defer a.shutdown()

	for {
		var (
			lines  <-chan string
			exited <-chan struct{}
		)
		if a.proc != nil {
			exited = a.proc.exited
			if !a.eof {
				lines = a.proc.lines
			}
		}

		select {
		case <-ctx.Done():
			a.log.Debug("context done, shutting down")
			return nil
		case <-exited:
			return a.processExited()
		case line, ok := <-lines:
			if !ok {
				// the exit status follows
				a.eof = true
				continue
			}
			a.idleLine(line)
		case req := <-a.mailbox:
			err := a.handle(ctx, req)
			if errors.Is(err, errShutdown) {
				a.log.Debug("context done while busy, shutting down")
				return nil
			}
			if err != nil {
				a.log.Errorw("engine error", "Error", err)
				return err
			}
		}
	}
}

func (a *Actor) shutdown() {
	if a.proc != nil {
		a.proc.kill()
	}
}

func (a *Actor) processExited() error {
	if a.proc.readErr != nil {
		a.log.Debugf("error reading engine output: %s", a.proc.readErr)
	}
	if a.proc.success() {
		a.log.Debugf("engine process %d exited with status %s", a.proc.pid, a.proc.state)
		return nil
	}
	a.log.Errorf("engine process %d exited with status %s", a.proc.pid, a.proc.state)
	return &ExitError{PID: a.proc.pid, Code: a.proc.exitCode()}
}

// idleLine handles output that arrives while no position is in flight.
func (a *Actor) idleLine(line string) {
	if a.stale > 0 {
		a.discardStale(line)
		return
	}
	a.log.Warnf("unexpected engine output: %s", line)
}

func (a *Actor) discardStale(line string) {
	if strings.HasPrefix(line, "bestmove") {
		a.stale--
	}
	a.log.Debugw("discarding output of abandoned search", "Line", line, "Pending", a.stale)
}

func (a *Actor) handle(ctx context.Context, req request) error {
	batchID := work.WorkID(req.pos.Work)
	log := a.log.With("BatchID", batchID, "PositionID", req.pos.PositionID)

	if abandoned(req) {
		log.Debug("position abandoned before it was started, skipping")
		return nil
	}

	if a.proc == nil {
		p, err := startProc(ctx, a.log.Named("proc"), a.cfg)
		if err != nil {
			return err
		}
		log.Debugw("started engine process", "PID", p.pid, "Command", a.cfg.Command)
		a.proc = p
	}
	if !a.initialized {
		if err := a.init(ctx); err != nil {
			return fmt.Errorf("initializing engine: %w", err)
		}
		a.initialized = true
	}
	if err := a.resync(ctx); err != nil {
		return fmt.Errorf("draining abandoned search: %w", err)
	}

	if err := a.proc.send(EncodePosition(&req.pos)); err != nil {
		return err
	}

	dec := NewDecoder(req.pos)
	dec.Unexpected = func(line string) { log.Warnf("unexpected engine output: %s", line) }
	for {
		select {
		case <-ctx.Done():
			return errShutdown
		case <-req.abandoned:
			a.stale++
			log.Debug("position abandoned by caller, search output will be discarded")
			return nil
		case line, ok := <-a.proc.lines:
			if !ok {
				return fmt.Errorf("reading engine output: %w", io.ErrUnexpectedEOF)
			}
			res, err := dec.Feed(line)
			if err != nil {
				return err
			}
			if res != nil {
				log.Debugw("position done", "Depth", res.Depth, "Nodes", res.Nodes, "Time", res.Time)
				// capacity 1 and only ever one send, never blocks
				req.reply <- res
				return nil
			}
		}
	}
}

// init applies the one-time engine configuration and waits for readyok.
func (a *Actor) init(ctx context.Context) error {
	if err := a.proc.send(EncodeInit(a.cfg.EvalFile)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return errShutdown
		case line, ok := <-a.proc.lines:
			if !ok {
				return io.ErrUnexpectedEOF
			}
			line = strings.TrimRight(line, " \r")
			switch {
			case line == "readyok":
				a.log.Debug("engine is ready")
				return nil
			case isBanner(line):
				a.log.Debugf("engine banner: %s", line)
			default:
				a.log.Warnf("unexpected engine initialization output: %s", line)
			}
		}
	}
}

// resync discards what is left of abandoned searches before a new one starts.
func (a *Actor) resync(ctx context.Context) error {
	for a.stale > 0 {
		select {
		case <-ctx.Done():
			return errShutdown
		case line, ok := <-a.proc.lines:
			if !ok {
				return io.ErrUnexpectedEOF
			}
			a.discardStale(line)
		}
	}
	return nil
}

func isBanner(line string) bool {
	for _, p := range bannerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func abandoned(req request) bool {
	select {
	case <-req.abandoned:
		return true
	default:
		return false
	}
}
