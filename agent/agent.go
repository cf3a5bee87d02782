package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/uciproc/work"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// Agent exposes a single engine over HTTP.
// Positions submitted concurrently are queued by the engine, one at a time.
type Agent struct {
	logger   *zap.SugaredLogger
	analyser Analyser

	listenAddr string

	httpServer *http.Server
	serverMut  sync.Mutex

	startedAt time.Time
	served    atomic.Int64
	failed    atomic.Int64
}

type Option func(a *Agent)

func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Named("agent").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs an agent serving positions with analyser, usually an engine.Handle.
func New(analyser Analyser, opts ...Option) *Agent {
	a := &Agent{
		logger:     zap.NewNop().Sugar(),
		analyser:   analyser,
		listenAddr: "127.0.0.1:8080",
		startedAt:  time.Now(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Handler returns the agent's routes.
func (a *Agent) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", a.heartbeat)
	router.POST("/position", a.position)
	router.GET("/position/ws", a.positionWS)
	return router
}

// Run listens on the configured address and returns once the agent has stopped.
func (a *Agent) Run() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	server := &http.Server{Handler: a.Handler()}
	a.serverMut.Lock()
	a.httpServer = server
	a.serverMut.Unlock()

	a.logger.Infow("serving", "Addr", listener.Addr().String())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight positions to be answered, or for ctx to be done.
// WebSocket streams are not waited for.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.serverMut.Lock()
	defer a.serverMut.Unlock()
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}

func (a *Agent) Stop() error {
	a.serverMut.Lock()
	defer a.serverMut.Unlock()
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Close()
}

// HeartbeatResponse reports liveness and counters.
type HeartbeatResponse struct {
	UptimeMS int64
	Served   int64
	Failed   int64
}

func (a *Agent) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	writeJSON(w, a.logger, http.StatusOK, HeartbeatResponse{
		UptimeMS: time.Since(a.startedAt).Milliseconds(),
		Served:   a.served.Load(),
		Failed:   a.failed.Load(),
	})
}

// ErrorResponse is the body of a non-200 response.
type ErrorResponse struct {
	BatchID work.BatchID `json:",omitempty"`
	Error   string
}

// position analyses a single position. If the client goes away, the engine abandons the position.
func (a *Agent) position(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)
	log := a.logger.With("RequestID", reqID)

	var pos work.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := a.analyse(r, pos)
	if err != nil {
		log.Debugw("position failed", "Error", err)
		writeJSON(w, log, statusFor(err), ErrorResponse{BatchID: work.WorkID(pos.Work), Error: err.Error()})
		return
	}
	writeJSON(w, log, http.StatusOK, res)
}

// analyse serves pos for the lifetime of r, bounded by the analysis timeout if there is one.
func (a *Agent) analyse(r *http.Request, pos work.Position) (*work.PositionResponse, error) {
	ctx := r.Context()
	if an, ok := pos.Work.(*work.Analysis); ok && an.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, an.Timeout)
		defer cancel()
	}
	res, err := a.analyser.Go(ctx, pos)
	if err != nil {
		a.failed.Add(1)
		return nil, err
	}
	a.served.Add(1)
	return res, nil
}

func statusFor(err error) int {
	var failed *work.PositionFailed
	if errors.As(err, &failed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, log *zap.SugaredLogger, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Debugf("error writing response: %s", err)
	}
}
