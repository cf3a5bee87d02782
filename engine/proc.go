package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// maxLineSize bounds a single line of engine output. Long pv lines in deep searches stay well below this.
	maxLineSize = 1 << 20

	killTimeout = 5 * time.Second
)

// proc supervises the engine subprocess.
// Stdout is pumped line by line into lines, which is closed on EOF.
// Only after that is the process reaped and exited closed, so every line is delivered before the exit is observed.
type proc struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd
	pid int

	stdin io.WriteCloser
	w     *bufio.Writer

	lines  chan string
	exited chan struct{}
	stop   chan struct{}

	// set before exited is closed
	state   *os.ProcessState
	readErr error
	waitErr error

	stopOnce sync.Once
}

func startProc(ctx context.Context, log *zap.SugaredLogger, cfg Config) (*proc, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	newProcessGroup(cmd)
	// kill the whole group, not just the leader, so nothing is left holding the pipes
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	cmd.Stderr = &lineLogger{log: log.Named("stderr")}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine %q: %w", cfg.Command, err)
	}

	p := &proc{
		log:    log,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		w:      bufio.NewWriter(stdin),
		lines:  make(chan string),
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go p.pump(stdout)
	return p, nil
}

func (p *proc) pump(stdout io.Reader) {
	defer close(p.exited)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.stop:
			// nobody is listening anymore, keep reading so the process is not blocked on a full pipe
		}
	}
	p.readErr = scanner.Err()
	close(p.lines)

	p.waitErr = p.cmd.Wait()
	p.state = p.cmd.ProcessState
	if p.waitErr != nil {
		if _, ok := p.waitErr.(*exec.ExitError); !ok {
			p.log.Debugf("unexpected wait error: %s", p.waitErr)
		}
	}
}

// send writes cmds as newline-terminated lines and flushes them.
func (p *proc) send(cmds []string) error {
	for _, c := range cmds {
		p.log.Debugw("send", "Line", c)
		if _, err := p.w.WriteString(c); err != nil {
			return fmt.Errorf("writing to engine: %w", err)
		}
		if err := p.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing to engine: %w", err)
		}
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("flushing engine stdin: %w", err)
	}
	return nil
}

func (p *proc) success() bool {
	return p.state != nil && p.state.Success()
}

func (p *proc) exitCode() int {
	if p.state == nil {
		return -1
	}
	return p.state.ExitCode()
}

// kill terminates the process group and waits for the process to be reaped.
func (p *proc) kill() {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.exited:
		return
	default:
	}
	p.stdin.Close()
	if err := killProcessGroup(p.cmd); err != nil {
		p.log.Debugf("error killing engine process %d: %s", p.pid, err)
	}
	timer := time.NewTimer(killTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		p.log.Debugf("engine process %d killed", p.pid)
	case <-timer.C:
		p.log.Warnf("engine process %d not reaped after %s", p.pid, killTimeout)
	}
}

// lineLogger logs everything written to it at debug level, one entry per line.
type lineLogger struct {
	log *zap.SugaredLogger
	buf []byte
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.buf = append(l.buf, b...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.log.Debug(string(bytes.TrimRight(l.buf[:i], "\r")))
		l.buf = l.buf[i+1:]
	}
	return len(b), nil
}
