package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/conduitproj/conduit/logx"
)

// ProcessEventKind discriminates supervisor events.
type ProcessEventKind int

// Supervisor event kinds.
const (
	// ProcessFrame carries one newline-delimited frame read from stdout.
	ProcessFrame ProcessEventKind = iota
	// ProcessExited reports that the process terminated with an exit code.
	ProcessExited
	// ProcessCrashed reports an unexpected death without a usable exit code.
	ProcessCrashed
)

// ProcessEvent is one event pushed by a ProcessSupervisor.
type ProcessEvent struct {
	Kind     ProcessEventKind
	Frame    []byte // set for ProcessFrame
	ExitCode int    // set for ProcessExited
	Err      error  // set for ProcessCrashed
}

// ProcessSupervisor owns exactly one external OS process. It spawns the
// process, writes frames to its stdin, demultiplexes stdout into
// newline-terminated frames, streams stderr to the logger, and reports
// termination upward. Retry policy lives in the orchestrator, never here.
type ProcessSupervisor struct {
	command     string
	args        []string
	env         map[string]string
	logger      logx.Logger
	maxLineSize int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool
	stopped bool

	writeMu  sync.Mutex
	events   chan ProcessEvent
	done     chan struct{}
	readDone chan struct{}
}

// NewProcessSupervisor creates a supervisor for the given command line. The
// process is not started until Start is called.
func NewProcessSupervisor(command string, args []string, env map[string]string, logger logx.Logger, maxLineSize int) *ProcessSupervisor {
	if logger == nil {
		logger = logx.NewNilLogger()
	}
	if maxLineSize <= 0 {
		maxLineSize = 1024 * 1024
	}
	return &ProcessSupervisor{
		command:     command,
		args:        args,
		env:         env,
		logger:      logger,
		maxLineSize: maxLineSize,
		events:      make(chan ProcessEvent, 64),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
	}
}

// Events returns the supervisor's push channel. The channel is closed after
// the final ProcessExited or ProcessCrashed event.
func (p *ProcessSupervisor) Events() <-chan ProcessEvent {
	return p.events
}

// Start resolves the executable, spawns the process and wires its pipes.
func (p *ProcessSupervisor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return NewTransportError("stdio", "process already running", ErrAlreadyConnected)
	}
	if p.stopped {
		return NewTransportError("stdio", "supervisor is terminal, create a new one", ErrDisconnected)
	}

	path, err := exec.LookPath(p.command)
	if err != nil {
		return NewTransportError("stdio", fmt.Sprintf("executable %q not found", p.command), err)
	}

	cmd := exec.Command(path, p.args...)
	env := os.Environ()
	for k, v := range p.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return NewTransportError("stdio", "failed to create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewTransportError("stdio", "failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return NewTransportError("stdio", "failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return NewTransportError("stdio", fmt.Sprintf("failed to start process %s", p.command), err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.running = true
	p.logger.Info("started process %s (pid %d)", p.command, cmd.Process.Pid)

	go p.readLoop(stdout)
	go p.stderrLoop(stderr)
	go p.waitLoop()

	return nil
}

// Send writes one frame to the process's stdin, appending the trailing
// newline the wire format requires.
func (p *ProcessSupervisor) Send(data []byte) error {
	p.mu.Lock()
	running := p.running
	stdin := p.stdin
	p.mu.Unlock()

	if !running {
		return NewTransportError("stdio", "process not running", ErrNotConnected)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return NewTransportError("stdio", "failed to write to stdin", err)
	}
	return nil
}

// Stop terminates the process. It closes stdin first so well-behaved servers
// exit on EOF, escalates to an interrupt, and kills after a short grace
// period. Stop is idempotent.
func (p *ProcessSupervisor) Stop() error {
	p.mu.Lock()
	if p.stopped || !p.running {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			p.logger.Warn("failed to interrupt process: %v", err)
		}
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
	}

	if cmd != nil && cmd.Process != nil {
		p.logger.Warn("process %s did not exit, killing", p.command)
		if err := cmd.Process.Kill(); err != nil {
			return NewTransportError("stdio", "failed to kill process", err)
		}
	}
	<-p.done
	return nil
}

// Pid returns the process id, or 0 when no process is running.
func (p *ProcessSupervisor) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// readLoop frames stdout into newline-terminated messages. bufio.Scanner
// buffers partial lines across reads, so a frame split over several I/O
// callbacks is reassembled before it is emitted.
func (p *ProcessSupervisor) readLoop(stdout io.Reader) {
	defer close(p.readDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), p.maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer between iterations.
		frame := make([]byte, len(line))
		copy(frame, line)
		p.emit(ProcessEvent{Kind: ProcessFrame, Frame: frame})
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stdout read ended: %v", err)
	}
}

// stderrLoop forwards the process's stderr to the logger line by line.
func (p *ProcessSupervisor) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 16*1024), p.maxLineSize)
	for scanner.Scan() {
		p.logger.Info("stderr: %s", scanner.Text())
	}
}

// waitLoop reaps the process and posts the terminal event. The terminal
// event is only posted after the read loop has drained stdout, so frames are
// never emitted after an exit report.
func (p *ProcessSupervisor) waitLoop() {
	err := p.cmd.Wait()
	<-p.readDone

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	code := p.cmd.ProcessState.ExitCode()
	switch {
	case err == nil:
		p.emit(ProcessEvent{Kind: ProcessExited, ExitCode: 0})
	case code >= 0:
		p.logger.Warn("process %s exited with code %d", p.command, code)
		p.emit(ProcessEvent{Kind: ProcessExited, ExitCode: code})
	default:
		p.logger.Error("process %s died: %v", p.command, err)
		p.emit(ProcessEvent{Kind: ProcessCrashed, Err: err})
	}

	close(p.done)
	close(p.events)
}

// emit pushes an event without ever blocking the supervisor's own loops. A
// full channel drops frames, which only happens when the consumer is gone.
func (p *ProcessSupervisor) emit(ev ProcessEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("event channel full, dropping %v event", ev.Kind)
	}
}
