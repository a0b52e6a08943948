package bifaci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/machinefabric/agentinterop-go/internal/logger"
)

// DefaultGracePeriod is how long Close waits for the child to exit after the
// termination signal before killing it.
const DefaultGracePeriod = 2 * time.Second

// defaultKillWait bounds the wait for exit after a kill.
const defaultKillWait = 5 * time.Second

// Command describes an agent process to launch.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory; empty means the parent's.
	Dir string
	// Env entries are appended to the parent's environment.
	Env []string
	// Stderr receives the child's diagnostics. It is not part of the
	// protocol. Nil discards them.
	Stderr io.Writer
}

// ProcessOption configures Spawn.
type ProcessOption func(*processConfig)

type processConfig struct {
	gracePeriod   time.Duration
	killWait      time.Duration
	logger        *slog.Logger
	transportOpts []TransportOption
}

// WithGracePeriod sets the wait between the termination signal and the kill.
func WithGracePeriod(d time.Duration) ProcessOption {
	return func(c *processConfig) {
		if d > 0 {
			c.gracePeriod = d
		}
	}
}

// WithProcessLogger sets the logger for lifecycle diagnostics. It is also
// handed to the transport.
func WithProcessLogger(l *slog.Logger) ProcessOption {
	return func(c *processConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransportOptions forwards options to the attached Transport.
func WithTransportOptions(opts ...TransportOption) ProcessOption {
	return func(c *processConfig) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// AgentProcess is a spawned child with a Transport attached to its stdout
// (inbound) and stdin (outbound).
type AgentProcess struct {
	cmd       *exec.Cmd
	transport *Transport
	stdin     io.WriteCloser
	stdout    *os.File
	cfg       processConfig

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
	closeErr  error
}

// Spawn launches command with piped standard streams and attaches a
// Transport to it.
func Spawn(ctx context.Context, command Command, opts ...ProcessOption) (*AgentProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if command.Path == "" {
		return nil, &TransportError{Type: TransportErrorSpawn, Message: "empty command"}
	}

	cfg := processConfig{
		gracePeriod: DefaultGracePeriod,
		killWait:    defaultKillWait,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	cmd.Stderr = command.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Type: TransportErrorSpawn, Message: "create stdin pipe", Err: err}
	}

	// A plain os.Pipe keeps exit observation independent of reads: cmd.Wait
	// never closes our read end.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, &TransportError{Type: TransportErrorSpawn, Message: "create stdout pipe", Err: err}
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, &TransportError{Type: TransportErrorSpawn, Message: command.Path, Err: err}
	}
	_ = stdoutW.Close()

	transportOpts := append([]TransportOption{WithLogger(cfg.logger)}, cfg.transportOpts...)
	p := &AgentProcess{
		cmd:       cmd,
		transport: NewTransport(stdoutR, stdin, transportOpts...),
		stdin:     stdin,
		stdout:    stdoutR,
		cfg:       cfg,
		exited:    make(chan struct{}),
	}

	go func() {
		p.exitErr = cmd.Wait()
		cfg.logger.Debug("agent process exited", "pid", cmd.Process.Pid, "error", p.exitErr)
		close(p.exited)
	}()

	cfg.logger.Debug("agent process started", "pid", cmd.Process.Pid, "path", command.Path)
	return p, nil
}

// Transport returns the transport attached to the child's stdio.
func (p *AgentProcess) Transport() *Transport {
	return p.transport
}

// Pid returns the child's process id.
func (p *AgentProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Exited is closed once the child's exit has been observed.
func (p *AgentProcess) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the result of waiting on the child, or nil while it runs.
func (p *AgentProcess) ExitErr() error {
	select {
	case <-p.exited:
		return p.exitErr
	default:
		return nil
	}
}

// Wait blocks until the child exits or ctx is done.
func (p *AgentProcess) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		return p.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the connection down: it closes the transport and the child's
// stdin, signals the child to terminate if it is still running, and waits
// for the exit to be observed. A child that ignores the signal is killed
// after the grace period. Safe to call multiple times and after the child
// already exited.
func (p *AgentProcess) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		_ = p.transport.Close()
		_ = p.stdin.Close()

		if !p.hasExited() {
			if err := signalProcess(p.cmd.Process, terminateSignal); err != nil {
				p.cfg.logger.Debug("terminate signal failed", "pid", p.Pid(), "error", err)
			}
		}

		grace := time.NewTimer(p.cfg.gracePeriod)
		defer grace.Stop()

		select {
		case <-p.exited:
		case <-grace.C:
			p.closeErr = p.kill()
		case <-ctx.Done():
			p.closeErr = p.kill()
		}

		_ = p.stdout.Close()
	})
	return p.closeErr
}

// Kill stops the child immediately without closing the transport. The exit
// is still observed through Exited.
func (p *AgentProcess) Kill() error {
	return signalProcess(p.cmd.Process, os.Kill)
}

func (p *AgentProcess) kill() error {
	p.cfg.logger.Debug("agent process ignored termination, killing", "pid", p.Pid())
	_ = signalProcess(p.cmd.Process, os.Kill)

	wait := time.NewTimer(p.cfg.killWait)
	defer wait.Stop()
	select {
	case <-p.exited:
		return nil
	case <-wait.C:
		return &TransportError{
			Type:    TransportErrorProcessExited,
			Message: fmt.Sprintf("pid %d did not exit after kill", p.Pid()),
		}
	}
}

func (p *AgentProcess) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
