// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具
//
// Package process wraps exec.Cmd for running a single FFmpeg/FFprobe
// invocation and forwarding its stderr line by line.

package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	ErrNoBinary       = errors.New("no valid binary given")
	ErrAlreadyStarted = errors.New("process already started")
	ErrExitFailed     = errors.New("process exited with failure")
	ErrKilled         = errors.New("process killed")
	ErrStale          = errors.New("process stalled")
)

// Process represents a one-shot process
type Process interface {
	Status() Status
	Start() error
	Stop(wait bool) error
	Wait(ctx context.Context) error
	IsRunning() bool
}

// Config for a process
type Config struct {
	Binary string
	Args   []string
	// Env replaces the environment when non-nil
	Env           []string
	StaleTimeout  time.Duration
	KillTimeout   time.Duration
	Parser        Parser
	Usage         UsageSampler
	OnStart       func(pid int)
	OnExit        func(state string)
	OnStateChange func(from, to string)
	Logger        Logger
}

// Status of a process
type Status struct {
	State    string
	States   States
	PID      int
	Duration time.Duration
	Time     time.Time
	LastLine string
	CPU      float64
	Memory   uint64
}

// States cumulative counts
type States struct {
	Finished  uint64
	Starting  uint64
	Running   uint64
	Finishing uint64
	Failed    uint64
	Killed    uint64
}

// Logger interface
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

type stateType string

const (
	stateFinished  stateType = "finished"
	stateStarting  stateType = "starting"
	stateRunning   stateType = "running"
	stateFinishing stateType = "finishing"
	stateFailed    stateType = "failed"
	stateKilled    stateType = "killed"
)

func (s stateType) String() string { return string(s) }

func (s stateType) IsRunning() bool {
	return s == stateStarting || s == stateRunning || s == stateFinishing
}

var transitions = map[stateType][]stateType{
	stateFinished:  {stateStarting},
	stateStarting:  {stateRunning, stateFinishing, stateFailed},
	stateRunning:   {stateFinished, stateFinishing, stateFailed, stateKilled},
	stateFinishing: {stateFinished, stateFailed, stateKilled},
	stateFailed:    {stateStarting},
	stateKilled:    {stateStarting},
}

type process struct {
	binary string
	args   []string
	env    []string
	cmd    *exec.Cmd
	stderr io.ReadCloser

	state struct {
		state  stateType
		time   time.Time
		states States
		pid    int
		lock   sync.Mutex
	}
	lastLine struct {
		data string
		lock sync.Mutex
	}
	run struct {
		started  bool
		stopping bool
		lock     sync.Mutex
	}
	parser Parser
	stale  struct {
		last    time.Time
		timeout time.Duration
		stalled bool
		cancel  context.CancelFunc
		lock    sync.Mutex
	}
	killTimeout   time.Duration
	killTimer     *time.Timer
	killTimerLock sync.Mutex
	logger        Logger
	usage         UsageSampler
	callbacks     struct {
		onStart       func(pid int)
		onExit        func(state string)
		onStateChange func(from, to string)
	}

	done    chan struct{}
	exitErr error
}

// New creates a new process
func New(config Config) (Process, error) {
	if len(config.Binary) == 0 {
		return nil, ErrNoBinary
	}

	p := &process{
		binary:      config.Binary,
		args:        config.Args,
		env:         config.Env,
		parser:      config.Parser,
		logger:      config.Logger,
		usage:       config.Usage,
		killTimeout: config.KillTimeout,
		done:        make(chan struct{}),
	}

	if p.parser == nil {
		p.parser = &nullParser{}
	}
	if p.logger == nil {
		p.logger = &nopLogger{}
	}
	if p.usage == nil {
		p.usage = NewNullSampler()
	}
	if p.killTimeout <= 0 {
		p.killTimeout = 5 * time.Second
	}

	p.state.state = stateFinished
	p.state.time = time.Now()
	p.stale.timeout = config.StaleTimeout
	p.callbacks.onStart = config.OnStart
	p.callbacks.onExit = config.OnExit
	p.callbacks.onStateChange = config.OnStateChange

	return p, nil
}

func (p *process) setState(state stateType) error {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()

	prev := p.state.state
	allowed := false
	for _, next := range transitions[prev] {
		if next == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("can't change from %s to %s", prev, state)
	}

	p.state.state = state
	p.state.time = time.Now()

	switch state {
	case stateStarting:
		p.state.states.Starting++
	case stateRunning:
		p.state.states.Running++
	case stateFinishing:
		p.state.states.Finishing++
	case stateFinished:
		p.state.states.Finished++
	case stateFailed:
		p.state.states.Failed++
	case stateKilled:
		p.state.states.Killed++
	}

	if p.callbacks.onStateChange != nil {
		go p.callbacks.onStateChange(prev.String(), state.String())
	}
	return nil
}

func (p *process) getState() stateType {
	p.state.lock.Lock()
	defer p.state.lock.Unlock()
	return p.state.state
}

func (p *process) Status() Status {
	cpu, memory := p.usage.Current()

	p.state.lock.Lock()
	s := Status{
		State:    p.state.state.String(),
		States:   p.state.states,
		PID:      p.state.pid,
		Duration: time.Since(p.state.time),
		Time:     p.state.time,
		CPU:      cpu,
		Memory:   memory,
	}
	p.state.lock.Unlock()

	p.lastLine.lock.Lock()
	s.LastLine = p.lastLine.data
	p.lastLine.lock.Unlock()

	return s
}

func (p *process) IsRunning() bool {
	return p.getState().IsRunning()
}

func (p *process) Start() error {
	p.run.lock.Lock()
	defer p.run.lock.Unlock()

	if p.run.started {
		return ErrAlreadyStarted
	}
	p.run.started = true

	p.setState(stateStarting)

	p.cmd = exec.Command(p.binary, p.args...)
	if p.env != nil {
		p.cmd.Env = p.env
	}

	var err error
	p.stderr, err = p.cmd.StderrPipe()
	if err == nil {
		err = p.cmd.Start()
	}
	if err != nil {
		p.setState(stateFailed)
		p.parser.Parse(err.Error())
		p.exit(err)
		return err
	}

	pid := p.cmd.Process.Pid
	p.state.lock.Lock()
	p.state.pid = pid
	p.state.lock.Unlock()

	if err := p.usage.Start(pid); err != nil {
		p.logger.Debug("usage sampler for pid %d: %v", pid, err)
	}

	p.setState(stateRunning)
	p.logger.Debug("started %s (pid %d)", p.binary, pid)

	if p.callbacks.onStart != nil {
		go p.callbacks.onStart(pid)
	}

	if p.stale.timeout > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		p.stale.lock.Lock()
		p.stale.cancel = cancel
		p.stale.lock.Unlock()
		go p.staler(ctx)
	}

	go p.reader()

	return nil
}

func (p *process) Stop(wait bool) error {
	p.run.lock.Lock()
	if !p.run.started {
		p.run.lock.Unlock()
		return nil
	}
	p.run.stopping = true
	p.run.lock.Unlock()

	if err := p.stop(); err != nil {
		return err
	}
	if wait {
		<-p.done
	}
	return nil
}

func (p *process) stop() error {
	state := p.getState()
	if !state.IsRunning() || state == stateFinishing {
		return nil
	}

	p.setState(stateFinishing)

	var err error
	if runtime.GOOS == "windows" {
		err = p.cmd.Process.Kill()
	} else {
		err = p.cmd.Process.Signal(os.Interrupt)
		if err != nil {
			err = p.cmd.Process.Kill()
		} else {
			p.killTimerLock.Lock()
			p.killTimer = time.AfterFunc(p.killTimeout, func() {
				p.cmd.Process.Kill()
			})
			p.killTimerLock.Unlock()
		}
	}

	if err != nil {
		p.parser.Parse(err.Error())
		p.logger.Error("stop %s: %v", p.binary, err)
	}
	return err
}

func (p *process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.exitErr
	case <-ctx.Done():
		p.Stop(true)
		return ctx.Err()
	}
}

func (p *process) staler(ctx context.Context) {
	p.stale.lock.Lock()
	p.stale.last = time.Now()
	p.stale.lock.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			p.stale.lock.Lock()
			idle := t.Sub(p.stale.last)
			timeout := p.stale.timeout
			if idle > timeout {
				p.stale.stalled = true
			}
			p.stale.lock.Unlock()

			if idle > timeout {
				p.logger.Error("%s produced no progress for %s, stopping", p.binary, idle.Round(time.Second))
				p.stop()
				return
			}
		}
	}
}

func (p *process) reader() {
	scanner := bufio.NewScanner(p.stderr)
	scanner.Split(scanLine)

	p.parser.ResetStats()
	p.parser.ResetLog()

	for scanner.Scan() {
		line := scanner.Text()

		p.lastLine.lock.Lock()
		p.lastLine.data = line
		p.lastLine.lock.Unlock()

		if n := p.parser.Parse(line); n != 0 {
			p.stale.lock.Lock()
			p.stale.last = time.Now()
			p.stale.lock.Unlock()
		}
	}

	p.waiter()
}

func (p *process) waiter() {
	err := p.cmd.Wait()

	p.run.lock.Lock()
	stopping := p.run.stopping
	p.run.lock.Unlock()

	p.stale.lock.Lock()
	stalled := p.stale.stalled
	if p.stale.cancel != nil {
		p.stale.cancel()
		p.stale.cancel = nil
	}
	p.stale.lock.Unlock()

	var exitErr error
	switch {
	case err == nil:
		p.setState(stateFinished)
	case stalled:
		p.setState(stateKilled)
		exitErr = ErrStale
	case stopping:
		p.setState(stateKilled)
		exitErr = ErrKilled
	default:
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() >= 0 {
			p.setState(stateFailed)
			exitErr = fmt.Errorf("%w: exit status %d", ErrExitFailed, ee.ExitCode())
		} else {
			p.setState(stateKilled)
			exitErr = fmt.Errorf("%w: %v", ErrKilled, err)
		}
	}

	p.usage.Stop()

	p.killTimerLock.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
		p.killTimer = nil
	}
	p.killTimerLock.Unlock()

	p.parser.ResetStats()
	p.exit(exitErr)
}

func (p *process) exit(err error) {
	p.exitErr = err
	close(p.done)

	if p.callbacks.onExit != nil {
		go p.callbacks.onExit(p.getState().String())
	}
}

// scanLine splits on both \n and \r so FFmpeg's carriage-return progress
// updates arrive as separate lines.
func scanLine(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) {
		r, w := utf8.DecodeRune(data[start:])
		if r != '\n' && r != '\r' {
			break
		}
		start += w
	}

	for i := start; i < len(data); {
		r, w := utf8.DecodeRune(data[i:])
		if r == '\n' || r == '\r' {
			return i + w, data[start:i], nil
		}
		i += w
	}

	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

type nullParser struct{}

func (p *nullParser) Parse(line string) uint64 { return 1 }
func (p *nullParser) ResetStats()              {}
func (p *nullParser) ResetLog()                {}
func (p *nullParser) Log() []Line              { return nil }

type nopLogger struct{}

func (l *nopLogger) Info(format string, args ...interface{})  {}
func (l *nopLogger) Error(format string, args ...interface{}) {}
func (l *nopLogger) Debug(format string, args ...interface{}) {}
