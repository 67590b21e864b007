// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/samber/lo"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/history"
	"github.com/ZSC714725/vidshrink/internal/logger"
	"github.com/ZSC714725/vidshrink/internal/process"
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

// Shrinker shrinks one file
type Shrinker interface {
	Shrink(ctx context.Context, input string, targetBytes int64, opts shrink.Options) shrink.Result
}

// Config for the job store
type Config struct {
	Shrinker Shrinker
	// ValidateInput rejects inputs before a job is queued
	ValidateInput func(path string) error
	// HWAccelAvailable reports whether hardware encoding can be used
	HWAccelAvailable func() bool
	// Active returns the status of the running ffmpeg process
	Active   func() (process.Status, bool)
	Recorder history.Recorder
	// Lock, when set, is held while a job encodes so that other vidshrink
	// processes sharing the state dir wait their turn
	Lock     Locker
	Logger   logger.Logger
	LogLines int
}

// Locker is an exclusive lock shared with other processes
type Locker interface {
	Acquire(ctx context.Context, interval time.Duration) error
	Release() error
}

const lockPollInterval = 500 * time.Millisecond

// Store manages jobs in memory and runs them one at a time
type Store interface {
	Add(req Request) (*Job, error)
	Get(id string) (*Job, error)
	List(ids []string, reference string) []*Job
	Cancel(id string) error
	Delete(id string) error
	// Snapshot copies a job including the running process status
	Snapshot(id string) (Snapshot, error)
	// Run processes queued jobs in FIFO order until ctx is done
	Run(ctx context.Context)
}

type store struct {
	config Config
	logger logger.Logger

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	queue []*Job
	wake  chan struct{}
}

// NewStore creates a job store
func NewStore(config Config) (Store, error) {
	if config.Shrinker == nil {
		return nil, errors.New("job store requires a shrinker")
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.HWAccelAvailable == nil {
		config.HWAccelAvailable = func() bool { return false }
	}
	return &store{
		config: config,
		logger: config.Logger,
		jobs:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
	}, nil
}

func (s *store) Add(req Request) (*Job, error) {
	req.Inputs = lo.Uniq(lo.Compact(req.Inputs))
	if len(req.Inputs) == 0 {
		return nil, ErrNoInputs
	}

	targetBytes, err := shrink.TargetBytes(req.TargetMB)
	if err != nil {
		return nil, err
	}

	if s.config.ValidateInput != nil {
		for _, in := range req.Inputs {
			if err := s.config.ValidateInput(in); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
			}
		}
	}
	if err := shrink.CheckBatch(req.Inputs, targetBytes); err != nil {
		return nil, err
	}

	mode, err := shrink.ParseHWAccelMode(req.HWAccel)
	if err != nil {
		return nil, err
	}
	hw, err := mode.Resolve(s.config.HWAccelAvailable())
	if err != nil {
		return nil, err
	}
	req.HWAccel = string(mode)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(req.ID) == 0 {
		req.ID = shortuuid.New()
	}
	if _, exists := s.jobs[req.ID]; exists {
		return nil, ErrJobExists
	}

	j := newJob(req, targetBytes, hw, s.config.LogLines)
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.queue = append(s.queue, j)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.Info("job %s queued: %d file(s), target %d bytes, hwaccel=%t", j.ID, len(req.Inputs), targetBytes, hw)
	return j, nil
}

func (s *store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *store) List(ids []string, reference string) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := lo.Map(s.order, func(id string, _ int) *Job { return s.jobs[id] })
	return lo.Filter(all, func(j *Job, _ int) bool {
		if len(reference) > 0 && j.Reference != reference {
			return false
		}
		return len(ids) == 0 || lo.Contains(ids, j.ID)
	})
}

func (s *store) Snapshot(id string) (Snapshot, error) {
	j, err := s.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	snap := j.Snapshot()
	if snap.State == StateRunning && s.config.Active != nil {
		if st, ok := s.config.Active(); ok {
			snap.Process = &st
		}
	}
	return snap, nil
}

func (s *store) Cancel(id string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	if !j.requestCancel() {
		return ErrJobFinished
	}
	s.logger.Info("job %s cancel requested", id)
	return nil
}

func (s *store) Delete(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.jobs, id)
	s.order = lo.Without(s.order, id)
	s.mu.Unlock()

	j.requestCancel()
	return nil
}

func (s *store) Run(ctx context.Context) {
	for {
		j := s.next()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		s.run(ctx, j)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *store) next() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	j := s.queue[0]
	s.queue = s.queue[1:]
	return j
}

func (s *store) run(parent context.Context, j *Job) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !j.start(cancel) {
		return
	}
	log := s.logger.With("job", j.ID)

	if l := s.config.Lock; l != nil {
		log.Debug("waiting for run lock")
		if err := l.Acquire(ctx, lockPollInterval); err != nil {
			log.Warn("run lock: %v", err)
			j.requestCancel()
			log.Info("job %s", j.finish())
			return
		}
		defer func() {
			if err := l.Release(); err != nil {
				log.Error("release run lock: %v", err)
			}
		}()
	}
	log.Info("job started")

	opts := shrink.Options{
		HWAccel:    j.HWAccel,
		OnLine:     j.hub.Publish,
		OnProgress: func(p parse.Progress) { j.setEncode(p) },
		OnAttempt: func(a shrink.Attempt) {
			log.Debug("attempt %d at %d kbps: %d bytes (%s)", a.Number, a.VideoKbps, a.OutputBytes, a.Verdict)
		},
	}

	for i, in := range j.Request.Inputs {
		if ctx.Err() != nil {
			break
		}
		j.begin(i)
		res := s.config.Shrinker.Shrink(ctx, in, j.TargetBytes, opts)
		j.setResult(i, res)
		s.record(ctx, j.ID, res, log)

		switch res.Status {
		case shrink.StatusDone:
			log.Info("%s -> %s (%d bytes)", in, res.Output, res.OutputBytes)
		case shrink.StatusSkipped:
			log.Warn("%s skipped: %s", in, res.Error)
		default:
			log.Error("%s %s: %s", in, res.Status, res.Error)
		}
	}

	state := j.finish()
	log.Info("job %s", state)
}

func (s *store) record(ctx context.Context, jobID string, res shrink.Result, log logger.Logger) {
	if s.config.Recorder == nil || !res.Status.Finished() {
		return
	}
	// the job context may be canceled already, the outcome is still recorded
	if _, err := s.config.Recorder.Record(context.WithoutCancel(ctx), HistoryEntry(jobID, res)); err != nil {
		log.Error("record history: %v", err)
	}
}

// HistoryEntry converts a file result into a history row
func HistoryEntry(jobID string, r shrink.Result) history.Entry {
	return history.Entry{
		JobID:         jobID,
		Input:         r.Input,
		Output:        r.Output,
		Status:        string(r.Status),
		OriginalBytes: r.OriginalBytes,
		TargetBytes:   r.TargetBytes,
		OutputBytes:   r.OutputBytes,
		VideoKbps:     r.FinalKbps(),
		Attempts:      len(r.Attempts),
		HWAccel:       r.HWAccel,
		Error:         r.Error,
	}
}
