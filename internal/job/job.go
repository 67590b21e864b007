// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package job

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/logstream"
	"github.com/ZSC714725/vidshrink/internal/process"
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

// Request describes a batch of files shrunk to one target size
type Request struct {
	ID        string   `json:"id"`
	Reference string   `json:"reference"`
	Inputs    []string `json:"inputs"`
	TargetMB  float64  `json:"target_mb"`
	HWAccel   string   `json:"hwaccel"`
}

// State of a job
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCanceled  State = "canceled"
	StateFailed    State = "failed"
)

// Finished reports whether the job reached a terminal state
func (s State) Finished() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// Job is a queued or running batch
type Job struct {
	ID          string
	Reference   string
	Request     Request
	TargetBytes int64
	HWAccel     bool
	CreatedAt   int64

	hub *logstream.Hub

	mu         sync.RWMutex
	state      State
	results    []shrink.Result
	current    int
	encode     parse.Progress
	startedAt  int64
	finishedAt int64
	cancel     context.CancelFunc
	canceled   bool
}

func newJob(req Request, targetBytes int64, hw bool, logLines int) *Job {
	return &Job{
		ID:          req.ID,
		Reference:   req.Reference,
		Request:     req,
		TargetBytes: targetBytes,
		HWAccel:     hw,
		CreatedAt:   time.Now().Unix(),
		hub:         logstream.New(logLines),
		state:       StateQueued,
		current:     -1,
		results: lo.Map(req.Inputs, func(in string, _ int) shrink.Result {
			return shrink.Result{Input: in, TargetBytes: targetBytes, Status: shrink.StatusPending}
		}),
	}
}

// Snapshot is a consistent copy of a job
type Snapshot struct {
	ID          string
	Reference   string
	Request     Request
	State       State
	TargetBytes int64
	HWAccel     bool
	Progress    int
	Current     string
	Encode      parse.Progress
	Process     *process.Status
	Results     []shrink.Result
	CreatedAt   int64
	StartedAt   int64
	FinishedAt  int64
}

// Snapshot copies the job state
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:          j.ID,
		Reference:   j.Reference,
		Request:     j.Request,
		State:       j.state,
		TargetBytes: j.TargetBytes,
		HWAccel:     j.HWAccel,
		Progress:    progress(j.results),
		Encode:      j.encode,
		Results:     append([]shrink.Result(nil), j.results...),
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
	if j.current >= 0 && j.state == StateRunning {
		s.Current = j.results[j.current].Input
	}
	return s
}

// State returns the current state
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Logs returns the recent ffmpeg log lines
func (j *Job) Logs() []process.Line {
	return j.hub.History()
}

// Subscribe follows the job's ffmpeg log
func (j *Job) Subscribe(buffer int) (<-chan process.Line, func()) {
	return j.hub.Subscribe(buffer)
}

// progress is the share of files that reached a terminal status
func progress(results []shrink.Result) int {
	if len(results) == 0 {
		return 0
	}
	done := lo.CountBy(results, func(r shrink.Result) bool { return r.Status.Finished() })
	return int(float64(done) / float64(len(results)) * 100)
}

func (j *Job) start(cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	j.state = StateRunning
	j.cancel = cancel
	j.startedAt = time.Now().Unix()
	return true
}

func (j *Job) begin(i int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = i
	j.encode = parse.Progress{}
	j.results[i].Status = shrink.StatusRunning
}

func (j *Job) setEncode(p parse.Progress) {
	j.mu.Lock()
	j.encode = p
	j.mu.Unlock()
}

func (j *Job) setResult(i int, r shrink.Result) {
	j.mu.Lock()
	j.results[i] = r
	j.mu.Unlock()
}

// finish marks every unfinished file canceled when the job was canceled and
// derives the terminal state.
func (j *Job) finish() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishLocked()
}

func (j *Job) finishLocked() State {
	for i := range j.results {
		if !j.results[i].Status.Finished() {
			j.results[i].Status = shrink.StatusCanceled
		}
	}

	switch {
	case j.canceled:
		j.state = StateCanceled
	case lo.SomeBy(j.results, func(r shrink.Result) bool { return r.Status == shrink.StatusDone }):
		j.state = StateCompleted
	case lo.SomeBy(j.results, func(r shrink.Result) bool { return r.Status == shrink.StatusFailed }):
		j.state = StateFailed
	default:
		j.state = StateCompleted
	}
	j.current = -1
	j.cancel = nil
	j.finishedAt = time.Now().Unix()
	j.hub.Close()
	return j.state
}

// requestCancel stops a running job or finishes a queued one. It reports
// false when the job already ended.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	if j.state.Finished() {
		j.mu.Unlock()
		return false
	}
	j.canceled = true
	if j.state == StateQueued {
		j.finishLocked()
		j.mu.Unlock()
		return true
	}
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}
