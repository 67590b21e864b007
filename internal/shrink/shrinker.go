// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
	"github.com/ZSC714725/vidshrink/internal/logger"
	"github.com/ZSC714725/vidshrink/internal/process"
)

// Status of a single file
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Finished reports whether the file reached a terminal status
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusSkipped || s == StatusFailed || s == StatusCanceled
}

// Attempt records one encode
type Attempt struct {
	Number      int    `json:"number"`
	VideoKbps   int    `json:"video_kbps"`
	OutputBytes int64  `json:"output_bytes"`
	Verdict     string `json:"verdict,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Result of shrinking one file
type Result struct {
	Input         string    `json:"input"`
	Output        string    `json:"output,omitempty"`
	OriginalBytes int64     `json:"original_bytes"`
	TargetBytes   int64     `json:"target_bytes"`
	OutputBytes   int64     `json:"output_bytes"`
	Plan          Plan      `json:"plan"`
	HWAccel       bool      `json:"hwaccel"`
	Attempts      []Attempt `json:"attempts"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`

	err error
}

// Err returns the cause of a failed or skipped result
func (r Result) Err() error {
	return r.err
}

// FinalKbps is the video bitrate of the kept output, or of the last attempt
func (r Result) FinalKbps() int {
	for i := len(r.Attempts) - 1; i >= 0; i-- {
		a := r.Attempts[i]
		if a.Error == "" && a.OutputBytes > 0 && a.OutputBytes == r.OutputBytes {
			return a.VideoKbps
		}
	}
	if n := len(r.Attempts); n > 0 {
		return r.Attempts[n-1].VideoKbps
	}
	return 0
}

func (r *Result) finish(status Status, err error) Result {
	r.Status = status
	r.err = err
	if err != nil {
		r.Error = err.Error()
	}
	return *r
}

// Options for one Shrink call
type Options struct {
	HWAccel    bool
	OnLine     func(process.Line)
	OnProgress func(parse.Progress)
	OnAttempt  func(Attempt)
}

// Shrinker runs the per-file bitrate retry loop
type Shrinker struct {
	prober   Prober
	encoder  Encoder
	settings Settings
	logger   logger.Logger
}

// New creates a Shrinker
func New(prober Prober, encoder Encoder, s Settings, log logger.Logger) (*Shrinker, error) {
	if prober == nil || encoder == nil {
		return nil, errors.New("shrinker requires a prober and an encoder")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Shrinker{prober: prober, encoder: encoder, settings: s, logger: log}, nil
}

// Settings returns the active settings
func (s *Shrinker) Settings() Settings {
	return s.settings
}

// CheckBatch rejects the whole batch when any input is not larger than the
// target.
func CheckBatch(inputs []string, targetBytes int64) error {
	if targetBytes <= 0 {
		return ErrInvalidTarget
	}
	if len(inputs) == 0 {
		return errors.New("no input files")
	}
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return fmt.Errorf("stat %s: %w", in, err)
		}
		if info.Size() <= targetBytes {
			return fmt.Errorf("%w: %s is %d bytes", ErrTargetNotSmaller, in, info.Size())
		}
	}
	return nil
}

// Shrink encodes input until the output fits targetBytes. The best output not
// larger than the target is kept; every other attempt is discarded.
func (s *Shrinker) Shrink(ctx context.Context, input string, targetBytes int64, opts Options) Result {
	res := Result{
		Input:       input,
		TargetBytes: targetBytes,
		HWAccel:     opts.HWAccel,
		Status:      StatusRunning,
	}
	log := s.logger.With("input", filepath.Base(input))

	info, err := os.Stat(input)
	if err != nil {
		return res.finish(StatusFailed, fmt.Errorf("stat input: %w", err))
	}
	res.OriginalBytes = info.Size()

	media, err := s.prober.Probe(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return res.finish(StatusCanceled, ctx.Err())
		}
		if errors.Is(err, probe.ErrNoDuration) {
			log.Warn("skipping: %v", err)
			return res.finish(StatusSkipped, err)
		}
		return res.finish(StatusFailed, fmt.Errorf("probe: %w", err))
	}

	plan, err := PlanBitrate(media, res.OriginalBytes, targetBytes, s.settings)
	res.Plan = plan
	if err != nil {
		log.Warn("skipping: %v", err)
		return res.finish(StatusSkipped, err)
	}

	output := OutputPath(input, s.settings)
	if sameFile(input, output) {
		return res.finish(StatusFailed, fmt.Errorf("output %s would overwrite the input", output))
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return res.finish(StatusFailed, fmt.Errorf("create output dir: %w", err))
	}
	part := output + ".part"
	defer os.Remove(part)

	kbps := plan.VideoKbps
	for n := 1; n <= s.settings.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return s.canceled(&res, err)
		}

		attempt := Attempt{Number: n, VideoKbps: kbps}
		log.Info("attempt %d/%d at %d kbps", n, s.settings.MaxAttempts, kbps)

		err := s.encoder.Encode(ctx, EncodeRequest{
			Input:      input,
			Output:     part,
			VideoKbps:  kbps,
			AudioKbps:  plan.AudioKbps,
			HasAudio:   plan.HasAudio,
			HWAccel:    opts.HWAccel,
			Duration:   media.DurationSeconds,
			OnLine:     opts.OnLine,
			OnProgress: opts.OnProgress,
		})
		if err != nil {
			attempt.Error = err.Error()
			s.record(&res, attempt, opts)
			if ctx.Err() != nil {
				return s.canceled(&res, ctx.Err())
			}
			return s.attemptFailed(&res, log, fmt.Errorf("encode: %w", err))
		}

		pinfo, err := os.Stat(part)
		if err != nil {
			attempt.Error = ErrNoOutput.Error()
			s.record(&res, attempt, opts)
			return s.attemptFailed(&res, log, ErrNoOutput)
		}
		attempt.OutputBytes = pinfo.Size()

		verdict := Judge(attempt.OutputBytes, targetBytes, s.settings)
		attempt.Verdict = verdict.String()
		s.record(&res, attempt, opts)

		if verdict != RetryLower && attempt.OutputBytes > res.OutputBytes {
			if err := os.Rename(part, output); err != nil {
				return res.finish(StatusFailed, fmt.Errorf("keep output: %w", err))
			}
			res.Output = output
			res.OutputBytes = attempt.OutputBytes
		}

		if verdict == Accept {
			break
		}

		next, ok := Adjust(kbps, verdict, s.settings)
		if !ok {
			log.Info("bitrate %d kbps at limit, stopping", kbps)
			break
		}
		log.Info("%s: %d bytes vs target %d, retrying at %d kbps", verdict, attempt.OutputBytes, targetBytes, next)
		kbps = next
	}

	if res.Output == "" {
		return res.finish(StatusFailed, ErrTargetNotReached)
	}
	log.Info("kept %s (%d bytes, target %d)", res.Output, res.OutputBytes, targetBytes)
	return res.finish(StatusDone, nil)
}

// attemptFailed ends the loop after a broken attempt. An output kept by an
// earlier attempt still fits the target, so the file counts as done.
func (s *Shrinker) attemptFailed(res *Result, log logger.Logger, err error) Result {
	if res.Output == "" {
		return res.finish(StatusFailed, err)
	}
	log.Warn("attempt %d failed, keeping %s (%d bytes): %v", len(res.Attempts), res.Output, res.OutputBytes, err)
	return res.finish(StatusDone, nil)
}

// canceled removes any kept output so a canceled file leaves nothing behind.
func (s *Shrinker) canceled(res *Result, err error) Result {
	if res.Output != "" {
		if rerr := os.Remove(res.Output); rerr != nil && !os.IsNotExist(rerr) {
			s.logger.Warn("remove %s: %v", res.Output, rerr)
		}
		res.Output = ""
		res.OutputBytes = 0
	}
	return res.finish(StatusCanceled, err)
}

func (s *Shrinker) record(res *Result, a Attempt, opts Options) {
	res.Attempts = append(res.Attempts, a)
	if opts.OnAttempt != nil {
		opts.OnAttempt(a)
	}
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
