// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
	"github.com/ZSC714725/vidshrink/internal/logger"
	"github.com/ZSC714725/vidshrink/internal/process"
)

// EncodeRequest is one encode attempt
type EncodeRequest struct {
	Input     string
	Output    string
	VideoKbps int
	AudioKbps int
	HasAudio  bool
	HWAccel   bool
	// Duration of the input in seconds, for progress percent
	Duration   float64
	OnLine     func(process.Line)
	OnProgress func(parse.Progress)
}

// Encoder runs one encode attempt to completion
type Encoder interface {
	Encode(ctx context.Context, req EncodeRequest) error
}

// Prober inspects an input file
type Prober interface {
	Probe(ctx context.Context, path string) (probe.Media, error)
}

// FFmpegEncoder runs attempts through the ffmpeg process wrapper. Only one
// process is tracked at a time.
type FFmpegEncoder struct {
	ff       ffmpeg.FFmpeg
	settings Settings
	logger   logger.Logger

	active struct {
		proc process.Process
		lock sync.Mutex
	}
}

// NewEncoder creates an encoder backed by ff
func NewEncoder(ff ffmpeg.FFmpeg, s Settings, log logger.Logger) *FFmpegEncoder {
	if log == nil {
		log = logger.Nop()
	}
	return &FFmpegEncoder{ff: ff, settings: s, logger: log}
}

func (e *FFmpegEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	parser := e.ff.NewParser(parse.Config{
		Duration:   req.Duration,
		OnLine:     req.OnLine,
		OnProgress: req.OnProgress,
	})

	args := BuildArgs(req, e.settings)
	proc, err := e.ff.New(ffmpeg.ProcessConfig{
		Command: args,
		Parser:  parser,
		Logger:  e.logger,
		OnStateChange: func(from, to string) {
			e.logger.Debug("ffmpeg %s state %s -> %s", req.Input, from, to)
		},
	})
	if err != nil {
		return err
	}

	e.active.lock.Lock()
	e.active.proc = proc
	e.active.lock.Unlock()
	defer func() {
		e.active.lock.Lock()
		e.active.proc = nil
		e.active.lock.Unlock()
	}()

	e.logger.Info("encoding %s at %d kbps (hwaccel=%t)", req.Input, req.VideoKbps, req.HWAccel)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	if err := proc.Wait(ctx); err != nil {
		return fmt.Errorf("ffmpeg: %w (last line: %q)", err, proc.Status().LastLine)
	}
	return nil
}

// Active returns the status of the running ffmpeg process, if any
func (e *FFmpegEncoder) Active() (process.Status, bool) {
	e.active.lock.Lock()
	proc := e.active.proc
	e.active.lock.Unlock()
	if proc == nil {
		return process.Status{}, false
	}
	return proc.Status(), true
}
