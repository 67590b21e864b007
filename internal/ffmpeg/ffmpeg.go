// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package ffmpeg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/skills"
	"github.com/ZSC714725/vidshrink/internal/logger"
	"github.com/ZSC714725/vidshrink/internal/process"
)

// FFmpeg manages the FFmpeg/FFprobe binaries and their skills
type FFmpeg interface {
	New(config ProcessConfig) (process.Process, error)
	NewParser(config parse.Config) parse.Parser
	Probe(ctx context.Context, path string) (probe.Media, error)
	ValidateInput(path string) error
	Skills() skills.Skills
	ReloadSkills() error
	// HWAccelAvailable reports whether CUDA decoding and the given
	// hardware encoder can be used
	HWAccelAvailable(encoder string) bool
}

// ProcessConfig for creating an FFmpeg process
type ProcessConfig struct {
	Command       []string
	Parser        process.Parser
	Logger        logger.Logger
	OnStart       func(pid int)
	OnExit        func(state string)
	OnStateChange func(from, to string)
}

// Config for FFmpeg
type Config struct {
	Binary         string
	ProbeBinary    string
	MaxLogLines    int
	StaleTimeout   time.Duration
	ValidatorInput Validator
}

type ffmpeg struct {
	binary       string
	probeBinary  string
	validatorIn  Validator
	logLines     int
	staleTimeout time.Duration
	skills       skills.Skills
	skillsLock   sync.RWMutex
}

// New creates FFmpeg
func New(config Config) (FFmpeg, error) {
	binary, err := ResolveBinary(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg binary: %w", err)
	}
	probeBinary, err := ResolveBinary(config.ProbeBinary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffprobe binary: %w", err)
	}

	f := &ffmpeg{
		binary:       binary,
		probeBinary:  probeBinary,
		logLines:     config.MaxLogLines,
		staleTimeout: config.StaleTimeout,
	}

	if f.logLines <= 0 {
		f.logLines = 100
	}

	if config.ValidatorInput != nil {
		f.validatorIn = config.ValidatorInput
	} else {
		f.validatorIn, _ = NewValidator(nil, nil)
	}

	s, err := skills.New(f.binary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg: %w", err)
	}
	f.skills = s

	return f, nil
}

func (f *ffmpeg) New(config ProcessConfig) (process.Process, error) {
	return process.New(process.Config{
		Binary:        f.binary,
		Args:          config.Command,
		StaleTimeout:  f.staleTimeout,
		Parser:        config.Parser,
		Usage:         process.NewUsageSampler(),
		Logger:        wrapLogger(config.Logger),
		OnStart:       config.OnStart,
		OnExit:        config.OnExit,
		OnStateChange: config.OnStateChange,
	})
}

func (f *ffmpeg) NewParser(config parse.Config) parse.Parser {
	if config.LogLines <= 0 {
		config.LogLines = f.logLines
	}
	return parse.New(config)
}

func (f *ffmpeg) Probe(ctx context.Context, path string) (probe.Media, error) {
	r, err := probe.Inspect(ctx, f.probeBinary, path)
	if err != nil {
		return probe.Media{}, err
	}
	m, err := r.Media()
	if err != nil {
		return m, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

func (f *ffmpeg) ValidateInput(path string) error {
	return f.validatorIn.Validate(path)
}

func (f *ffmpeg) Skills() skills.Skills {
	f.skillsLock.RLock()
	defer f.skillsLock.RUnlock()
	return f.skills
}

func (f *ffmpeg) ReloadSkills() error {
	s, err := skills.New(f.binary)
	if err != nil {
		return fmt.Errorf("reload skills: %w", err)
	}
	f.skillsLock.Lock()
	f.skills = s
	f.skillsLock.Unlock()
	return nil
}

func (f *ffmpeg) HWAccelAvailable(encoder string) bool {
	s := f.Skills()
	return s.HasHWAccel("cuda", "cuvid") && s.HasVideoEncoder(encoder)
}

func wrapLogger(l logger.Logger) process.Logger {
	if l == nil {
		return nil
	}
	return l
}
