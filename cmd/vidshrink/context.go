// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package main

import (
	"os"
	"strings"
	"sync"

	"github.com/ZSC714725/vidshrink/internal/config"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg"
	"github.com/ZSC714725/vidshrink/internal/history"
	"github.com/ZSC714725/vidshrink/internal/logger"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	ffOnce sync.Once
	ff     ffmpeg.FFmpeg
	ffErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.config = config.Default()
			return
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// logger writes to stderr. Unless verbose, only warnings are shown so the
// progress output stays readable.
func (c *commandContext) logger() logger.Logger {
	cfg, _ := c.ensureConfig()
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	format := "console"
	if cfg != nil && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	l, err := logger.NewWithConfig("vidshrink", logger.Config{Level: level, Format: format, Output: os.Stderr})
	if err != nil {
		return logger.Nop()
	}
	return l
}

func (c *commandContext) ffmpeg() (ffmpeg.FFmpeg, error) {
	c.ffOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.ffErr = err
			return
		}
		validator, err := ffmpeg.NewValidator(cfg.FFmpeg.InputAllow, cfg.FFmpeg.InputBlock)
		if err != nil {
			c.ffErr = err
			return
		}
		c.ff, c.ffErr = ffmpeg.New(ffmpeg.Config{
			Binary:         cfg.FFmpeg.Path,
			ProbeBinary:    cfg.FFmpeg.FFprobe,
			MaxLogLines:    cfg.FFmpeg.MaxLogLines,
			StaleTimeout:   cfg.FFmpeg.StaleTimeoutDuration(),
			ValidatorInput: validator,
		})
	})
	return c.ff, c.ffErr
}

func (c *commandContext) openHistory() (*history.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return nil, err
	}
	return history.Open(cfg.HistoryPath())
}
