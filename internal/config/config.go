// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ZSC714725/vidshrink/internal/shrink"
)

// Config 应用配置
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg" toml:"ffmpeg"`
	Shrink ShrinkConfig `yaml:"shrink" toml:"shrink"`
	State  StateConfig  `yaml:"state" toml:"state"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Bind string `yaml:"bind" toml:"bind"`
}

// FFmpegConfig FFmpeg 配置
type FFmpegConfig struct {
	Path         string   `yaml:"path" toml:"path"`
	FFprobe      string   `yaml:"ffprobe" toml:"ffprobe"`
	MaxLogLines  int      `yaml:"max_log_lines" toml:"max_log_lines"`
	StaleTimeout int      `yaml:"stale_timeout_seconds" toml:"stale_timeout_seconds"`
	InputAllow   []string `yaml:"input_allow" toml:"input_allow"`
	InputBlock   []string `yaml:"input_block" toml:"input_block"`
}

// ShrinkConfig 码率计算与重试参数
type ShrinkConfig struct {
	MinVideoKbps   int     `yaml:"min_video_kbps" toml:"min_video_kbps"`
	MaxVideoKbps   int     `yaml:"max_video_kbps" toml:"max_video_kbps"`
	DecreaseFactor float64 `yaml:"decrease_factor" toml:"decrease_factor"`
	IncreaseFactor float64 `yaml:"increase_factor" toml:"increase_factor"`
	MinFillRatio   float64 `yaml:"min_fill_ratio" toml:"min_fill_ratio"`
	MaxAttempts    int     `yaml:"max_attempts" toml:"max_attempts"`
	OutputSuffix   string  `yaml:"output_suffix" toml:"output_suffix"`
	OutputExt      string  `yaml:"output_ext" toml:"output_ext"`
	OutputDir      string  `yaml:"output_dir" toml:"output_dir"`
	AudioCodec     string  `yaml:"audio_codec" toml:"audio_codec"`
	VideoCodec     string  `yaml:"video_codec" toml:"video_codec"`
	HWVideoCodec   string  `yaml:"hw_video_codec" toml:"hw_video_codec"`
	HWAccel        string  `yaml:"hwaccel" toml:"hwaccel"`
}

// StateConfig 历史数据库与锁文件目录
type StateConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.fill()
	return cfg
}

// Load 从 YAML 或 TOML 文件加载配置 (按扩展名)
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// 填充空值
	cfg.fill()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fill() {
	d := shrink.DefaultSettings()

	if c.Server.Bind == "" {
		c.Server.Bind = ":8080"
	}
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = "ffmpeg"
	}
	if c.FFmpeg.FFprobe == "" {
		c.FFmpeg.FFprobe = "ffprobe"
	}
	if c.FFmpeg.MaxLogLines <= 0 {
		c.FFmpeg.MaxLogLines = 100
	}
	if c.Shrink.MinVideoKbps == 0 {
		c.Shrink.MinVideoKbps = d.MinVideoKbps
	}
	if c.Shrink.MaxVideoKbps == 0 {
		c.Shrink.MaxVideoKbps = d.MaxVideoKbps
	}
	if c.Shrink.DecreaseFactor == 0 {
		c.Shrink.DecreaseFactor = d.DecreaseFactor
	}
	if c.Shrink.IncreaseFactor == 0 {
		c.Shrink.IncreaseFactor = d.IncreaseFactor
	}
	if c.Shrink.MaxAttempts == 0 {
		c.Shrink.MaxAttempts = d.MaxAttempts
	}
	if c.Shrink.OutputSuffix == "" {
		c.Shrink.OutputSuffix = d.OutputSuffix
	}
	if c.Shrink.OutputExt == "" {
		c.Shrink.OutputExt = d.OutputExt
	}
	if c.Shrink.AudioCodec == "" {
		c.Shrink.AudioCodec = d.AudioCodec
	}
	if c.Shrink.VideoCodec == "" {
		c.Shrink.VideoCodec = d.VideoCodec
	}
	if c.Shrink.HWVideoCodec == "" {
		c.Shrink.HWVideoCodec = d.HWVideoCodec
	}
	if c.Shrink.HWAccel == "" {
		c.Shrink.HWAccel = string(shrink.HWAccelAuto)
	}
	if c.State.Dir == "" {
		c.State.Dir = defaultStateDir()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks settings that cannot be back-filled
func (c *Config) Validate() error {
	if c.FFmpeg.StaleTimeout < 0 {
		return errors.New("ffmpeg.stale_timeout_seconds must not be negative")
	}
	if _, err := shrink.ParseHWAccelMode(c.Shrink.HWAccel); err != nil {
		return err
	}
	return c.Shrink.Settings().Validate()
}

// Settings converts the shrink section
func (s ShrinkConfig) Settings() shrink.Settings {
	return shrink.Settings{
		MinVideoKbps:   s.MinVideoKbps,
		MaxVideoKbps:   s.MaxVideoKbps,
		DecreaseFactor: s.DecreaseFactor,
		IncreaseFactor: s.IncreaseFactor,
		MinFillRatio:   s.MinFillRatio,
		MaxAttempts:    s.MaxAttempts,
		OutputSuffix:   s.OutputSuffix,
		OutputExt:      s.OutputExt,
		OutputDir:      s.OutputDir,
		AudioCodec:     s.AudioCodec,
		VideoCodec:     s.VideoCodec,
		HWVideoCodec:   s.HWVideoCodec,
	}
}

// StaleTimeoutDuration returns the watchdog timeout, zero disables it
func (f FFmpegConfig) StaleTimeoutDuration() time.Duration {
	return time.Duration(f.StaleTimeout) * time.Second
}

// HistoryPath is the SQLite history database location
func (c *Config) HistoryPath() string {
	return filepath.Join(c.State.Dir, "history.db")
}

// LockPath is the lock file guarding concurrent encodes
func (c *Config) LockPath() string {
	return filepath.Join(c.State.Dir, "vidshrink.lock")
}

// EnsureStateDir creates the state directory
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.State.Dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "vidshrink")
	}
	return ".vidshrink"
}
