// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Bind != ":8080" {
		t.Fatalf("unexpected bind %q", cfg.Server.Bind)
	}
	if cfg.FFmpeg.MaxLogLines != 100 {
		t.Fatalf("expected 100 log lines, got %d", cfg.FFmpeg.MaxLogLines)
	}
	s := cfg.Shrink.Settings()
	if s.MinVideoKbps != 800 || s.MaxVideoKbps != 6000 || s.MaxAttempts != 5 {
		t.Fatalf("unexpected shrink defaults %+v", s)
	}
	if cfg.Shrink.HWAccel != "auto" {
		t.Fatalf("expected auto hwaccel, got %q", cfg.Shrink.HWAccel)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FFmpeg.Path != "ffmpeg" || cfg.FFmpeg.FFprobe != "ffprobe" {
		t.Fatalf("unexpected binaries %+v", cfg.FFmpeg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "vidshrink.yaml", `
server:
  bind: 127.0.0.1:9000
ffmpeg:
  path: /opt/ffmpeg/bin/ffmpeg
  stale_timeout_seconds: 30
  input_block: ["^/etc/"]
shrink:
  max_attempts: 8
  min_fill_ratio: 0.85
  hwaccel: "off"
state:
  dir: /var/lib/vidshrink
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:9000" || cfg.FFmpeg.Path != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("unexpected values %+v", cfg)
	}
	if cfg.FFmpeg.StaleTimeoutDuration() != 30*time.Second {
		t.Fatalf("unexpected stale timeout %s", cfg.FFmpeg.StaleTimeoutDuration())
	}
	if len(cfg.FFmpeg.InputBlock) != 1 {
		t.Fatalf("input_block not loaded")
	}
	s := cfg.Shrink.Settings()
	if s.MaxAttempts != 8 || s.MinFillRatio != 0.85 || s.DecreaseFactor != 0.9 {
		t.Fatalf("unexpected shrink settings %+v", s)
	}
	if cfg.Shrink.HWAccel != "off" {
		t.Fatalf("unexpected hwaccel %q", cfg.Shrink.HWAccel)
	}
	if cfg.HistoryPath() != filepath.Join("/var/lib/vidshrink", "history.db") {
		t.Fatalf("unexpected history path %s", cfg.HistoryPath())
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "vidshrink.toml", `
[ffmpeg]
ffprobe = "/usr/local/bin/ffprobe"
max_log_lines = 250

[shrink]
output_suffix = "_small"
output_ext = ".mkv"
max_video_kbps = 8000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FFmpeg.FFprobe != "/usr/local/bin/ffprobe" || cfg.FFmpeg.MaxLogLines != 250 {
		t.Fatalf("unexpected ffmpeg config %+v", cfg.FFmpeg)
	}
	s := cfg.Shrink.Settings()
	if s.OutputSuffix != "_small" || s.OutputExt != ".mkv" || s.MaxVideoKbps != 8000 || s.MinVideoKbps != 800 {
		t.Fatalf("unexpected shrink settings %+v", s)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad.yaml":     "shrink: [",
		"range.yaml":   "shrink:\n  min_video_kbps: 5000\n  max_video_kbps: 1000\n",
		"factor.yaml":  "shrink:\n  decrease_factor: 1.5\n",
		"hwaccel.yaml": "shrink:\n  hwaccel: sometimes\n",
		"stale.toml":   "[ffmpeg]\nstale_timeout_seconds = -1\n",
	}
	for name, content := range cases {
		if _, err := Load(writeFile(t, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEnsureStateDir(t *testing.T) {
	cfg := Default()
	cfg.State.Dir = filepath.Join(t.TempDir(), "a", "b")
	if err := cfg.EnsureStateDir(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if info, err := os.Stat(cfg.State.Dir); err != nil || !info.IsDir() {
		t.Fatalf("state dir not created: %v", err)
	}
	if filepath.Dir(cfg.LockPath()) != cfg.State.Dir {
		t.Fatalf("lock path outside state dir: %s", cfg.LockPath())
	}
}
