// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"errors"
	"fmt"
	"strings"
)

// Settings 码率计算与重试参数
type Settings struct {
	MinVideoKbps   int
	MaxVideoKbps   int
	DecreaseFactor float64
	IncreaseFactor float64
	// MinFillRatio below which an output counts as undershooting. 0 accepts
	// any output not larger than the target.
	MinFillRatio float64
	MaxAttempts  int
	OutputSuffix string
	OutputExt    string
	OutputDir    string
	AudioCodec   string
	VideoCodec   string
	HWVideoCodec string
}

// DefaultSettings 返回默认参数
func DefaultSettings() Settings {
	return Settings{
		MinVideoKbps:   800,
		MaxVideoKbps:   6000,
		DecreaseFactor: 0.9,
		IncreaseFactor: 1.05,
		MinFillRatio:   0,
		MaxAttempts:    5,
		OutputSuffix:   "_out",
		OutputExt:      ".mp4",
		AudioCodec:     "aac",
		VideoCodec:     "libx264",
		HWVideoCodec:   "h264_nvenc",
	}
}

// Validate checks the settings are self-consistent
func (s Settings) Validate() error {
	switch {
	case s.MinVideoKbps <= 0:
		return errors.New("min_video_kbps must be positive")
	case s.MaxVideoKbps < s.MinVideoKbps:
		return fmt.Errorf("max_video_kbps (%d) below min_video_kbps (%d)", s.MaxVideoKbps, s.MinVideoKbps)
	case s.DecreaseFactor <= 0 || s.DecreaseFactor >= 1:
		return errors.New("decrease_factor must be in (0, 1)")
	case s.IncreaseFactor <= 1:
		return errors.New("increase_factor must be greater than 1")
	case s.MinFillRatio < 0 || s.MinFillRatio >= 1:
		return errors.New("min_fill_ratio must be in [0, 1)")
	case s.MaxAttempts <= 0:
		return errors.New("max_attempts must be positive")
	case !strings.HasPrefix(s.OutputExt, "."):
		return fmt.Errorf("output_ext %q must start with a dot", s.OutputExt)
	case s.OutputSuffix == "" && s.OutputDir == "":
		return errors.New("output_suffix may only be empty with a separate output_dir")
	}
	return nil
}

// HWAccelMode selects hardware encoding
type HWAccelMode string

const (
	HWAccelAuto HWAccelMode = "auto"
	HWAccelOn   HWAccelMode = "on"
	HWAccelOff  HWAccelMode = "off"
)

// ParseHWAccelMode parses auto/on/off, empty means auto
func ParseHWAccelMode(s string) (HWAccelMode, error) {
	switch HWAccelMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HWAccelAuto:
		return HWAccelAuto, nil
	case HWAccelOn, "true", "nvenc":
		return HWAccelOn, nil
	case HWAccelOff, "false", "none":
		return HWAccelOff, nil
	}
	return "", fmt.Errorf("invalid hwaccel mode %q (auto, on, off)", s)
}

// Resolve decides whether hardware encoding is used given availability
func (m HWAccelMode) Resolve(available bool) (bool, error) {
	switch m {
	case HWAccelOn:
		if !available {
			return false, ErrHWAccelUnavailable
		}
		return true, nil
	case HWAccelOff:
		return false, nil
	}
	return available, nil
}
