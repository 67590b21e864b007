// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"fmt"
	"math"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
)

// MiB is the unit of user supplied target sizes
const MiB = 1024 * 1024

// TargetBytes converts a target in MiB to bytes
func TargetBytes(mib float64) (int64, error) {
	if mib <= 0 || math.IsNaN(mib) || math.IsInf(mib, 0) {
		return 0, ErrInvalidTarget
	}
	return int64(mib * MiB), nil
}

// Plan is the first encode attempt for a file
type Plan struct {
	VideoKbps int  `json:"video_kbps"`
	AudioKbps int  `json:"audio_kbps"`
	HasAudio  bool `json:"has_audio"`
	// FromDuration is set when the video stream had no bitrate and the
	// container duration was used instead
	FromDuration bool `json:"from_duration"`
}

// PlanBitrate scales the original video bitrate by target/original size and
// reserves room for the audio track.
func PlanBitrate(m probe.Media, originalBytes, targetBytes int64, s Settings) (Plan, error) {
	if targetBytes <= 0 {
		return Plan{}, ErrInvalidTarget
	}
	if originalBytes <= targetBytes {
		return Plan{}, ErrTargetNotSmaller
	}

	p := Plan{HasAudio: m.HasAudio}
	audio := 0.0
	if m.HasAudio {
		audio = float64(m.AudioBitrate) / 1000
		p.AudioKbps = int(math.Round(audio))
	}

	var video float64
	if m.VideoBitrate > 0 {
		ratio := float64(targetBytes) / float64(originalBytes)
		video = float64(m.VideoBitrate)/1000*ratio - audio
	} else {
		if m.DurationSeconds <= 0 {
			return Plan{}, probe.ErrNoDuration
		}
		video = float64(targetBytes)*8/1000/m.DurationSeconds - audio
		p.FromDuration = true
	}

	p.VideoKbps = int(video)
	if p.VideoKbps < s.MinVideoKbps {
		return p, fmt.Errorf("%w (%d kbps < %d kbps)", ErrBitrateTooLow, p.VideoKbps, s.MinVideoKbps)
	}
	return p, nil
}

// Verdict of one encode attempt
type Verdict int

const (
	Accept Verdict = iota
	RetryLower
	RetryHigher
)

func (v Verdict) String() string {
	switch v {
	case RetryLower:
		return "overshoot"
	case RetryHigher:
		return "undershoot"
	}
	return "accept"
}

// Judge classifies an output size against the target
func Judge(outputBytes, targetBytes int64, s Settings) Verdict {
	if outputBytes > targetBytes {
		return RetryLower
	}
	if s.MinFillRatio > 0 && float64(outputBytes) < float64(targetBytes)*s.MinFillRatio {
		return RetryHigher
	}
	return Accept
}

// Adjust returns the bitrate for the next attempt clamped to the configured
// range. ok is false when the verdict needs no retry or clamping leaves the
// bitrate unchanged.
func Adjust(videoKbps int, v Verdict, s Settings) (next int, ok bool) {
	f := float64(videoKbps)
	switch v {
	case RetryLower:
		f *= s.DecreaseFactor
	case RetryHigher:
		f *= s.IncreaseFactor
	default:
		return videoKbps, false
	}

	next = int(f)
	if next < s.MinVideoKbps {
		next = s.MinVideoKbps
	}
	if next > s.MaxVideoKbps {
		next = s.MaxVideoKbps
	}
	if (v == RetryLower && next >= videoKbps) || (v == RetryHigher && next <= videoKbps) {
		return videoKbps, false
	}
	return next, true
}
