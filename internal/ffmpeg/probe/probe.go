// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

// Package probe is a typed wrapper around ffprobe JSON output.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultAudioBitrate is assumed when an audio stream reports no bit_rate
const DefaultAudioBitrate = 128000

var (
	ErrNoVideoStream = errors.New("no video stream")
	ErrNoDuration    = errors.New("unknown duration")
)

// Result is the parsed output of an ffprobe inspection
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the container
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
	BitRate   string `json:"bit_rate"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Format captures container-level metadata
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Media is what the bitrate planner needs to know about an input
type Media struct {
	Path            string  `json:"path"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	VideoBitrate    int64   `json:"video_bitrate_bps"`
	AudioBitrate    int64   `json:"audio_bitrate_bps"`
	HasAudio        bool    `json:"has_audio"`
	VideoCodec      string  `json:"video_codec"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// Inspect runs ffprobe against path and decodes the JSON response
func Inspect(ctx context.Context, binary, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return Parse(out)
}

// Parse decodes ffprobe JSON
func Parse(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return r, nil
}

// Media derives planner inputs. The video stream bitrate may be zero when the
// container does not report it per stream (e.g. mkv).
func (r Result) Media() (Media, error) {
	m := Media{
		Path:            r.Format.Filename,
		SizeBytes:       parseInt(r.Format.Size),
		DurationSeconds: parseFloat(r.Format.Duration),
	}

	var video, audio *Stream
	for i := range r.Streams {
		s := &r.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if video == nil && !isCoverArt(s) {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}
	if video == nil {
		return m, ErrNoVideoStream
	}

	m.VideoCodec = video.CodecName
	m.Width = video.Width
	m.Height = video.Height
	m.VideoBitrate = parseInt(video.BitRate)
	if m.DurationSeconds <= 0 {
		m.DurationSeconds = parseFloat(video.Duration)
	}

	if audio != nil {
		m.HasAudio = true
		m.AudioBitrate = parseInt(audio.BitRate)
		if m.AudioBitrate <= 0 {
			m.AudioBitrate = DefaultAudioBitrate
		}
	}

	if m.VideoBitrate <= 0 && (m.DurationSeconds <= 0 || math.IsNaN(m.DurationSeconds)) {
		return m, ErrNoDuration
	}
	return m, nil
}

func isCoverArt(s *Stream) bool {
	switch strings.ToLower(s.CodecName) {
	case "mjpeg", "png", "bmp":
		return s.Duration == "" && s.BitRate == ""
	}
	return false
}

func parseFloat(value string) float64 {
	v := strings.TrimSpace(value)
	if v == "" || v == "N/A" {
		return 0
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return math.NaN()
}

func parseInt(value string) int64 {
	f := parseFloat(value)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return int64(f)
}
