// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package api

import (
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

// JobRequest for Add
type JobRequest struct {
	ID        string   `json:"id"`
	Reference string   `json:"reference"`
	Inputs    []string `json:"inputs" binding:"required"`
	TargetMB  float64  `json:"target_mb" binding:"required"`
	HWAccel   string   `json:"hwaccel"`
}

// Job represents a job in API response
type Job struct {
	ID         string     `json:"id"`
	Reference  string     `json:"reference"`
	CreatedAt  int64      `json:"created_at"`
	StartedAt  int64      `json:"started_at"`
	FinishedAt int64      `json:"finished_at"`
	Config     *JobConfig `json:"config,omitempty"`
	State      *JobState  `json:"state,omitempty"`
	Report     *JobReport `json:"report,omitempty"`
}

// JobConfig in API format
type JobConfig struct {
	ID          string   `json:"id"`
	Reference   string   `json:"reference"`
	Inputs      []string `json:"inputs"`
	TargetMB    float64  `json:"target_mb"`
	TargetBytes int64    `json:"target_bytes"`
	HWAccel     string   `json:"hwaccel"`
	HWAccelUsed bool     `json:"hwaccel_used"`
}

// JobState for API
type JobState struct {
	State    string          `json:"state"`
	Progress int             `json:"progress"`
	Current  string          `json:"current,omitempty"`
	Encode   *Progress       `json:"encode,omitempty"`
	Process  *ProcessState   `json:"process,omitempty"`
	Files    []shrink.Result `json:"files"`
}

// ProcessState of the running ffmpeg
type ProcessState struct {
	State   string  `json:"exec"`
	PID     int     `json:"pid"`
	Runtime int64   `json:"runtime_seconds"`
	LastLog string  `json:"last_logline"`
	Memory  uint64  `json:"memory_bytes"`
	CPU     float64 `json:"cpu_usage"`
}

// Progress from FFmpeg parser
type Progress struct {
	Frame     uint64  `json:"frame"`
	Size      uint64  `json:"size_bytes"`
	Time      float64 `json:"time_seconds"`
	Speed     float64 `json:"speed"`
	Bitrate   float64 `json:"bitrate_kbps"`
	Quantizer float64 `json:"q"`
	Percent   float64 `json:"percent"`
}

// JobReport for logs
type JobReport struct {
	CreatedAt int64       `json:"created_at"`
	Log       [][2]string `json:"log"`
}

// CommandRequest for cancel
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// ProbeRequest inspects a file and optionally plans a target size
type ProbeRequest struct {
	Path     string  `json:"path" binding:"required"`
	TargetMB float64 `json:"target_mb"`
}

// ProbeResponse for API
type ProbeResponse struct {
	Path          string       `json:"path"`
	SizeBytes     int64        `json:"size_bytes"`
	Duration      float64      `json:"duration_seconds"`
	VideoCodec    string       `json:"video_codec"`
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	VideoBitrate  int64        `json:"video_bitrate"`
	AudioBitrate  int64        `json:"audio_bitrate"`
	HasAudio      bool         `json:"has_audio"`
	TargetBytes   int64        `json:"target_bytes,omitempty"`
	Plan          *shrink.Plan `json:"plan,omitempty"`
	PlanError     string       `json:"plan_error,omitempty"`
	HWAccelUsable bool         `json:"hwaccel_usable"`
}

// LogLine sent over the stream
type LogLine struct {
	Timestamp int64  `json:"ts"`
	Data      string `json:"data"`
}

// ErrorResponse for API errors
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
