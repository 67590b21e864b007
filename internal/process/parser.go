// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package process

import "time"

// Parser consumes the output lines of a process (e.g. FFmpeg stderr).
// Parse returns a non-zero value when the line reported progress.
type Parser interface {
	Parse(line string) uint64
	ResetStats()
	ResetLog()
	Log() []Line
}

// Line is a timestamped log line
type Line struct {
	Timestamp time.Time `json:"ts"`
	Data      string    `json:"data"`
}
