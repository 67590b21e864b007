// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package job

import "errors"

var (
	ErrNotFound    = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrNoInputs    = errors.New("invalid request: need at least one input file")
	ErrInvalidFile = errors.New("invalid input file")
	ErrJobFinished = errors.New("job already finished")
)
