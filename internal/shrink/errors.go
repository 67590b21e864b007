// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import "errors"

var (
	ErrInvalidTarget      = errors.New("target size must be a positive number of MiB")
	ErrTargetNotSmaller   = errors.New("target size must be smaller than the original size")
	ErrBitrateTooLow      = errors.New("computed target bitrate too low")
	ErrTargetNotReached   = errors.New("output still larger than target after retries")
	ErrNoOutput           = errors.New("encoder produced no output file")
	ErrHWAccelUnavailable = errors.New("hardware acceleration requested but not available")
)
