// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"path/filepath"
	"strconv"
	"strings"
)

// OutputPath returns <dir>/<base><suffix><ext> where dir defaults to the
// input's directory.
func OutputPath(input string, s Settings) string {
	dir := s.OutputDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, base+s.OutputSuffix+s.OutputExt)
}

// muxer maps an output extension to the ffmpeg muxer name. Needed because
// attempts are written to a temporary ".part" file.
func muxer(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4", ".m4v":
		return "mp4"
	case ".mkv":
		return "matroska"
	case ".mov":
		return "mov"
	case ".webm":
		return "webm"
	}
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// BuildArgs builds the single-pass ffmpeg command line for one attempt
func BuildArgs(req EncodeRequest, s Settings) []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}

	videoCodec := s.VideoCodec
	if req.HWAccel {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
		videoCodec = s.HWVideoCodec
	}

	args = append(args, "-i", req.Input)

	if req.HasAudio {
		args = append(args, "-c:a", s.AudioCodec, "-b:a", kbps(req.AudioKbps))
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-c:v", videoCodec, "-b:v", kbps(req.VideoKbps))

	format := muxer(s.OutputExt)
	if format == "mp4" || format == "mov" {
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-f", format, req.Output)
	return args
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}
