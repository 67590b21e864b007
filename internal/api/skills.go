// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package api

import (
	"github.com/samber/lo"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/skills"
)

// SkillsResponse for API
type SkillsResponse struct {
	FFmpeg struct {
		Version       string          `json:"version"`
		Compiler      string          `json:"compiler"`
		Configuration string          `json:"configuration"`
		Libraries     []SkillsLibrary `json:"libraries"`
	} `json:"ffmpeg"`

	HWAccels []SkillsItem `json:"hwaccels"`

	Encoders struct {
		Audio []SkillsItem `json:"audio"`
		Video []SkillsItem `json:"video"`
	} `json:"encoders"`

	// HWAccelUsable is set when CUDA decoding and the hardware encoder are
	// both present
	HWAccelUsable bool `json:"hwaccel_usable"`
}

type SkillsLibrary struct {
	Name     string `json:"name"`
	Compiled string `json:"compiled"`
	Linked   string `json:"linked"`
}

type SkillsItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func skillsToAPI(s skills.Skills, hwUsable bool) SkillsResponse {
	resp := SkillsResponse{HWAccelUsable: hwUsable}

	resp.FFmpeg.Version = s.FFmpeg.Version
	resp.FFmpeg.Compiler = s.FFmpeg.Compiler
	resp.FFmpeg.Configuration = s.FFmpeg.Configuration
	resp.FFmpeg.Libraries = lo.Map(s.FFmpeg.Libraries, func(lib skills.Library, _ int) SkillsLibrary {
		return SkillsLibrary{Name: lib.Name, Compiled: lib.Compiled, Linked: lib.Linked}
	})

	resp.HWAccels = lo.Map(s.HWAccels, func(h skills.HWAccel, _ int) SkillsItem {
		return SkillsItem{ID: h.Id, Name: h.Name}
	})

	encoder := func(e skills.Encoder, _ int) SkillsItem { return SkillsItem{ID: e.Id, Name: e.Name} }
	resp.Encoders.Audio = lo.Map(s.Encoders.Audio, encoder)
	resp.Encoders.Video = lo.Map(s.Encoders.Video, encoder)

	return resp
}
