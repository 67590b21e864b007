// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package main

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/skills"
)

func newSkillsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "Show the ffmpeg version and hardware encoding support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ff, err := ctx.ffmpeg()
			if err != nil {
				return err
			}
			s := ff.Skills()
			settings := cfg.Shrink.Settings()

			rows := [][]string{
				{"ffmpeg", s.FFmpeg.Version},
				{"hwaccels", joinOrNone(lo.Map(s.HWAccels, func(h skills.HWAccel, _ int) string { return h.Id }))},
				{settings.VideoCodec, yesNo(s.HasVideoEncoder(settings.VideoCodec))},
				{settings.HWVideoCodec, yesNo(s.HasVideoEncoder(settings.HWVideoCodec))},
				{settings.AudioCodec, yesNo(s.HasAudioEncoder(settings.AudioCodec))},
				{"hardware encoding", yesNo(ff.HWAccelAvailable(settings.HWVideoCodec))},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Capability", "Value"}, rows, nil))
			return nil
		},
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
