// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ZSC714725/vidshrink/internal/shrink"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var targetMB float64

	cmd := &cobra.Command{
		Use:   "probe FILE...",
		Short: "Show stream bitrates and, with --target-mb, the planned video bitrate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ff, err := ctx.ffmpeg()
			if err != nil {
				return err
			}

			var targetBytes int64
			if cmd.Flags().Changed("target-mb") {
				if targetBytes, err = shrink.TargetBytes(targetMB); err != nil {
					return err
				}
			}
			settings := cfg.Shrink.Settings()

			headers := []string{"File", "Duration", "Size", "Codec", "Video", "Audio"}
			aligns := []columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignRight, alignRight}
			if targetBytes > 0 {
				headers = append(headers, "Planned")
				aligns = append(aligns, alignRight)
			}

			var rows [][]string
			for _, in := range lo.Uniq(args) {
				if err := ff.ValidateInput(in); err != nil {
					return err
				}
				m, err := ff.Probe(cmd.Context(), in)
				if err != nil {
					return err
				}
				if m.SizeBytes <= 0 {
					if info, err := os.Stat(in); err == nil {
						m.SizeBytes = info.Size()
					}
				}

				audio := "none"
				if m.HasAudio {
					audio = formatBitrate(m.AudioBitrate)
				}
				row := []string{
					filepath.Base(in),
					formatDuration(m.DurationSeconds),
					formatBytes(m.SizeBytes),
					fmt.Sprintf("%s %dx%d", m.VideoCodec, m.Width, m.Height),
					formatBitrate(m.VideoBitrate),
					audio,
				}
				if targetBytes > 0 {
					plan, err := shrink.PlanBitrate(m, m.SizeBytes, targetBytes, settings)
					if err != nil {
						row = append(row, err.Error())
					} else {
						row = append(row, formatKbps(plan.VideoKbps))
					}
				}
				rows = append(rows, row)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().Float64VarP(&targetMB, "target-mb", "t", 0, "Target size in MiB used to plan the bitrate")
	return cmd
}
