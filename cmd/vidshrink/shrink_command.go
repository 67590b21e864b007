// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/history"
	"github.com/ZSC714725/vidshrink/internal/job"
	"github.com/ZSC714725/vidshrink/internal/runlock"
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

type shrinkOptions struct {
	targetMB    float64
	hwaccel     string
	outputDir   string
	maxAttempts int
	noHistory   bool
	wait        bool
}

func newShrinkCommand(ctx *commandContext) *cobra.Command {
	opts := shrinkOptions{}

	cmd := &cobra.Command{
		Use:   "shrink FILE...",
		Short: "Re-encode videos so each one fits the target size",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShrink(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().Float64VarP(&opts.targetMB, "target-mb", "t", 0, "Target size per file in MiB")
	cmd.Flags().StringVar(&opts.hwaccel, "hwaccel", "", "Hardware encoding: auto, on or off (default from config)")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Write outputs here instead of next to the inputs")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", 0, "Encode attempts per file (default from config)")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record results in the history database")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "Wait for another running vidshrink instead of failing")
	_ = cmd.MarkFlagRequired("target-mb")

	return cmd
}

func runShrink(cmd *cobra.Command, ctx *commandContext, opts shrinkOptions, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	targetBytes, err := shrink.TargetBytes(opts.targetMB)
	if err != nil {
		return err
	}

	settings := cfg.Shrink.Settings()
	if opts.outputDir != "" {
		settings.OutputDir = opts.outputDir
	}
	if opts.maxAttempts > 0 {
		settings.MaxAttempts = opts.maxAttempts
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	mode := cfg.Shrink.HWAccel
	if cmd.Flags().Changed("hwaccel") {
		mode = opts.hwaccel
	}
	hwMode, err := shrink.ParseHWAccelMode(mode)
	if err != nil {
		return err
	}

	ff, err := ctx.ffmpeg()
	if err != nil {
		return err
	}

	inputs := lo.Uniq(args)
	for _, in := range inputs {
		if err := ff.ValidateInput(in); err != nil {
			return err
		}
	}
	if err := shrink.CheckBatch(inputs, targetBytes); err != nil {
		return err
	}

	useHW, err := hwMode.Resolve(ff.HWAccelAvailable(settings.HWVideoCodec))
	if err != nil {
		return err
	}

	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}
	lock := runlock.New(cfg.LockPath())
	if opts.wait {
		err = lock.Acquire(cmd.Context(), 0)
	} else {
		err = lock.TryAcquire()
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	var hist *history.Store
	if !opts.noHistory {
		hist, err = ctx.openHistory()
		if err != nil {
			return err
		}
		defer hist.Close()
	}

	log := ctx.logger()
	encoder := shrink.NewEncoder(ff, settings, log)
	shrinker, err := shrink.New(ff, encoder, settings, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	interactive := isTerminal(os.Stderr)
	runID := shortuuid.New()

	fmt.Fprintf(errOut, "Shrinking %d file(s) to %s each (hwaccel: %t)\n", len(inputs), formatBytes(targetBytes), useHW)

	results := make([]shrink.Result, 0, len(inputs))
	for i, in := range inputs {
		if err := cmd.Context().Err(); err != nil {
			results = append(results, shrink.Result{Input: in, TargetBytes: targetBytes, Status: shrink.StatusCanceled})
			continue
		}

		label := fmt.Sprintf("[%d/%d] %s", i+1, len(inputs), filepath.Base(in))
		p := newFileProgress(errOut, label, interactive)
		res := shrinker.Shrink(cmd.Context(), in, targetBytes, shrink.Options{
			HWAccel:    useHW,
			OnProgress: p.update,
			OnAttempt:  p.attempt,
		})
		p.finish(res)
		results = append(results, res)

		if hist != nil {
			if _, err := hist.Record(context.WithoutCancel(cmd.Context()), job.HistoryEntry(runID, res)); err != nil {
				log.Error("record history: %v", err)
			}
		}
	}

	fmt.Fprintln(out, renderResults(results))

	failed := lo.CountBy(results, func(r shrink.Result) bool { return r.Status == shrink.StatusFailed })
	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
	}
	return nil
}

// fileProgress renders one file's encode progress, as a bar on a terminal
// and as plain lines otherwise.
type fileProgress struct {
	w     io.Writer
	label string
	bar   *progressbar.ProgressBar
	start time.Time
}

func newFileProgress(w io.Writer, label string, interactive bool) *fileProgress {
	p := &fileProgress{w: w, label: label, start: time.Now()}
	if interactive {
		p.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(label),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "▐",
				BarEnd:        "▌",
			}),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
	} else {
		fmt.Fprintf(w, "%s\n", label)
	}
	return p
}

func (p *fileProgress) update(prog parse.Progress) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Set(int(prog.Percent))
}

func (p *fileProgress) attempt(a shrink.Attempt) {
	msg := fmt.Sprintf("attempt %d at %s: %s", a.Number, formatKbps(a.VideoKbps), formatBytes(a.OutputBytes))
	if a.Verdict != "" {
		msg += " (" + a.Verdict + ")"
	}
	if a.Error != "" {
		msg += " error: " + a.Error
	}
	if p.bar != nil {
		p.bar.Describe(p.label + " " + msg)
		p.bar.Reset()
		return
	}
	fmt.Fprintf(p.w, "  %s\n", msg)
}

func (p *fileProgress) finish(res shrink.Result) {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	line := fmt.Sprintf("%s: %s in %s", p.label, res.Status, time.Since(p.start).Round(time.Second))
	if res.Error != "" && !errors.Is(res.Err(), shrink.ErrTargetNotReached) {
		line += " (" + res.Error + ")"
	}
	fmt.Fprintln(p.w, line)
}

func renderResults(results []shrink.Result) string {
	rows := lo.Map(results, func(r shrink.Result, _ int) []string {
		note := r.Error
		if r.Status == shrink.StatusDone {
			note = filepath.Base(r.Output)
		}
		return []string{
			filepath.Base(r.Input),
			string(r.Status),
			formatBytes(r.OriginalBytes),
			formatBytes(r.OutputBytes),
			formatKbps(r.FinalKbps()),
			fmt.Sprintf("%d", len(r.Attempts)),
			note,
		}
	})
	return renderTable(
		[]string{"File", "Status", "Original", "Output", "Video", "Attempts", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}
