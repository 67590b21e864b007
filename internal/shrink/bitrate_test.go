// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
)

func sampleMedia() probe.Media {
	return probe.Media{
		DurationSeconds: 60,
		VideoBitrate:    4_000_000,
		AudioBitrate:    128_000,
		HasAudio:        true,
	}
}

func TestTargetBytes(t *testing.T) {
	got, err := TargetBytes(10)
	if err != nil || got != 10*1024*1024 {
		t.Fatalf("expected 10 MiB, got %d (%v)", got, err)
	}
	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := TargetBytes(bad); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("expected ErrInvalidTarget for %v, got %v", bad, err)
		}
	}
}

func TestPlanBitrateScalesVideoBitrate(t *testing.T) {
	plan, err := PlanBitrate(sampleMedia(), 30_000_000, 15_000_000, DefaultSettings())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.VideoKbps != 1872 || plan.AudioKbps != 128 || !plan.HasAudio {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.FromDuration {
		t.Fatalf("stream bitrate was available")
	}
}

func TestPlanBitrateFallsBackToDuration(t *testing.T) {
	m := sampleMedia()
	m.VideoBitrate = 0
	plan, err := PlanBitrate(m, 30_000_000, 15_000_000, DefaultSettings())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.VideoKbps != 1872 || !plan.FromDuration {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	m.DurationSeconds = 0
	if _, err := PlanBitrate(m, 30_000_000, 15_000_000, DefaultSettings()); !errors.Is(err, probe.ErrNoDuration) {
		t.Fatalf("expected ErrNoDuration, got %v", err)
	}
}

func TestPlanBitrateWithoutAudio(t *testing.T) {
	m := sampleMedia()
	m.HasAudio = false
	plan, err := PlanBitrate(m, 30_000_000, 15_000_000, DefaultSettings())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.VideoKbps != 2000 || plan.AudioKbps != 0 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanBitrateRejects(t *testing.T) {
	s := DefaultSettings()
	if _, err := PlanBitrate(sampleMedia(), 30_000_000, 1_000_000, s); !errors.Is(err, ErrBitrateTooLow) {
		t.Fatalf("expected ErrBitrateTooLow, got %v", err)
	}
	if _, err := PlanBitrate(sampleMedia(), 1_000, 1_000, s); !errors.Is(err, ErrTargetNotSmaller) {
		t.Fatalf("expected ErrTargetNotSmaller, got %v", err)
	}
	if _, err := PlanBitrate(sampleMedia(), 1_000, 0, s); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestJudge(t *testing.T) {
	s := DefaultSettings()
	if v := Judge(101, 100, s); v != RetryLower {
		t.Fatalf("expected overshoot, got %s", v)
	}
	if v := Judge(10, 100, s); v != Accept {
		t.Fatalf("undershoot must be accepted without fill ratio, got %s", v)
	}
	s.MinFillRatio = 0.9
	if v := Judge(89, 100, s); v != RetryHigher {
		t.Fatalf("expected undershoot, got %s", v)
	}
	if v := Judge(90, 100, s); v != Accept {
		t.Fatalf("expected accept at fill ratio, got %s", v)
	}
}

func TestAdjust(t *testing.T) {
	s := DefaultSettings()
	tests := []struct {
		name string
		kbps int
		v    Verdict
		next int
		ok   bool
	}{
		{"decrease", 2000, RetryLower, 1800, true},
		{"increase", 2000, RetryHigher, 2100, true},
		{"accept", 2000, Accept, 2000, false},
		{"clamp to min", 850, RetryLower, 800, true},
		{"at min", 800, RetryLower, 800, false},
		{"clamp to max", 10000, RetryLower, 6000, true},
		{"at max", 6000, RetryHigher, 6000, false},
		{"above max cannot increase", 9000, RetryHigher, 9000, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := Adjust(tc.kbps, tc.v, s)
			if next != tc.next || ok != tc.ok {
				t.Fatalf("Adjust(%d, %s) = %d, %v; want %d, %v", tc.kbps, tc.v, next, ok, tc.next, tc.ok)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	mutations := map[string]func(*Settings){
		"min":      func(s *Settings) { s.MinVideoKbps = 0 },
		"max":      func(s *Settings) { s.MaxVideoKbps = 100 },
		"decrease": func(s *Settings) { s.DecreaseFactor = 1 },
		"increase": func(s *Settings) { s.IncreaseFactor = 1 },
		"fill":     func(s *Settings) { s.MinFillRatio = 1 },
		"attempts": func(s *Settings) { s.MaxAttempts = 0 },
		"ext":      func(s *Settings) { s.OutputExt = "mp4" },
		"suffix":   func(s *Settings) { s.OutputSuffix = "" },
	}
	for name, mutate := range mutations {
		s := DefaultSettings()
		mutate(&s)
		if err := s.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestHWAccelMode(t *testing.T) {
	m, err := ParseHWAccelMode("")
	if err != nil || m != HWAccelAuto {
		t.Fatalf("empty must be auto, got %q (%v)", m, err)
	}
	if _, err := ParseHWAccelMode("maybe"); err == nil {
		t.Fatalf("expected parse error")
	}

	if use, _ := HWAccelAuto.Resolve(true); !use {
		t.Fatalf("auto must follow availability")
	}
	if use, _ := HWAccelOff.Resolve(true); use {
		t.Fatalf("off must disable")
	}
	if _, err := HWAccelOn.Resolve(false); !errors.Is(err, ErrHWAccelUnavailable) {
		t.Fatalf("expected ErrHWAccelUnavailable, got %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	s := DefaultSettings()
	in := filepath.Join("videos", "holiday.MOV")
	if got := OutputPath(in, s); got != filepath.Join("videos", "holiday_out.mp4") {
		t.Fatalf("unexpected output %s", got)
	}
	s.OutputDir = "out"
	if got := OutputPath(in, s); got != filepath.Join("out", "holiday_out.mp4") {
		t.Fatalf("unexpected output %s", got)
	}
}

func TestBuildArgs(t *testing.T) {
	s := DefaultSettings()
	req := EncodeRequest{Input: "in.mp4", Output: "out.mp4.part", VideoKbps: 1872, AudioKbps: 128, HasAudio: true}

	got := strings.Join(BuildArgs(req, s), " ")
	want := "-y -hide_banner -nostdin -i in.mp4 -c:a aac -b:a 128k -c:v libx264 -b:v 1872k -movflags +faststart -f mp4 out.mp4.part"
	if got != want {
		t.Fatalf("unexpected args:\n got: %s\nwant: %s", got, want)
	}

	req.HWAccel = true
	req.HasAudio = false
	got = strings.Join(BuildArgs(req, s), " ")
	want = "-y -hide_banner -nostdin -hwaccel cuda -hwaccel_output_format cuda -i in.mp4 -an -c:v h264_nvenc -b:v 1872k -movflags +faststart -f mp4 out.mp4.part"
	if got != want {
		t.Fatalf("unexpected hw args:\n got: %s\nwant: %s", got, want)
	}

	s.OutputExt = ".mkv"
	args := BuildArgs(req, s)
	if args[len(args)-3] != "matroska" {
		t.Fatalf("expected matroska muxer, got %v", args)
	}
}
