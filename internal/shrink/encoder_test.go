// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package shrink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/skills"
	"github.com/ZSC714725/vidshrink/internal/process"
)

// shellFFmpeg runs a shell script in place of ffmpeg. The script receives
// the output path as $0.
type shellFFmpeg struct {
	script string

	mu   sync.Mutex
	args [][]string
}

func (f *shellFFmpeg) New(config ffmpeg.ProcessConfig) (process.Process, error) {
	f.mu.Lock()
	f.args = append(f.args, config.Command)
	f.mu.Unlock()
	output := config.Command[len(config.Command)-1]
	return process.New(process.Config{
		Binary: "/bin/sh",
		Args:   []string{"-c", f.script, output},
		Parser: config.Parser,
	})
}

func (f *shellFFmpeg) NewParser(config parse.Config) parse.Parser { return parse.New(config) }
func (f *shellFFmpeg) Probe(context.Context, string) (probe.Media, error) {
	return probe.Media{}, errors.New("not implemented")
}
func (f *shellFFmpeg) ValidateInput(string) error   { return nil }
func (f *shellFFmpeg) Skills() skills.Skills        { return skills.Skills{} }
func (f *shellFFmpeg) ReloadSkills() error          { return nil }
func (f *shellFFmpeg) HWAccelAvailable(string) bool { return false }

func TestFFmpegEncoderWritesOutputAndReportsProgress(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	ff := &shellFFmpeg{script: `printf 'Input #0\nframe=   10 fps=0.0 q=28.0 size=     256kB time=00:00:30.00 bitrate=2097.2kbits/s speed=2.00x\n' >&2; printf data > "$0"`}
	enc := NewEncoder(ff, DefaultSettings(), nil)

	out := filepath.Join(t.TempDir(), "clip_out.mp4.part")
	var (
		mu    sync.Mutex
		lines []string
		last  parse.Progress
	)
	err := enc.Encode(context.Background(), EncodeRequest{
		Input:     "clip.mov",
		Output:    out,
		VideoKbps: 1500,
		AudioKbps: 128,
		HasAudio:  true,
		Duration:  60,
		OnLine: func(l process.Line) {
			mu.Lock()
			lines = append(lines, l.Data)
			mu.Unlock()
		},
		OnProgress: func(p parse.Progress) {
			mu.Lock()
			last = p
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data, err := os.ReadFile(out); err != nil || string(data) != "data" {
		t.Fatalf("output not written: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 {
		t.Fatalf("expected 2 forwarded lines, got %q", lines)
	}
	if last.Frame != 10 || last.Percent != 50 {
		t.Fatalf("unexpected progress %+v", last)
	}
	if _, ok := enc.Active(); ok {
		t.Fatalf("no process should be active after Encode returns")
	}
	if len(ff.args) != 1 || ff.args[0][len(ff.args[0])-1] != out {
		t.Fatalf("unexpected command %v", ff.args)
	}
}

func TestFFmpegEncoderExitFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	ff := &shellFFmpeg{script: `echo 'Unknown encoder' >&2; exit 1`}
	enc := NewEncoder(ff, DefaultSettings(), nil)
	err := enc.Encode(context.Background(), EncodeRequest{Input: "in", Output: filepath.Join(t.TempDir(), "o"), VideoKbps: 1000})
	if !errors.Is(err, process.ErrExitFailed) {
		t.Fatalf("expected ErrExitFailed, got %v", err)
	}
}
