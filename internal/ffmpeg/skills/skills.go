// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Encoder is an encoder compiled into FFmpeg
type Encoder struct {
	Id   string
	Name string
}

// HWAccel represents hardware acceleration
type HWAccel struct {
	Id   string
	Name string
}

// Library represents a linked av library
type Library struct {
	Name     string
	Compiled string
	Linked   string
}

type ffmpegInfo struct {
	Version       string
	Compiler      string
	Configuration string
	Libraries     []Library
}

// Skills are the detected capabilities of FFmpeg
type Skills struct {
	FFmpeg   ffmpegInfo
	HWAccels []HWAccel
	Encoders struct {
		Audio []Encoder
		Video []Encoder
	}
}

// HasHWAccel reports whether one of the ids is a supported accelerator
func (s Skills) HasHWAccel(ids ...string) bool {
	for _, a := range s.HWAccels {
		for _, id := range ids {
			if a.Id == id {
				return true
			}
		}
	}
	return false
}

// HasVideoEncoder reports whether the named video encoder is compiled in
func (s Skills) HasVideoEncoder(id string) bool {
	for _, e := range s.Encoders.Video {
		if e.Id == id {
			return true
		}
	}
	return false
}

// HasAudioEncoder reports whether the named audio encoder is compiled in
func (s Skills) HasAudioEncoder(id string) bool {
	for _, e := range s.Encoders.Audio {
		if e.Id == id {
			return true
		}
	}
	return false
}

// New returns the skills that FFmpeg provides
func New(binary string) (Skills, error) {
	c := Skills{}

	ff, err := getVersion(binary)
	if ff.Version == "" || err != nil {
		if err != nil {
			return Skills{}, fmt.Errorf("can't parse ffmpeg version: %w", err)
		}
		return Skills{}, fmt.Errorf("can't parse ffmpeg version")
	}
	c.FFmpeg = ff

	c.HWAccels = parseHWAccels(run(binary, "-hwaccels"))

	enc := parseEncoders(run(binary, "-encoders"))
	c.Encoders.Audio = enc.audio
	c.Encoders.Video = enc.video

	return c, nil
}

func run(binary string, args ...string) []byte {
	cmd := exec.Command(binary, append([]string{"-hide_banner"}, args...)...)
	stdout, _ := cmd.Output()
	return stdout
}

func getVersion(binary string) (ffmpegInfo, error) {
	cmd := exec.Command(binary, "-version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ffmpegInfo{}, err
	}
	return parseVersion(out), nil
}

var (
	reVersion       = regexp.MustCompile(`^ffmpeg version n?([0-9]+\.[0-9]+(\.[0-9]+)?)`)
	reCompiler      = regexp.MustCompile(`(?m)^\s*built with (.*)$`)
	reConfiguration = regexp.MustCompile(`(?m)^\s*configuration: (.*)$`)
	reLibrary       = regexp.MustCompile(`(?m)^\s*(lib(?:[a-z]+))\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+) /\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+)`)
	reEncoder       = regexp.MustCompile(`^\s([VAS])[F.][S.][X.][B.][D.]\s+([0-9A-Za-z_\-]+)\s+(.*)$`)
	reHWAccel       = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

func parseVersion(data []byte) ffmpegInfo {
	f := ffmpegInfo{}

	if m := reVersion.FindSubmatch(data); m != nil {
		f.Version = string(m[1])
		if len(m[2]) == 0 {
			f.Version += ".0"
		}
	}
	if m := reCompiler.FindSubmatch(data); m != nil {
		f.Compiler = string(m[1])
	}
	if m := reConfiguration.FindSubmatch(data); m != nil {
		f.Configuration = string(m[1])
	}
	for _, m := range reLibrary.FindAllSubmatch(data, -1) {
		f.Libraries = append(f.Libraries, Library{
			Name:     string(m[1]),
			Compiled: string(m[2]),
			Linked:   string(m[3]),
		})
	}
	return f
}

type encoders struct {
	audio []Encoder
	video []Encoder
}

func parseEncoders(data []byte) encoders {
	var e encoders
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		m := reEncoder.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		enc := Encoder{Id: m[2], Name: strings.TrimSpace(m[3])}
		switch m[1] {
		case "V":
			e.video = append(e.video, enc)
		case "A":
			e.audio = append(e.audio, enc)
		}
	}
	return e
}

func parseHWAccels(data []byte) []HWAccel {
	var accels []HWAccel
	start := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "Hardware acceleration methods:" {
			start = true
			continue
		}
		if !start || !reHWAccel.MatchString(line) {
			continue
		}
		accels = append(accels, HWAccel{Id: line, Name: line})
	}
	return accels
}
