// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package parse

import (
	"container/ring"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZSC714725/vidshrink/internal/process"
)

// Progress holds FFmpeg progress info parsed from stderr
type Progress struct {
	Frame     uint64  `json:"frame"`
	Size      uint64  `json:"size_bytes"`
	Time      float64 `json:"time_seconds"`
	Speed     float64 `json:"speed"`
	Bitrate   float64 `json:"bitrate_kbps"`
	Quantizer float64 `json:"q"`
	Percent   float64 `json:"percent"`
}

// Parser implements process.Parser and parses FFmpeg stderr
type Parser interface {
	process.Parser
	Progress() Progress
}

// Config for the parser
type Config struct {
	LogLines int
	// Duration of the input in seconds, used for Percent
	Duration   float64
	OnLine     func(process.Line)
	OnProgress func(Progress)
}

var (
	reFrame     = regexp.MustCompile(`frame=\s*([0-9]+)`)
	reQuantizer = regexp.MustCompile(`q=\s*(-?[0-9\.]+)`)
	reSize      = regexp.MustCompile(`size=\s*([0-9]+)(k|K)i?B`)
	reTime      = regexp.MustCompile(`time=\s*([0-9]+):([0-9]{2}):([0-9]{2})\.([0-9]+)`) // 支持 .0 .00 .000 等
	reSpeed     = regexp.MustCompile(`speed=\s*([0-9\.]+)x`)
	reBitrate   = regexp.MustCompile(`bitrate=\s*([0-9\.]+)kbits/s`)
)

type parser struct {
	log      *ring.Ring
	logLines int
	duration float64

	onLine     func(process.Line)
	onProgress func(Progress)

	progress Progress
	lock     sync.RWMutex
}

// New creates a Parser
func New(config Config) Parser {
	p := &parser{
		logLines:   config.LogLines,
		duration:   config.Duration,
		onLine:     config.OnLine,
		onProgress: config.OnProgress,
	}
	if p.logLines <= 0 {
		p.logLines = 100
	}
	p.log = ring.New(p.logLines)
	return p
}

func (p *parser) Parse(line string) uint64 {
	entry := process.Line{Timestamp: time.Now(), Data: line}

	p.lock.Lock()
	p.log.Value = entry
	p.log = p.log.Next()

	if !strings.Contains(line, "frame=") && !strings.Contains(line, "time=") {
		p.lock.Unlock()
		p.emit(entry, nil)
		return 0
	}

	if m := reFrame.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.progress.Frame = x
		}
	}
	if m := reQuantizer.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.progress.Quantizer = x
		}
	}
	if m := reSize.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.progress.Size = x * 1024
		}
	}
	if m := reTime.FindStringSubmatch(line); m != nil {
		p.progress.Time = parseClock(m[1], m[2], m[3], m[4])
	}
	if m := reSpeed.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.progress.Speed = x
		}
	}
	if m := reBitrate.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.progress.Bitrate = x
		}
	}
	if p.duration > 0 {
		pct := p.progress.Time / p.duration * 100
		if pct > 100 {
			pct = 100
		}
		p.progress.Percent = pct
	}

	prog := p.progress
	p.lock.Unlock()

	p.emit(entry, &prog)

	// Audio-only inputs report time= without frame=
	if prog.Frame == 0 && prog.Time > 0 {
		return 1
	}
	return prog.Frame
}

func (p *parser) emit(line process.Line, prog *Progress) {
	if p.onLine != nil {
		p.onLine(line)
	}
	if prog != nil && p.onProgress != nil {
		p.onProgress(*prog)
	}
}

func parseClock(h, m, s, frac string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	f := 0.0
	if x, err := strconv.ParseUint(frac, 10, 64); err == nil {
		div := 1.0
		for range frac {
			div *= 10
		}
		f = float64(x) / div
	}
	return float64(hh*3600+mm*60+ss) + f
}

func (p *parser) ResetStats() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.progress = Progress{}
}

func (p *parser) ResetLog() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.log = ring.New(p.logLines)
}

func (p *parser) Log() []process.Line {
	var out []process.Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(process.Line))
		}
	})
	p.lock.RUnlock()
	return out
}

func (p *parser) Progress() Progress {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.progress
}
