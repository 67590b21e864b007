// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package probe

import (
	"errors"
	"testing"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "duration": "60.000000", "bit_rate": "4000000"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "duration": "60.000000", "bit_rate": "128000"}
  ],
  "format": {"filename": "in.mp4", "duration": "60.000000", "size": "31000000", "bit_rate": "4133333", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestMediaFromProbe(t *testing.T) {
	r, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, err := r.Media()
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if m.Path != "in.mp4" || m.SizeBytes != 31000000 || m.DurationSeconds != 60 {
		t.Fatalf("unexpected format fields: %+v", m)
	}
	if m.VideoBitrate != 4000000 || m.AudioBitrate != 128000 || !m.HasAudio {
		t.Fatalf("unexpected bitrates: %+v", m)
	}
	if m.VideoCodec != "h264" || m.Width != 1920 || m.Height != 1080 {
		t.Fatalf("unexpected video info: %+v", m)
	}
}

func TestMediaMissingStreamBitrates(t *testing.T) {
	r, err := Parse([]byte(`{
  "streams": [
    {"codec_name": "hevc", "codec_type": "video"},
    {"codec_name": "opus", "codec_type": "audio"}
  ],
  "format": {"duration": "12.5", "size": "1000"}
}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, err := r.Media()
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if m.VideoBitrate != 0 {
		t.Fatalf("expected unknown video bitrate, got %d", m.VideoBitrate)
	}
	if m.AudioBitrate != DefaultAudioBitrate {
		t.Fatalf("expected default audio bitrate, got %d", m.AudioBitrate)
	}
}

func TestMediaErrors(t *testing.T) {
	r, _ := Parse([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"1"}}`))
	if _, err := r.Media(); !errors.Is(err, ErrNoVideoStream) {
		t.Fatalf("expected ErrNoVideoStream, got %v", err)
	}

	r, _ = Parse([]byte(`{"streams":[{"codec_type":"video","codec_name":"h264"}],"format":{"duration":"N/A"}}`))
	if _, err := r.Media(); !errors.Is(err, ErrNoDuration) {
		t.Fatalf("expected ErrNoDuration, got %v", err)
	}
}

func TestMediaSkipsCoverArt(t *testing.T) {
	r, _ := Parse([]byte(`{"streams":[
    {"codec_name":"mjpeg","codec_type":"video"},
    {"codec_name":"h264","codec_type":"video","bit_rate":"1000"}
  ],"format":{"duration":"3"}}`))
	m, err := r.Media()
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	if m.VideoCodec != "h264" || m.HasAudio {
		t.Fatalf("unexpected media: %+v", m)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}
}
