// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/parse"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/probe"
	"github.com/ZSC714725/vidshrink/internal/ffmpeg/skills"
	"github.com/ZSC714725/vidshrink/internal/history"
	"github.com/ZSC714725/vidshrink/internal/job"
	"github.com/ZSC714725/vidshrink/internal/process"
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

type fakeFFmpeg struct {
	media   probe.Media
	reloads int
}

func (f *fakeFFmpeg) New(ffmpeg.ProcessConfig) (process.Process, error) {
	return nil, errors.New("not used")
}
func (f *fakeFFmpeg) NewParser(config parse.Config) parse.Parser { return parse.New(config) }
func (f *fakeFFmpeg) Probe(_ context.Context, path string) (probe.Media, error) {
	m := f.media
	m.Path = path
	return m, nil
}
func (f *fakeFFmpeg) ValidateInput(path string) error {
	if strings.HasSuffix(path, ".txt") {
		return ffmpeg.ErrInputBlocked
	}
	return nil
}
func (f *fakeFFmpeg) Skills() skills.Skills {
	s := skills.Skills{HWAccels: []skills.HWAccel{{Id: "cuda", Name: "cuda"}}}
	s.FFmpeg.Version = "6.1.1"
	s.Encoders.Video = []skills.Encoder{{Id: "libx264", Name: "libx264 H.264"}}
	return s
}
func (f *fakeFFmpeg) ReloadSkills() error          { f.reloads++; return nil }
func (f *fakeFFmpeg) HWAccelAvailable(string) bool { return false }

// gatedShrinker emits one log line per file and waits for release
type gatedShrinker struct {
	release chan struct{}
}

func (g *gatedShrinker) Shrink(ctx context.Context, input string, target int64, opts shrink.Options) shrink.Result {
	opts.OnLine(process.Line{Timestamp: time.Now(), Data: "frame=1 " + filepath.Base(input)})
	select {
	case <-ctx.Done():
		return shrink.Result{Input: input, Status: shrink.StatusCanceled}
	case <-g.release:
	}
	return shrink.Result{Input: input, Output: input + ".out", TargetBytes: target, OutputBytes: target - 1, Status: shrink.StatusDone}
}

type fakeHistory struct{ entries []history.Entry }

func (f *fakeHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	if limit > 0 && limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type testEnv struct {
	router *gin.Engine
	store  job.Store
	ff     *fakeFFmpeg
	shr    *gatedShrinker
	dir    string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	shr := &gatedShrinker{release: make(chan struct{})}
	store, err := job.NewStore(job.Config{Shrinker: shr})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	ff := &fakeFFmpeg{media: probe.Media{
		SizeBytes:       30 * shrink.MiB,
		DurationSeconds: 60,
		VideoBitrate:    4_000_000,
		AudioBitrate:    128_000,
		HasAudio:        true,
		VideoCodec:      "h264",
	}}
	hist := &fakeHistory{entries: []history.Entry{{ID: 1, JobID: "j", Input: "a.mp4", Status: "done"}, {ID: 2, JobID: "j", Input: "b.mp4", Status: "skipped"}}}

	r := gin.New()
	NewHandler(store, ff, shrink.DefaultSettings(), hist, nil).Register(r)
	return &testEnv{router: r, store: store, ff: ff, shr: shr, dir: t.TempDir()}
}

func (e *testEnv) video(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(2 * shrink.MiB); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	return path
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAddAndGetJob(t *testing.T) {
	e := newEnv(t)
	in := e.video(t, "a.mp4")

	w := e.do(t, http.MethodPost, "/api/v1/jobs", JobRequest{ID: "job1", Reference: "ref", Inputs: []string{in}, TargetMB: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}
	added := decode[Job](t, w)
	if added.ID != "job1" || added.Config == nil || added.Config.TargetBytes != shrink.MiB || added.Config.HWAccel != "auto" {
		t.Fatalf("unexpected job %+v", added)
	}
	if added.State == nil || added.State.State != "queued" || len(added.State.Files) != 1 {
		t.Fatalf("unexpected state %+v", added.State)
	}

	w = e.do(t, http.MethodPost, "/api/v1/jobs", JobRequest{ID: "job1", Inputs: []string{in}, TargetMB: 1})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected conflict, got %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/api/v1/jobs/job1?filter=state", nil)
	got := decode[Job](t, w)
	if got.Config != nil || got.State == nil || got.Report != nil {
		t.Fatalf("filter not applied: %+v", got)
	}

	w = e.do(t, http.MethodGet, "/api/v1/jobs?reference=ref", nil)
	if list := decode[[]Job](t, w); len(list) != 1 {
		t.Fatalf("expected 1 job, got %d", len(list))
	}
	w = e.do(t, http.MethodGet, "/api/v1/jobs?reference=other", nil)
	if list := decode[[]Job](t, w); len(list) != 0 {
		t.Fatalf("expected no jobs, got %d", len(list))
	}

	if w := e.do(t, http.MethodGet, "/api/v1/jobs/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAddJobRejects(t *testing.T) {
	e := newEnv(t)
	in := e.video(t, "a.mp4")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"invalid json", "nope", http.StatusBadRequest},
		{"missing inputs", map[string]any{"target_mb": 1}, http.StatusBadRequest},
		{"target too big", JobRequest{Inputs: []string{in}, TargetMB: 5}, http.StatusBadRequest},
		{"blocked input", JobRequest{Inputs: []string{"notes.txt"}, TargetMB: 1}, http.StatusBadRequest},
		{"hw on", JobRequest{Inputs: []string{in}, TargetMB: 1, HWAccel: "on"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := e.do(t, http.MethodPost, "/api/v1/jobs", tc.body); w.Code != tc.code {
				t.Fatalf("expected %d, got %d (%s)", tc.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestCommandAndDelete(t *testing.T) {
	e := newEnv(t)
	in := e.video(t, "a.mp4")
	e.do(t, http.MethodPost, "/api/v1/jobs", JobRequest{ID: "job1", Inputs: []string{in}, TargetMB: 1})

	if w := e.do(t, http.MethodPut, "/api/v1/jobs/job1/command", CommandRequest{Command: "pause"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/api/v1/jobs/job1/command", CommandRequest{Command: "cancel"}); w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPut, "/api/v1/jobs/job1/command", CommandRequest{Command: "cancel"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for finished job, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/api/v1/jobs/nope/command", CommandRequest{Command: "cancel"}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w := e.do(t, http.MethodGet, "/api/v1/jobs/job1", nil)
	if got := decode[Job](t, w); got.State.State != "canceled" || got.State.Progress != 100 {
		t.Fatalf("unexpected state after cancel %+v", got.State)
	}

	if w := e.do(t, http.MethodDelete, "/api/v1/jobs/job1", nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/api/v1/jobs/job1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestProbe(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/probe", ProbeRequest{Path: "/videos/a.mp4", TargetMB: 15})
	if w.Code != http.StatusOK {
		t.Fatalf("probe: %d %s", w.Code, w.Body.String())
	}
	resp := decode[ProbeResponse](t, w)
	if resp.Plan == nil || resp.Plan.VideoKbps != 1872 || resp.PlanError != "" {
		t.Fatalf("unexpected plan %+v", resp)
	}

	w = e.do(t, http.MethodPost, "/api/v1/probe", ProbeRequest{Path: "/videos/a.mp4", TargetMB: 0.5})
	resp = decode[ProbeResponse](t, w)
	if resp.Plan != nil || !strings.Contains(resp.PlanError, "too low") {
		t.Fatalf("expected plan error, got %+v", resp)
	}

	if w := e.do(t, http.MethodPost, "/api/v1/probe", ProbeRequest{Path: "x.txt"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected blocked input, got %d", w.Code)
	}
}

func TestHistoryAndSkills(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/history?limit=1", nil)
	if entries := decode[[]history.Entry](t, w); len(entries) != 1 || entries[0].Input != "a.mp4" {
		t.Fatalf("unexpected history %+v", entries)
	}
	if w := e.do(t, http.MethodGet, "/api/v1/history?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/api/v1/skills", nil)
	sk := decode[SkillsResponse](t, w)
	if sk.FFmpeg.Version != "6.1.1" || len(sk.HWAccels) != 1 || len(sk.Encoders.Video) != 1 || sk.HWAccelUsable {
		t.Fatalf("unexpected skills %+v", sk)
	}

	if w := e.do(t, http.MethodPost, "/api/v1/skills/reload", nil); w.Code != http.StatusOK || e.ff.reloads != 1 {
		t.Fatalf("reload: %d (%d reloads)", w.Code, e.ff.reloads)
	}
}

func TestStreamFollowsJobLog(t *testing.T) {
	e := newEnv(t)
	in := e.video(t, "a.mp4")
	e.do(t, http.MethodPost, "/api/v1/jobs", JobRequest{ID: "job1", Inputs: []string{in}, TargetMB: 1})

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.store.Run(ctx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/job1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var line LogLine
	if err := conn.ReadJSON(&line); err != nil {
		t.Fatalf("read: %v", err)
	}
	if line.Data != "frame=1 a.mp4" {
		t.Fatalf("unexpected line %q", line.Data)
	}

	close(e.shr.release)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			break
		}
	}
}
