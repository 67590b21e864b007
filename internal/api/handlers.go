// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/vidshrink/internal/ffmpeg"
	"github.com/ZSC714725/vidshrink/internal/history"
	"github.com/ZSC714725/vidshrink/internal/job"
	"github.com/ZSC714725/vidshrink/internal/logger"
	"github.com/ZSC714725/vidshrink/internal/shrink"
)

// HistoryLister reads recorded outcomes
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Handler holds dependencies
type Handler struct {
	store    job.Store
	ffmpeg   ffmpeg.FFmpeg
	settings shrink.Settings
	history  HistoryLister
	logger   logger.Logger
}

// NewHandler creates API handler. hist may be nil.
func NewHandler(store job.Store, ff ffmpeg.FFmpeg, settings shrink.Settings, hist HistoryLister, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{store: store, ffmpeg: ff, settings: settings, history: hist, logger: log}
}

// Register mounts the API under r
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/skills", h.Skills)
		v1.POST("/skills/reload", h.ReloadSkills)

		v1.POST("/probe", h.Probe)
		v1.GET("/history", h.History)

		v1.GET("/jobs", h.ListJobs)
		v1.POST("/jobs", h.AddJob)
		v1.GET("/jobs/:id", h.GetJob)
		v1.DELETE("/jobs/:id", h.DeleteJob)
		v1.GET("/jobs/:id/report", h.GetReport)
		v1.GET("/jobs/:id/stream", h.Stream)
		v1.PUT("/jobs/:id/command", h.Command)
	}
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

// AddJob POST /api/v1/jobs
func (h *Handler) AddJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	j, err := h.store.Add(job.Request{
		ID:        req.ID,
		Reference: req.Reference,
		Inputs:    req.Inputs,
		TargetMB:  req.TargetMB,
		HWAccel:   req.HWAccel,
	})
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobExists):
			errResp(c, http.StatusConflict, "Job exists", err.Error())
		case errors.Is(err, shrink.ErrTargetNotSmaller):
			errResp(c, http.StatusBadRequest, "Target not smaller than original", err.Error())
		case errors.Is(err, shrink.ErrHWAccelUnavailable):
			errResp(c, http.StatusBadRequest, "Hardware acceleration unavailable", err.Error())
		case errors.Is(err, job.ErrInvalidFile):
			errResp(c, http.StatusBadRequest, "Invalid input file", err.Error())
		default:
			errResp(c, http.StatusBadRequest, "Invalid request", err.Error())
		}
		return
	}

	snap, _ := h.store.Snapshot(j.ID)
	c.JSON(http.StatusOK, snapshotToJob(snap, nil, "config,state"))
}

// ListJobs GET /api/v1/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	filter := c.DefaultQuery("filter", "")
	reference := c.DefaultQuery("reference", "")
	idStr := c.DefaultQuery("id", "")

	var ids []string
	if idStr != "" {
		ids = strings.FieldsFunc(idStr, func(r rune) bool { return r == ',' })
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
	}

	jobs := h.store.List(ids, reference)
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		snap, err := h.store.Snapshot(j.ID)
		if err != nil {
			continue
		}
		out = append(out, snapshotToJob(snap, j, filter))
	}

	c.JSON(http.StatusOK, out)
}

// GetJob GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	filter := c.DefaultQuery("filter", "")

	j, err := h.store.Get(id)
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
		return
	}
	snap, err := h.store.Snapshot(id)
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, snapshotToJob(snap, j, filter))
}

// DeleteJob DELETE /api/v1/jobs/:id
func (h *Handler) DeleteJob(c *gin.Context) {
	id := c.Param("id")

	if err := h.store.Delete(id); err != nil {
		errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, "OK")
}

// GetReport GET /api/v1/jobs/:id/report
func (h *Handler) GetReport(c *gin.Context) {
	id := c.Param("id")

	j, err := h.store.Get(id)
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
		return
	}

	c.JSON(http.StatusOK, jobReport(j))
}

// Command PUT /api/v1/jobs/:id/command
func (h *Handler) Command(c *gin.Context) {
	id := c.Param("id")

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	var err error
	switch req.Command {
	case "cancel", "stop":
		err = h.store.Cancel(id)
	default:
		errResp(c, http.StatusBadRequest, "Unknown command", "Known: cancel")
		return
	}

	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
			return
		}
		errResp(c, http.StatusBadRequest, "Command failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, "OK")
}

// Probe POST /api/v1/probe
func (h *Handler) Probe(c *gin.Context) {
	var req ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	if err := h.ffmpeg.ValidateInput(req.Path); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid input file", err.Error())
		return
	}

	m, err := h.ffmpeg.Probe(c.Request.Context(), req.Path)
	if err != nil {
		errResp(c, http.StatusUnprocessableEntity, "Probe failed", err.Error())
		return
	}
	if m.SizeBytes <= 0 {
		if info, err := os.Stat(req.Path); err == nil {
			m.SizeBytes = info.Size()
		}
	}

	resp := ProbeResponse{
		Path:          req.Path,
		SizeBytes:     m.SizeBytes,
		Duration:      m.DurationSeconds,
		VideoCodec:    m.VideoCodec,
		Width:         m.Width,
		Height:        m.Height,
		VideoBitrate:  m.VideoBitrate,
		AudioBitrate:  m.AudioBitrate,
		HasAudio:      m.HasAudio,
		HWAccelUsable: h.ffmpeg.HWAccelAvailable(h.settings.HWVideoCodec),
	}

	if req.TargetMB != 0 {
		target, err := shrink.TargetBytes(req.TargetMB)
		if err != nil {
			errResp(c, http.StatusBadRequest, "Invalid target", err.Error())
			return
		}
		resp.TargetBytes = target
		plan, err := shrink.PlanBitrate(m, m.SizeBytes, target, h.settings)
		if err != nil {
			resp.PlanError = err.Error()
		} else {
			resp.Plan = &plan
		}
	}

	c.JSON(http.StatusOK, resp)
}

// History GET /api/v1/history
func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, []history.Entry{})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		errResp(c, http.StatusBadRequest, "Invalid limit", c.Query("limit"))
		return
	}

	entries, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		errResp(c, http.StatusInternalServerError, "History unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// Skills GET /api/v1/skills
func (h *Handler) Skills(c *gin.Context) {
	sk := h.ffmpeg.Skills()
	c.JSON(http.StatusOK, skillsToAPI(sk, h.ffmpeg.HWAccelAvailable(h.settings.HWVideoCodec)))
}

// ReloadSkills POST /api/v1/skills/reload
func (h *Handler) ReloadSkills(c *gin.Context) {
	if err := h.ffmpeg.ReloadSkills(); err != nil {
		errResp(c, http.StatusInternalServerError, "Reload failed", err.Error())
		return
	}
	sk := h.ffmpeg.Skills()
	c.JSON(http.StatusOK, skillsToAPI(sk, h.ffmpeg.HWAccelAvailable(h.settings.HWVideoCodec)))
}

func snapshotToJob(s job.Snapshot, j *job.Job, filter string) Job {
	out := Job{
		ID:         s.ID,
		Reference:  s.Reference,
		CreatedAt:  s.CreatedAt,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}

	includeAll := filter == ""
	includeConfig := includeAll || strings.Contains(filter, "config")
	includeState := includeAll || strings.Contains(filter, "state")
	includeReport := (includeAll || strings.Contains(filter, "report")) && j != nil

	if includeConfig {
		out.Config = &JobConfig{
			ID:          s.ID,
			Reference:   s.Reference,
			Inputs:      s.Request.Inputs,
			TargetMB:    s.Request.TargetMB,
			TargetBytes: s.TargetBytes,
			HWAccel:     s.Request.HWAccel,
			HWAccelUsed: s.HWAccel,
		}
	}

	if includeState {
		st := &JobState{
			State:    string(s.State),
			Progress: s.Progress,
			Current:  s.Current,
			Files:    s.Results,
		}
		if s.State == job.StateRunning {
			st.Encode = &Progress{
				Frame:     s.Encode.Frame,
				Size:      s.Encode.Size,
				Time:      s.Encode.Time,
				Speed:     s.Encode.Speed,
				Bitrate:   s.Encode.Bitrate,
				Quantizer: s.Encode.Quantizer,
				Percent:   s.Encode.Percent,
			}
		}
		if p := s.Process; p != nil {
			st.Process = &ProcessState{
				State:   p.State,
				PID:     p.PID,
				Runtime: int64(p.Duration.Seconds()),
				LastLog: p.LastLine,
				Memory:  p.Memory,
				CPU:     p.CPU,
			}
		}
		out.State = st
	}

	if includeReport {
		r := jobReport(j)
		out.Report = &r
	}

	return out
}

func jobReport(j *job.Job) JobReport {
	lines := j.Logs()
	report := JobReport{CreatedAt: j.CreatedAt, Log: make([][2]string, len(lines))}
	for i, line := range lines {
		report.Log[i] = [2]string{
			line.Timestamp.Format("2006-01-02 15:04:05.000"),
			line.Data,
		}
	}
	return report
}
