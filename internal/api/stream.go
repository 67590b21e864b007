// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZSC714725/vidshrink/internal/process"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamBuffer       = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is open for the REST API as well
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream GET /api/v1/jobs/:id/stream
//
// Replays the recent log and then follows the job's ffmpeg output as JSON
// text frames. The socket is closed normally when the job ends.
func (h *Handler) Stream(c *gin.Context) {
	id := c.Param("id")

	j, err := h.store.Get(id)
	if err != nil {
		errResp(c, http.StatusNotFound, "Unknown job ID", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stream %s: upgrade: %v", id, err)
		return
	}
	defer conn.Close()

	// subscribe before replaying: a line may arrive twice but none is lost
	lines, cancel := j.Subscribe(streamBuffer)
	defer cancel()

	for _, l := range j.Logs() {
		if err := writeLine(conn, l); err != nil {
			return
		}
	}

	// drain client frames to notice a closed socket
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case l, ok := <-lines:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(j.State()))
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteTimeout))
				return
			}
			if err := writeLine(conn, l); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeLine(conn *websocket.Conn, l process.Line) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(LogLine{Timestamp: l.Timestamp.UnixMilli(), Data: l.Data})
}
