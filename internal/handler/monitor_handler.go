package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // a slow query must not stall the stream
)

// Snapshotter is implemented by *service.MonitorService.
type Snapshotter interface {
	Snapshot(ctx context.Context, sessionID string) (*service.SessionSnapshot, error)
}

// MonitorHandler streams a session's live state to proctors.
type MonitorHandler struct {
	rdb      *redis.Client
	monitor  Snapshotter
	log      zerolog.Logger
	interval time.Duration
}

func NewMonitorHandler(rdb *redis.Client, monitor Snapshotter, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:      rdb,
		monitor:  monitor,
		log:      log.With().Str("component", "monitor_handler").Logger(),
		interval: refreshInterval,
	}
}

// Snapshot godoc
// GET /api/v1/admin/sessions/:id/snapshot
func (h *MonitorHandler) Snapshot(c *gin.Context) {
	snap, err := h.monitor.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// MonitorSessionSSE godoc
// GET /api/v1/admin/sessions/:id/monitor
// Sends a snapshot on connect, forwards attempt events as they happen and
// re-sends the snapshot periodically so timers and counts stay honest.
func (h *MonitorHandler) MonitorSessionSSE(c *gin.Context) {
	sessionID := c.Param("id")
	reqCtx := c.Request.Context()

	snap, err := h.monitor.Snapshot(reqCtx, sessionID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if err := writeSnapshot(c, snap); err != nil {
		return
	}

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.SessionMonitorChannel(sessionID))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	refresh := time.NewTicker(h.interval)
	defer refresh.Stop()

	log := h.log.With().Str("session_id", sessionID).Logger()
	log.Info().Msg("Proctor attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Proctor detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payloads are already the JSON event envelope.
			if err := writeSSE(c, "event: attempt\ndata: "+msg.Payload+"\n\n"); err != nil {
				log.Info().Err(err).Msg("Proctor connection lost")
				return
			}

		case <-refresh.C:
			if err := h.sendRefresh(c, reqCtx, sessionID, log); err != nil {
				log.Info().Err(err).Msg("Proctor connection lost")
				return
			}

		case <-keepAlive.C:
			if err := writeSSE(c, ": ping\n\n"); err != nil {
				log.Info().Err(err).Msg("Proctor connection lost")
				return
			}
		}
	}
}

// writeSSE writes one raw frame and flushes it.
func writeSSE(c *gin.Context, frame string) error {
	if _, err := c.Writer.WriteString(frame); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// sendRefresh re-sends the snapshot. Only write failures are returned; a
// failed snapshot read is logged and skipped.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parent context.Context, sessionID string, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Snapshot(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("Monitor refresh failed")
		return nil
	}
	return writeSnapshot(c, snap)
}

func writeSnapshot(c *gin.Context, snap *service.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return writeSSE(c, "event: snapshot\ndata: "+string(data)+"\n\n")
}
