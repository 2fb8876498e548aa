package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"procodus.dev/telemetry-hub/internal/telemetry"
)

type handlers struct {
	logger   *slog.Logger
	store    telemetry.Store
	ingester *Ingester
	verifier Verifier
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// fail writes the error body for err. Internal causes are logged, never returned.
func (h *handlers) fail(c *gin.Context, err error) {
	status := telemetry.StatusCode(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": telemetry.Message(err)})
}

// receiveFrame handles POST /data with a body of {"data": "<frame>"}.
func (h *handlers) receiveFrame(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, telemetry.ErrNoData)
		return
	}

	p, err := telemetry.DecodePayload(body)
	if err != nil {
		h.fail(c, err)
		return
	}

	frame, err := frameField(p)
	if err != nil {
		h.fail(c, err)
		return
	}

	if _, err := h.ingester.IngestFrame(c.Request.Context(), TransportHTTP, frame); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// receivePayload handles POST /upload with a JSON object of network readings.
func (h *handlers) receivePayload(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, telemetry.ErrNoData)
		return
	}

	p, err := telemetry.DecodePayload(body)
	if err != nil {
		h.fail(c, err)
		return
	}

	if _, err := h.ingester.IngestPayload(c.Request.Context(), TransportHTTP, p); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) snapshot(c *gin.Context) {
	snap, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) logs(c *gin.Context) {
	entries, err := h.store.Logs(c.Request.Context(), telemetry.DefaultLogLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handlers) orientation(c *gin.Context) {
	o, err := h.store.Orientation(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// exportLogs handles GET /api/logs/export?format=csv|xlsx&limit=N.
func (h *handlers) exportLogs(c *gin.Context) {
	format := c.DefaultQuery("format", ExportCSV)
	contentType, ok := exportContentType(format)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unsupported export format"})
		return
	}

	limit := telemetry.DefaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, telemetry.MaxLogLimit)
	}

	entries, err := h.store.Logs(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := WriteLogs(&buf, format, entries); err != nil {
		h.fail(c, telemetry.Internal("export", err))
		return
	}

	filename := fmt.Sprintf("telemetry-logs-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (h *handlers) stats(c *gin.Context) {
	ctx := c.Request.Context()

	counters, err := h.ingester.Stats(ctx)
	if err != nil {
		h.fail(c, telemetry.Internal("stats", err))
		return
	}

	n, err := h.store.Count(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": counters,
		"records": n,
	})
}

// login handles POST /api/login. Any malformed body is treated as bad credentials.
func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	body, err := c.GetRawData()
	if err == nil {
		err = json.Unmarshal(body, &req)
	}

	if err != nil || !h.verifier.Verify(req.Username, req.Password) {
		h.logger.Warn("login failed", "username", req.Username, "client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   telemetry.Message(telemetry.ErrInvalidCredentials),
		})
		return
	}

	h.logger.Info("login succeeded", "username", req.Username)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   newSessionToken(),
	})
}

func (h *handlers) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
