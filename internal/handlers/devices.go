package handlers

import (
	"errors"
	"net/http"

	"devicesync/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK    = "ok"
	statusReset = "reset"

	errGetDevice       = "failed to load device"
	errSetValue        = "failed to set value"
	errUnknownDevice   = "unknown device"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// SetValueRequest is the payload of a user intent.
type SetValueRequest struct {
	// Target value on the device scale
	Value *float64 `json:"value" binding:"required" example:"75"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      List devices
// @Description  Snapshot of every device the service has state for.
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, devices"
// @Router       /api/v1/devices [get]
func (h *Handler) listDevices(c *gin.Context) {
	devices := h.services.Sync.Devices(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"count":   len(devices),
		"devices": devices,
	})
}

// @Summary      Get device state
// @Description  Current state; the first access fetches the value from the backend.
// @Tags         devices
// @Produce      json
// @Param        id   path      string  true  "Device id"
// @Success      200  {object}  models.DeviceState
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/devices/{id} [get]
func (h *Handler) getDevice(c *gin.Context) {
	id := c.Param("id")
	st, err := h.services.Sync.Device(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrUnknownDevice) {
			c.JSON(http.StatusNotFound, gin.H{"error": errUnknownDevice})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errGetDevice, "device_get_failed", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Set device value
// @Description  Applies the value optimistically and commits it after the debounce window. The commit outcome is streamed on /ws.
// @Tags         devices
// @Accept       json
// @Produce      json
// @Param        id       path      string           true  "Device id"
// @Param        payload  body      SetValueRequest  true  "Target value"
// @Success      202      {object}  models.DeviceState
// @Failure      400      {object}  map[string]string
// @Failure      404      {object}  map[string]string
// @Router       /api/v1/devices/{id}/value [put]
func (h *Handler) setDeviceValue(c *gin.Context) {
	id := c.Param("id")
	var req SetValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	st, err := h.services.Sync.SetValue(c.Request.Context(), id, *req.Value)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, st)
	case errors.Is(err, service.ErrUnknownDevice):
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownDevice})
	case errors.Is(err, service.ErrInvalidValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errSetValue, "device_set_value_failed", err, "device_id", id)
	}
}

// @Summary      Reset session
// @Description  Returns every device to its defaults and drops queued commits.
// @Tags         devices
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /api/v1/session/reset [post]
func (h *Handler) resetSession(c *gin.Context) {
	h.services.Sync.Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": statusReset})
}
