package handlers

import (
	"errors"
	"net/http"

	"devicesync/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusDisconnected = "disconnected"

	errConnect = "failed to connect to backend"
)

// @Summary      Connection state
// @Tags         connection
// @Produce      json
// @Success      200  {object}  models.ConnectionState
// @Router       /api/v1/connection [get]
func (h *Handler) getConnection(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Connection.State(c.Request.Context()))
}

// @Summary      Connect
// @Description  Opens the push subscription, or starts polling when push is unavailable. A failure is not retried.
// @Tags         connection
// @Produce      json
// @Success      200  {object}  models.ConnectionState
// @Failure      409  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/connection/connect [post]
func (h *Handler) connect(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.services.Connection.Connect(ctx); err != nil {
		if errors.Is(err, service.ErrAlreadyConnected) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusBadGateway, errConnect, "connection_connect_failed", err)
		return
	}
	c.JSON(http.StatusOK, h.services.Connection.State(ctx))
}

// @Summary      Disconnect
// @Tags         connection
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /api/v1/connection/disconnect [post]
func (h *Handler) disconnect(c *gin.Context) {
	h.services.Connection.Disconnect(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": statusDisconnected})
}
