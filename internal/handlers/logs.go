package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"devicesync/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errListEvents = "failed to load events"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// queryTimeLayouts are tried in order; a date-only value has no time part.
var queryTimeLayouts = []string{time.RFC3339, layoutDateTime, layoutDate}

// @Summary      List sync events
// @Description  Newest sync events, returned oldest first. Filter by device timeline, event type and time window (RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'; a date-only 'to' covers the whole day).
// @Tags         events
// @Produce      json
// @Param        device  query   string  false  "Device id"  example(lamp)
// @Param        type    query   string  false  "Event type"  Enums(COMMIT,ROLLBACK,RECONCILE,CONNECTION,RECONNECT_EXHAUSTED)
// @Param        from    query   string  false  "Start of window"  example(2025-08-01)
// @Param        to      query   string  false  "End of window"  example(2025-08-31)
// @Param        limit   query   int     false  "Newest N events (default 200, max 1000)"
// @Success      200     {object}  map[string]interface{}  "count, events"
// @Failure      400     {object}  map[string]string
// @Failure      404     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /api/v1/events [get]
func (h *Handler) getEvents(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.services.EventLog.List(c.Request.Context(), filter)
	switch {
	case errors.Is(err, service.ErrUnknownDevice):
		c.JSON(http.StatusNotFound, gin.H{"error": errUnknownDevice})
		return
	case errors.Is(err, service.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logAndJSONError(c, http.StatusInternalServerError, errListEvents, "events_list_failed", err,
			"device_id", filter.DeviceID, "type", filter.Type)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

func eventFilterFromQuery(c *gin.Context) (service.EventFilter, error) {
	f := service.EventFilter{
		DeviceID: c.Query("device"),
		Type:     c.Query("type"),
	}

	var err error
	if qs := c.Query("from"); qs != "" {
		if f.From, err = parseQueryTime(qs); err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
	}
	if qs := c.Query("to"); qs != "" {
		if f.To, err = parseQueryTime(qs); err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		if !strings.ContainsAny(qs, "T ") {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if qs := c.Query("limit"); qs != "" {
		if f.Limit, err = strconv.Atoi(qs); err != nil || f.Limit <= 0 {
			return f, fmt.Errorf("limit: want a positive integer, got %q", qs)
		}
	}
	return f, nil
}

// parseQueryTime accepts RFC3339, 'YYYY-MM-DD HH:MM:SS' and 'YYYY-MM-DD',
// the last two read as UTC.
func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'", s)
}
