// Package handlers provides HTTP handlers for the trading calendar.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/rs/zerolog"
)

// Calendar is the read side of the calendar cache
type Calendar interface {
	StatusAt(t time.Time) calendar.Status
	Month(year int, month time.Month) []calendar.Day
	Sessions() calendar.Sessions
}

// Handler handles calendar HTTP requests
type Handler struct {
	calendar Calendar
	log      zerolog.Logger
	now      func() time.Time
}

// NewHandler creates a new calendar handler
func NewHandler(cal Calendar, log zerolog.Logger) *Handler {
	return &Handler{
		calendar: cal,
		log:      log.With().Str("handler", "calendar").Logger(),
		now:      time.Now,
	}
}

// HandleGetStatus handles GET /api/calendar/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	sessions := h.calendar.Sessions()
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"status": h.calendar.StatusAt(h.now()),
		"sessions": map[string]string{
			"morning_open":    sessions.Morning.Open.String(),
			"morning_close":   sessions.Morning.Close.String(),
			"afternoon_open":  sessions.Afternoon.Open.String(),
			"afternoon_close": sessions.Afternoon.Close.String(),
		},
	})
}

// HandleGetMonth handles GET /api/calendar/{year}/{month}
// Days of a year that is not cached fall back to the weekday rule.
func (h *Handler) HandleGetMonth(w http.ResponseWriter, r *http.Request, yearParam, monthParam string) {
	year, err := strconv.Atoi(yearParam)
	if err != nil || year < 1990 || year > 2100 {
		h.writeError(w, http.StatusBadRequest, "Invalid year")
		return
	}
	month, err := strconv.Atoi(monthParam)
	if err != nil || month < 1 || month > 12 {
		h.writeError(w, http.StatusBadRequest, "Invalid month")
		return
	}

	days := h.calendar.Month(year, time.Month(month))

	trading := 0
	for _, d := range days {
		if d.Status == calendar.DayTrading {
			trading++
		}
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"year":         year,
		"month":        month,
		"days":         days,
		"trading_days": trading,
	})
}

// writeData writes data inside the standard response envelope
func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
