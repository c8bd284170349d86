// Package handlers provides HTTP handlers for fund tracking and estimation.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/modules/estimator"
	"github.com/aristath/navwatch/internal/modules/history"
	"github.com/rs/zerolog"
)

// maxSnapshotBytes bounds the body of an import request
const maxSnapshotBytes = 4 << 20

// defaultSmoothingPeriod is the EMA period used when ?smooth is absent
const defaultSmoothingPeriod = 5

// Service is the estimator surface served over HTTP
type Service interface {
	AddFund(ctx context.Context, code string) (*domain.FundRecord, error)
	RemoveFund(code string) error
	RefreshHoldings(ctx context.Context, code string) (*domain.FundRecord, error)
	StartRefreshAll(force bool) bool
	BatchActive() bool
	PollPrices(ctx context.Context, force bool) (estimator.PollResult, error)
	Estimates() ([]estimator.FundEstimate, error)
	LastPollAt() time.Time
	History(code string, period int) (history.Summary, error)
	SetEquityRatio(code string, ratio float64) (*domain.FundRecord, error)
	UpdateRefreshInterval(seconds int) (domain.AppConfig, error)
}

// Snapshots reads configuration and moves state in and out
type Snapshots interface {
	Config() (domain.AppConfig, error)
	Export() (string, error)
	Import(snapshot string) bool
}

// Handler handles fund HTTP requests
type Handler struct {
	service   Service
	snapshots Snapshots
	log       zerolog.Logger
}

// NewHandler creates a new fund handler
func NewHandler(service Service, snapshots Snapshots, log zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		snapshots: snapshots,
		log:       log.With().Str("handler", "funds").Logger(),
	}
}

// HandleListFunds handles GET /api/funds
func (h *Handler) HandleListFunds(w http.ResponseWriter, r *http.Request) {
	estimates, err := h.service.Estimates()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute estimates")
		h.writeError(w, http.StatusInternalServerError, "Failed to load funds")
		return
	}

	data := map[string]interface{}{
		"funds":        estimates,
		"count":        len(estimates),
		"batch_active": h.service.BatchActive(),
	}
	if last := h.service.LastPollAt(); !last.IsZero() {
		data["last_poll_at"] = last.Format(time.RFC3339)
	}
	h.writeData(w, http.StatusOK, data)
}

// HandleAddFund handles POST /api/funds
func (h *Handler) HandleAddFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fund, err := h.service.AddFund(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		h.writeServiceError(w, err, req.Code)
		return
	}

	// Quotes for the new holdings
	if _, err := h.service.PollPrices(r.Context(), true); err != nil {
		h.log.Warn().Err(err).Str("fund", fund.FundID).Msg("Price poll after add failed")
	}

	h.writeData(w, http.StatusCreated, fund)
}

// HandleRemoveFund handles DELETE /api/funds/{code}
func (h *Handler) HandleRemoveFund(w http.ResponseWriter, r *http.Request, code string) {
	if err := h.service.RemoveFund(code); err != nil {
		h.writeServiceError(w, err, code)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"removed": code})
}

// HandleRefreshFund handles POST /api/funds/{code}/refresh
func (h *Handler) HandleRefreshFund(w http.ResponseWriter, r *http.Request, code string) {
	fund, err := h.service.RefreshHoldings(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, err, code)
		return
	}
	h.writeData(w, http.StatusOK, fund)
}

// HandleRefreshAll handles POST /api/funds/refresh-all?force=true
// The batch runs in the background; 409 means one is already running.
func (h *Handler) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if !h.service.StartRefreshAll(force) {
		h.writeError(w, http.StatusConflict, "A batch refresh is already running")
		return
	}
	h.writeData(w, http.StatusAccepted, map[string]interface{}{
		"started": true,
		"force":   force,
	})
}

// HandleSetEquityRatio handles PUT /api/funds/{code}/equity-ratio
func (h *Handler) HandleSetEquityRatio(w http.ResponseWriter, r *http.Request, code string) {
	var req struct {
		Ratio *float64 `json:"ratio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ratio == nil {
		h.writeError(w, http.StatusBadRequest, "Body must be {\"ratio\": number}")
		return
	}

	fund, err := h.service.SetEquityRatio(code, *req.Ratio)
	if err != nil {
		h.writeServiceError(w, err, code)
		return
	}
	h.writeData(w, http.StatusOK, fund)
}

// HandleGetHistory handles GET /api/funds/{code}/history?smooth=N
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request, code string) {
	period := defaultSmoothingPeriod
	if raw := r.URL.Query().Get("smooth"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			h.writeError(w, http.StatusBadRequest, "smooth must be a positive integer")
			return
		}
		period = p
	}

	summary, err := h.service.History(code, period)
	if err != nil {
		h.writeServiceError(w, err, code)
		return
	}
	h.writeData(w, http.StatusOK, summary)
}

// HandleRefreshPrices handles POST /api/prices/refresh
func (h *Handler) HandleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.PollPrices(r.Context(), true)
	if err != nil {
		h.log.Error().Err(err).Msg("Forced price poll failed")
		h.writeError(w, http.StatusBadGateway, "Price poll failed")
		return
	}
	h.writeData(w, http.StatusOK, result)
}

// HandleGetConfig handles GET /api/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.snapshots.Config()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read config")
		h.writeError(w, http.StatusInternalServerError, "Failed to read config")
		return
	}
	h.writeData(w, http.StatusOK, cfg)
}

// HandleUpdateConfig handles PUT /api/config
func (h *Handler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshInterval *int `json:"refreshInterval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshInterval == nil {
		h.writeError(w, http.StatusBadRequest, "Body must be {\"refreshInterval\": seconds}")
		return
	}

	cfg, err := h.service.UpdateRefreshInterval(*req.RefreshInterval)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to update config")
		h.writeError(w, http.StatusInternalServerError, "Failed to update config")
		return
	}
	h.writeData(w, http.StatusOK, cfg)
}

// HandleExport handles GET /api/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.snapshots.Export()
	if err != nil {
		h.log.Error().Err(err).Msg("Export failed")
		h.writeError(w, http.StatusInternalServerError, "Export failed")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"snapshot": snapshot})
}

// HandleImport handles POST /api/import. The body is the raw snapshot text.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	if !h.snapshots.Import(strings.TrimSpace(string(body))) {
		h.writeError(w, http.StatusBadRequest, "Snapshot rejected, nothing was changed")
		return
	}

	// Quotes for the imported holdings
	if _, err := h.service.PollPrices(r.Context(), true); err != nil {
		h.log.Warn().Err(err).Msg("Price poll after import failed")
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{"imported": true})
}

// writeServiceError maps estimator errors to HTTP statuses
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, code string) {
	switch {
	case errors.Is(err, estimator.ErrInvalidCode), errors.Is(err, estimator.ErrInvalidRatio):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, estimator.ErrFundNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, estimator.ErrFundExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, estimator.ErrNotResolved):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Error().Err(err).Str("fund", code).Msg("Fund operation failed")
		h.writeError(w, http.StatusInternalServerError, "Internal error")
	}
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

// writeError writes an error response
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
