package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/aristath/navwatch/internal/reliability"
	"github.com/rs/zerolog"
)

// Backups is the snapshot backup surface served over HTTP
type Backups interface {
	CreateAndUpload(ctx context.Context) (string, error)
	Rotate(ctx context.Context) (int, error)
	ListBackups(ctx context.Context) ([]reliability.BackupInfo, error)
	RestoreLatest(ctx context.Context) (string, error)
}

// BackupHandlers serves manual backup operations
type BackupHandlers struct {
	backups Backups
	log     zerolog.Logger
}

// NewBackupHandlers creates backup handlers
func NewBackupHandlers(backups Backups, log zerolog.Logger) *BackupHandlers {
	return &BackupHandlers{
		backups: backups,
		log:     log.With().Str("handler", "backups").Logger(),
	}
}

// HandleListBackups handles GET /api/backups
func (h *BackupHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backups.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		writeError(w, h.log, http.StatusBadGateway, "Failed to list backups")
		return
	}
	writeData(w, h.log, http.StatusOK, map[string]interface{}{
		"backups": backups,
		"count":   len(backups),
	})
}

// HandleCreateBackup handles POST /api/backups
func (h *BackupHandlers) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	name, err := h.backups.CreateAndUpload(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		writeError(w, h.log, http.StatusBadGateway, "Backup failed")
		return
	}

	deleted, err := h.backups.Rotate(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Rotation after manual backup failed")
	}

	writeData(w, h.log, http.StatusCreated, map[string]interface{}{
		"snapshot": name,
		"rotated":  deleted,
	})
}

// HandleRestoreLatest handles POST /api/backups/restore
func (h *BackupHandlers) HandleRestoreLatest(w http.ResponseWriter, r *http.Request) {
	name, err := h.backups.RestoreLatest(r.Context())
	if errors.Is(err, reliability.ErrNoBackups) {
		writeError(w, h.log, http.StatusNotFound, "No snapshots available")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Restore failed")
		writeError(w, h.log, http.StatusBadGateway, "Restore failed")
		return
	}
	writeData(w, h.log, http.StatusOK, map[string]interface{}{"restored": name})
}
