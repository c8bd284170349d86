// Package reliability provides off-site snapshot backups and store maintenance.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix     = "navwatch-snapshot-"
	snapshotSuffix     = ".txt"
	snapshotTimeLayout = "20060102-150405"
)

// ErrNoBackups is returned by RestoreLatest when the bucket holds no snapshot
var ErrNoBackups = errors.New("no snapshots available")

// SnapshotSource produces and applies export snapshots
type SnapshotSource interface {
	Export() (string, error)
	Import(snapshot string) bool
}

// BackupInfo describes one stored snapshot
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService uploads, rotates and restores snapshots
type BackupService struct {
	store  ObjectStore
	source SnapshotSource
	keep   int
	log    zerolog.Logger
	now    func() time.Time
}

// NewBackupService creates a backup service keeping the newest keep snapshots
func NewBackupService(store ObjectStore, source SnapshotSource, keep int, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:  store,
		source: source,
		keep:   keep,
		log:    log.With().Str("service", "backup").Logger(),
		now:    time.Now,
	}
}

// SnapshotName returns the object key of a snapshot taken at t
func SnapshotName(t time.Time) string {
	return snapshotPrefix + t.UTC().Format(snapshotTimeLayout) + snapshotSuffix
}

func parseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	t, err := time.Parse(snapshotTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CreateAndUpload exports the current state and uploads it. It returns the object key.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	start := time.Now()

	snapshot, err := s.source.Export()
	if err != nil {
		return "", fmt.Errorf("failed to export snapshot: %w", err)
	}

	name := SnapshotName(s.now())
	if err := s.store.Upload(ctx, name, strings.NewReader(snapshot)); err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.log.Info().
		Str("snapshot", name).
		Int("size_bytes", len(snapshot)).
		Dur("duration", time.Since(start)).
		Msg("Snapshot uploaded")
	return name, nil
}

// ListBackups returns stored snapshots, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseSnapshotName(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Ignoring object with unexpected name")
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes all but the newest snapshots. It returns the number deleted.
func (s *BackupService) Rotate(ctx context.Context) (int, error) {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= s.keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[s.keep:] {
		if err := s.store.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("snapshot", b.Filename).Msg("Failed to delete old snapshot")
			continue
		}
		deleted++
	}

	s.log.Info().Int("deleted", deleted).Int("kept", s.keep).Msg("Snapshot rotation completed")
	return deleted, nil
}

// RestoreLatest downloads the newest snapshot and imports it. It returns the restored key.
func (s *BackupService) RestoreLatest(ctx context.Context) (string, error) {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", ErrNoBackups
	}

	latest := backups[0].Filename
	data, err := s.store.Download(ctx, latest)
	if err != nil {
		return "", fmt.Errorf("failed to download snapshot: %w", err)
	}
	if !s.source.Import(strings.TrimSpace(string(data))) {
		return "", fmt.Errorf("snapshot %s could not be imported", latest)
	}

	s.log.Info().Str("snapshot", latest).Msg("Snapshot restored")
	return latest, nil
}

// BackupJob uploads a snapshot and rotates old ones
type BackupJob struct {
	service *BackupService
	timeout time.Duration
}

// NewBackupJob creates the scheduled backup job
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service, timeout: 2 * time.Minute}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "snapshot_backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}
	if _, err := j.service.Rotate(ctx); err != nil {
		return fmt.Errorf("snapshot uploaded but rotation failed: %w", err)
	}
	return nil
}
