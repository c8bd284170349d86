package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/queue"
	"github.com/aristath/navwatch/internal/reliability"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingModule struct{}

func (pingModule) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, zerolog.Nop(), http.StatusOK, "pong")
	})
}

type fakeJobs struct{ next time.Time }

func (f fakeJobs) Jobs() []string        { return []string{"price_poll", "holiday_check"} }
func (f fakeJobs) Next(string) time.Time { return f.next }

type fakeBackups struct {
	created  int
	restored string
	err      error
}

func (f *fakeBackups) CreateAndUpload(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.created++
	return "navwatch-snapshot-20241009-160000.txt", nil
}

func (f *fakeBackups) Rotate(context.Context) (int, error) { return 1, nil }

func (f *fakeBackups) ListBackups(context.Context) ([]reliability.BackupInfo, error) {
	return []reliability.BackupInfo{{Filename: "navwatch-snapshot-20241009-160000.txt"}}, nil
}

func (f *fakeBackups) RestoreLatest(context.Context) (string, error) {
	if f.restored == "" {
		return "", reliability.ErrNoBackups
	}
	return f.restored, nil
}

func newTestServer(t *testing.T, backups Backups) (*Server, *kvstore.MemoryStore) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	store := kvstore.NewMemoryStore(1000)
	system := NewSystemHandlers(store, queue.NewSerializer(log), fakeJobs{next: time.Date(2024, 10, 9, 16, 0, 0, 0, time.UTC)}, log)
	system.systemStats = func() (float64, float64) { return 12.5, 40 }

	cfg := Config{
		Log:     log,
		Port:    0,
		DevMode: true,
		Version: "test",
		Modules: []RouteRegistrar{pingModule{}},
		System:  system,
	}
	if backups != nil {
		cfg.Backups = NewBackupHandlers(backups, log)
	}
	return New(cfg), store
}

func request(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, body := request(t, s, "GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "navwatch", body["service"])
	assert.Equal(t, "test", body["version"])
}

func TestModulesMountedUnderAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, body := request(t, s, "GET", "/api/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", body["data"])
	assert.Contains(t, body, "metadata")
}

func TestSystemStatus(t *testing.T) {
	s, store := newTestServer(t, nil)
	require.NoError(t, store.Set("k", "0123456789"))

	w, body := request(t, s, "GET", "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]interface{})
	st := data["store"].(map[string]interface{})
	assert.Equal(t, float64(1), st["keys"])
	assert.Equal(t, float64(11), st["used_bytes"])
	assert.InDelta(t, 1.1, st["used_percent"], 1e-9)

	q := data["queue"].(map[string]interface{})
	assert.Equal(t, float64(0), q["depth"])

	jobs := data["jobs"].([]interface{})
	require.Len(t, jobs, 2)
	assert.Equal(t, "holiday_check", jobs[0].(map[string]interface{})["name"])
	assert.Equal(t, "2024-10-09T16:00:00Z", jobs[0].(map[string]interface{})["next_run"])

	assert.Equal(t, 12.5, data["cpu_percent"])
	assert.Equal(t, float64(40), data["memory_percent"])
}

func TestBackupRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		req := httptest.NewRequest("POST", "/api/backups", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		backups := &fakeBackups{}
		s, _ := newTestServer(t, backups)

		w, body := request(t, s, "POST", "/api/backups")
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, float64(1), body["data"].(map[string]interface{})["rotated"])
		assert.Equal(t, 1, backups.created)

		w, body = request(t, s, "GET", "/api/backups")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(1), body["data"].(map[string]interface{})["count"])

		w, _ = request(t, s, "POST", "/api/backups/restore")
		assert.Equal(t, http.StatusNotFound, w.Code)

		backups.restored = "navwatch-snapshot-20241009-160000.txt"
		w, body = request(t, s, "POST", "/api/backups/restore")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, backups.restored, body["data"].(map[string]interface{})["restored"])

		backups.err = errors.New("bucket unreachable")
		w, _ = request(t, s, "POST", "/api/backups")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
