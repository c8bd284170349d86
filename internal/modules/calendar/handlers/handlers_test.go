package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/modules/calendar"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct{ records []domain.HolidayRecord }

func (p staticProvider) FetchYear(context.Context, int) ([]domain.HolidayRecord, error) {
	return p.records, nil
}

func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	records := []domain.HolidayRecord{{Date: "2024-10-12", IsHoliday: false, Name: "国庆节后补班", Wage: 1}}
	for day := 1; day <= 7; day++ {
		records = append(records, domain.HolidayRecord{
			Date:      time.Date(2024, 10, day, 0, 0, 0, 0, loc).Format("2006-01-02"),
			IsHoliday: true,
			Name:      "国庆节",
			Wage:      2,
		})
	}

	cache := calendar.NewCache(kvstore.NewMemoryStore(0), staticProvider{records: records}, loc, calendar.DefaultSessions(), zerolog.Nop())
	require.NoError(t, cache.EnsureYearCached(context.Background(), 2024))

	h := NewHandler(cache, zerolog.New(nil).Level(zerolog.Disabled))
	h.now = func() time.Time { return time.Date(2024, 10, 8, 10, 0, 0, 0, loc) }

	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return h, r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestHandleGetStatus(t *testing.T) {
	_, router := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/calendar/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})

	status := data["status"].(map[string]interface{})
	assert.Equal(t, "2024-10-08", status["date"])
	assert.Equal(t, true, status["trading_day"])
	assert.Equal(t, true, status["trading_time"])
	assert.Equal(t, "2024-10-08", status["last_trading_day"])
	assert.Equal(t, "Asia/Shanghai", status["timezone"])

	sessions := data["sessions"].(map[string]interface{})
	assert.Equal(t, "09:15", sessions["morning_open"])
	assert.Equal(t, "15:30", sessions["afternoon_close"])
}

func TestHandleGetMonth(t *testing.T) {
	_, router := newTestHandler(t)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		validate       func(*testing.T, map[string]interface{})
	}{
		{
			name:           "october 2024",
			path:           "/api/calendar/2024/10",
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, data map[string]interface{}) {
				days := data["days"].([]interface{})
				assert.Len(t, days, 31)
				assert.Equal(t, float64(18), data["trading_days"])

				first := days[0].(map[string]interface{})
				assert.Equal(t, "holiday", first["status"])
				assert.Equal(t, "国庆节", first["name"])

				makeup := days[11].(map[string]interface{})
				assert.Equal(t, "2024-10-12", makeup["date"])
				assert.Equal(t, "makeup", makeup["status"])
			},
		},
		{name: "bad month", path: "/api/calendar/2024/13", expectedStatus: http.StatusBadRequest},
		{name: "bad year", path: "/api/calendar/abc/1", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.validate != nil {
				tt.validate(t, decode(t, w)["data"].(map[string]interface{}))
			}
		})
	}
}
