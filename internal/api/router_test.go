package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/verifyd/internal/api"
	"github.com/phrazzld/verifyd/internal/platform/logger"
	"github.com/phrazzld/verifyd/internal/pool"
	"github.com/phrazzld/verifyd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStatus pool.Status

func (s fixedStatus) Snapshot() pool.Status { return pool.Status(s) }

func TestStatus(t *testing.T) {
	t.Parallel()
	log, _ := logger.GetTestLogger(t)

	spawned := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	src := fixedStatus{
		Backlog: store.Backlog{Pending: 237, Processing: 12},
		Desired: 5,
		Workers: []pool.WorkerDescriptor{
			{ID: "worker-1-abcd1234", SpawnedAt: spawned, Processed: 40, Liveness: pool.LivenessBusy, LastSeen: spawned},
		},
	}
	router := api.NewRouter(api.NewHandler(src, nil, log))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got pool.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(237), got.Backlog.Pending)
	assert.Equal(t, 5, got.Desired)
	require.Len(t, got.Workers, 1)
	assert.Equal(t, pool.LivenessBusy, got.Workers[0].Liveness)
	assert.Equal(t, int64(40), got.Workers[0].Processed)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		health api.HealthCheck
		want   int
	}{
		{name: "no dependency check", want: http.StatusOK},
		{name: "store reachable", health: func(context.Context) error { return nil }, want: http.StatusOK},
		{
			name: "store down",
			health: func(context.Context) error {
				return errors.New("dial tcp db.internal:5432: connection refused")
			},
			want: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			log, _ := logger.GetTestLogger(t)
			router := api.NewRouter(api.NewHandler(fixedStatus{}, tc.health, log))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tc.want, rec.Code)

			if tc.want != http.StatusOK {
				raw := rec.Body.String()
				assert.NotContains(t, raw, "db.internal")

				var body api.ErrorResponse
				require.NoError(t, json.Unmarshal([]byte(raw), &body))
				assert.Equal(t, "store unavailable", body.Error)
				assert.NotEmpty(t, body.RequestID)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	log, _ := logger.GetTestLogger(t)
	router := api.NewRouter(api.NewHandler(fixedStatus{}, nil, log))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
