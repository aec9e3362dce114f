package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"courtscan/internal/domain"
	"courtscan/internal/jobs"
	"courtscan/internal/store"
	"courtscan/internal/stream"
	"courtscan/internal/worker"
)

type checkerFunc func(ctx context.Context, jobID string, court int, date string) ([]string, error)

func (f checkerFunc) Check(ctx context.Context, jobID string, court int, date string) ([]string, error) {
	return f(ctx, jobID, court, date)
}

type fixture struct {
	handler http.Handler
	repo    store.Repository
	pool    *worker.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	repo := store.NewSQLiteRepo(db)

	pool := worker.NewPool(context.Background(), 2)
	t.Cleanup(pool.Wait)

	checker := checkerFunc(func(ctx context.Context, jobID string, court int, date string) ([]string, error) {
		if court == 3 {
			return nil, errors.New("slot grid never appeared")
		}
		return []string{"06:00 AM - 07:00 AM"}, nil
	})
	coord := jobs.NewCoordinator(checker, pool, jobs.Options{
		Courts: []int{1, 2, 3, 4, 5, 6, 7},
		Store:  repo,
	})
	h := NewServer(Deps{
		Jobs:    coord,
		Stream:  stream.NewPublisher(coord, time.Second),
		History: repo,
		Active:  pool.Active,
	})
	return &fixture{handler: h, repo: repo, pool: pool}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("content-type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestCheckSlots_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		body string
		want string
	}{
		{``, "start_date is required"},
		{`{}`, "start_date is required"},
		{`{"start_date":"2025-12-16","end_date":"2025/12/17"}`, "dates must be YYYY-MM-DD"},
		{`{"start_date":"2025-12-16","end_date":"2025-12-15"}`, "end_date must be same or after start_date"},
		{`{"start_date":"2025-12-20","end_date":"2025-12-25"}`, "Maximum allowed window is 3 days"},
		{`{"start_date":"2025-12-16","end_date":5}`, "dates must be YYYY-MM-DD"},
		{`{"start_date":20251216}`, "dates must be YYYY-MM-DD"},
		{`{"start_date":"2025-12-16"`, "dates must be YYYY-MM-DD"},
	}
	for _, tt := range tests {
		rr := f.do(http.MethodPost, "/check_slots", tt.body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, tt.body)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, tt.want, resp["error"])
	}

	scans, err := f.repo.ListRecentScans(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, scans)
}

func TestCheckSlots_StreamsToDone(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/check_slots", `{"start_date":"2025-12-16"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	id := resp["job_id"]
	require.Len(t, id, 32)

	ev := f.do(http.MethodGet, "/events/"+id, "")
	assert.Equal(t, http.StatusOK, ev.Code)
	assert.Equal(t, "text/event-stream", ev.Header().Get("content-type"))

	frames := strings.Split(strings.TrimSuffix(ev.Body.String(), "\n\n"), "\n\n")
	partials := 0
	for _, fr := range frames {
		require.True(t, strings.HasPrefix(fr, "data: "), fr)
		if strings.Contains(fr, `"type":"result_partial"`) {
			partials++
		}
	}
	assert.Equal(t, 7, partials)
	last := frames[len(frames)-1]
	assert.Contains(t, last, `"type":"done"`)
	assert.Contains(t, last, `"3":"ERROR"`)
	assert.Contains(t, last, `"4":["06:00 AM - 07:00 AM"]`)
	assert.Contains(t, ev.Body.String(), "2025-12-16 Court 3: ERROR: slot grid never appeared")

	f.pool.Wait()
	job := f.do(http.MethodGet, "/api/jobs/"+id, "")
	require.Equal(t, http.StatusOK, job.Code)
	var view jobs.JobView
	require.NoError(t, json.Unmarshal(job.Body.Bytes(), &view))
	assert.True(t, view.Finished)
	assert.True(t, view.Results["2025-12-16"]["3"].Failed)

	scan := f.do(http.MethodGet, "/api/scans/"+id, "")
	require.Equal(t, http.StatusOK, scan.Code)
	var sv struct {
		State   string         `json:"state"`
		Results domain.Results `json:"results"`
	}
	require.NoError(t, json.Unmarshal(scan.Body.Bytes(), &sv))
	assert.Equal(t, domain.ScanFinished, sv.State)
	assert.Len(t, sv.Results["2025-12-16"], 7)

	list := f.do(http.MethodGet, "/api/scans?limit=5", "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), id)
}

func TestEvents_UnknownJob(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/events/doesnotexist", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "data: {\"type\":\"error\",\"msg\":\"unknown job_id\"}\n\n", rr.Body.String())
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/jobs/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/scans/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/scans?limit=0", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	h := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, h.Code)
	assert.Equal(t, "ok", h.Body.String())

	m := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "courtscan_up 1\n")
	assert.Contains(t, m.Body.String(), "courtscan_jobs_running 0\n")
	assert.Contains(t, m.Body.String(), "courtscan_workers_busy 0\n")
}
