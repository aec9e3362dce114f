package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"courtscan/internal/domain"
	"courtscan/internal/jobs"
	"courtscan/internal/store"
)

// Jobs is the live job registry.
type Jobs interface {
	SubmitScan(ctx context.Context, start, end string) (string, error)
	Get(id string) (*jobs.Job, bool)
	Stats() jobs.Stats
}

// Stream writes a job's event frames until it is done.
type Stream interface {
	Subscribe(ctx context.Context, jobID string, emit func(frame []byte) error) error
}

// History is the persisted scan record.
type History interface {
	GetScan(ctx context.Context, id string) (domain.Scan, error)
	ListRecentScans(ctx context.Context, limit int) ([]domain.Scan, error)
	ListAttempts(ctx context.Context, scanID string) ([]domain.AttemptRecord, error)
}

type Deps struct {
	Jobs    Jobs
	Stream  Stream
	History History
	// Active reports busy worker slots for /metrics.
	Active      func() int
	EnableDebug bool
}

type Server struct {
	r    *chi.Mux
	deps Deps
}

func NewServer(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, deps: d}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Post("/check_slots", s.checkSlots)
	r.Get("/events/{jobID}", s.events)
	r.Get("/api/jobs/{jobID}", s.getJob)
	if d.History != nil {
		r.Get("/api/scans", s.listScans)
		r.Get("/api/scans/{id}", s.getScan)
	}

	if d.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Jobs.Stats()
	active := 0
	if s.deps.Active != nil {
		active = s.deps.Active()
	}
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "courtscan_up 1\ncourtscan_jobs_running %d\ncourtscan_jobs_finished %d\ncourtscan_workers_busy %d\n",
		st.Running, st.Finished, active)
}

type checkReq struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// badDates is the rejection for a body whose dates are not strings.
const badDates = "dates must be YYYY-MM-DD"

type checkResp struct {
	JobID string `json:"job_id"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *Server) checkSlots(w http.ResponseWriter, r *http.Request) {
	var req checkReq
	// an empty body is an empty request; anything else must decode
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: badDates})
		return
	}

	id, err := s.deps.Jobs.SubmitScan(r.Context(), req.StartDate, req.EndDate)
	var invalid *domain.InvalidRangeError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: invalid.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, checkResp{JobID: id})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.deps.Stream.Subscribe(r.Context(), jobID, func(frame []byte) error {
		if _, err := w.Write(frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("event stream")
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.deps.Jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp{Error: domain.ErrJobNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, j.View())
}

type scanView struct {
	ID         string                 `json:"id"`
	StartDate  string                 `json:"start_date"`
	EndDate    string                 `json:"end_date"`
	State      string                 `json:"state"`
	CreatedAt  string                 `json:"created_at"`
	FinishedAt string                 `json:"finished_at,omitempty"`
	Results    domain.Results         `json:"results,omitempty"`
	Attempts   []domain.AttemptRecord `json:"attempts,omitempty"`
}

func toView(sc domain.Scan) scanView {
	v := scanView{
		ID: sc.ID, StartDate: sc.StartDate, EndDate: sc.EndDate, State: sc.State,
		CreatedAt: sc.CreatedAt.UTC().Format(time.RFC3339), Results: sc.Results,
	}
	if sc.FinishedAt != nil {
		v.FinishedAt = sc.FinishedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "limit must be 1..200"})
			return
		}
		limit = n
	}
	scans, err := s.deps.History.ListRecentScans(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]scanView, 0, len(scans))
	for _, sc := range scans {
		v := toView(sc)
		v.Results = nil
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := s.deps.History.GetScan(r.Context(), id)
	if errors.Is(err, store.ErrScanNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	v := toView(sc)
	if v.Attempts, err = s.deps.History.ListAttempts(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
