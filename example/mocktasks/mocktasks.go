// Package mocktasks is a fake task API for the examples.
//
// Jobs are submitted with POST /tasks and polled with GET /tasks/{id}. A
// job stays queued for a moment, runs while its progress climbs, and then
// either succeeds with an output URL or fails.
package mocktasks

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const queueTime = 2 * time.Second

// JobView is the JSON body returned for a job.
type JobView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

type job struct {
	id       string
	created  time.Time
	duration time.Duration
	fail     bool
}

// Server holds the jobs in memory.
type Server struct {
	mu          sync.Mutex
	jobs        map[string]*job
	failureRate float64
	now         func() time.Time
}

// New creates a server where a submitted job fails with probability
// failureRate.
func New(failureRate float64) *Server {
	return &Server{
		jobs:        make(map[string]*job),
		failureRate: failureRate,
		now:         time.Now,
	}
}

// Submit registers a job with a fixed ID and run time, replacing any job
// with the same ID.
func (s *Server) Submit(id string, duration time.Duration, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &job{id: id, created: s.now(), duration: duration, fail: fail}
}

// Handler returns the task API:
//
//	POST /tasks       submit a job, optionally {"duration": "20s"}
//	GET  /tasks/{id}  job status
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", s.handleSubmit)
	mux.HandleFunc("GET /tasks/{id}", s.handleGet)
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Duration string `json:"duration"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
	}

	// 10-30s unless the caller asks otherwise
	duration := time.Duration(10+rand.IntN(21)) * time.Second
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid duration"})
			return
		}
		duration = d
	}

	id := uuid.NewString()
	s.Submit(id, duration, rand.Float64() < s.failureRate)
	slog.Info("job submitted", "id", id, "duration", duration.String())

	writeJSON(w, http.StatusAccepted, s.view(id))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) lookup(id string) (JobView, bool) {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return JobView{}, false
	}
	return s.view(id), true
}

// view derives a job's state from the time since it was submitted.
func (s *Server) view(id string) JobView {
	s.mu.Lock()
	j := s.jobs[id]
	now := s.now()
	s.mu.Unlock()

	elapsed := now.Sub(j.created)
	switch {
	case elapsed < queueTime:
		return JobView{ID: id, Status: "queued"}
	case elapsed < queueTime+j.duration:
		pct := int(100 * (elapsed - queueTime) / j.duration)
		return JobView{ID: id, Status: "running", Progress: pct}
	case j.fail:
		return JobView{ID: id, Status: "failed", Error: "encoder crashed"}
	default:
		return JobView{
			ID:        id,
			Status:    "succeeded",
			Progress:  100,
			OutputURL: "https://cdn.example.com/renders/" + id + ".mp4",
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
