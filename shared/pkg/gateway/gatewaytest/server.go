// Package gatewaytest provides an in-process fake of the generation API for tests.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/gentrack/pkg/models"
	"github.com/psantana5/gentrack/pkg/tenancy"
)

// Route names used by Requests, FailNext and Hold
const (
	RouteSubmit = "submit"
	RouteGetJob = "get_job"
	RouteList   = "list_jobs"
	RouteCancel = "cancel_job"
	RouteQueue  = "queue_status"
)

type scriptedJob struct {
	snapshots []models.Job
	served    int
}

// current is the snapshot the last GET returned
func (j *scriptedJob) current() models.Job {
	idx := j.served - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(j.snapshots) {
		idx = len(j.snapshots) - 1
	}
	return j.snapshots[idx]
}

// next returns the snapshot for the next GET and advances the script
func (j *scriptedJob) next() models.Job {
	idx := j.served
	if idx >= len(j.snapshots) {
		idx = len(j.snapshots) - 1
	}
	j.served++
	return j.snapshots[idx]
}

// Server is a scripted fake of the generation API.
// Jobs and queue snapshots are scoped by the X-Account-ID header.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	jobs        map[string]map[string]*scriptedJob // account -> id -> job
	order       map[string][]string
	queue       map[string][]models.QueueSnapshot
	queueServed map[string]int
	nextID      int
	rejectMsg   string

	requests    map[string]int
	failures    map[string][]int
	holds       map[string]map[int]chan struct{}
	lastHeaders map[string]http.Header
	submissions []models.SubmitRequest
}

// NewServer starts a fake server; it is closed when the test ends
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		jobs:        make(map[string]map[string]*scriptedJob),
		order:       make(map[string][]string),
		queue:       make(map[string][]models.QueueSnapshot),
		queueServed: make(map[string]int),
		requests:    make(map[string]int),
		failures:    make(map[string][]int),
		holds:       make(map[string]map[int]chan struct{}),
		lastHeaders: make(map[string]http.Header),
	}

	r := mux.NewRouter()
	// queue/status must be registered before the {id} route
	r.HandleFunc("/api/tasks/queue/status", s.handleQueue).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/{domain}/generate", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/{domain}/task/{id}/cancel", s.handleCancel).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetJob scripts the snapshots successive GETs of a job return; the last one repeats
func (s *Server) SetJob(account string, snapshots ...models.Job) {
	if len(snapshots) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(account, &scriptedJob{snapshots: snapshots})
}

func (s *Server) putLocked(account string, j *scriptedJob) {
	id := j.snapshots[0].ID
	if s.jobs[account] == nil {
		s.jobs[account] = make(map[string]*scriptedJob)
	}
	if _, exists := s.jobs[account][id]; !exists {
		s.order[account] = append(s.order[account], id)
	}
	s.jobs[account][id] = j
}

// RemoveJob makes further GETs of the job answer 404
func (s *Server) RemoveJob(account, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs[account], id)
	ids := s.order[account][:0]
	for _, existing := range s.order[account] {
		if existing != id {
			ids = append(ids, existing)
		}
	}
	s.order[account] = ids
}

// SetQueue scripts successive queue snapshots for an account; the last one repeats
func (s *Server) SetQueue(account string, snapshots ...models.QueueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[account] = snapshots
	s.queueServed[account] = 0
}

// RejectSubmissions makes the generate endpoint answer success=false
func (s *Server) RejectSubmissions(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectMsg = message
}

// FailNext makes the next n requests to route answer with status
func (s *Server) FailNext(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures[route] = append(s.failures[route], status)
	}
}

// Hold blocks the nth (1-based) request to route until release is called
func (s *Server) Hold(route string, n int) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	if s.holds[route] == nil {
		s.holds[route] = make(map[int]chan struct{})
	}
	s.holds[route][n] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Requests returns how many requests route has received
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// LastHeader returns the headers of the most recent request to route
func (s *Server) LastHeader(route string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeaders[route].Clone()
}

// Submissions returns the bodies received by the generate endpoint
func (s *Server) Submissions() []models.SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SubmitRequest(nil), s.submissions...)
}

// begin records a request and reports an injected failure status, if any.
// The returned hold channel, when non-nil, must be waited on before answering.
func (s *Server) begin(route string, r *http.Request) (failStatus int, hold chan struct{}) {
	s.requests[route]++
	s.lastHeaders[route] = r.Header.Clone()
	hold = s.holds[route][s.requests[route]]
	if queued := s.failures[route]; len(queued) > 0 {
		failStatus = queued[0]
		s.failures[route] = queued[1:]
	}
	return failStatus, hold
}

func wait(r *http.Request, hold chan struct{}) bool {
	if hold == nil {
		return true
	}
	select {
	case <-hold:
		return true
	case <-r.Context().Done():
		return false
	}
}

func account(r *http.Request) string {
	return r.Header.Get(tenancy.AccountHeader)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	fail, hold := s.begin(RouteGetJob, r)
	var (
		job   models.Job
		found bool
	)
	if fail == 0 {
		if j, ok := s.jobs[account(r)][id]; ok {
			job, found = j.next(), true
		}
	}
	s.mu.Unlock()

	if !wait(r, hold) {
		return
	}
	switch {
	case fail != 0:
		http.Error(w, http.StatusText(fail), fail)
	case !found:
		http.Error(w, "Task not found", http.StatusNotFound)
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	skip, _ := strconv.Atoi(q.Get("skip"))
	status := models.ParseStatus(q.Get("status"))
	if q.Get("status") == "" {
		status = ""
	}

	s.mu.Lock()
	fail, hold := s.begin(RouteList, r)
	var tasks []models.Job
	acct := account(r)
	for _, id := range s.order[acct] {
		job := s.jobs[acct][id].current()
		if status != "" && job.Status != status {
			continue
		}
		tasks = append(tasks, job)
	}
	s.mu.Unlock()

	if !wait(r, hold) {
		return
	}
	if fail != 0 {
		http.Error(w, http.StatusText(fail), fail)
		return
	}

	total := len(tasks)
	if skip > len(tasks) {
		skip = len(tasks)
	}
	tasks = tasks[skip:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	if tasks == nil {
		tasks = []models.Job{}
	}
	writeJSON(w, http.StatusOK, models.JobList{Tasks: tasks, Total: total})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	domain := models.Domain(mux.Vars(r)["domain"])

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fail, hold := s.begin(RouteSubmit, r)
	var resp models.SubmitResponse
	if fail == 0 {
		s.submissions = append(s.submissions, req)
		if s.rejectMsg != "" {
			resp.Message = s.rejectMsg
		} else {
			s.nextID++
			now := time.Now().UTC()
			job := models.Job{
				ID:        fmt.Sprintf("task-%d", s.nextID),
				Domain:    domain,
				Title:     req.Title,
				Status:    models.JobStatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			s.putLocked(account(r), &scriptedJob{snapshots: []models.Job{job}})
			resp.Success = true
			resp.Data.TaskID = job.ID
		}
	}
	s.mu.Unlock()

	if !wait(r, hold) {
		return
	}
	if fail != 0 {
		http.Error(w, http.StatusText(fail), fail)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	fail, hold := s.begin(RouteCancel, r)
	var (
		count int
		found bool
	)
	if fail == 0 {
		if j, ok := s.jobs[account(r)][id]; ok {
			found = true
			current := j.current()
			if !models.IsTerminalState(current.Status) {
				cancelled := current.Clone()
				cancelled.Status = models.JobStatusCancelled
				cancelled.UpdatedAt = time.Now().UTC()
				j.snapshots = []models.Job{cancelled}
				j.served = 0
				count = 1
			}
		}
	}
	s.mu.Unlock()

	if !wait(r, hold) {
		return
	}
	switch {
	case fail != 0:
		http.Error(w, http.StatusText(fail), fail)
	case !found:
		http.Error(w, "Task not found", http.StatusNotFound)
	default:
		writeJSON(w, http.StatusOK, models.CancelResponse{CancelledCount: count})
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail, hold := s.begin(RouteQueue, r)
	var snap models.QueueSnapshot
	acct := account(r)
	if script := s.queue[acct]; fail == 0 && len(script) > 0 {
		idx := s.queueServed[acct]
		if idx >= len(script) {
			idx = len(script) - 1
		}
		snap = script[idx]
		s.queueServed[acct]++
	}
	s.mu.Unlock()

	if !wait(r, hold) {
		return
	}
	if fail != 0 {
		http.Error(w, http.StatusText(fail), fail)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
