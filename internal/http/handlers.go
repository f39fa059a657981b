package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"carebridge-intake/internal/bridge"
	"carebridge-intake/internal/core"
	"carebridge-intake/internal/session"
	"carebridge-intake/pkg"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Server bundles together the dependencies required by HTTP handlers.
type Server struct {
	Sessions    *session.Manager
	Chat        *core.ChatService
	Synthesizer *core.Synthesizer
	ReportDir   string

	// NewCoordinator builds the per-session submission coordinator; tests
	// inject one pointed at a fake platform.
	NewCoordinator func() *bridge.Coordinator

	mu           sync.Mutex
	coordinators map[uuid.UUID]*bridge.Coordinator
}

// NewServer constructs a Server.
func NewServer(sessions *session.Manager, chat *core.ChatService, synth *core.Synthesizer, newCoordinator func() *bridge.Coordinator, reportDir string) *Server {
	return &Server{
		Sessions:       sessions,
		Chat:           chat,
		Synthesizer:    synth,
		ReportDir:      reportDir,
		NewCoordinator: newCoordinator,
		coordinators:   make(map[uuid.UUID]*bridge.Coordinator),
	}
}

// Routes returns the chi router for the intake API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/sessions", s.handleCreateSession)
	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Post("/messages", s.handlePostMessage)
		r.Post("/reset", s.handleReset)
		r.Post("/report", s.handleGenerateReport)
		r.Post("/report/save", s.handleSaveReport)
		r.Post("/submit", s.handleSubmit)
		r.Get("/reply", s.handleReply)
		r.Post("/monitoring/cancel", s.handleCancelMonitoring)
	})
	return r
}

func (s *Server) coordinatorFor(id uuid.UUID) *bridge.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coordinators[id]
	if !ok {
		c = s.NewCoordinator()
		s.coordinators[id] = c
	}
	return c
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return nil, false
	}
	sess, ok := s.Sessions.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// handleCreateSession creates a session and records the onboarding form in
// one step.  Validation failures return 400 with the user-facing message
// and no session is created.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Age      int    `json:"age"`
		Gender   string `json:"gender"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	info := pkg.ChildInfo{
		Name:     req.Name,
		Age:      req.Age,
		Gender:   parseGender(req.Gender),
		Location: req.Location,
	}
	sess := session.New()
	if err := sess.RecordChildInfo(info); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Sessions.Add(sess)
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID().String(),
		"message":    fmt.Sprintf("Welcome! I'm ready to help you with %s's assessment.", info.Name),
	})
}

// parseGender maps form values onto the gender enum.  Anything that is not
// recognisably female or male becomes unspecified, matching the
// "prefer not to say" form option.
func parseGender(v string) pkg.Gender {
	switch pkg.Gender(strings.ToLower(strings.TrimSpace(v))) {
	case pkg.GenderFemale:
		return pkg.GenderFemale
	case pkg.GenderMale:
		return pkg.GenderMale
	default:
		return pkg.GenderUnspecified
	}
}

// handleGetSession returns the session transcript and child info.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":           sess.ID().String(),
		"child_info":           sess.Child(),
		"conversation_history": sess.History(),
		"media_attachments":    sess.Media(),
	})
}

// handlePostMessage records a user turn and streams the assistant reply
// back as server-sent events, one event per reveal increment, terminated by
// a "done" event.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		Text  string `json:"text"`
		Media []struct {
			Path string `json:"path"`
			Kind string `json:"kind"`
		} `json:"media"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" && len(req.Media) == 0 {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	media := make([]core.MediaRef, 0, len(req.Media))
	for _, m := range req.Media {
		media = append(media, core.MediaRef{Path: m.Path, Kind: m.Kind})
	}
	if _, err := s.Chat.SubmitUserTurn(sess, req.Text, media); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !sess.Onboarded() {
		http.Error(w, session.ErrNotOnboarded.Error(), http.StatusConflict)
		return
	}

	stream, err := s.Chat.StreamReply(r.Context(), sess)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	for partial := range stream {
		data, err := json.Marshal(map[string]string{"text": partial})
		if err != nil {
			continue
		}
		if _, err := io.WriteString(w, "data: "+string(data)+"\n\n"); err != nil {
			return
		}
		flusher.Flush()
	}
	io.WriteString(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

// handleReset clears the conversation so a new one can start.  Child info
// and the session identifier are preserved.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleGenerateReport synthesizes the assessment and returns the rendered
// report together with the progress milestones emitted along the way.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var progress []string
	report := s.Synthesizer.Synthesize(r.Context(), sess, func(msg string) {
		progress = append(progress, msg)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"report":   report,
		"progress": progress,
	})
}

// handleSaveReport writes the rendered report and a JSON snapshot of the
// session's report data into the report directory.
func (s *Server) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		Report string `json:"report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Report == "" {
		http.Error(w, "no report available to save", http.StatusBadRequest)
		return
	}
	if err := os.MkdirAll(s.ReportDir, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stamp := time.Now().Format("20060102_150405")
	child := sess.Child()
	reportPath := filepath.Join(s.ReportDir, fmt.Sprintf("trauma_report_%s_%s.md", child.Name, stamp))
	dataPath := filepath.Join(s.ReportDir, fmt.Sprintf("assessment_data_%s_%s.json", child.Name, stamp))

	snapshot := map[string]any{
		"child_info":           child,
		"assessment_data":      sess.Assessment(),
		"media_attachments":    sess.Media(),
		"conversation_history": sess.History(),
		"mobile_app_id":        sess.ID().String(),
		"session_start":        sess.StartedAt().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(reportPath, []byte(req.Report), 0o644); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"report_file": reportPath,
		"data_file":   dataPath,
	})
}

// handleSubmit pushes the report to the Care Bridge platform.  Failures are
// returned as a message with ok=false; the coordinator state is unchanged
// and nothing is retried.  Precondition rejections are client errors;
// only platform faults map to 502.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	coord := s.coordinatorFor(sess.ID())
	pushed, message := coord.Push(r.Context(), sess)
	status := http.StatusOK
	if !pushed {
		if !sess.Onboarded() || len(sess.History()) == 0 {
			status = http.StatusBadRequest
		} else {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]any{
		"ok":        pushed,
		"message":   message,
		"report_id": coord.ReportID(),
		"status":    coord.Status(),
	})
}

// handleReply reports the specialist response, or where the monitoring
// currently stands when none has arrived yet.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	coord := s.coordinators[sess.ID()]
	s.mu.Unlock()
	if coord == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"present": false,
			"status":  bridge.StatusIdle,
			"message": "Submit a report first to check for responses.",
		})
		return
	}
	present, reply := coord.GetReply()
	resp := map[string]any{
		"present": present,
		"status":  coord.Status(),
	}
	switch {
	case present:
		resp["reply"] = reply
	case coord.Status() == bridge.StatusPolling:
		resp["message"] = "Still monitoring for a specialist response."
	case coord.Status() == bridge.StatusTimedOut:
		resp["message"] = "Monitoring stopped. No response received within the time limit."
	case coord.Status() == bridge.StatusCancelled:
		resp["message"] = "Monitoring was cancelled."
	case coord.Status() == bridge.StatusSubmitted:
		resp["message"] = "Report submitted. Background monitoring is not enabled."
	default:
		resp["message"] = "Submit a report first to check for responses."
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancelMonitoring requests cooperative cancellation of the polling
// loop for this session.
func (s *Server) handleCancelMonitoring(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	coord := s.coordinators[sess.ID()]
	s.mu.Unlock()
	if coord != nil {
		coord.Cancel()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}
