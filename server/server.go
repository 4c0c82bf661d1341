// Package server exposes a models.Storage as the repository HTTP API used by
// client sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/orian/rulerepo/audit"
	"github.com/orian/rulerepo/models"
)

// MaxRequestBytes caps the size of a request body.
const MaxRequestBytes int64 = 4 << 20

type ctxKey struct{}

// Server handles HTTP requests and coordinates between storage and the
// audit log.
type Server struct {
	storage  models.Storage
	recorder audit.Recorder
	sessions *SessionManager
	metrics  *Metrics
	maxBody  int64
}

func NewServer(storage models.Storage, recorder audit.Recorder, sessions *SessionManager) *Server {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Server{
		storage:  storage,
		recorder: recorder,
		sessions: sessions,
		metrics:  NewMetrics(),
		maxBody:  MaxRequestBytes,
	}
}

// Router builds the chi router with every API route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestSize(s.maxBody))

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleOpenSession)
		r.Get("/ping", s.handlePing)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Delete("/session", s.handleCloseSession)

			// Projects
			r.Get("/projects", s.handleGetProjects)
			r.Get("/projects/{name}", s.handleGetProject)
			r.Post("/projects/{projectId}/branches", s.handleCreateBranch)

			// Branch scoped operations
			r.Route("/branches/{branchId}", func(r chi.Router) {
				r.Get("/", s.handleGetBranch)
				r.Get("/info", s.handleGetProjectInfo)
				r.Get("/history", s.handleGetHistory)
				r.Get("/audit", s.handleGetAudit)
				r.Post("/find", s.handleFind)
				r.Post("/commit", s.handleCommit)
				r.Delete("/elements/{elementId}", s.handleDeleteElement)
			})

			r.Get("/elements/{elementId}", s.handleGetElement)
		})
	})

	return r
}

// Handler serves the API under basePath, e.g. "/teamserver".
func (s *Server) Handler(basePath string) http.Handler {
	basePath = strings.TrimSuffix(basePath, "/")
	if basePath == "" {
		return s.Router()
	}
	r := chi.NewRouter()
	r.Mount(basePath, s.Router())
	return r
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(models.HeaderSession)
		if token == "" {
			writeStatus(w, http.StatusUnauthorized, errSessionNotProvided.Error(), "unauthorized")
			return
		}
		user, ok := s.sessions.User(token)
		if !ok {
			writeStatus(w, http.StatusUnauthorized, errUnknownSession.Error(), "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionUser(r *http.Request) string {
	user, _ := r.Context().Value(ctxKey{}).(string)
	return user
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	user, password, _ := r.BasicAuth()
	dataSource := r.Header.Get(models.HeaderDataSource)

	token, err := s.sessions.Open(user, password, dataSource)
	if err != nil {
		log.Printf("Rejected session for user %q on datasource %q: %v", user, dataSource, err)
		writeStatus(w, http.StatusUnauthorized, err.Error(), "unauthorized")
		return
	}
	s.metrics.setSessions(s.sessions.Len())
	log.Printf("Opened session for %s on %s", user, dataSource)

	writeJSON(w, http.StatusOK, models.SessionResponse{
		Token:      token,
		User:       user,
		DataSource: dataSource,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Close(r.Header.Get(models.HeaderSession))
	s.metrics.setSessions(s.sessions.Len())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.storage.GetProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	project, ok := s.storage.GetProjectByName(name)
	if !ok {
		writeError(w, models.NewApplicationError("project", models.ErrNotFound, "project %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBranchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	branch, err := s.storage.CreateBranch(chi.URLParam(r, "projectId"), req.Name, req.ParentBranchID)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("Created branch '%s' (ID: %s)", branch.Name, branch.ID)
	writeJSON(w, http.StatusCreated, branch)
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchId")
	branch, ok := s.storage.GetBranch(branchID)
	if !ok {
		writeError(w, models.NewApplicationError("branch", models.ErrNotFound, "branch %s not found", branchID))
		return
	}
	writeJSON(w, http.StatusOK, branch)
}

func (s *Server) handleGetProjectInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.storage.GetProjectInfo(chi.URLParam(r, "branchId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchId")
	if _, ok := s.storage.GetBranch(branchID); !ok {
		writeError(w, models.NewApplicationError("history", models.ErrNotFound, "branch %s not found", branchID))
		return
	}

	history, err := s.storage.GetBranchHistory(branchID)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []*models.Commit{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeStatus(w, http.StatusBadRequest, "limit must be a positive integer", "bad_request")
			return
		}
		limit = n
	}

	events, err := s.recorder.Recent(r.Context(), chi.URLParam(r, "branchId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var criteria models.SearchCriteria
	if !decodeJSON(w, r, &criteria) {
		return
	}
	if _, ok := models.LookupKind(criteria.Kind); !ok {
		writeError(w, models.NewApplicationError("find", models.ErrValidation, "unknown kind %q", criteria.Kind))
		return
	}

	s.metrics.observeFind(criteria.Kind)
	elements, err := s.storage.FindElements(chi.URLParam(r, "branchId"), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elements)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req models.CommitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	branchID := chi.URLParam(r, "branchId")

	var kind models.Kind
	if req.ChangeSet != nil && req.ChangeSet.Root != nil {
		kind = req.ChangeSet.Root.Kind
	}

	started := time.Now()
	commit, err := s.storage.Commit(branchID, sessionUser(r), req.ChangeSet)
	s.metrics.observeCommit(kind, started, err)
	if err != nil {
		log.Printf("Commit of %s on branch %s rejected: %v", req.ChangeSet, branchID, err)
		writeError(w, err)
		return
	}
	log.Printf("Committed %s on branch %s (commit %s)", req.ChangeSet, branchID, commit.ID)

	s.recordAudit(r.Context(), audit.ActionCommit, commit)
	writeJSON(w, http.StatusOK, models.CommitResponse{
		Handle: models.ElementHandle{ID: commit.RootID, Kind: commit.RootKind},
		Commit: commit,
	})
}

func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchId")
	elementID := chi.URLParam(r, "elementId")

	commit, err := s.storage.DeleteElement(branchID, elementID, sessionUser(r))
	s.metrics.observeDelete(err)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("Deleted %s %s from branch %s (%d element(s))", commit.RootKind, elementID, branchID, commit.Deleted)

	s.recordAudit(r.Context(), audit.ActionDelete, commit)
	writeJSON(w, http.StatusOK, commit)
}

func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request) {
	elementID := chi.URLParam(r, "elementId")
	el, ok := s.storage.GetElement(elementID)
	if !ok {
		writeError(w, models.NewApplicationError("element", models.ErrNotFound, "element %s not found", elementID))
		return
	}
	writeJSON(w, http.StatusOK, el)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := map[string]interface{}{
		"connected": true,
		"timestamp": time.Now().Unix(),
	}

	if _, err := s.storage.GetProjects(); err != nil {
		response["connected"] = false
		response["error"] = err.Error()
		log.Printf("Datastore ping failed: %v", err)
	}

	if err := s.recorder.Ping(ctx); err != nil {
		response["audit"] = err.Error()
		log.Printf("Audit ping failed: %v", err)
	} else {
		response["audit"] = "ok"
	}

	writeJSON(w, http.StatusOK, response)
}

// recordAudit offers the commit to the audit log. Failures are logged only.
func (s *Server) recordAudit(ctx context.Context, action string, commit *models.Commit) {
	var projectID string
	if branch, ok := s.storage.GetBranch(commit.BranchID); ok {
		projectID = branch.ProjectID
	}
	if err := s.recorder.RecordCommit(ctx, audit.EventFromCommit(action, projectID, commit)); err != nil {
		log.Printf("Warning: failed to record audit event for commit %s: %v", commit.ID, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. It answers 413 when the body
// is over the size cap and 400 when it is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeStatus(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "too_large")
		return false
	}
	writeStatus(w, http.StatusBadRequest, err.Error(), "bad_request")
	return false
}

func writeStatus(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

// writeError maps application failures to 4xx answers and everything else
// to 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *models.ApplicationError
	if !errors.As(err, &appErr) {
		writeStatus(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeStatus(w, statusFor(appErr), appErr.Message, appErr.Code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrWrongBaseline), errors.Is(err, models.ErrAmbiguous):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrDanglingReference):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
