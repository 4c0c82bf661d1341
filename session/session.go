// Package session is the client side of the repository protocol: a stateful
// connection that allocates draft elements, searches baselines by name and
// submits change sets as atomic commits.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orian/rulerepo/models"
)

// DefaultTimeout bounds every request made by a session.
const DefaultTimeout = 30 * time.Second

// Credentials authenticate a session.
type Credentials struct {
	User     string
	Password string
}

// Option customizes a session.
type Option func(*Session)

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// Session is an open connection to a repository. Draft elements created
// through the session live in memory until a commit carries them.
//
// A Session is safe for concurrent use, but the provisioning workflow drives
// it from a single goroutine.
type Session struct {
	endpoint   string
	dataSource string
	user       string
	client     *http.Client

	// mu guards token and drafts.
	mu     sync.Mutex
	token  string
	drafts map[string]*models.Element
}

// Connect authenticates against endpoint and opens a session on dataSource.
// Transport and authentication failures are returned as
// *models.ConnectionError.
func Connect(ctx context.Context, creds Credentials, endpoint, dataSource string, opts ...Option) (*Session, error) {
	s := &Session{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		dataSource: dataSource,
		client:     &http.Client{Timeout: DefaultTimeout},
		drafts:     make(map[string]*models.Element),
	}
	for _, opt := range opts {
		opt(s)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/api/session", nil)
	if err != nil {
		return nil, &models.ConnectionError{Endpoint: s.endpoint, Err: err}
	}
	req.SetBasicAuth(creds.User, creds.Password)
	req.Header.Set(models.HeaderDataSource, dataSource)

	var resp models.SessionResponse
	if err := s.send(req, "connect", &resp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.token = resp.Token
	s.mu.Unlock()
	s.user = resp.User

	log.Printf("Connected to %s as %s (datasource %s)", s.endpoint, s.user, s.dataSource)
	return s, nil
}

// User returns the authenticated user name.
func (s *Session) User() string { return s.user }

// Endpoint returns the repository URL the session is bound to.
func (s *Session) Endpoint() string { return s.endpoint }

// ProjectNamed returns the project called name with its current baseline.
func (s *Session) ProjectNamed(ctx context.Context, name string) (*models.Project, error) {
	var p models.Project
	if err := s.call(ctx, "project", http.MethodGet, "/api/projects/"+url.PathEscape(name), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Projects lists every project in the repository.
func (s *Session) Projects(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	if err := s.call(ctx, "projects", http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Baseline returns the branch with the given ID.
func (s *Session) Baseline(ctx context.Context, branchID string) (*models.Branch, error) {
	var b models.Branch
	if err := s.call(ctx, "baseline", http.MethodGet, "/api/branches/"+url.PathEscape(branchID), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBranch derives a new branch in a project.
func (s *Session) CreateBranch(ctx context.Context, projectID, name, parentBranchID string) (*models.Branch, error) {
	req := models.CreateBranchRequest{Name: name, ParentBranchID: parentBranchID}
	var b models.Branch
	if err := s.call(ctx, "create branch", http.MethodPost, "/api/projects/"+url.PathEscape(projectID)+"/branches", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateElement allocates an uncommitted element of kind. Nothing is sent to
// the repository.
func (s *Session) CreateElement(kind models.Kind) (models.ElementHandle, error) {
	if _, ok := models.LookupKind(kind); !ok {
		return models.ElementHandle{}, models.NewApplicationError("create element", models.ErrValidation, "unknown kind %q", kind)
	}
	el := &models.Element{
		ID:   models.DraftPrefix + uuid.New().String(),
		Kind: kind,
	}

	s.mu.Lock()
	s.drafts[el.ID] = el
	s.mu.Unlock()
	return el.Handle(), nil
}

// Details returns the element behind a handle. For a draft this is the
// mutable in-memory element; for a committed handle it is a fresh copy read
// from the repository.
func (s *Session) Details(ctx context.Context, h models.ElementHandle) (*models.Element, error) {
	if models.IsDraftID(h.ID) {
		s.mu.Lock()
		el, ok := s.drafts[h.ID]
		s.mu.Unlock()
		if !ok {
			return nil, models.NewApplicationError("details", models.ErrNotFound, "no draft %s in this session", h.ID)
		}
		return el, nil
	}

	var el models.Element
	if err := s.call(ctx, "details", http.MethodGet, "/api/elements/"+url.PathEscape(h.ID), nil, &el); err != nil {
		return nil, err
	}
	return &el, nil
}

// Find returns the elements visible from branchID that match criteria. The
// result is never nil.
func (s *Session) Find(ctx context.Context, branchID string, criteria models.SearchCriteria) ([]*models.Element, error) {
	elements := []*models.Element{}
	if err := s.call(ctx, "find", http.MethodPost, "/api/branches/"+url.PathEscape(branchID)+"/find", criteria, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// ProjectInfo returns the metadata container of a branch with its extractors.
func (s *Session) ProjectInfo(ctx context.Context, branchID string) (*models.Element, error) {
	var el models.Element
	if err := s.call(ctx, "project info", http.MethodGet, "/api/branches/"+url.PathEscape(branchID)+"/info", nil, &el); err != nil {
		return nil, err
	}
	return &el, nil
}

// History returns the commits applied to a branch, newest first.
func (s *Session) History(ctx context.Context, branchID string) ([]*models.Commit, error) {
	var commits []*models.Commit
	if err := s.call(ctx, "history", http.MethodGet, "/api/branches/"+url.PathEscape(branchID)+"/history", nil, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}

// Commit submits cs against branchID as one atomic write and returns the
// handle of the committed root. Drafts carried by the change set are
// released from the session on success.
func (s *Session) Commit(ctx context.Context, branchID string, cs *models.ChangeSet) (models.ElementHandle, error) {
	var resp models.CommitResponse
	err := s.call(ctx, "commit", http.MethodPost, "/api/branches/"+url.PathEscape(branchID)+"/commit", models.CommitRequest{ChangeSet: cs}, &resp)
	if err != nil {
		return models.ElementHandle{}, err
	}

	s.mu.Lock()
	if cs.Root != nil {
		delete(s.drafts, cs.Root.ID)
	}
	for _, entry := range cs.Added {
		delete(s.drafts, entry.Element.ID)
	}
	for _, entry := range cs.Modified {
		delete(s.drafts, entry.Element.ID)
	}
	s.mu.Unlock()

	return resp.Handle, nil
}

// Delete removes a committed element. branchID must be the element's owning
// branch; the repository rejects anything else with ErrWrongBaseline.
func (s *Session) Delete(ctx context.Context, branchID string, el *models.Element) error {
	if el == nil || models.IsDraftID(el.ID) {
		return models.NewApplicationError("delete", models.ErrNotFound, "element was never committed")
	}
	path := "/api/branches/" + url.PathEscape(branchID) + "/elements/" + url.PathEscape(el.ID)
	return s.call(ctx, "delete", http.MethodDelete, path, nil, nil)
}

// Close ends the session on the server and drops every draft.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.drafts = make(map[string]*models.Element)
	token := s.token
	s.mu.Unlock()

	if token == "" {
		return nil
	}
	err := s.call(ctx, "close", http.MethodDelete, "/api/session", nil, nil)

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return err
}

// call issues an authenticated JSON request.
func (s *Session) call(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return &models.ConnectionError{Endpoint: s.endpoint, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	req.Header.Set(models.HeaderSession, token)
	return s.send(req, op, out)
}

// send performs req and decodes the answer into out. Transport failures,
// 401 and 5xx answers become *models.ConnectionError; other 4xx answers
// become *models.ApplicationError.
func (s *Session) send(req *http.Request, op string, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return &models.ConnectionError{Endpoint: s.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode >= http.StatusInternalServerError {
			return &models.ConnectionError{
				Endpoint: s.endpoint,
				Err:      fmt.Errorf("%s: %s (%d)", op, errResp.Error, resp.StatusCode),
			}
		}
		return models.ApplicationErrorFromCode(op, errResp.Code, errResp.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ConnectionError{Endpoint: s.endpoint, Err: fmt.Errorf("%s: failed to decode response: %w", op, err)}
	}
	return nil
}
