package server

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	errBadCredentials     = errors.New("invalid user or password")
	errUnknownDataSource  = errors.New("unknown datasource")
	errSessionNotProvided = errors.New("session token required")
	errUnknownSession     = errors.New("unknown or closed session")
)

// SessionManager authenticates users and tracks open session tokens.
type SessionManager struct {
	user       string
	password   string
	dataSource string

	mu       sync.RWMutex
	sessions map[string]string // token -> user
}

func NewSessionManager(user, password, dataSource string) *SessionManager {
	return &SessionManager{
		user:       user,
		password:   password,
		dataSource: dataSource,
		sessions:   make(map[string]string),
	}
}

// Open checks the credentials and the requested datasource and returns a new
// session token.
func (m *SessionManager) Open(user, password, dataSource string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(m.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
	if !userOK || !passOK {
		return "", errBadCredentials
	}
	if dataSource != m.dataSource {
		return "", errUnknownDataSource
	}

	token := uuid.New().String()
	m.mu.Lock()
	m.sessions[token] = user
	m.mu.Unlock()
	return token, nil
}

// User returns the user bound to token.
func (m *SessionManager) User(token string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.sessions[token]
	return user, ok
}

// Close forgets token. Closing an unknown token is a no-op.
func (m *SessionManager) Close(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
