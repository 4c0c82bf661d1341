// Package repotest starts throwaway repository servers for tests.
package repotest

import (
	"net/http/httptest"
	"testing"

	"github.com/orian/rulerepo/server"
	"github.com/orian/rulerepo/storage"
)

// Credentials accepted by every test repository.
const (
	User       = "rtsAdmin"
	Password   = "rtsAdmin"
	DataSource = "jdbc/ilogDataSource"
)

// Repo is a running repository backed by in-memory SQLite.
type Repo struct {
	URL   string
	Store *storage.SQLStorage
}

// Start runs a seeded repository for the duration of the test. When seed is
// nil the default seed is applied.
func Start(t *testing.T, seed *storage.Seed) *Repo {
	t.Helper()

	store, err := storage.Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if seed == nil {
		seed, err = storage.DefaultSeed()
		if err != nil {
			t.Fatalf("failed to load default seed: %v", err)
		}
	}
	if err := storage.ApplySeed(store, seed); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	srv := server.NewServer(store, nil, server.NewSessionManager(User, Password, DataSource))
	ts := httptest.NewServer(srv.Handler("/teamserver"))
	t.Cleanup(ts.Close)

	return &Repo{URL: ts.URL + "/teamserver", Store: store}
}
