package models

// Wire types shared by the repository server and the session client.

// Header names used by the HTTP protocol.
const (
	HeaderSession    = "X-Repo-Session"
	HeaderDataSource = "X-Repo-Datasource"
)

// SessionResponse is returned when a session is opened.
type SessionResponse struct {
	Token      string `json:"token"`
	User       string `json:"user"`
	DataSource string `json:"dataSource"`
}

// CommitRequest submits a change set against the branch in the URL.
type CommitRequest struct {
	ChangeSet *ChangeSet `json:"changeSet"`
}

// CommitResponse carries the committed root handle and the commit record.
type CommitResponse struct {
	Handle ElementHandle `json:"handle"`
	Commit *Commit       `json:"commit"`
}

// CreateBranchRequest derives a branch inside a project.
type CreateBranchRequest struct {
	Name           string `json:"name"`
	ParentBranchID string `json:"parentBranchId,omitempty"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
