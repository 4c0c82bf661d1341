// Package audit records applied commits outside the repository store.
package audit

import (
	"context"
	"time"

	"github.com/orian/rulerepo/models"
)

// CommitEvent is one audit log entry.
type CommitEvent struct {
	CommitID  string    `json:"commitId"`
	Action    string    `json:"action"`
	ProjectID string    `json:"projectId"`
	BranchID  string    `json:"branchId"`
	RootID    string    `json:"rootId"`
	RootKind  string    `json:"rootKind"`
	Author    string    `json:"author"`
	Added     uint32    `json:"added"`
	Modified  uint32    `json:"modified"`
	Deleted   uint32    `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
}

// Audit actions.
const (
	ActionCommit = "commit"
	ActionDelete = "delete"
)

// Recorder persists commit events.
type Recorder interface {
	RecordCommit(ctx context.Context, event CommitEvent) error
	// Recent returns up to limit events for a branch, newest first.
	Recent(ctx context.Context, branchID string, limit int) ([]CommitEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventFromCommit converts a stored commit into an audit event.
func EventFromCommit(action, projectID string, c *models.Commit) CommitEvent {
	return CommitEvent{
		CommitID:  c.ID,
		Action:    action,
		ProjectID: projectID,
		BranchID:  c.BranchID,
		RootID:    c.RootID,
		RootKind:  string(c.RootKind),
		Author:    c.Author,
		Added:     uint32(c.Added),
		Modified:  uint32(c.Modified),
		Deleted:   uint32(c.Deleted),
		CreatedAt: c.CreatedAt,
	}
}

// NopRecorder discards events. It is used when no audit sink is configured.
type NopRecorder struct{}

func (NopRecorder) RecordCommit(context.Context, CommitEvent) error { return nil }

func (NopRecorder) Recent(context.Context, string, int) ([]CommitEvent, error) {
	return []CommitEvent{}, nil
}

func (NopRecorder) Ping(context.Context) error { return nil }

func (NopRecorder) Close() error { return nil }
