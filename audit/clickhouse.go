package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// TableName is the ClickHouse table holding the commit log.
const TableName = "rulerepo_commits"

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS ` + TableName + ` (
		commit_id String,
		action LowCardinality(String),
		project_id String,
		branch_id String,
		root_id String,
		root_kind LowCardinality(String),
		author String,
		added UInt32,
		modified UInt32,
		deleted UInt32,
		created_at DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (branch_id, created_at)
`

// ClickHouseConfig holds connection settings for the audit sink.
type ClickHouseConfig struct {
	Host     string
	Database string
	User     string
	Password string
	Secure   bool
}

// UseSecure reports whether TLS should be used: explicitly requested or the
// host points at the native TLS port.
func (c ClickHouseConfig) UseSecure() bool {
	return c.Secure || strings.Contains(c.Host, ":9440")
}

// Options builds clickhouse-go options for the config.
func (c ClickHouseConfig) Options() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Host},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "rulerepo", Version: "1.0"},
			},
		},
		Debug: false,
		Settings: clickhouse.Settings{
			"send_logs_level": "none",
		},
	}

	if c.UseSecure() {
		options.TLS = &tls.Config{
			InsecureSkipVerify: true,
		}
	}
	return options
}

// ClickHouseRecorder writes commit events to ClickHouse.
type ClickHouseRecorder struct {
	conn driver.Conn
}

// NewClickHouseRecorder wraps an open connection.
func NewClickHouseRecorder(conn driver.Conn) *ClickHouseRecorder {
	return &ClickHouseRecorder{conn: conn}
}

// OpenClickHouse connects to ClickHouse and ensures the commit log table
// exists.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseRecorder, error) {
	conn, err := clickhouse.Open(cfg.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ClickHouse ping failed: %w", err)
	}
	log.Println("Successfully connected to ClickHouse")

	if err := conn.Exec(ctx, createTableSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create %s: %w", TableName, err)
	}
	return NewClickHouseRecorder(conn), nil
}

func (r *ClickHouseRecorder) RecordCommit(ctx context.Context, event CommitEvent) error {
	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+TableName)
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}
	err = batch.Append(
		event.CommitID,
		event.Action,
		event.ProjectID,
		event.BranchID,
		event.RootID,
		event.RootKind,
		event.Author,
		event.Added,
		event.Modified,
		event.Deleted,
		event.CreatedAt,
	)
	if err != nil {
		batch.Abort()
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return batch.Send()
}

func (r *ClickHouseRecorder) Recent(ctx context.Context, branchID string, limit int) ([]CommitEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn.Query(ctx, `
		SELECT commit_id, action, project_id, branch_id, root_id, root_kind, author, added, modified, deleted, created_at
		FROM `+TableName+`
		WHERE branch_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, branchID, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows driver.Rows) ([]CommitEvent, error) {
	events := []CommitEvent{}
	for rows.Next() {
		var e CommitEvent
		if err := rows.Scan(&e.CommitID, &e.Action, &e.ProjectID, &e.BranchID, &e.RootID, &e.RootKind,
			&e.Author, &e.Added, &e.Modified, &e.Deleted, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *ClickHouseRecorder) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

func (r *ClickHouseRecorder) Close() error {
	return r.conn.Close()
}
