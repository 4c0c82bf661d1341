// Package storage implements models.Storage on database/sql. DuckDB is the
// default engine; SQLite and Postgres are selected by the datastore identifier.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orian/rulerepo/models"
)

// Compile-time assertion that SQLStorage satisfies the repository contract.
var _ models.Storage = (*SQLStorage)(nil)

// MainBranch is the name of the branch every project starts with.
const MainBranch = "main"

const elementColumns = `id, kind, name, branch_id, COALESCE(owner_id, ''), COALESCE(relation, ''), fields, created_at`

type SQLStorage struct {
	db      *sql.DB
	dialect dialect

	// mu serializes writers; DuckDB and SQLite allow a single writer.
	mu sync.Mutex
}

// Open connects to the datastore, applies pending migrations and returns the
// storage. See parseDatastore for the accepted identifiers.
func Open(datastore string) (*SQLStorage, error) {
	d, dsn, err := parseDatastore(datastore)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.driver, err)
	}
	if d == sqliteDialect {
		// In-memory SQLite databases are private to one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", d.driver, err)
	}

	// Run migrations
	if err := RunMigrations(db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStorage{db: db, dialect: d}, nil
}

func (s *SQLStorage) conn() conn {
	return conn{q: s.db, dialect: s.dialect}
}

func (s *SQLStorage) CreateProject(name string) (*models.Project, error) {
	return s.CreateProjectWith(name, "")
}

// CreateProjectWith creates a project and commits each change set on its
// main branch, all in one transaction. When any change set fails nothing is
// written, not even the project.
func (s *SQLStorage) CreateProjectWith(name, author string, changes ...*models.ChangeSet) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.NewApplicationError("create project", models.ErrValidation, "project name is required")
	}
	for _, cs := range changes {
		if err := cs.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlTx.Rollback()
	tx := conn{q: sqlTx, dialect: s.dialect}

	now := time.Now()
	project := &models.Project{
		ID:        generateID(),
		Name:      name,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}

	branch, err := insertBranch(tx, project.ID, MainBranch, "", now)
	if err != nil {
		return nil, err
	}
	project.CurrentBranchID = branch.ID

	_, err = tx.Exec(
		"INSERT INTO projects (id, name, current_branch_id, created_at) VALUES (?, ?, ?, ?)",
		project.ID, project.Name, project.CurrentBranchID, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}

	for _, cs := range changes {
		if _, err := applyChangeSet(tx, branch.ID, author, cs); err != nil {
			return nil, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return project, nil
}

// insertBranch creates a branch row and the branch's ProjectInfo element.
func insertBranch(c conn, projectID, name, parentBranchID string, now time.Time) (*models.Branch, error) {
	branch := &models.Branch{
		ID:             generateID(),
		ProjectID:      projectID,
		Name:           name,
		ParentBranchID: parentBranchID,
		CreatedAt:      time.UnixMilli(now.UnixMilli()),
	}

	_, err := c.Exec(
		"INSERT INTO branches (id, project_id, name, parent_branch_id, head_commit_id, created_at) VALUES (?, ?, ?, ?, NULL, ?)",
		branch.ID, branch.ProjectID, branch.Name, nullString(branch.ParentBranchID), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert branch: %w", err)
	}

	info := &models.Element{Kind: models.KindProjectInfo}
	if err := insertElement(c, generateID(), info, branch.ID, "", "", 0, now); err != nil {
		return nil, fmt.Errorf("failed to create project info: %w", err)
	}
	return branch, nil
}

func (s *SQLStorage) GetProjects() ([]*models.Project, error) {
	rows, err := s.conn().Query(`
		SELECT id, name, COALESCE(current_branch_id, ''), created_at
		FROM projects
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

func (s *SQLStorage) GetProjectByName(name string) (*models.Project, bool) {
	row := s.conn().QueryRow(`
		SELECT id, name, COALESCE(current_branch_id, ''), created_at
		FROM projects
		WHERE name = ?
		ORDER BY created_at
		LIMIT 1
	`, name)

	p, err := scanProject(row)
	if err != nil {
		return nil, false
	}
	return p, true
}

func (s *SQLStorage) CreateBranch(projectID, name, parentBranchID string) (*models.Branch, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.NewApplicationError("create branch", models.ErrValidation, "branch name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlTx.Rollback()
	tx := conn{q: sqlTx, dialect: s.dialect}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM projects WHERE id = ?", projectID).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, models.NewApplicationError("create branch", models.ErrNotFound, "project %s not found", projectID)
	}

	if parentBranchID != "" {
		parent, ok := getBranch(tx, parentBranchID)
		if !ok {
			return nil, models.NewApplicationError("create branch", models.ErrNotFound, "parent branch %s not found", parentBranchID)
		}
		if parent.ProjectID != projectID {
			return nil, models.NewApplicationError("create branch", models.ErrValidation, "parent branch %s belongs to another project", parentBranchID)
		}
	}

	branch, err := insertBranch(tx, projectID, name, parentBranchID, time.Now())
	if err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *SQLStorage) GetBranch(id string) (*models.Branch, bool) {
	return getBranch(s.conn(), id)
}

func getBranch(c conn, id string) (*models.Branch, bool) {
	var b models.Branch
	var createdAt int64
	err := c.QueryRow(
		"SELECT id, project_id, name, COALESCE(parent_branch_id, ''), COALESCE(head_commit_id, ''), created_at FROM branches WHERE id = ?",
		id,
	).Scan(&b.ID, &b.ProjectID, &b.Name, &b.ParentBranchID, &b.HeadCommitID, &createdAt)

	if err != nil {
		return nil, false
	}

	b.CreatedAt = time.UnixMilli(createdAt)
	return &b, true
}

// branchScope returns the branch and its ancestors, nearest first.
func branchScope(c conn, branchID string) ([]string, error) {
	if branchID == "" {
		return nil, models.NewApplicationError("find", models.ErrNotFound, "no baseline given")
	}
	var scope []string
	seen := make(map[string]bool)
	for id := branchID; id != ""; {
		if seen[id] {
			return nil, fmt.Errorf("branch %s has a cyclic ancestry", branchID)
		}
		seen[id] = true

		b, ok := getBranch(c, id)
		if !ok {
			return nil, models.NewApplicationError("find", models.ErrNotFound, "branch %s not found", id)
		}
		scope = append(scope, b.ID)
		id = b.ParentBranchID
	}
	return scope, nil
}

func (s *SQLStorage) GetElement(id string) (*models.Element, bool) {
	c := s.conn()
	el, ok, err := getElementRow(c, id)
	if err != nil || !ok {
		return nil, false
	}
	if err := loadChildren(c, el); err != nil {
		return nil, false
	}
	return el, true
}

func (s *SQLStorage) GetProjectInfo(branchID string) (*models.Element, error) {
	c := s.conn()
	row := c.QueryRow(
		"SELECT "+elementColumns+" FROM elements WHERE branch_id = ? AND kind = ?",
		branchID, string(models.KindProjectInfo),
	)
	el, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewApplicationError("project info", models.ErrNotFound, "branch %s has no project info", branchID)
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(c, el); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *SQLStorage) FindElements(branchID string, criteria models.SearchCriteria) ([]*models.Element, error) {
	c := s.conn()
	scope, err := branchScope(c, branchID)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + elementColumns + " FROM elements WHERE kind = ? AND branch_id IN (" + placeholders(len(scope)) + ")"
	args := []any{string(criteria.Kind)}
	for _, id := range scope {
		args = append(args, id)
	}
	for _, f := range criteria.Filters {
		if f.Field == models.FieldName {
			query += " AND name = ?"
			args = append(args, f.Value)
		}
	}
	query += " ORDER BY seq, created_at, id"

	rows, err := c.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var candidates []*models.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		candidates = append(candidates, el)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Children are loaded after the cursor is closed; SQLite runs on a
	// single connection.
	matches := []*models.Element{}
	for _, el := range candidates {
		if !criteria.Matches(el) {
			continue
		}
		if err := loadChildren(c, el); err != nil {
			return nil, err
		}
		matches = append(matches, el)
	}
	return matches, nil
}

func (s *SQLStorage) GetBranchHistory(branchID string) ([]*models.Commit, error) {
	rows, err := s.conn().Query(`
		SELECT id, branch_id, root_id, root_kind, author, added, modified, deleted, created_at
		FROM commits
		WHERE branch_id = ?
		ORDER BY seq DESC, created_at DESC, id
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var commits []*models.Commit
	for rows.Next() {
		var cm models.Commit
		var rootKind string
		var createdAt int64
		if err := rows.Scan(&cm.ID, &cm.BranchID, &cm.RootID, &rootKind, &cm.Author, &cm.Added, &cm.Modified, &cm.Deleted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		cm.RootKind = models.Kind(rootKind)
		cm.CreatedAt = time.UnixMilli(createdAt)
		commits = append(commits, &cm)
	}

	return commits, rows.Err()
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*models.Project, error) {
	var p models.Project
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.CurrentBranchID, &createdAt); err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	return &p, nil
}

func scanElement(row scanner) (*models.Element, error) {
	var el models.Element
	var kind, relation, fieldsJSON string
	var createdAt int64
	if err := row.Scan(&el.ID, &kind, &el.Name, &el.BranchID, &el.OwnerID, &relation, &fieldsJSON, &createdAt); err != nil {
		return nil, err
	}
	el.Kind = models.Kind(kind)
	el.Relation = models.Relation(relation)
	el.CreatedAt = time.UnixMilli(createdAt)

	if fieldsJSON != "" && fieldsJSON != "{}" {
		if err := json.Unmarshal([]byte(fieldsJSON), &el.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields of element %s: %w", el.ID, err)
		}
	}
	return &el, nil
}

func getElementRow(c conn, id string) (*models.Element, bool, error) {
	el, err := scanElement(c.QueryRow("SELECT "+elementColumns+" FROM elements WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return el, true, nil
}

// loadChildren attaches owned sub-elements to el, recursively.
func loadChildren(c conn, el *models.Element) error {
	rows, err := c.Query(
		"SELECT "+elementColumns+" FROM elements WHERE owner_id = ? ORDER BY relation, ordinal",
		el.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query children of %s: %w", el.ID, err)
	}

	var children []*models.Element
	for rows.Next() {
		child, err := scanElement(rows)
		if err != nil {
			rows.Close()
			return err
		}
		children = append(children, child)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, child := range children {
		if err := loadChildren(c, child); err != nil {
			return err
		}
		if el.Children == nil {
			el.Children = make(map[models.Relation][]*models.Element)
		}
		el.Children[child.Relation] = append(el.Children[child.Relation], child)
	}
	return nil
}

func insertElement(c conn, id string, el *models.Element, branchID, ownerID string, rel models.Relation, ordinal int, now time.Time) error {
	fieldsJSON, err := marshalFields(el.Fields)
	if err != nil {
		return err
	}
	seq, err := nextSeq(c, "elements")
	if err != nil {
		return err
	}
	_, err = c.Exec(
		`INSERT INTO elements (id, kind, name, branch_id, owner_id, relation, ordinal, fields, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(el.Kind), el.Name, branchID, nullString(ownerID), nullString(string(rel)), ordinal, fieldsJSON, now.UnixMilli(), seq,
	)
	return err
}

// nextSeq returns the write sequence for the next row of table. Callers hold
// the writer lock, so values grow strictly in insertion order.
func nextSeq(c conn, table string) (int64, error) {
	var seq int64
	if err := c.QueryRow("SELECT COALESCE(MAX(seq), 0) + 1 FROM " + table).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate %s sequence: %w", table, err)
	}
	return seq, nil
}

func marshalFields(fields map[models.Field]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Helper functions
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func generateID() string {
	return uuid.New().String()
}
