package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orian/rulerepo/models"
)

// commitTx applies one change set inside a SQL transaction.
type commitTx struct {
	c        conn
	branchID string
	now      time.Time
}

// Commit validates the change set and applies it in one transaction. The
// root is inserted when it carries a draft ID and updated otherwise; added
// and modified entries are upserted under the root; deleted entries are
// removed with everything they own.
func (s *SQLStorage) Commit(branchID, author string, cs *models.ChangeSet) (*models.Commit, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlTx.Rollback()

	commit, err := applyChangeSet(conn{q: sqlTx, dialect: s.dialect}, branchID, author, cs)
	if err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return commit, nil
}

// applyChangeSet writes a validated change set inside an open transaction
// and records the commit.
func applyChangeSet(c conn, branchID, author string, cs *models.ChangeSet) (*models.Commit, error) {
	tx := &commitTx{
		c:        c,
		branchID: branchID,
		now:      time.Now(),
	}

	if _, ok := getBranch(tx.c, branchID); !ok {
		return nil, models.NewApplicationError("commit", models.ErrNotFound, "branch %s not found", branchID)
	}

	rootID, err := tx.applyRoot(cs.Root)
	if err != nil {
		return nil, err
	}
	for _, entry := range cs.Added {
		if err := tx.upsertChild(rootID, entry); err != nil {
			return nil, err
		}
	}
	for _, entry := range cs.Modified {
		if err := tx.upsertChild(rootID, entry); err != nil {
			return nil, err
		}
	}
	for _, entry := range cs.Deleted {
		if err := tx.deleteChild(rootID, entry); err != nil {
			return nil, err
		}
	}

	commit := &models.Commit{
		ID:        generateID(),
		BranchID:  branchID,
		RootID:    rootID,
		RootKind:  cs.Root.Kind,
		Author:    author,
		Added:     len(cs.Added),
		Modified:  len(cs.Modified),
		Deleted:   len(cs.Deleted),
		CreatedAt: time.UnixMilli(tx.now.UnixMilli()),
	}
	if err := recordCommit(tx.c, commit); err != nil {
		return nil, err
	}
	return commit, nil
}

// DeleteElement removes an element owned by branchID, along with its
// sub-elements, and records the removal in the branch history.
func (s *SQLStorage) DeleteElement(branchID, elementID, author string) (*models.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlTx.Rollback()
	c := conn{q: sqlTx, dialect: s.dialect}

	if _, ok := getBranch(c, branchID); !ok {
		return nil, models.NewApplicationError("delete", models.ErrNotFound, "branch %s not found", branchID)
	}

	el, ok, err := getElementRow(c, elementID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewApplicationError("delete", models.ErrNotFound, "element %s not found", elementID)
	}
	if el.BranchID != branchID {
		return nil, models.NewApplicationError("delete", models.ErrWrongBaseline,
			"%s %q belongs to branch %s, not %s", el.Kind, el.Name, el.BranchID, branchID)
	}
	if spec, _ := models.LookupKind(el.Kind); spec.System {
		return nil, models.NewApplicationError("delete", models.ErrValidation, "%s elements cannot be deleted", el.Kind)
	}

	n, err := deleteSubtree(c, elementID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	commit := &models.Commit{
		ID:        generateID(),
		BranchID:  branchID,
		RootID:    elementID,
		RootKind:  el.Kind,
		Author:    author,
		Deleted:   n,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
	}
	if err := recordCommit(c, commit); err != nil {
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return commit, nil
}

func (tx *commitTx) applyRoot(root *models.Element) (string, error) {
	if err := tx.checkReferences(root); err != nil {
		return "", err
	}

	if models.IsDraftID(root.ID) {
		id := generateID()
		if err := insertElement(tx.c, id, root, tx.branchID, "", "", 0, tx.now); err != nil {
			return "", fmt.Errorf("failed to insert %s: %w", root.Kind, err)
		}
		return id, nil
	}

	existing, err := tx.existing(root)
	if err != nil {
		return "", err
	}
	if existing.OwnerID != "" {
		return "", models.NewApplicationError("commit", models.ErrValidation,
			"%s %q is owned by %s and cannot be committed as a root", existing.Kind, existing.Name, existing.OwnerID)
	}
	if err := tx.update(root); err != nil {
		return "", err
	}
	return root.ID, nil
}

func (tx *commitTx) upsertChild(rootID string, entry models.Entry) error {
	el := entry.Element
	if err := tx.checkReferences(el); err != nil {
		return err
	}

	if models.IsDraftID(el.ID) {
		ordinal, err := tx.nextOrdinal(rootID, entry.Relation)
		if err != nil {
			return err
		}
		if err := insertElement(tx.c, generateID(), el, tx.branchID, rootID, entry.Relation, ordinal, tx.now); err != nil {
			return fmt.Errorf("failed to insert %s: %w", el.Kind, err)
		}
		return nil
	}

	existing, err := tx.existing(el)
	if err != nil {
		return err
	}
	if existing.OwnerID != rootID || existing.Relation != entry.Relation {
		return models.NewApplicationError("commit", models.ErrValidation,
			"%s %q is not part of %s on this root", el.Kind, el.Name, entry.Relation)
	}
	return tx.update(el)
}

func (tx *commitTx) deleteChild(rootID string, entry models.Entry) error {
	existing, ok, err := getElementRow(tx.c, entry.Element.ID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewApplicationError("commit", models.ErrNotFound, "%s %s not found", entry.Element.Kind, entry.Element.ID)
	}
	if existing.OwnerID != rootID || existing.Relation != entry.Relation {
		return models.NewApplicationError("commit", models.ErrValidation,
			"%s %q is not part of %s on this root", existing.Kind, existing.Name, entry.Relation)
	}
	_, err = deleteSubtree(tx.c, existing.ID)
	return err
}

// existing loads the stored row behind a non-draft element and checks it
// matches the staged kind and the commit baseline.
func (tx *commitTx) existing(el *models.Element) (*models.Element, error) {
	stored, ok, err := getElementRow(tx.c, el.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewApplicationError("commit", models.ErrNotFound, "%s %s not found", el.Kind, el.ID)
	}
	if stored.Kind != el.Kind {
		return nil, models.NewApplicationError("commit", models.ErrValidation, "element %s is a %s, not a %s", el.ID, stored.Kind, el.Kind)
	}
	if stored.BranchID != tx.branchID {
		return nil, models.NewApplicationError("commit", models.ErrWrongBaseline,
			"%s %q belongs to branch %s, not %s", stored.Kind, stored.Name, stored.BranchID, tx.branchID)
	}
	return stored, nil
}

func (tx *commitTx) update(el *models.Element) error {
	fieldsJSON, err := marshalFields(el.Fields)
	if err != nil {
		return err
	}
	_, err = tx.c.Exec("UPDATE elements SET name = ?, fields = ? WHERE id = ?", el.Name, fieldsJSON, el.ID)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", el.Kind, el.ID, err)
	}
	return nil
}

func (tx *commitTx) nextOrdinal(ownerID string, rel models.Relation) (int, error) {
	var next int
	err := tx.c.QueryRow(
		"SELECT COALESCE(MAX(ordinal), -1) + 1 FROM elements WHERE owner_id = ? AND relation = ?",
		ownerID, string(rel),
	).Scan(&next)
	return next, err
}

// checkReferences verifies that every reference field of el points at a
// committed element (of the declared kind) or an existing project.
func (tx *commitTx) checkReferences(el *models.Element) error {
	spec, _ := models.LookupKind(el.Kind)
	for field, fs := range spec.Fields {
		if fs.Type != models.FieldRef && fs.Type != models.FieldProjectRef {
			continue
		}
		id := el.Ref(field)
		if id == "" {
			continue
		}
		if models.IsDraftID(id) {
			return models.NewApplicationError("commit", models.ErrDanglingReference,
				"%s %q: %s references an uncommitted element", el.Kind, el.Name, field)
		}

		if fs.Type == models.FieldProjectRef {
			var count int
			if err := tx.c.QueryRow("SELECT COUNT(*) FROM projects WHERE id = ?", id).Scan(&count); err != nil {
				return err
			}
			if count == 0 {
				return models.NewApplicationError("commit", models.ErrDanglingReference,
					"%s %q: %s references missing project %s", el.Kind, el.Name, field, id)
			}
			continue
		}

		var kind string
		err := tx.c.QueryRow("SELECT kind FROM elements WHERE id = ?", id).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewApplicationError("commit", models.ErrDanglingReference,
				"%s %q: %s references missing element %s", el.Kind, el.Name, field, id)
		}
		if err != nil {
			return err
		}
		if fs.RefKind != "" && models.Kind(kind) != fs.RefKind {
			return models.NewApplicationError("commit", models.ErrValidation,
				"%s %q: %s must reference a %s, got %s", el.Kind, el.Name, field, fs.RefKind, kind)
		}
	}
	return nil
}

// deleteSubtree removes an element and every element it transitively owns.
// It returns the number of removed rows.
func deleteSubtree(c conn, id string) (int, error) {
	ids := []string{id}
	for i := 0; i < len(ids); i++ {
		rows, err := c.Query("SELECT id FROM elements WHERE owner_id = ?", ids[i])
		if err != nil {
			return 0, err
		}
		for rows.Next() {
			var child string
			if err := rows.Scan(&child); err != nil {
				rows.Close()
				return 0, err
			}
			ids = append(ids, child)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, err
		}
	}

	for _, elementID := range ids {
		if _, err := c.Exec("DELETE FROM elements WHERE id = ?", elementID); err != nil {
			return 0, fmt.Errorf("failed to delete element %s: %w", elementID, err)
		}
	}
	return len(ids), nil
}

func recordCommit(c conn, commit *models.Commit) error {
	seq, err := nextSeq(c, "commits")
	if err != nil {
		return err
	}
	_, err = c.Exec(
		`INSERT INTO commits (id, branch_id, root_id, root_kind, author, added, modified, deleted, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		commit.ID, commit.BranchID, commit.RootID, string(commit.RootKind), commit.Author,
		commit.Added, commit.Modified, commit.Deleted, commit.CreatedAt.UnixMilli(), seq,
	)
	if err != nil {
		return fmt.Errorf("failed to record commit: %w", err)
	}

	// Move the branch head
	_, err = c.Exec("UPDATE branches SET head_commit_id = ? WHERE id = ?", commit.ID, commit.BranchID)
	return err
}
