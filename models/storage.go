package models

// Storage defines the persistence layer of the rule repository.
//
// It provides methods for managing projects, branches, elements and the
// commit log. The primary implementation is storage.SQLStorage which runs on
// DuckDB, SQLite or Postgres.
//
// The interface is organized into three categories:
//   - Project and branch management: CreateProject, GetProjects, GetProjectByName,
//     CreateBranch, GetBranch
//   - Element access: GetElement, GetProjectInfo, FindElements
//   - Writes: Commit, DeleteElement, GetBranchHistory
//
// Thread Safety: Implementations should be safe for concurrent use.
type Storage interface {
	// CreateProject creates a project with a "main" branch as its current
	// baseline, and the branch's ProjectInfo metadata element.
	CreateProject(name string) (*Project, error)

	// GetProjects returns all projects ordered by name.
	GetProjects() ([]*Project, error)

	// GetProjectByName retrieves a project by its name.
	//
	// Returns the project and true if found, nil and false otherwise.
	GetProjectByName(name string) (*Project, bool)

	// CreateBranch derives a new branch in a project.
	//
	// Parameters:
	//   - projectID: ID of the owning project
	//   - name: Human-readable branch name
	//   - parentBranchID: ID of the parent branch (empty for a root branch)
	CreateBranch(projectID, name, parentBranchID string) (*Branch, error)

	// GetBranch retrieves a branch by its ID.
	//
	// Returns the branch and true if found, nil and false otherwise.
	GetBranch(id string) (*Branch, bool)

	// GetElement retrieves a committed element by ID, with its owned
	// sub-elements grouped by relation.
	GetElement(id string) (*Element, bool)

	// GetProjectInfo returns the metadata container of a branch.
	GetProjectInfo(branchID string) (*Element, error)

	// FindElements returns the elements matching criteria that are visible
	// from the branch: those committed on it or on one of its ancestors.
	// The result may be empty.
	FindElements(branchID string, criteria SearchCriteria) ([]*Element, error)

	// Commit atomically applies a change set against a branch and returns
	// the commit record, whose RootID identifies the committed root.
	// On failure nothing is persisted.
	Commit(branchID, author string, cs *ChangeSet) (*Commit, error)

	// DeleteElement removes an element and the sub-elements it owns.
	// branchID must be the element's owning branch.
	DeleteElement(branchID, elementID, author string) (*Commit, error)

	// GetBranchHistory returns the commits applied to a branch, newest first.
	GetBranchHistory(branchID string) ([]*Commit, error)

	// Close releases any resources held by the storage.
	Close() error
}
