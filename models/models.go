// Package models defines the core data types for rulerepo, a branch-oriented
// rule repository whose elements are written through atomic change-set commits.
package models

import (
	"strings"
	"time"
)

// DraftPrefix marks the ID of an element that was allocated by a client
// session but never committed. The repository assigns a permanent ID on commit.
const DraftPrefix = "draft:"

// Project is a named container of rule content.
type Project struct {
	// ID is the unique identifier for this project (UUID).
	ID string `json:"id"`

	// Name is the human-readable project name (e.g., "AutoQuote").
	Name string `json:"name"`

	// CurrentBranchID points to the project's current baseline.
	CurrentBranchID string `json:"currentBranchId"`

	// CreatedAt is when this project was created.
	CreatedAt time.Time `json:"createdAt"`
}

// Branch is a revision line of a project, also called a baseline.
// Elements committed under a branch are visible to searches scoped to that
// branch and to branches derived from it.
type Branch struct {
	// ID is the unique identifier for this branch (UUID).
	ID string `json:"id"`

	// ProjectID references the owning project.
	ProjectID string `json:"projectId"`

	// Name is the human-readable branch name (e.g., "main").
	Name string `json:"name"`

	// ParentBranchID references the branch this was derived from.
	// Empty for a project's root branch.
	ParentBranchID string `json:"parentBranchId,omitempty"`

	// HeadCommitID points to the latest commit applied to this branch.
	HeadCommitID string `json:"headCommitId,omitempty"`

	// CreatedAt is when this branch was created.
	CreatedAt time.Time `json:"createdAt"`
}

// Element is the persisted form of every model element. Scalar values live
// in Fields keyed by field token; owned sub-elements are grouped by relation.
type Element struct {
	ID       string                  `json:"id"`
	Kind     Kind                    `json:"kind"`
	Name     string                  `json:"name,omitempty"`
	BranchID string                  `json:"branchId,omitempty"`
	OwnerID  string                  `json:"ownerId,omitempty"`
	Relation Relation                `json:"relation,omitempty"`
	Fields   map[Field]any           `json:"fields,omitempty"`
	Children map[Relation][]*Element `json:"children,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// ElementHandle is an opaque reference to a draft or committed element.
type ElementHandle struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Committed reports whether the handle refers to a persisted element.
func (h ElementHandle) Committed() bool {
	return h.ID != "" && !IsDraftID(h.ID)
}

// IsDraftID reports whether id was allocated locally and never committed.
func IsDraftID(id string) bool {
	return id == "" || strings.HasPrefix(id, DraftPrefix)
}

// Handle returns a handle for the element.
func (e *Element) Handle() ElementHandle {
	return ElementHandle{ID: e.ID, Kind: e.Kind}
}

// Set assigns a scalar field value.
func (e *Element) Set(field Field, value any) {
	if e.Fields == nil {
		e.Fields = make(map[Field]any)
	}
	e.Fields[field] = value
}

// SetRef stores a reference to another element by its handle ID.
func (e *Element) SetRef(field Field, h ElementHandle) {
	e.Set(field, h.ID)
}

// String returns a string field or "" when absent.
func (e *Element) String(field Field) string {
	s, _ := e.Fields[field].(string)
	return s
}

// Bool returns a boolean field or false when absent.
func (e *Element) Bool(field Field) bool {
	b, _ := e.Fields[field].(bool)
	return b
}

// Ref returns the ID stored in a reference field.
func (e *Element) Ref(field Field) string {
	return e.String(field)
}

// ChildrenOf returns the owned elements under a relation, in commit order.
func (e *Element) ChildrenOf(rel Relation) []*Element {
	return e.Children[rel]
}

// Child returns the first owned element under rel with the given name.
func (e *Element) Child(rel Relation, name string) (*Element, bool) {
	for _, c := range e.Children[rel] {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// FieldFilter restricts a search to elements whose field equals Value.
// FieldName filters on the element name.
type FieldFilter struct {
	Field Field  `json:"field"`
	Value string `json:"value"`
}

// SearchCriteria selects elements of one kind, optionally filtered by
// attribute values. The baseline scope is passed alongside the criteria.
type SearchCriteria struct {
	Kind    Kind          `json:"kind"`
	Filters []FieldFilter `json:"filters,omitempty"`
}

// ByName builds criteria matching elements of kind with the given name.
func ByName(kind Kind, name string) SearchCriteria {
	return SearchCriteria{
		Kind:    kind,
		Filters: []FieldFilter{{Field: FieldName, Value: name}},
	}
}

// Matches reports whether el satisfies every filter of the criteria.
func (c SearchCriteria) Matches(el *Element) bool {
	if el.Kind != c.Kind {
		return false
	}
	for _, f := range c.Filters {
		if f.Field == FieldName {
			if el.Name != f.Value {
				return false
			}
			continue
		}
		if fieldString(el.Fields[f.Field]) != f.Value {
			return false
		}
	}
	return true
}

func fieldString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return ""
}

// Commit is one atomic write applied to a branch, similar to a git commit.
type Commit struct {
	// ID is the unique identifier for this commit (UUID).
	ID string `json:"id"`

	// BranchID references the baseline the commit was applied to.
	BranchID string `json:"branchId"`

	// RootID is the element whose commit produced this entry.
	RootID string `json:"rootId"`

	// RootKind is the kind of the root element.
	RootKind Kind `json:"rootKind"`

	// Author is the session user that submitted the commit.
	Author string `json:"author"`

	// Added, Modified and Deleted count the change-set entries applied.
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`

	// CreatedAt is when the commit was applied.
	CreatedAt time.Time `json:"createdAt"`
}
