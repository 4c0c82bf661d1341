package models

import (
	"fmt"
	"slices"
)

// Entry is one staged sub-element tagged with the relation it belongs to.
type Entry struct {
	Relation Relation `json:"relation"`
	Element  *Element `json:"element"`
}

// ChangeSet stages the mutations submitted by one commit: a root element plus
// ordered added, modified and deleted sub-elements. Building a change set
// never touches the repository; the whole set is applied or rejected as a unit.
type ChangeSet struct {
	Root     *Element `json:"root"`
	Added    []Entry  `json:"added,omitempty"`
	Modified []Entry  `json:"modified,omitempty"`
	Deleted  []Entry  `json:"deleted,omitempty"`
}

// NewChangeSet starts a change set rooted at root.
func NewChangeSet(root *Element) *ChangeSet {
	return &ChangeSet{Root: root}
}

// Add stages a new sub-element under rel.
func (cs *ChangeSet) Add(rel Relation, el *Element) *ChangeSet {
	cs.Added = append(cs.Added, Entry{Relation: rel, Element: el})
	return cs
}

// Modify stages a sub-element under rel for upsert.
func (cs *ChangeSet) Modify(rel Relation, el *Element) *ChangeSet {
	cs.Modified = append(cs.Modified, Entry{Relation: rel, Element: el})
	return cs
}

// Delete stages the removal of an existing sub-element under rel.
func (cs *ChangeSet) Delete(rel Relation, el *Element) *ChangeSet {
	cs.Deleted = append(cs.Deleted, Entry{Relation: rel, Element: el})
	return cs
}

// Len returns the number of staged sub-element entries.
func (cs *ChangeSet) Len() int {
	return len(cs.Added) + len(cs.Modified) + len(cs.Deleted)
}

// Validate checks the change set against the kind catalog. It covers the
// structural rules that need no repository state; reference targets are
// checked when the change set is applied.
func (cs *ChangeSet) Validate() error {
	if cs == nil || cs.Root == nil {
		return NewApplicationError("commit", ErrValidation, "change set has no root element")
	}
	rootSpec, ok := LookupKind(cs.Root.Kind)
	if !ok {
		return NewApplicationError("commit", ErrValidation, "unknown kind %q", cs.Root.Kind)
	}
	if rootSpec.System && IsDraftID(cs.Root.ID) {
		return NewApplicationError("commit", ErrValidation, "%s elements are created by the repository", cs.Root.Kind)
	}
	if err := ValidateElement(cs.Root); err != nil {
		return err
	}

	staged := slices.Concat(cs.Added, cs.Modified)
	for _, entry := range staged {
		if err := validateEntry(rootSpec, entry); err != nil {
			return err
		}
		if err := ValidateElement(entry.Element); err != nil {
			return err
		}
	}
	for _, entry := range cs.Deleted {
		if err := validateEntry(rootSpec, entry); err != nil {
			return err
		}
		if IsDraftID(entry.Element.ID) {
			return NewApplicationError("commit", ErrNotFound, "cannot delete uncommitted %s %q", entry.Element.Kind, entry.Element.Name)
		}
	}
	return nil
}

func validateEntry(root KindSpec, entry Entry) error {
	if entry.Element == nil {
		return NewApplicationError("commit", ErrValidation, "%s entry has no element", entry.Relation)
	}
	childKind, ok := root.Owns(entry.Relation)
	if !ok {
		return NewApplicationError("commit", ErrValidation, "%s does not own relation %s", root.Kind, entry.Relation)
	}
	if entry.Element.Kind != childKind {
		return NewApplicationError("commit", ErrValidation, "relation %s holds %s, got %s", entry.Relation, childKind, entry.Element.Kind)
	}
	return nil
}

// ValidateElement checks an element's name and scalar fields against its
// kind: required fields present, values of the declared type, enum members.
func ValidateElement(el *Element) error {
	spec, ok := LookupKind(el.Kind)
	if !ok {
		return NewApplicationError("commit", ErrValidation, "unknown kind %q", el.Kind)
	}
	if spec.Named && el.Name == "" {
		return NewApplicationError("commit", ErrValidation, "%s requires a name", el.Kind)
	}
	for field := range el.Fields {
		if _, ok := spec.Fields[field]; !ok {
			return NewApplicationError("commit", ErrValidation, "%s has no field %s", el.Kind, field)
		}
	}
	for field, fs := range spec.Fields {
		value, present := el.Fields[field]
		if !present || value == nil {
			if fs.Required {
				return NewApplicationError("commit", ErrValidation, "%s %q: missing required field %s", el.Kind, el.Name, field)
			}
			continue
		}
		if err := checkFieldValue(el, field, fs, value); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldValue(el *Element, field Field, fs FieldSpec, value any) error {
	switch fs.Type {
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return NewApplicationError("commit", ErrValidation, "%s %q: field %s must be a boolean", el.Kind, el.Name, field)
		}
		return nil
	}

	s, ok := value.(string)
	if !ok {
		return NewApplicationError("commit", ErrValidation, "%s %q: field %s must be a string", el.Kind, el.Name, field)
	}
	if fs.Required && s == "" {
		return NewApplicationError("commit", ErrValidation, "%s %q: missing required field %s", el.Kind, el.Name, field)
	}
	if len(fs.Enum) > 0 && !slices.Contains(fs.Enum, s) {
		return NewApplicationError("commit", ErrValidation, "%s %q: field %s must be one of %v, got %q", el.Kind, el.Name, field, fs.Enum, s)
	}
	return nil
}

// String summarizes the change set for logs.
func (cs *ChangeSet) String() string {
	if cs == nil || cs.Root == nil {
		return "<empty change set>"
	}
	return fmt.Sprintf("%s %q (+%d ~%d -%d)", cs.Root.Kind, cs.Root.Name, len(cs.Added), len(cs.Modified), len(cs.Deleted))
}
