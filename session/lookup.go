package session

import (
	"context"

	"github.com/orian/rulerepo/models"
)

// Finder searches a baseline. *Session implements it.
type Finder interface {
	Find(ctx context.Context, branchID string, criteria models.SearchCriteria) ([]*models.Element, error)
}

// Status tags the outcome of a name resolution.
type Status int

const (
	NotFound Status = iota
	Found
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	}
	return "not found"
}

// Resolution is the result of resolving (kind, name) in a baseline.
type Resolution struct {
	Status Status
	Kind   models.Kind
	Name   string
	// Element is set only when Status is Found.
	Element *models.Element
	// Matches is the number of elements carrying the name.
	Matches int
}

// Resolve looks up the elements of kind named name visible from branchID.
func Resolve(ctx context.Context, f Finder, branchID string, kind models.Kind, name string) (Resolution, error) {
	matches, err := f.Find(ctx, branchID, models.ByName(kind, name))
	if err != nil {
		return Resolution{}, err
	}

	r := Resolution{Kind: kind, Name: name, Matches: len(matches)}
	switch len(matches) {
	case 0:
		r.Status = NotFound
	case 1:
		r.Status = Found
		r.Element = matches[0]
	default:
		r.Status = Ambiguous
	}
	return r, nil
}

// Require returns the resolved element, or an ApplicationError carrying
// ErrNotFound or ErrAmbiguous.
func (r Resolution) Require(op string) (*models.Element, error) {
	switch r.Status {
	case Found:
		return r.Element, nil
	case Ambiguous:
		return nil, models.NewApplicationError(op, models.ErrAmbiguous, "%d %s elements named %q", r.Matches, r.Kind, r.Name)
	}
	return nil, models.NewApplicationError(op, models.ErrNotFound, "%s %q not found", r.Kind, r.Name)
}

// FindByName returns the single element of kind named name. Zero and
// multiple matches both report false.
func FindByName(ctx context.Context, f Finder, branchID string, kind models.Kind, name string) (*models.Element, bool, error) {
	r, err := Resolve(ctx, f, branchID, kind, name)
	if err != nil {
		return nil, false, err
	}
	return r.Element, r.Status == Found, nil
}

// FirstOfKind returns the first element of kind visible from branchID, in
// commit order.
func FirstOfKind(ctx context.Context, f Finder, branchID string, kind models.Kind) (*models.Element, error) {
	matches, err := f.Find(ctx, branchID, models.SearchCriteria{Kind: kind})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, models.NewApplicationError("lookup", models.ErrNotFound, "no %s in baseline %s", kind, branchID)
	}
	return matches[0], nil
}
