package session

import (
	"context"
	"errors"
	"testing"

	"github.com/orian/rulerepo/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFinder answers every search with a fixed set of elements filtered by
// the criteria.
type fakeFinder struct {
	elements []*models.Element
	err      error
}

func (f fakeFinder) Find(_ context.Context, _ string, criteria models.SearchCriteria) ([]*models.Element, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []*models.Element{}
	for _, el := range f.elements {
		if criteria.Matches(el) {
			out = append(out, el)
		}
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	q1 := &models.Element{ID: "q1", Kind: models.KindQuery, Name: "Deployable Rules Query"}
	q2 := &models.Element{ID: "q2", Kind: models.KindQuery, Name: "Deployable Rules Query"}
	other := &models.Element{ID: "q3", Kind: models.KindQuery, Name: "Other"}

	tests := []struct {
		name        string
		elements    []*models.Element
		wantStatus  Status
		wantID      string
		wantMatches int
		wantErr     error
	}{
		{"exactly one", []*models.Element{q1, other}, Found, "q1", 1, nil},
		{"none", []*models.Element{other}, NotFound, "", 0, models.ErrNotFound},
		{"duplicates", []*models.Element{q1, q2}, Ambiguous, "", 2, models.ErrAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fakeFinder{elements: tt.elements}
			r, err := Resolve(context.Background(), f, "b1", models.KindQuery, "Deployable Rules Query")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantMatches, r.Matches)

			el, err := r.Require("lookup")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, el)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, el.ID)
			}

			// The collapsed contract: anything but one match is "not found".
			found, ok, err := FindByName(context.Background(), f, "b1", models.KindQuery, "Deployable Rules Query")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus == Found, ok)
			if ok {
				assert.Equal(t, tt.wantID, found.ID)
			} else {
				assert.Nil(t, found)
			}
		})
	}
}

func TestResolvePropagatesErrors(t *testing.T) {
	boom := &models.ConnectionError{Endpoint: "http://repo", Err: errors.New("refused")}
	_, err := Resolve(context.Background(), fakeFinder{err: boom}, "b1", models.KindQuery, "q")
	assert.True(t, models.IsConnectionError(err))

	_, _, err = FindByName(context.Background(), fakeFinder{err: boom}, "b1", models.KindQuery, "q")
	assert.True(t, models.IsConnectionError(err))
}

func TestFirstOfKind(t *testing.T) {
	flows := []*models.Element{
		{ID: "rf1", Kind: models.KindRuleflow, Name: "mainflow"},
		{ID: "rf2", Kind: models.KindRuleflow, Name: "secondary"},
	}

	el, err := FirstOfKind(context.Background(), fakeFinder{elements: flows}, "b1", models.KindRuleflow)
	require.NoError(t, err)
	assert.Equal(t, "rf1", el.ID)

	_, err = FirstOfKind(context.Background(), fakeFinder{}, "b1", models.KindRuleflow)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, models.IsApplicationError(err))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "not found", NotFound.String())
	assert.Equal(t, "ambiguous", Ambiguous.String())
}
