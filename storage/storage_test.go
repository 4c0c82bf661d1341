package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/orian/rulerepo/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLStorage {
	t.Helper()
	s, err := Open("sqlite::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newVariableSet(name string, vars ...string) *models.ChangeSet {
	cs := models.NewChangeSet(&models.Element{Kind: models.KindVariableSet, Name: name})
	for _, v := range vars {
		el := &models.Element{Kind: models.KindVariable, Name: v}
		el.Set(models.FieldVariableType, "java.lang.String")
		cs.Add(models.RelVariableSetVariables, el)
	}
	return cs
}

func newQuery(name string) *models.ChangeSet {
	q := &models.Element{Kind: models.KindQuery, Name: name}
	q.Set(models.FieldQueryDefinition, "Find all business rules")
	return models.NewChangeSet(q)
}

func TestParseDatastore(t *testing.T) {
	tests := []struct {
		name      string
		datastore string
		want      dialect
		wantDSN   string
		wantErr   bool
	}{
		{"duckdb file", "duckdb:./rulerepo.db", duckdbDialect, "./rulerepo.db", false},
		{"duckdb in memory", "duckdb:", duckdbDialect, "", false},
		{"sqlite memory", "sqlite::memory:", sqliteDialect, ":memory:", false},
		{"postgres", "postgres://u:p@localhost/repo", postgresDialect, "postgres://u:p@localhost/repo", false},
		{"postgresql", "postgresql://localhost/repo", postgresDialect, "postgresql://localhost/repo", false},
		{"unknown", "mysql://localhost", dialect{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, dsn, err := parseDatastore(tt.datastore)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect
		query   string
		want    string
	}{
		{"question marks kept", sqliteDialect, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{"numbered", postgresDialect, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"no placeholders", postgresDialect, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.rebind(tt.query))
		})
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, RunMigrations(s.db, s.dialect))

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, len(GetMigrations()), version)
}

func TestProjectsAndBranches(t *testing.T) {
	s := newTestStorage(t)

	p, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)
	assert.NotEmpty(t, p.CurrentBranchID)

	got, ok := s.GetProjectByName("AutoQuote")
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	_, ok = s.GetProjectByName("Missing")
	assert.False(t, ok)

	main, ok := s.GetBranch(p.CurrentBranchID)
	require.True(t, ok)
	assert.Equal(t, MainBranch, main.Name)
	assert.Empty(t, main.ParentBranchID)

	child, err := s.CreateBranch(p.ID, "feature", main.ID)
	require.NoError(t, err)
	assert.Equal(t, main.ID, child.ParentBranchID)

	info, err := s.GetProjectInfo(child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KindProjectInfo, info.Kind)

	_, err = s.CreateBranch("nope", "feature", "")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = s.CreateProject("  ")
	assert.True(t, errors.Is(err, models.ErrValidation))

	projects, err := s.GetProjects()
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestFindVisibility(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)
	main := p.CurrentBranchID

	feature, err := s.CreateBranch(p.ID, "feature", main)
	require.NoError(t, err)
	sibling, err := s.CreateBranch(p.ID, "sibling", main)
	require.NoError(t, err)

	_, err = s.Commit(main, "tester", newVariableSet("OnMain", "a"))
	require.NoError(t, err)
	_, err = s.Commit(feature.ID, "tester", newVariableSet("OnFeature", "b"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		branch string
		set    string
		want   int
	}{
		{"own branch", main, "OnMain", 1},
		{"ancestor visible from child", feature.ID, "OnMain", 1},
		{"child invisible from parent", main, "OnFeature", 0},
		{"sibling invisible", sibling.ID, "OnFeature", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := s.FindElements(tt.branch, models.ByName(models.KindVariableSet, tt.set))
			require.NoError(t, err)
			assert.Len(t, found, tt.want)
		})
	}

	_, err = s.FindElements("missing", models.ByName(models.KindVariableSet, "OnMain"))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCommitCreatesRootAndChildren(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)

	commit, err := s.Commit(p.CurrentBranchID, "tester", newVariableSet("MyVarSet", "var1", "var2"))
	require.NoError(t, err)
	assert.Equal(t, 2, commit.Added)
	assert.Equal(t, models.KindVariableSet, commit.RootKind)

	vs, ok := s.GetElement(commit.RootID)
	require.True(t, ok)
	assert.Equal(t, "MyVarSet", vs.Name)
	vars := vs.ChildrenOf(models.RelVariableSetVariables)
	require.Len(t, vars, 2)
	assert.Equal(t, "var1", vars[0].Name)
	assert.Equal(t, "var2", vars[1].Name)
	assert.Equal(t, "java.lang.String", vars[0].String(models.FieldVariableType))

	branch, ok := s.GetBranch(p.CurrentBranchID)
	require.True(t, ok)
	assert.Equal(t, commit.ID, branch.HeadCommitID)
}

func TestCommitModifiesExistingRoot(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)
	branch := p.CurrentBranchID

	first, err := s.Commit(branch, "tester", newVariableSet("MyVarSet", "var1"))
	require.NoError(t, err)
	vs, ok := s.GetElement(first.RootID)
	require.True(t, ok)

	v1 := vs.ChildrenOf(models.RelVariableSetVariables)[0]
	v1.Set(models.FieldVariableType, "int")
	added := &models.Element{Kind: models.KindVariable, Name: "var2"}
	added.Set(models.FieldVariableType, "boolean")

	root := &models.Element{ID: vs.ID, Kind: vs.Kind, Name: vs.Name}
	cs := models.NewChangeSet(root).
		Modify(models.RelVariableSetVariables, v1).
		Add(models.RelVariableSetVariables, added)
	second, err := s.Commit(branch, "tester", cs)
	require.NoError(t, err)
	assert.Equal(t, vs.ID, second.RootID)

	vs, ok = s.GetElement(vs.ID)
	require.True(t, ok)
	vars := vs.ChildrenOf(models.RelVariableSetVariables)
	require.Len(t, vars, 2)
	assert.Equal(t, "int", vars[0].String(models.FieldVariableType))
	assert.Equal(t, "var2", vars[1].Name)

	cs = models.NewChangeSet(root).Delete(models.RelVariableSetVariables, vars[0])
	_, err = s.Commit(branch, "tester", cs)
	require.NoError(t, err)
	vs, _ = s.GetElement(vs.ID)
	assert.Len(t, vs.ChildrenOf(models.RelVariableSetVariables), 1)
}

func TestCommitIsAtomic(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)
	branch := p.CurrentBranchID

	rf := &models.Element{Kind: models.KindRuleflow, Name: "flow"}
	_, err = s.Commit(branch, "tester", models.NewChangeSet(rf))
	require.NoError(t, err)

	// An operation to reference from the deployment.
	op := &models.Element{Kind: models.KindOperation, Name: "MyOperation"}
	op.Set(models.FieldOperationRulesetName, "MyOpRuleset")
	op.Set(models.FieldOperationTargetProject, p.ID)
	opCommit, err := s.Commit(branch, "tester", models.NewChangeSet(op))
	require.NoError(t, err)

	depOp := &models.Element{Kind: models.KindDepOperation}
	depOp.Set(models.FieldDepOperationActive, true)
	depOp.Set(models.FieldDepOperationOperation, opCommit.RootID)

	target := &models.Element{Kind: models.KindDepTarget}
	target.Set(models.FieldTargetActive, "yes") // not a boolean

	dep := &models.Element{Kind: models.KindDeployment, Name: "My Deployment"}
	dep.Set(models.FieldDeploymentRuleAppName, "myRuleApp")
	dep.Set(models.FieldDeploymentRuleAppVersion, "1.0")
	cs := models.NewChangeSet(dep).
		Add(models.RelDeploymentOperations, depOp).
		Add(models.RelDeploymentTargets, target)

	_, err = s.Commit(branch, "tester", cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))

	found, err := s.FindElements(branch, models.ByName(models.KindDeployment, "My Deployment"))
	require.NoError(t, err)
	assert.Empty(t, found)
	found, err = s.FindElements(branch, models.SearchCriteria{Kind: models.KindDepOperation})
	require.NoError(t, err)
	assert.Empty(t, found)

	// A reference failure surfaces only when applied; the root insert must
	// be rolled back with it.
	target.Set(models.FieldTargetActive, true)
	target.Set(models.FieldTargetName, "Local Execution Server")
	depOp.Set(models.FieldDepOperationOperation, "1b2c0a2e-0000-0000-0000-000000000000")
	_, err = s.Commit(branch, "tester", cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDanglingReference))

	found, err = s.FindElements(branch, models.ByName(models.KindDeployment, "My Deployment"))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCommitReferenceChecks(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("DataValidation")
	require.NoError(t, err)
	branch := p.CurrentBranchID

	info, err := s.GetProjectInfo(branch)
	require.NoError(t, err)

	rf := &models.Element{Kind: models.KindRuleflow, Name: "mainflow"}
	rfCommit, err := s.Commit(branch, "tester", models.NewChangeSet(rf))
	require.NoError(t, err)

	tests := []struct {
		name    string
		queryID string
		wantErr error
	}{
		{"uncommitted query", models.DraftPrefix + "42", models.ErrDanglingReference},
		{"missing query", "0d8f0f6c-aaaa-bbbb-cccc-000000000000", models.ErrDanglingReference},
		{"wrong kind", rfCommit.RootID, models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := &models.Element{Kind: models.KindExtractor, Name: "All Deployable Rules Extractor"}
			extractor.Set(models.FieldExtractorQuery, tt.queryID)
			cs := models.NewChangeSet(&models.Element{ID: info.ID, Kind: info.Kind}).
				Add(models.RelProjectInfoExtractors, extractor)

			_, err := s.Commit(branch, "tester", cs)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}

	qCommit, err := s.Commit(branch, "tester", newQuery("Deployable Rules Query"))
	require.NoError(t, err)

	extractor := &models.Element{Kind: models.KindExtractor, Name: "All Deployable Rules Extractor"}
	extractor.Set(models.FieldExtractorQuery, qCommit.RootID)
	cs := models.NewChangeSet(&models.Element{ID: info.ID, Kind: info.Kind}).
		Add(models.RelProjectInfoExtractors, extractor)
	_, err = s.Commit(branch, "tester", cs)
	require.NoError(t, err)

	info, err = s.GetProjectInfo(branch)
	require.NoError(t, err)
	_, ok := info.Child(models.RelProjectInfoExtractors, "All Deployable Rules Extractor")
	assert.True(t, ok)
}

func TestCommitWrongBaseline(t *testing.T) {
	s := newTestStorage(t)
	a, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)
	b, err := s.CreateProject("DataValidation")
	require.NoError(t, err)

	c, err := s.Commit(a.CurrentBranchID, "tester", newVariableSet("MyVarSet"))
	require.NoError(t, err)

	root := &models.Element{ID: c.RootID, Kind: models.KindVariableSet, Name: "Renamed"}
	_, err = s.Commit(b.CurrentBranchID, "tester", models.NewChangeSet(root))
	assert.True(t, errors.Is(err, models.ErrWrongBaseline))

	_, err = s.Commit("missing", "tester", newVariableSet("X"))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestDeleteElement(t *testing.T) {
	s := newTestStorage(t)
	a, err := s.CreateProject("AutoQuote")
	require.NoError(t, err)
	b, err := s.CreateProject("DataValidation")
	require.NoError(t, err)

	c, err := s.Commit(a.CurrentBranchID, "tester", newVariableSet("MyVarSet", "var1", "var2"))
	require.NoError(t, err)

	_, err = s.DeleteElement(b.CurrentBranchID, c.RootID, "tester")
	assert.True(t, errors.Is(err, models.ErrWrongBaseline))

	info, err := s.GetProjectInfo(a.CurrentBranchID)
	require.NoError(t, err)
	_, err = s.DeleteElement(a.CurrentBranchID, info.ID, "tester")
	assert.True(t, errors.Is(err, models.ErrValidation))

	del, err := s.DeleteElement(a.CurrentBranchID, c.RootID, "tester")
	require.NoError(t, err)
	assert.Equal(t, 3, del.Deleted)

	_, ok := s.GetElement(c.RootID)
	assert.False(t, ok)
	vars, err := s.FindElements(a.CurrentBranchID, models.SearchCriteria{Kind: models.KindVariable})
	require.NoError(t, err)
	assert.Empty(t, vars)

	_, err = s.DeleteElement(a.CurrentBranchID, c.RootID, "tester")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	history, err := s.GetBranchHistory(a.CurrentBranchID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, del.ID, history[0].ID)
	assert.Equal(t, c.ID, history[1].ID)
}

func TestWriteOrderIsStable(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("DataValidation")
	require.NoError(t, err)
	branchID := p.CurrentBranchID

	// Back-to-back commits usually share a millisecond.
	var names, commitIDs []string
	for i := range 20 {
		name := fmt.Sprintf("flow%02d", i)
		flow := &models.Element{Kind: models.KindRuleflow, Name: name}
		c, err := s.Commit(branchID, "tester", models.NewChangeSet(flow))
		require.NoError(t, err)
		names = append(names, name)
		commitIDs = append([]string{c.ID}, commitIDs...)
	}

	found, err := s.FindElements(branchID, models.SearchCriteria{Kind: models.KindRuleflow})
	require.NoError(t, err)
	got := make([]string, 0, len(found))
	for _, el := range found {
		got = append(got, el.Name)
	}
	assert.Equal(t, names, got)

	history, err := s.GetBranchHistory(branchID)
	require.NoError(t, err)
	gotIDs := make([]string, 0, len(history))
	for _, c := range history {
		gotIDs = append(gotIDs, c.ID)
	}
	assert.Equal(t, commitIDs, gotIDs)
}

func TestDuplicateNamesAreAllowed(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("DataValidation")
	require.NoError(t, err)

	for range 2 {
		_, err := s.Commit(p.CurrentBranchID, "tester", newQuery("Deployable Rules Query"))
		require.NoError(t, err)
	}

	found, err := s.FindElements(p.CurrentBranchID, models.ByName(models.KindQuery, "Deployable Rules Query"))
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestFindWithFieldFilter(t *testing.T) {
	s := newTestStorage(t)
	p, err := s.CreateProject("DataValidation")
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		_, err := s.Commit(p.CurrentBranchID, "tester", newVariableSet(name, "x"))
		require.NoError(t, err)
	}
	vs, err := s.FindElements(p.CurrentBranchID, models.ByName(models.KindVariableSet, "a"))
	require.NoError(t, err)
	require.Len(t, vs, 1)

	criteria := models.SearchCriteria{
		Kind:    models.KindVariable,
		Filters: []models.FieldFilter{{Field: models.FieldVariableType, Value: "java.lang.String"}},
	}
	found, err := s.FindElements(p.CurrentBranchID, criteria)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	criteria.Filters[0].Value = "int"
	found, err = s.FindElements(p.CurrentBranchID, criteria)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)
}

func TestCreateProjectWithRollsBack(t *testing.T) {
	s := newTestStorage(t)

	missing := &models.Element{ID: "6f1c1a52-0000-4000-8000-000000000000", Kind: models.KindVariableSet, Name: "gone"}
	_, err := s.CreateProjectWith("AutoQuote", "seed", newVariableSet("Parameters", "autoQuoteReq"), models.NewChangeSet(missing))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, ok := s.GetProjectByName("AutoQuote")
	assert.False(t, ok)
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM elements").Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM commits").Scan(&n))
	assert.Zero(t, n)

	p, err := s.CreateProjectWith("AutoQuote", "seed", newVariableSet("Parameters", "autoQuoteReq"))
	require.NoError(t, err)
	history, err := s.GetBranchHistory(p.CurrentBranchID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "seed", history[0].Author)
}
