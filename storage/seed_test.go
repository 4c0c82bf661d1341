package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orian/rulerepo/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeed(t *testing.T) {
	seed, err := DefaultSeed()
	require.NoError(t, err)
	require.Len(t, seed.Projects, 2)

	assert.Equal(t, "AutoQuote", seed.Projects[0].Name)
	assert.Equal(t, "Parameters", seed.Projects[0].VariableSets[0].Name)
	assert.Equal(t, "autoQuoteReq", seed.Projects[0].VariableSets[0].Variables[0].Name)

	assert.Equal(t, "DataValidation", seed.Projects[1].Name)
	assert.Equal(t, "mainflow", seed.Projects[1].Ruleflows[0].Name)
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{
			name: "single project",
			data: "[[project]]\nname = \"P\"\n",
			want: 1,
		},
		{
			name: "empty document",
			data: "",
			want: 0,
		},
		{
			name:    "unknown key",
			data:    "[[project]]\nname = \"P\"\ncolour = \"red\"\n",
			wantErr: true,
		},
		{
			name:    "missing project name",
			data:    "[[project]]\n",
			wantErr: true,
		},
		{
			name:    "syntax error",
			data:    "[[project]\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed, err := ParseSeed([]byte(tt.data), "test")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, seed.Projects, tt.want)
		})
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.toml")
	data := `
[[project]]
name = "Lending"

  [[project.ruleflow]]
  name = "approve"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Projects, 1)
	assert.Equal(t, "approve", seed.Projects[0].Ruleflows[0].Name)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplySeedIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	seed, err := DefaultSeed()
	require.NoError(t, err)

	require.NoError(t, ApplySeed(s, seed))
	require.NoError(t, ApplySeed(s, seed))

	projects, err := s.GetProjects()
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	dv, ok := s.GetProjectByName("DataValidation")
	require.True(t, ok)

	flows, err := s.FindElements(dv.CurrentBranchID, models.SearchCriteria{Kind: models.KindRuleflow})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "mainflow", flows[0].Name)

	sets, err := s.FindElements(dv.CurrentBranchID, models.ByName(models.KindVariableSet, "DataValidationParameters"))
	require.NoError(t, err)
	require.Len(t, sets, 1)
	_, ok = sets[0].Child(models.RelVariableSetVariables, "validationResp")
	assert.True(t, ok)

	history, err := s.GetBranchHistory(dv.CurrentBranchID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, SeedAuthor, history[0].Author)
}

func TestApplySeedFailureLeavesNoProject(t *testing.T) {
	s := newTestStorage(t)
	seed := &Seed{Projects: []SeedProject{{
		Name: "AutoQuote",
		VariableSets: []SeedVariableSet{
			{Name: "Parameters", Variables: []SeedVariable{{Name: "autoQuoteReq", Type: "java.lang.String"}}},
			{Name: "Broken", Variables: []SeedVariable{{Type: "java.lang.String"}}},
		},
	}}}

	require.Error(t, ApplySeed(s, seed))
	_, ok := s.GetProjectByName("AutoQuote")
	assert.False(t, ok)

	// A corrected seed on the next start creates the project in full.
	seed.Projects[0].VariableSets[1].Variables[0].Name = "extra"
	require.NoError(t, ApplySeed(s, seed))

	p, ok := s.GetProjectByName("AutoQuote")
	require.True(t, ok)
	sets, err := s.FindElements(p.CurrentBranchID, models.SearchCriteria{Kind: models.KindVariableSet})
	require.NoError(t, err)
	assert.Len(t, sets, 2)
}
