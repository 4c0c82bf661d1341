package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft(kind Kind, name string) *Element {
	return &Element{ID: DraftPrefix + name, Kind: kind, Name: name}
}

func validDeployment() *ChangeSet {
	dep := draft(KindDeployment, "My Deployment")
	dep.Set(FieldDeploymentRuleAppName, "myRuleApp")
	dep.Set(FieldDeploymentRuleAppVersion, "1.0")

	depOp := draft(KindDepOperation, "")
	depOp.Set(FieldDepOperationActive, true)
	depOp.Set(FieldDepOperationOperation, "op-1")

	target := draft(KindDepTarget, "")
	target.Set(FieldTargetActive, true)
	target.Set(FieldTargetName, "Local Execution Server")

	return NewChangeSet(dep).
		Add(RelDeploymentOperations, depOp).
		Add(RelDeploymentTargets, target)
}

func TestChangeSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *ChangeSet
		wantErr error
	}{
		{
			name:  "valid deployment",
			build: validDeployment,
		},
		{
			name:    "nil root",
			build:   func() *ChangeSet { return NewChangeSet(nil) },
			wantErr: ErrValidation,
		},
		{
			name: "unknown root kind",
			build: func() *ChangeSet {
				return NewChangeSet(draft(Kind("Spreadsheet"), "x"))
			},
			wantErr: ErrValidation,
		},
		{
			name: "missing name on named kind",
			build: func() *ChangeSet {
				return NewChangeSet(draft(KindVariableSet, ""))
			},
			wantErr: ErrValidation,
		},
		{
			name: "relation not owned by root",
			build: func() *ChangeSet {
				v := draft(KindVariable, "var1")
				v.Set(FieldVariableType, "java.lang.String")
				return NewChangeSet(draft(KindQuery, "q")).Add(RelVariableSetVariables, v)
			},
			wantErr: ErrValidation,
		},
		{
			name: "wrong child kind for relation",
			build: func() *ChangeSet {
				cs := validDeployment()
				cs.Add(RelDeploymentTargets, draft(KindDepOperation, ""))
				return cs
			},
			wantErr: ErrValidation,
		},
		{
			name: "target without server name",
			build: func() *ChangeSet {
				cs := validDeployment()
				cs.Add(RelDeploymentTargets, draft(KindDepTarget, ""))
				return cs
			},
			wantErr: ErrValidation,
		},
		{
			name: "direction outside enum",
			build: func() *ChangeSet {
				op := draft(KindOperation, "MyOperation")
				op.Set(FieldOperationRulesetName, "MyOpRuleset")
				op.Set(FieldOperationTargetProject, "p-1")
				v := draft(KindOperationVariable, "")
				v.Set(FieldOpVarVariableName, "x")
				v.Set(FieldOpVarVariableSet, "vs-1")
				v.Set(FieldOpVarDirection, "INOUT")
				return NewChangeSet(op).Add(RelOperationReferencedVariables, v)
			},
			wantErr: ErrValidation,
		},
		{
			name: "bool field with string value",
			build: func() *ChangeSet {
				cs := validDeployment()
				cs.Added[0].Element.Set(FieldDepOperationActive, "yes")
				return cs
			},
			wantErr: ErrValidation,
		},
		{
			name: "unknown field",
			build: func() *ChangeSet {
				cs := validDeployment()
				cs.Root.Set(Field("Deployment.Color"), "blue")
				return cs
			},
			wantErr: ErrValidation,
		},
		{
			name: "system root created by client",
			build: func() *ChangeSet {
				return NewChangeSet(draft(KindProjectInfo, ""))
			},
			wantErr: ErrValidation,
		},
		{
			name: "delete of uncommitted element",
			build: func() *ChangeSet {
				info := &Element{ID: "info-1", Kind: KindProjectInfo}
				return NewChangeSet(info).Delete(RelProjectInfoExtractors, draft(KindExtractor, "e"))
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, IsApplicationError(err))
		})
	}
}

func TestChangeSetBuilder(t *testing.T) {
	cs := validDeployment()
	info := &Element{ID: "x", Kind: KindDepTarget}
	cs.Modify(RelDeploymentTargets, info).Delete(RelDeploymentTargets, info)

	assert.Equal(t, 4, cs.Len())
	assert.Len(t, cs.Added, 2)
	assert.Equal(t, RelDeploymentOperations, cs.Added[0].Relation)
	assert.Equal(t, RelDeploymentTargets, cs.Added[1].Relation)
	assert.Equal(t, `Deployment "My Deployment" (+2 ~1 -1)`, cs.String())
}
