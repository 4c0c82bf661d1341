package provision

import (
	"context"
	"fmt"

	"github.com/orian/rulerepo/models"
	"github.com/orian/rulerepo/session"
)

// Factories build and commit one entity each. Cross-entity references are
// resolved by name in the baseline that owns them.
type Factories struct {
	repo      Repository
	baselines Baselines
}

func NewFactories(repo Repository, b Baselines) *Factories {
	return &Factories{repo: repo, baselines: b}
}

// draft allocates an uncommitted element and returns its mutable view.
func (f *Factories) draft(ctx context.Context, kind models.Kind, name string) (*models.Element, error) {
	h, err := f.repo.CreateElement(kind)
	if err != nil {
		return nil, err
	}
	el, err := f.repo.Details(ctx, h)
	if err != nil {
		return nil, err
	}
	el.Name = name
	return el, nil
}

// commit submits cs and reads the committed root back.
func (f *Factories) commit(ctx context.Context, branchID string, cs *models.ChangeSet) (*models.Element, error) {
	h, err := f.repo.Commit(ctx, branchID, cs)
	if err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", cs, err)
	}
	return f.repo.Details(ctx, h)
}

// CreateVariableSet commits MyVarSet with a single string variable on the
// source baseline.
func (f *Factories) CreateVariableSet(ctx context.Context) (*VariableSet, error) {
	vs, err := f.draft(ctx, models.KindVariableSet, VariableSetName)
	if err != nil {
		return nil, err
	}
	v, err := f.draft(ctx, models.KindVariable, VariableName)
	if err != nil {
		return nil, err
	}
	v.Set(models.FieldVariableType, VariableType)

	cs := models.NewChangeSet(vs).Add(models.RelVariableSetVariables, v)
	el, err := f.commit(ctx, f.baselines.Source, cs)
	if err != nil {
		return nil, err
	}
	return variableSetFrom(el), nil
}

// CreateExtractionQuery commits the deployable-rules query on the target
// baseline and returns its committed handle.
func (f *Factories) CreateExtractionQuery(ctx context.Context) (models.ElementHandle, error) {
	q, err := f.draft(ctx, models.KindQuery, QueryName)
	if err != nil {
		return models.ElementHandle{}, err
	}
	q.Set(models.FieldQueryDefinition, QueryDefinition)

	h, err := f.repo.Commit(ctx, f.baselines.Target, models.NewChangeSet(q))
	if err != nil {
		return models.ElementHandle{}, fmt.Errorf("failed to commit query %s: %w", QueryName, err)
	}
	return h, nil
}

// CreateExtractor adds an extractor over query to the target baseline's
// project info.
func (f *Factories) CreateExtractor(ctx context.Context, query models.ElementHandle) (*Extractor, error) {
	ext, err := f.draft(ctx, models.KindExtractor, ExtractorName)
	if err != nil {
		return nil, err
	}
	ext.SetRef(models.FieldExtractorQuery, query)

	info, err := f.repo.ProjectInfo(ctx, f.baselines.Target)
	if err != nil {
		return nil, err
	}
	cs := models.NewChangeSet(infoRoot(info)).Add(models.RelProjectInfoExtractors, ext)
	committed, err := f.commit(ctx, f.baselines.Target, cs)
	if err != nil {
		return nil, err
	}

	// The commit returns the project info; pick the extractor just added.
	children := committed.ChildrenOf(models.RelProjectInfoExtractors)
	for i := len(children) - 1; i >= 0; i-- {
		if children[i].Name == ExtractorName {
			return extractorFrom(children[i]), nil
		}
	}
	return nil, models.NewApplicationError("create extractor", models.ErrNotFound, "extractor %q missing after commit", ExtractorName)
}

// CreateOperation creates the query and extractor, then commits MyOperation
// on the target baseline with the project's ruleflow attached and one IN and
// one OUT parameter.
func (f *Factories) CreateOperation(ctx context.Context) (*Operation, error) {
	query, err := f.CreateExtractionQuery(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := f.CreateExtractor(ctx, query); err != nil {
		return nil, err
	}

	op, err := f.draft(ctx, models.KindOperation, OperationName)
	if err != nil {
		return nil, err
	}
	op.Set(models.FieldOperationDisplayName, OperationDisplayName)
	op.Set(models.FieldOperationRulesetName, RulesetName)
	op.Set(models.FieldOperationTargetProject, f.baselines.TargetProject.ID)
	op.Set(models.FieldOperationExtractor, ExtractorName)
	op.Set(models.FieldOperationUsingExtractor, true)

	// The target project is expected to hold a single ruleflow.
	ruleflow, err := session.FirstOfKind(ctx, f.repo, f.baselines.Target, models.KindRuleflow)
	if err != nil {
		return nil, fmt.Errorf("failed to find the ruleflow of %s: %w", TargetProject, err)
	}
	op.SetRef(models.FieldOperationRuleflow, ruleflow.Handle())
	op.Set(models.FieldOperationUsingRuleflow, true)

	in, err := f.operationVariable(ctx, f.baselines.Source, InputVariableSet, InputVariable, models.DirectionIn)
	if err != nil {
		return nil, err
	}
	out, err := f.operationVariable(ctx, f.baselines.Target, OutputVariableSet, OutputVariable, models.DirectionOut)
	if err != nil {
		return nil, err
	}

	cs := models.NewChangeSet(op).
		Add(models.RelOperationReferencedVariables, in).
		Add(models.RelOperationReferencedVariables, out)
	el, err := f.commit(ctx, f.baselines.Target, cs)
	if err != nil {
		return nil, err
	}
	return operationFrom(el), nil
}

// operationVariable binds a variable of a named variable set, found in
// branchID, to a new operation parameter.
func (f *Factories) operationVariable(ctx context.Context, branchID, setName, varName string, dir models.Direction) (*models.Element, error) {
	r, err := session.Resolve(ctx, f.repo, branchID, models.KindVariableSet, setName)
	if err != nil {
		return nil, err
	}
	vs, err := r.Require("create operation")
	if err != nil {
		return nil, err
	}
	v, ok := vs.Child(models.RelVariableSetVariables, varName)
	if !ok {
		return nil, models.NewApplicationError("create operation", models.ErrNotFound, "variable set %s has no variable %s", setName, varName)
	}

	opVar, err := f.draft(ctx, models.KindOperationVariable, "")
	if err != nil {
		return nil, err
	}
	opVar.Set(models.FieldOpVarVariableName, v.Name)
	opVar.SetRef(models.FieldOpVarVariableSet, vs.Handle())
	opVar.Set(models.FieldOpVarDirection, string(dir))
	return opVar, nil
}

// CreateDeployment commits My Deployment on the source baseline. Its
// operation link, version policy, ruleset.version property and target server
// are written in the same commit.
func (f *Factories) CreateDeployment(ctx context.Context, op *Operation) (*Deployment, error) {
	opHandle := models.ElementHandle{ID: op.ID, Kind: models.KindOperation}

	depOp, err := f.draft(ctx, models.KindDepOperation, "")
	if err != nil {
		return nil, err
	}
	depOp.Set(models.FieldDepOperationActive, true)
	depOp.Set(models.FieldDepOperationName, op.Name)
	depOp.SetRef(models.FieldDepOperationOperation, opHandle)

	dep, err := f.draft(ctx, models.KindDeployment, DeploymentName)
	if err != nil {
		return nil, err
	}
	dep.Set(models.FieldDeploymentRuleAppName, RuleAppName)
	dep.Set(models.FieldDeploymentRuleAppVersion, RuleAppVersion)

	policy, err := f.draft(ctx, models.KindDepVersionPolicy, "")
	if err != nil {
		return nil, err
	}
	policy.Set(models.FieldPolicyLabel, VersionPolicyLabel)
	policy.Set(models.FieldPolicyRuleApp, models.IncrementMinor)
	policy.Set(models.FieldPolicyRuleset, models.IncrementMinor)
	policy.Set(models.FieldPolicyDefault, true)
	policy.Set(models.FieldPolicyRecurrent, true)

	property, err := f.draft(ctx, models.KindDepOperationProperty, RulesetVersionProperty)
	if err != nil {
		return nil, err
	}
	property.SetRef(models.FieldPropertyOperation, opHandle)
	property.Set(models.FieldPropertyValue, RulesetVersion)

	target, err := f.draft(ctx, models.KindDepTarget, "")
	if err != nil {
		return nil, err
	}
	target.Set(models.FieldTargetActive, true)
	target.Set(models.FieldTargetName, TargetServerName)

	cs := models.NewChangeSet(dep).
		Add(models.RelDeploymentOperations, depOp).
		Add(models.RelDeploymentVersionPolicies, policy).
		Add(models.RelDeploymentOperationProperties, property).
		Add(models.RelDeploymentTargets, target)
	el, err := f.commit(ctx, f.baselines.Source, cs)
	if err != nil {
		return nil, err
	}
	return deploymentFrom(el), nil
}

// infoRoot strips a project info down to what a change set root needs.
func infoRoot(info *models.Element) *models.Element {
	return &models.Element{ID: info.ID, Kind: info.Kind}
}
