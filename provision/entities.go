package provision

import "github.com/orian/rulerepo/models"

// Typed views of committed elements.

type Variable struct {
	Name string
	Type string
}

type VariableSet struct {
	ID        string
	Name      string
	BranchID  string
	Variables []Variable
}

type Extractor struct {
	ID      string
	Name    string
	QueryID string
}

type OperationVariable struct {
	VariableName  string
	VariableSetID string
	Direction     models.Direction
}

type Operation struct {
	ID              string
	Name            string
	BranchID        string
	DisplayName     string
	RulesetName     string
	TargetProjectID string
	Extractor       string
	UsingExtractor  bool
	RuleflowID      string
	UsingRuleflow   bool
	Variables       []OperationVariable
}

type DepOperation struct {
	Active        bool
	OperationName string
	OperationID   string
}

type VersionPolicy struct {
	Label     string
	RuleApp   string
	Ruleset   string
	Default   bool
	Recurrent bool
}

type OperationProperty struct {
	Name        string
	OperationID string
	Value       string
}

type Target struct {
	Name   string
	Active bool
}

type Deployment struct {
	ID             string
	Name           string
	BranchID       string
	RuleAppName    string
	RuleAppVersion string
	Operations     []DepOperation
	Policies       []VersionPolicy
	Properties     []OperationProperty
	Targets        []Target
}

func variableSetFrom(el *models.Element) *VariableSet {
	vs := &VariableSet{ID: el.ID, Name: el.Name, BranchID: el.BranchID}
	for _, v := range el.ChildrenOf(models.RelVariableSetVariables) {
		vs.Variables = append(vs.Variables, Variable{Name: v.Name, Type: v.String(models.FieldVariableType)})
	}
	return vs
}

func extractorFrom(el *models.Element) *Extractor {
	return &Extractor{ID: el.ID, Name: el.Name, QueryID: el.Ref(models.FieldExtractorQuery)}
}

func operationFrom(el *models.Element) *Operation {
	op := &Operation{
		ID:              el.ID,
		Name:            el.Name,
		BranchID:        el.BranchID,
		DisplayName:     el.String(models.FieldOperationDisplayName),
		RulesetName:     el.String(models.FieldOperationRulesetName),
		TargetProjectID: el.Ref(models.FieldOperationTargetProject),
		Extractor:       el.String(models.FieldOperationExtractor),
		UsingExtractor:  el.Bool(models.FieldOperationUsingExtractor),
		RuleflowID:      el.Ref(models.FieldOperationRuleflow),
		UsingRuleflow:   el.Bool(models.FieldOperationUsingRuleflow),
	}
	for _, v := range el.ChildrenOf(models.RelOperationReferencedVariables) {
		op.Variables = append(op.Variables, OperationVariable{
			VariableName:  v.String(models.FieldOpVarVariableName),
			VariableSetID: v.Ref(models.FieldOpVarVariableSet),
			Direction:     models.Direction(v.String(models.FieldOpVarDirection)),
		})
	}
	return op
}

func deploymentFrom(el *models.Element) *Deployment {
	d := &Deployment{
		ID:             el.ID,
		Name:           el.Name,
		BranchID:       el.BranchID,
		RuleAppName:    el.String(models.FieldDeploymentRuleAppName),
		RuleAppVersion: el.String(models.FieldDeploymentRuleAppVersion),
	}
	for _, c := range el.ChildrenOf(models.RelDeploymentOperations) {
		d.Operations = append(d.Operations, DepOperation{
			Active:        c.Bool(models.FieldDepOperationActive),
			OperationName: c.String(models.FieldDepOperationName),
			OperationID:   c.Ref(models.FieldDepOperationOperation),
		})
	}
	for _, c := range el.ChildrenOf(models.RelDeploymentVersionPolicies) {
		d.Policies = append(d.Policies, VersionPolicy{
			Label:     c.String(models.FieldPolicyLabel),
			RuleApp:   c.String(models.FieldPolicyRuleApp),
			Ruleset:   c.String(models.FieldPolicyRuleset),
			Default:   c.Bool(models.FieldPolicyDefault),
			Recurrent: c.Bool(models.FieldPolicyRecurrent),
		})
	}
	for _, c := range el.ChildrenOf(models.RelDeploymentOperationProperties) {
		d.Properties = append(d.Properties, OperationProperty{
			Name:        c.Name,
			OperationID: c.Ref(models.FieldPropertyOperation),
			Value:       c.String(models.FieldPropertyValue),
		})
	}
	for _, c := range el.ChildrenOf(models.RelDeploymentTargets) {
		d.Targets = append(d.Targets, Target{
			Name:   c.String(models.FieldTargetName),
			Active: c.Bool(models.FieldTargetActive),
		})
	}
	return d
}
