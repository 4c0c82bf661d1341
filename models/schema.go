package models

import "sort"

// Kind identifies an element type in the repository catalog.
type Kind string

// Relation identifies a structural owner-to-child relation, e.g.
// "VariableSet.Variables".
type Relation string

// Field identifies a scalar attribute of a kind, e.g. "Operation.RulesetName".
type Field string

// Element kinds known to the repository.
const (
	KindProjectInfo          Kind = "ProjectInfo"
	KindVariableSet          Kind = "VariableSet"
	KindVariable             Kind = "Variable"
	KindQuery                Kind = "Query"
	KindExtractor            Kind = "Extractor"
	KindRuleflow             Kind = "Ruleflow"
	KindOperation            Kind = "Operation"
	KindOperationVariable    Kind = "OperationVariable"
	KindDeployment           Kind = "Deployment"
	KindDepOperation         Kind = "DepOperation"
	KindDepVersionPolicy     Kind = "DepVersionPolicy"
	KindDepOperationProperty Kind = "DepOperationProperty"
	KindDepTarget            Kind = "DepTarget"
)

// Relations between owning kinds and their sub-elements.
const (
	RelProjectInfoExtractors         Relation = "ProjectInfo.Extractors"
	RelVariableSetVariables          Relation = "VariableSet.Variables"
	RelOperationReferencedVariables  Relation = "Operation.ReferencedVariables"
	RelDeploymentOperations          Relation = "Deployment.Operations"
	RelDeploymentVersionPolicies     Relation = "Deployment.VersionPolicies"
	RelDeploymentOperationProperties Relation = "Deployment.OperationProperties"
	RelDeploymentTargets             Relation = "Deployment.Targets"
)

// Scalar field tokens.
const (
	FieldName Field = "ModelElement.Name"

	FieldVariableType Field = "Variable.BomType"

	FieldQueryDefinition Field = "AbstractQuery.Definition"

	FieldExtractorQuery Field = "Extractor.Query"

	FieldRuleflowBody Field = "Ruleflow.Body"

	FieldOperationDisplayName    Field = "Operation.BusinessDisplayName"
	FieldOperationRulesetName    Field = "Operation.RulesetName"
	FieldOperationTargetProject  Field = "Operation.TargetRuleProject"
	FieldOperationExtractor      Field = "Operation.Extractor"
	FieldOperationUsingExtractor Field = "Operation.UsingExtractor"
	FieldOperationRuleflow       Field = "Operation.Ruleflow"
	FieldOperationUsingRuleflow  Field = "Operation.UsingRuleflow"

	FieldOpVarVariableName Field = "OperationVariable.VariableName"
	FieldOpVarVariableSet  Field = "OperationVariable.VariableSet"
	FieldOpVarDirection    Field = "OperationVariable.Direction"

	FieldDeploymentRuleAppName    Field = "Deployment.RuleAppName"
	FieldDeploymentRuleAppVersion Field = "Deployment.RuleAppVersion"

	FieldDepOperationActive    Field = "DepOperation.Active"
	FieldDepOperationName      Field = "DepOperation.OperationName"
	FieldDepOperationOperation Field = "DepOperation.Operation"

	FieldPolicyLabel     Field = "DepVersionPolicy.Label"
	FieldPolicyRuleApp   Field = "DepVersionPolicy.RuleApp"
	FieldPolicyRuleset   Field = "DepVersionPolicy.Ruleset"
	FieldPolicyDefault   Field = "DepVersionPolicy.Default"
	FieldPolicyRecurrent Field = "DepVersionPolicy.Recurrent"

	FieldPropertyOperation Field = "DepOperationProperty.OperationReference"
	FieldPropertyValue     Field = "DepOperationProperty.Value"

	FieldTargetActive Field = "DepTarget.Active"
	FieldTargetName   Field = "DepTarget.Name"
)

// Direction tags an operation variable as an input or an output.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Version increment policies accepted by DepVersionPolicy.
const (
	IncrementNone  = "NONE"
	IncrementMinor = "INCREMENT_MINOR"
	IncrementMajor = "INCREMENT_MAJOR"
)

// FieldType is the value type a field accepts.
type FieldType int

const (
	FieldString FieldType = iota
	FieldBool
	// FieldRef holds the ID of a committed element.
	FieldRef
	// FieldProjectRef holds the ID of a project.
	FieldProjectRef
)

// FieldSpec describes one scalar field of a kind.
type FieldSpec struct {
	Type     FieldType
	Required bool
	// RefKind restricts FieldRef values to elements of this kind.
	RefKind Kind
	// Enum, when set, lists the accepted string values.
	Enum []string
}

// KindSpec describes the structure of a kind: its scalar fields and the
// relations it owns.
type KindSpec struct {
	Kind Kind
	// Named kinds must carry a non-empty element name.
	Named bool
	// System kinds are created by the repository and can only be modified.
	System    bool
	Fields    map[Field]FieldSpec
	Relations map[Relation]Kind
}

var catalog = map[Kind]KindSpec{
	KindProjectInfo: {
		Kind:      KindProjectInfo,
		System:    true,
		Relations: map[Relation]Kind{RelProjectInfoExtractors: KindExtractor},
	},
	KindVariableSet: {
		Kind:      KindVariableSet,
		Named:     true,
		Relations: map[Relation]Kind{RelVariableSetVariables: KindVariable},
	},
	KindVariable: {
		Kind:  KindVariable,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldVariableType: {Type: FieldString, Required: true},
		},
	},
	KindQuery: {
		Kind:  KindQuery,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldQueryDefinition: {Type: FieldString, Required: true},
		},
	},
	KindExtractor: {
		Kind:  KindExtractor,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldExtractorQuery: {Type: FieldRef, Required: true, RefKind: KindQuery},
		},
	},
	KindRuleflow: {
		Kind:  KindRuleflow,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldRuleflowBody: {Type: FieldString},
		},
	},
	KindOperation: {
		Kind:  KindOperation,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldOperationDisplayName:    {Type: FieldString},
			FieldOperationRulesetName:    {Type: FieldString, Required: true},
			FieldOperationTargetProject:  {Type: FieldProjectRef, Required: true},
			FieldOperationExtractor:      {Type: FieldString},
			FieldOperationUsingExtractor: {Type: FieldBool},
			FieldOperationRuleflow:       {Type: FieldRef, RefKind: KindRuleflow},
			FieldOperationUsingRuleflow:  {Type: FieldBool},
		},
		Relations: map[Relation]Kind{RelOperationReferencedVariables: KindOperationVariable},
	},
	KindOperationVariable: {
		Kind: KindOperationVariable,
		Fields: map[Field]FieldSpec{
			FieldOpVarVariableName: {Type: FieldString, Required: true},
			FieldOpVarVariableSet:  {Type: FieldRef, Required: true, RefKind: KindVariableSet},
			FieldOpVarDirection: {
				Type:     FieldString,
				Required: true,
				Enum:     []string{string(DirectionIn), string(DirectionOut)},
			},
		},
	},
	KindDeployment: {
		Kind:  KindDeployment,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldDeploymentRuleAppName:    {Type: FieldString, Required: true},
			FieldDeploymentRuleAppVersion: {Type: FieldString, Required: true},
		},
		Relations: map[Relation]Kind{
			RelDeploymentOperations:          KindDepOperation,
			RelDeploymentVersionPolicies:     KindDepVersionPolicy,
			RelDeploymentOperationProperties: KindDepOperationProperty,
			RelDeploymentTargets:             KindDepTarget,
		},
	},
	KindDepOperation: {
		Kind: KindDepOperation,
		Fields: map[Field]FieldSpec{
			FieldDepOperationActive:    {Type: FieldBool},
			FieldDepOperationName:      {Type: FieldString},
			FieldDepOperationOperation: {Type: FieldRef, Required: true, RefKind: KindOperation},
		},
	},
	KindDepVersionPolicy: {
		Kind: KindDepVersionPolicy,
		Fields: map[Field]FieldSpec{
			FieldPolicyLabel:     {Type: FieldString, Required: true},
			FieldPolicyRuleApp:   {Type: FieldString, Required: true, Enum: incrementPolicies},
			FieldPolicyRuleset:   {Type: FieldString, Required: true, Enum: incrementPolicies},
			FieldPolicyDefault:   {Type: FieldBool},
			FieldPolicyRecurrent: {Type: FieldBool},
		},
	},
	KindDepOperationProperty: {
		Kind:  KindDepOperationProperty,
		Named: true,
		Fields: map[Field]FieldSpec{
			FieldPropertyOperation: {Type: FieldRef, Required: true, RefKind: KindOperation},
			FieldPropertyValue:     {Type: FieldString, Required: true},
		},
	},
	KindDepTarget: {
		Kind: KindDepTarget,
		Fields: map[Field]FieldSpec{
			FieldTargetActive: {Type: FieldBool},
			FieldTargetName:   {Type: FieldString, Required: true},
		},
	},
}

var incrementPolicies = []string{IncrementNone, IncrementMinor, IncrementMajor}

// LookupKind returns the catalog entry for k.
func LookupKind(k Kind) (KindSpec, bool) {
	spec, ok := catalog[k]
	return spec, ok
}

// Kinds returns every catalogued kind in lexical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(catalog))
	for k := range catalog {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Owns reports whether the kind declares rel, returning the child kind.
func (s KindSpec) Owns(rel Relation) (Kind, bool) {
	k, ok := s.Relations[rel]
	return k, ok
}
