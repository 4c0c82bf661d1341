package provision

// Projects the workflow runs against.
const (
	SourceProject = "AutoQuote"
	TargetProject = "DataValidation"
)

// Names of the provisioned elements.
const (
	VariableSetName = "MyVarSet"
	QueryName       = "Deployable Rules Query"
	ExtractorName   = "All Deployable Rules Extractor"
	OperationName   = "MyOperation"
	DeploymentName  = "My Deployment"
)

const (
	VariableName = "var1"
	VariableType = "java.lang.String"

	QueryDefinition = "Find all business rules such that the status of each business rule is deployable"

	OperationDisplayName = "My Operation"
	RulesetName          = "MyOpRuleset"

	// Operation parameters: IN from the source project, OUT from the target.
	InputVariableSet  = "Parameters"
	InputVariable     = "autoQuoteReq"
	OutputVariableSet = "DataValidationParameters"
	OutputVariable    = "validationResp"

	RuleAppName    = "myRuleApp"
	RuleAppVersion = "1.0"

	VersionPolicyLabel = "Increment minor ruleset version numbers"

	RulesetVersionProperty = "ruleset.version"
	RulesetVersion         = "1.0"

	TargetServerName = "Local Execution Server"
)
