package chain

// InputSourceKind discriminates InputMapping.Source's variants.
type InputSourceKind int

const (
	SourceChainInput InputSourceKind = iota
	SourceVariable
	SourceStepOutput
	SourceLiteral
	SourceTemplate
)

// InputSource names where an InputMapping pulls its value from (§3).
type InputSource struct {
	Kind InputSourceKind

	// Name is used by SourceChainInput, SourceVariable, and as the output
	// name half of SourceStepOutput.
	Name string

	// StepID is used by SourceStepOutput.
	StepID string

	// Literal is used by SourceLiteral.
	Literal Value

	// Template is used by SourceTemplate: a string containing `{{name}}`
	// interpolation placeholders resolved against variables (§4.2).
	Template string
}

// InputMapping binds one named input of a Step to a source in the shared
// data space, with an optional Transform and required/default handling
// (§3, §4.2).
type InputMapping struct {
	Name      string
	Source    InputSource
	Transform *Transform
	Required  bool
	Default   *Value
}

// OutputTargetKind discriminates OutputMapping.Target's variants.
type OutputTargetKind int

const (
	TargetChainOutput OutputTargetKind = iota
	TargetVariable
	TargetStepInput
)

// OutputTarget names where an OutputMapping writes its value to (§3).
type OutputTarget struct {
	Kind OutputTargetKind

	// Name is used by TargetChainOutput, TargetVariable, and as the input
	// name half of TargetStepInput.
	Name string

	// StepID is used by TargetStepInput.
	StepID string
}

// OutputMapping binds one named output of a step's StepResult to a
// destination in the shared data space, with an optional Transform (§3,
// §4.2).
type OutputMapping struct {
	Name      string
	Target    OutputTarget
	Transform *Transform
}

// TransformKind discriminates Transform's variants.
type TransformKind int

const (
	TransformJSONPath TransformKind = iota
	TransformRegex
	TransformTemplate
	TransformMap
	TransformCustom
)

// Transform is applied to a value in transit between a source/StepResult
// output and its destination (§3, §4.2).
type Transform struct {
	Kind TransformKind

	// Path is used by TransformJSONPath: a dot-separated path descending
	// through objects by key and arrays by numeric index.
	Path string

	// Pattern and Group are used by TransformRegex.
	Pattern string
	Group   *int

	// Template is used by TransformTemplate: replaces literal `{{value}}`
	// with the serialized form of the input value.
	Template string

	// Mappings and MapDefault are used by TransformMap: the stringified
	// input is looked up in Mappings, falling back to MapDefault.
	Mappings   map[string]Value
	MapDefault *Value

	// CustomHandler and CustomConfig are used by TransformCustom.
	CustomHandler string
	CustomConfig  map[string]Value
}
