package core

// ResultKey identifies a stage result within one pipeline run. Category and
// Indicator are set only for the per-indicator compute results; every other
// stage produces exactly one result keyed by stage name alone.
type ResultKey struct {
	Stage     Stage
	Category  CategoryRef
	Indicator string
}

// KeyFor builds the key for a non-iterative stage result.
func KeyFor(stage Stage) ResultKey {
	return ResultKey{Stage: stage}
}

// KeyForIndicator builds the composite key for one compute iteration.
func KeyForIndicator(category CategoryRef, code string) ResultKey {
	return ResultKey{Stage: StageCompute, Category: category, Indicator: code}
}

// StageResult is the stored output of a concluded stage. Structured is nil
// for conversational stages. History is the snapshot of the conversation at
// the moment the stage concluded. Results are never mutated after creation.
type StageResult struct {
	Key        ResultKey
	Text       string
	Structured any
	History    []Message
}
