package core

import "fmt"

// Stage represents a step in the interview pipeline.
type Stage string

const (
	// StageIntake is the opening interview where the inspector gathers
	// information about the user's service through targeted questions.
	StageIntake Stage = "intake"

	// StageExtract identifies an initial set of KVI categories from the
	// intake transcript. Structured, single call.
	StageExtract Stage = "extract"

	// StageEvaluate refines the extracted categories in conversation with
	// the user.
	StageEvaluate Stage = "evaluate"

	// StageFinalize produces the final category list from the extraction
	// plus the evaluation transcript. Structured, single call.
	StageFinalize Stage = "finalize"

	// StageDerive generates the service-specific KPIs needed to score the
	// finalized categories. Structured, single call.
	StageDerive Stage = "derive"

	// StageAcquire collects a value for each derived KPI in conversation
	// with the user.
	StageAcquire Stage = "acquire"

	// StageStructure parses the acquire transcript into structured KPI
	// values. Structured, single call.
	StageStructure Stage = "structure"

	// StageCompute scores every indicator of every finalized category, one
	// scoped call per (category, indicator) pair.
	StageCompute Stage = "compute"

	// StageAdvise is the closing advisory chat over the computed scores.
	StageAdvise Stage = "advise"

	// StageDone is the terminal marker after the advise stage concludes.
	// It is NOT an executable stage: the session may keep chatting on
	// advise, but the pipeline itself is finished.
	StageDone Stage = "done"
)

// AllStages returns the executable stages in pipeline order.
func AllStages() []Stage {
	return []Stage{
		StageIntake, StageExtract, StageEvaluate, StageFinalize,
		StageDerive, StageAcquire, StageStructure, StageCompute, StageAdvise,
	}
}

// StageOrder returns the numeric order of a stage (0-indexed), -1 if unknown.
func StageOrder(s Stage) int {
	for i, stage := range AllStages() {
		if stage == s {
			return i
		}
	}
	if s == StageDone {
		return len(AllStages())
	}
	return -1
}

// NextStage returns the stage following the given stage.
// The stage after advise is StageDone; unknown stages return "".
func NextStage(s Stage) Stage {
	stages := AllStages()
	for i, stage := range stages {
		if stage != s {
			continue
		}
		if i == len(stages)-1 {
			return StageDone
		}
		return stages[i+1]
	}
	return ""
}

// ValidStage checks if a stage string names a known stage.
func ValidStage(s Stage) bool {
	return StageOrder(s) >= 0
}

// ParseStage converts a string to a Stage with validation.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !ValidStage(stage) {
		return "", fmt.Errorf("invalid stage: %s", s)
	}
	return stage, nil
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Conversational reports whether the stage exchanges free text with the user
// across turns. Structured stages issue exactly one generation call instead.
func (s Stage) Conversational() bool {
	switch s {
	case StageIntake, StageEvaluate, StageAcquire, StageAdvise:
		return true
	default:
		return false
	}
}
