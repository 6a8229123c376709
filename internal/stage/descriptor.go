// Package stage defines the static descriptor table for the KVI mapping
// pipeline and the registry that validates and serves it.
package stage

import (
	"embed"
	"strings"

	"github.com/kviflow/kviflow/internal/core"
)

//go:embed prompts/*.md
var promptsFS embed.FS

// Descriptor is the static configuration of one pipeline stage.
type Descriptor struct {
	Name           core.Stage
	Description    string
	Model          string
	Conversational bool

	// SystemPrompt is the stage persona, loaded from the embedded
	// prompts directory.
	SystemPrompt string

	// CompletionPhrases trigger the transition out of a conversational
	// stage when any of them appears in the assistant's reply.
	CompletionPhrases []string

	// Schema declares the structured payload a non-conversational stage
	// must return.
	Schema core.SchemaKind

	// TriggerPrompt is the synthetic user instruction sent when the
	// stage is entered automatically during a cascade.
	TriggerPrompt string

	// Announcement is shown to the user when the pipeline hands off to
	// this stage.
	Announcement string

	// Apology is the user-visible message appended when a structured
	// stage answers with a non-conforming payload.
	Apology string

	// MaxSelections caps the number of categories the extract stage may
	// return. 0 means uncapped. Ignored by other stages.
	MaxSelections int
}

// IsComplete reports whether a conversational reply contains one of the
// stage's completion phrases. An empty phrase set never completes.
func (d *Descriptor) IsComplete(reply string) bool {
	if len(d.CompletionPhrases) == 0 {
		return false
	}
	lower := strings.ToLower(reply)
	for _, phrase := range d.CompletionPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func mustPrompt(name string) string {
	data, err := promptsFS.ReadFile("prompts/" + name + ".md")
	if err != nil {
		panic("stage: missing embedded prompt " + name)
	}
	return string(data)
}

const (
	modelConversational = "google/gemini-2.5-flash"
	modelStructured     = "openai/gpt-5-mini"
)

// defaultDescriptors returns the full pipeline table in execution order.
func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:           core.StageIntake,
			Description:    "Asks questions to gather information about a service and its impact on KVI categories",
			Model:          modelConversational,
			Conversational: true,
			SystemPrompt:   mustPrompt("intake"),
			CompletionPhrases: []string{
				"done",
				"i now have everything needed",
				"i have all the information",
				"that's all i need",
				"i have gathered enough information",
			},
		},
		{
			Name:          core.StageExtract,
			Description:   "Identifies the most relevant KVI categories from the interview",
			Model:         modelStructured,
			SystemPrompt:  mustPrompt("extract"),
			Schema:        core.SchemaCategorySelection,
			TriggerPrompt: "Please identify the most relevant KVI categories based on this conversation.",
			Apology:       "Sorry, I was unable to retrieve the KVI categories due to an unexpected response from the extractor. Please try again later or contact support.",
			MaxSelections: 1,
		},
		{
			Name:           core.StageEvaluate,
			Description:    "Evaluates KVI categories through interactive conversation with the user",
			Model:          modelConversational,
			Conversational: true,
			SystemPrompt:   mustPrompt("evaluate"),
			TriggerPrompt:  "Please review the extracted categories with me.",
			Announcement:   "Let's review the extracted KVI categories together.",
			CompletionPhrases: []string{
				"done",
				"we have finalized your kvi categories",
				"your final kvi categories are set",
				"we have completed your kvi selection",
				"your kvi categories are now finalized",
				"we've confirmed your final set of kvis",
				"kvi selection is complete",
			},
		},
		{
			Name:          core.StageFinalize,
			Description:   "Produces final refined KVI categories based on extractor output and evaluator conversation",
			Model:         modelStructured,
			SystemPrompt:  mustPrompt("finalize"),
			Schema:        core.SchemaFinalCategories,
			TriggerPrompt: "Please produce the final refined list of KVI categories based on the conversation.",
			Apology:       "Sorry, I was unable to finalize the KVI categories due to an unexpected response. Please try again later or contact support.",
		},
		{
			Name:          core.StageDerive,
			Description:   "Generates service-specific KPIs for calculating the extracted KVIs",
			Model:         modelStructured,
			SystemPrompt:  mustPrompt("derive"),
			Schema:        core.SchemaIndicatorPlan,
			TriggerPrompt: "Please generate the KPIs needed to calculate the finalized KVI categories.",
			Apology:       "Sorry, I was unable to generate the KPIs due to an unexpected response. Please try again later or contact support.",
		},
		{
			Name:           core.StageAcquire,
			Description:    "Collects actual values for KPIs through interactive conversation with the user",
			Model:          modelConversational,
			Conversational: true,
			SystemPrompt:   mustPrompt("acquire"),
			TriggerPrompt:  "Please start collecting the KPI values from me, one at a time.",
			Announcement:   "Now let's collect the values for your KPIs.",
			CompletionPhrases: []string{
				"done",
				"we have collected all the kpi values",
				"your data is now ready for analysis",
			},
		},
		{
			Name:          core.StageStructure,
			Description:   "Extracts collected KPI values from conversation into structured format",
			Model:         modelStructured,
			SystemPrompt:  mustPrompt("structure"),
			Schema:        core.SchemaCollectedValues,
			TriggerPrompt: "Please extract the collected KPI values from the conversation.",
			Apology:       "Sorry, I was unable to structure the collected KPI values due to an unexpected response. Please try again later or contact support.",
		},
		{
			Name:          core.StageCompute,
			Description:   "Calculates KVI values based on collected KPIs with exact/min/max scenarios",
			Model:         modelStructured,
			SystemPrompt:  mustPrompt("compute"),
			Schema:        core.SchemaScoreReport,
			TriggerPrompt: "Please calculate this KVI based on the collected KPI values.",
			Apology:       "Sorry, I was unable to calculate the KVI values due to an unexpected response. Please try again later or contact support.",
		},
		{
			Name:           core.StageAdvise,
			Description:    "Helps users with questions, clarifications, and recalculations after KVI calculations",
			Model:          modelConversational,
			Conversational: true,
			SystemPrompt:   mustPrompt("advise"),
			TriggerPrompt:  "Please present the calculated KVI results and ask if I have questions.",
			Announcement:   "Your KVI calculations are ready. Let's go through them.",
			CompletionPhrases: []string{
				"thank you for using the kpi to kvi mapping system",
				"if you need anything else in the future",
				"feel free to come back",
			},
		},
	}
}
