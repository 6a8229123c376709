package core

import (
	"encoding/json"
	"fmt"
)

// SchemaKind names the structured payload a stage expects back from its
// generation agent. Conversational stages use SchemaNone.
type SchemaKind string

const (
	SchemaNone              SchemaKind = ""
	SchemaCategorySelection SchemaKind = "category_selection"
	SchemaFinalCategories   SchemaKind = "final_categories"
	SchemaIndicatorPlan     SchemaKind = "indicator_plan"
	SchemaCollectedValues   SchemaKind = "collected_values"
	SchemaScoreReport       SchemaKind = "score_report"
)

// CategoryRef points at one taxonomy subcategory by its IDs
// (e.g. main "01", sub "011").
type CategoryRef struct {
	MainID string `json:"main_id"`
	SubID  string `json:"sub_id"`
}

// CategorySelection is the extract stage's payload: the initially identified
// KVI categories. MaxSelections (when > 0) caps the list at decode time.
type CategorySelection struct {
	Categories []CategoryRef `json:"categories"`
}

// Validate checks the selection against the schema contract.
func (s *CategorySelection) Validate() error {
	return validateRefs(s.Categories)
}

// FinalCategorySelection is the finalize stage's payload: the refined
// category list, any length, ordered by relevance.
type FinalCategorySelection struct {
	Categories []CategoryRef `json:"categories"`
}

// Validate checks the final selection against the schema contract.
func (s *FinalCategorySelection) Validate() error {
	return validateRefs(s.Categories)
}

func validateRefs(refs []CategoryRef) error {
	if refs == nil {
		return fmt.Errorf("categories list missing")
	}
	for i, ref := range refs {
		if ref.MainID == "" || ref.SubID == "" {
			return fmt.Errorf("category %d: main_id and sub_id are required", i)
		}
	}
	return nil
}

// Indicator is one KPI the user should collect for scoring.
type Indicator struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Measure     string `json:"measure"`
}

// IndicatorPlan is the derive stage's payload: the KPIs to collect.
type IndicatorPlan struct {
	Indicators []Indicator `json:"kpis"`
}

// Validate checks the plan against the schema contract.
func (p *IndicatorPlan) Validate() error {
	if len(p.Indicators) == 0 {
		return fmt.Errorf("kpis list missing or empty")
	}
	for i, ind := range p.Indicators {
		if ind.ID == "" || ind.Name == "" {
			return fmt.Errorf("kpi %d: id and name are required", i)
		}
	}
	return nil
}

// CollectedValue is one KPI value parsed out of the acquire conversation.
// Value is nil when the user deferred to the AI.
type CollectedValue struct {
	IndicatorID string  `json:"kpi_id"`
	Name        string  `json:"kpi_name"`
	Value       *string `json:"value"`
	Measure     string  `json:"measure"`
	AIDecided   bool    `json:"ai_decided"`
}

// CollectedValues is the structure stage's payload.
type CollectedValues struct {
	Values []CollectedValue `json:"collected_kpis"`
}

// Validate checks the collected values against the schema contract.
func (c *CollectedValues) Validate() error {
	if c.Values == nil {
		return fmt.Errorf("collected_kpis list missing")
	}
	for i, v := range c.Values {
		if v.IndicatorID == "" {
			return fmt.Errorf("collected kpi %d: kpi_id is required", i)
		}
	}
	return nil
}

// Score is one computed KVI value. Exact is nil when required KPIs were
// missing; Min/Max then bound the worst and best case.
type Score struct {
	Code        string   `json:"kvi_code"`
	Title       string   `json:"kvi_title"`
	Exact       *float64 `json:"exact"`
	Min         *float64 `json:"min"`
	Max         *float64 `json:"max"`
	Description string   `json:"description"`
}

// ScoreReport is the compute stage's payload for a single indicator.
type ScoreReport struct {
	Scores []Score `json:"calculations"`
}

// Validate checks the report against the schema contract.
func (r *ScoreReport) Validate() error {
	if len(r.Scores) == 0 {
		return fmt.Errorf("calculations list missing or empty")
	}
	for i, s := range r.Scores {
		if s.Code == "" {
			return fmt.Errorf("calculation %d: kvi_code is required", i)
		}
	}
	return nil
}

// validatable is implemented by every structured payload type.
type validatable interface {
	Validate() error
}

// DecodeStructured type-checks a raw generation payload against the declared
// schema kind. A decode or validation failure is the schema-mismatch case of
// the pipeline: recoverable, never fatal.
func DecodeStructured(kind SchemaKind, raw json.RawMessage) (any, error) {
	var target validatable
	switch kind {
	case SchemaCategorySelection:
		target = &CategorySelection{}
	case SchemaFinalCategories:
		target = &FinalCategorySelection{}
	case SchemaIndicatorPlan:
		target = &IndicatorPlan{}
	case SchemaCollectedValues:
		target = &CollectedValues{}
	case SchemaScoreReport:
		target = &ScoreReport{}
	default:
		return nil, fmt.Errorf("no schema declared for kind %q", kind)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty structured payload")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s payload: %w", kind, err)
	}
	return target, nil
}
