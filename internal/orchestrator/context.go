package orchestrator

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"github.com/kviflow/kviflow/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// notAvailable is rendered where a needed stage result was never
// produced. Missing upstream data degrades, it does not fail.
const notAvailable = "(not available)"

// ContextBuilder renders the per-turn prompt for each stage. Earlier
// stage outputs are re-injected from the result store on every turn;
// the pipeline never relies on conversational memory across stage
// boundaries. Rendering is deterministic: identical store contents and
// history produce byte-identical text.
type ContextBuilder struct {
	templates map[string]*template.Template
	ref       core.ReferenceData
}

// NewContextBuilder loads the embedded prompt templates.
func NewContextBuilder(ref core.ReferenceData) (*ContextBuilder, error) {
	b := &ContextBuilder{
		templates: make(map[string]*template.Template),
		ref:       ref,
	}
	err := fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}
		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		b.templates[name] = tmpl
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return b, nil
}

// intakeParams renders the plain interview turn.
type intakeParams struct {
	Conversation string
}

// extractParams renders the category extraction call.
type extractParams struct {
	Interview   string
	Taxonomy    string
	Instruction string
}

// evaluateParams renders a category refinement turn.
type evaluateParams struct {
	ExtractedCategories string
	Taxonomy            string
	Conversation        string
}

// finalizeParams renders the final category selection call.
type finalizeParams struct {
	ExtractedCategories string
	Refinement          string
	Taxonomy            string
	Instruction         string
}

// deriveParams renders the KPI generation call.
type deriveParams struct {
	Interview       string
	FinalCategories string
	Instruction     string
}

// acquireParams renders a value collection turn.
type acquireParams struct {
	IndicatorPlan string
	Conversation  string
}

// structureParams renders the value extraction call.
type structureParams struct {
	IndicatorPlan string
	Collection    string
	Instruction   string
}

// computeParams renders one scoped calculation call.
type computeParams struct {
	Code            string
	Title           string
	Description     string
	CollectedValues string
	ServiceContext  string
	Instruction     string
}

// adviseParams renders an advisory turn.
type adviseParams struct {
	Calculations    string
	CollectedValues string
	FinalCategories string
	Conversation    string
}

// Build renders the prompt for a stage turn. latest is the user's
// message, or the stage's trigger prompt during a cascade.
func (b *ContextBuilder) Build(stage core.Stage, results *ResultStore, history []core.Message, latest string) (string, error) {
	switch stage {
	case core.StageIntake:
		return b.render("intake", intakeParams{
			Conversation: renderConversation(history, latest),
		})
	case core.StageExtract:
		return b.render("extract", extractParams{
			Interview:   b.stageConversation(results, core.StageIntake),
			Taxonomy:    b.ref.Overview(),
			Instruction: latest,
		})
	case core.StageEvaluate:
		return b.render("evaluate", evaluateParams{
			ExtractedCategories: b.categoryList(results, core.StageExtract),
			Taxonomy:            b.ref.Overview(),
			Conversation:        renderConversation(history, latest),
		})
	case core.StageFinalize:
		return b.render("finalize", finalizeParams{
			ExtractedCategories: b.categoryList(results, core.StageExtract),
			Refinement:          b.stageConversation(results, core.StageEvaluate),
			Taxonomy:            b.ref.Overview(),
			Instruction:         latest,
		})
	case core.StageDerive:
		return b.render("derive", deriveParams{
			Interview:       b.stageConversation(results, core.StageIntake),
			FinalCategories: b.categoryList(results, core.StageFinalize),
			Instruction:     latest,
		})
	case core.StageAcquire:
		return b.render("acquire", acquireParams{
			IndicatorPlan: b.indicatorPlan(results),
			Conversation:  renderConversation(history, latest),
		})
	case core.StageStructure:
		return b.render("structure", structureParams{
			IndicatorPlan: b.indicatorPlan(results),
			Collection:    b.stageConversation(results, core.StageAcquire),
			Instruction:   latest,
		})
	case core.StageAdvise:
		return b.render("advise", adviseParams{
			Calculations:    b.calculations(results),
			CollectedValues: b.collectedValues(results),
			FinalCategories: b.categoryList(results, core.StageFinalize),
			Conversation:    renderConversation(history, latest),
		})
	default:
		return "", core.ErrUnknownStage(stage.String())
	}
}

// BuildCompute renders one scoped calculation prompt for a single
// (category, indicator) pair.
func (b *ContextBuilder) BuildCompute(results *ResultStore, indicator core.TaxonomyIndicator, instruction string) (string, error) {
	return b.render("compute", computeParams{
		Code:            indicator.Code,
		Title:           indicator.Title,
		Description:     indicator.Description,
		CollectedValues: b.collectedValues(results),
		ServiceContext:  b.stageConversation(results, core.StageIntake),
		Instruction:     instruction,
	})
}

func (b *ContextBuilder) render(name string, data any) (string, error) {
	tmpl, ok := b.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return buf.String(), nil
}

// renderConversation renders history plus the pending user message the
// way the generation agents expect it.
func renderConversation(history []core.Message, latest string) string {
	if len(history) == 0 && latest == "" {
		return notAvailable
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	if latest != "" {
		fmt.Fprintf(&b, "user: %s\n", latest)
	}
	return strings.TrimRight(b.String(), "\n")
}

// stageConversation renders the history snapshot a concluded stage left
// behind, or the placeholder.
func (b *ContextBuilder) stageConversation(results *ResultStore, stage core.Stage) string {
	res := results.ForStage(stage)
	if res == nil || len(res.History) == 0 {
		return notAvailable
	}
	return renderConversation(res.History, "")
}

// categoryList renders a stored category selection with resolved names.
func (b *ContextBuilder) categoryList(results *ResultStore, stage core.Stage) string {
	res := results.ForStage(stage)
	if res == nil {
		return notAvailable
	}
	refs := categoryRefs(res.Structured)
	if refs == nil {
		return notAvailable
	}
	var sb strings.Builder
	for i, ref := range refs {
		mainName, subName := b.ref.CategoryNames(ref.MainID, ref.SubID)
		fmt.Fprintf(&sb, "%d. %s → %s (main_id: %s, sub_id: %s)\n",
			i+1, mainName, subName, ref.MainID, ref.SubID)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func categoryRefs(structured any) []core.CategoryRef {
	switch v := structured.(type) {
	case *core.CategorySelection:
		return v.Categories
	case *core.FinalCategorySelection:
		return v.Categories
	default:
		return nil
	}
}

// indicatorPlan renders the derive stage's KPI list.
func (b *ContextBuilder) indicatorPlan(results *ResultStore) string {
	res := results.ForStage(core.StageDerive)
	if res == nil {
		return notAvailable
	}
	plan, ok := res.Structured.(*core.IndicatorPlan)
	if !ok {
		return notAvailable
	}
	var sb strings.Builder
	for _, ind := range plan.Indicators {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n  %s\n", ind.ID, ind.Name, ind.Measure, ind.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// collectedValues renders the structure stage's parsed values.
func (b *ContextBuilder) collectedValues(results *ResultStore) string {
	res := results.ForStage(core.StageStructure)
	if res == nil {
		return notAvailable
	}
	values, ok := res.Structured.(*core.CollectedValues)
	if !ok {
		return notAvailable
	}
	var sb strings.Builder
	for _, v := range values.Values {
		val := "AI will decide"
		if v.Value != nil {
			val = *v.Value
		}
		fmt.Fprintf(&sb, "- %s (%s): %s %s\n", v.Name, v.IndicatorID, val, v.Measure)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// calculations renders all per-indicator compute results in order.
func (b *ContextBuilder) calculations(results *ResultStore) string {
	computed := results.ComputeResults()
	if len(computed) == 0 {
		return notAvailable
	}
	var sb strings.Builder
	for _, res := range computed {
		report, ok := res.Structured.(*core.ScoreReport)
		if !ok {
			fmt.Fprintf(&sb, "- %s: no result\n", res.Key.Indicator)
			continue
		}
		for _, s := range report.Scores {
			fmt.Fprintf(&sb, "- %s (%s): exact=%s min=%s max=%s\n  %s\n",
				s.Title, s.Code, renderFloat(s.Exact), renderFloat(s.Min), renderFloat(s.Max), s.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderFloat(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", *f), "0"), ".")
}
