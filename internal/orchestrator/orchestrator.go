// Package orchestrator drives the KVI mapping pipeline: it routes each
// user turn to the session's current stage, advances through structured
// cascades, and keeps the per-session stage results.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/events"
	"github.com/kviflow/kviflow/internal/logging"
	"github.com/kviflow/kviflow/internal/stage"
)

// Emitter receives the typed events of one streaming turn.
type Emitter interface {
	Emit(ev events.Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev events.Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev events.Event) { f(ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(events.Event) {}

// TurnResult is the outcome of one successfully processed user turn.
type TurnResult struct {
	Reply   string
	History []core.Message
	Stage   core.Stage
}

// Orchestrator processes user turns against the stage pipeline. One
// logical flow per session turn: generation calls happen strictly in
// program order, and a turn commits its session mutation at most once.
type Orchestrator struct {
	registry *stage.Registry
	agent    core.GenerationAgent
	sessions core.SessionStore
	builder  *ContextBuilder
	ref      core.ReferenceData
	logger   *logging.Logger

	mu       sync.Mutex
	results  map[string]*ResultStore
	turnLock map[string]*sync.Mutex
}

// New creates an orchestrator.
func New(registry *stage.Registry, agent core.GenerationAgent, sessions core.SessionStore, ref core.ReferenceData, logger *logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	builder, err := NewContextBuilder(ref)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		registry: registry,
		agent:    agent,
		sessions: sessions,
		builder:  builder,
		ref:      ref,
		logger:   logger,
		results:  make(map[string]*ResultStore),
		turnLock: make(map[string]*sync.Mutex),
	}
	// Stage results live only as long as their session does.
	if n, ok := sessions.(core.EvictionNotifier); ok {
		n.OnEvict(o.DiscardRun)
	}
	return o, nil
}

// DiscardRun drops the per-session stage results and turn lock. Called
// when the session store removes a session, so a session recreated under
// the same ID starts a clean run.
func (o *Orchestrator) DiscardRun(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.results, sessionID)
	delete(o.turnLock, sessionID)
}

// Registry exposes the stage registry for read-only queries.
func (o *Orchestrator) Registry() *stage.Registry {
	return o.registry
}

// Results returns the committed result store of a session, or an empty
// store. Used by queries and tests; turns operate on staged clones.
func (o *Orchestrator) Results(sessionID string) *ResultStore {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.results[sessionID]; ok {
		return s
	}
	return NewResultStore()
}

func (o *Orchestrator) lockSession(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.turnLock[id]
	if !ok {
		l = &sync.Mutex{}
		o.turnLock[id] = l
	}
	return l
}

// ProcessTurn handles one user message and blocks until the whole
// cascade has run. The reply combines every user-visible piece the
// cascade produced.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	return o.processTurn(ctx, sessionID, message, nopEmitter{})
}

// ProcessTurnStream handles one user message, emitting typed events as
// the cascade progresses. Exactly one terminal event is emitted: a
// complete event on success, an error event on failure.
func (o *Orchestrator) ProcessTurnStream(ctx context.Context, sessionID, message string, emit Emitter) {
	result, err := o.processTurn(ctx, sessionID, message, emit)
	if err != nil {
		emit.Emit(events.NewErrorEvent(sessionID, err.Error()))
		return
	}
	emit.Emit(events.NewCompleteEvent(sessionID, result.Reply, result.Stage, result.History))
}

func (o *Orchestrator) processTurn(ctx context.Context, sessionID, message string, emit Emitter) (*TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, core.ErrValidation(core.CodeEmptyMessage, "message must not be empty")
	}
	if len(message) > core.MaxMessageLength {
		return nil, core.ErrValidation(core.CodeMessageTooLong,
			fmt.Sprintf("message exceeds %d characters", core.MaxMessageLength))
	}

	sess, err := o.sessions.GetOrCreate(ctx, sessionID, o.registry.First())
	if err != nil {
		return nil, err
	}

	lock := o.lockSession(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	log := o.logger.WithSession(sess.ID)
	staged := o.Results(sess.ID).Clone()

	cur := sess.Stage
	desc, err := o.registry.Resolve(cur)
	if err != nil {
		return nil, err
	}
	if !desc.Conversational {
		// Sessions only ever rest on conversational stages; anything else
		// means the stored stage is stale or was excluded after the fact.
		return nil, core.ErrState(core.CodeInvalidConfig,
			fmt.Sprintf("session parked on non-conversational stage %s", cur))
	}

	log.Info("processing turn", "stage", cur, "message_len", len(message))

	// Current conversational stage answers the user's message.
	emit.Emit(events.NewStatusEvent(sess.ID, cur))
	reply, err := o.generateText(ctx, sess.ID, desc, staged, sess.Messages, message, emit)
	if err != nil {
		return nil, err
	}
	emit.Emit(events.NewAgentCompleteEvent(sess.ID, cur, reply))

	history := append(core.CloneHistory(sess.Messages),
		core.UserMessage(message), core.AssistantMessage(reply))
	replyParts := []string{reply}

	if desc.IsComplete(reply) {
		log.Info("stage complete", "stage", cur)
		staged.Put(&core.StageResult{
			Key:     core.KeyFor(cur),
			Text:    reply,
			History: core.CloneHistory(history),
		})

		cur, history, replyParts, err = o.cascade(ctx, sess.ID, cur, staged, history, replyParts, emit)
		if err != nil {
			return nil, err
		}
	}

	finalReply := strings.Join(replyParts, "\n\n")
	if err := o.sessions.ReplaceTurn(ctx, sess.ID, history, cur); err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.results[sess.ID] = staged
	o.mu.Unlock()

	return &TurnResult{Reply: finalReply, History: history, Stage: cur}, nil
}

// cascade advances through structured stages until the pipeline reaches
// the next conversational stage (or the end). A schema mismatch halts
// the cascade and leaves the session on cur.
func (o *Orchestrator) cascade(ctx context.Context, sessionID string, cur core.Stage, staged *ResultStore, history []core.Message, replyParts []string, emit Emitter) (core.Stage, []core.Message, []string, error) {
	log := o.logger.WithSession(sessionID)

	for next := o.registry.Next(cur); next != core.StageDone; next = o.registry.Next(cur) {
		desc, err := o.registry.Resolve(next)
		if err != nil {
			return cur, history, replyParts, err
		}
		emit.Emit(events.NewTransitionEvent(sessionID, cur, next, desc.Announcement))

		if desc.Conversational {
			// Entering a conversational stage ends the cascade: issue its
			// opening message on a deliberately minimal history.
			emit.Emit(events.NewStatusEvent(sessionID, next))
			opening, err := o.generateText(ctx, sessionID, desc, staged, nil, desc.TriggerPrompt, emit)
			if err != nil {
				return cur, history, replyParts, err
			}
			emit.Emit(events.NewAgentCompleteEvent(sessionID, next, opening))

			if desc.Announcement != "" {
				replyParts = append(replyParts, desc.Announcement)
			}
			replyParts = append(replyParts, opening)
			history = []core.Message{core.AssistantMessage(opening)}
			return next, history, replyParts, nil
		}

		if desc.Name == core.StageCompute {
			summary, err := o.runCompute(ctx, sessionID, desc, staged, emit)
			if err != nil {
				return cur, history, replyParts, err
			}
			if summary != "" {
				replyParts = append(replyParts, summary)
				history = append(history, core.AssistantMessage(summary))
			}
			cur = next
			continue
		}

		emit.Emit(events.NewStatusEvent(sessionID, next))
		prompt, err := o.builder.Build(next, staged, history, desc.TriggerPrompt)
		if err != nil {
			return cur, history, replyParts, err
		}
		res, err := o.agent.Generate(ctx, core.GenerateRequest{
			Stage:        next,
			Model:        desc.Model,
			SystemPrompt: desc.SystemPrompt,
			Prompt:       prompt,
			Schema:       desc.Schema,
		})
		if err != nil {
			return cur, history, replyParts, core.ErrProvider(
				fmt.Sprintf("generation failed on stage %s", next), err)
		}

		payload, decodeErr := core.DecodeStructured(desc.Schema, res.Structured)
		if decodeErr != nil {
			// Recoverable: apologize, halt the cascade, stay on cur so the
			// next user turn retries from the same place.
			log.Warn("schema mismatch, halting cascade",
				"stage", next, "error", decodeErr)
			replyParts = append(replyParts, desc.Apology)
			history = append(history, core.AssistantMessage(desc.Apology))
			return cur, history, replyParts, nil
		}
		payload = o.applySelectionCap(desc, payload)

		visible := o.formatStructured(next, payload)
		if visible != "" {
			replyParts = append(replyParts, visible)
			history = append(history, core.AssistantMessage(visible))
		}
		staged.Put(&core.StageResult{
			Key:        core.KeyFor(next),
			Text:       visible,
			Structured: payload,
			History:    core.CloneHistory(history),
		})
		emit.Emit(events.NewAgentCompleteEvent(sessionID, next, visible))
		log.Info("structured stage advanced", "stage", next)
		cur = next
	}
	return cur, history, replyParts, nil
}

// generateText runs one streaming free-text generation for a
// conversational stage.
func (o *Orchestrator) generateText(ctx context.Context, sessionID string, desc *stage.Descriptor, staged *ResultStore, history []core.Message, latest string, emit Emitter) (string, error) {
	prompt, err := o.builder.Build(desc.Name, staged, history, latest)
	if err != nil {
		return "", err
	}
	res, err := o.agent.Generate(ctx, core.GenerateRequest{
		Stage:        desc.Name,
		Model:        desc.Model,
		SystemPrompt: desc.SystemPrompt,
		Prompt:       prompt,
		OnDelta: func(delta string) {
			emit.Emit(events.NewContentEvent(sessionID, desc.Name, delta))
		},
	})
	if err != nil {
		return "", core.ErrProvider(
			fmt.Sprintf("generation failed on stage %s", desc.Name), err)
	}
	return res.Text, nil
}

// runCompute executes the iterative sub-pipeline: one scoped structured
// call per (finalized category, registered indicator) pair, in category
// then indicator order. Partial failures become visible "no result"
// markers and the loop continues.
func (o *Orchestrator) runCompute(ctx context.Context, sessionID string, desc *stage.Descriptor, staged *ResultStore, emit Emitter) (string, error) {
	log := o.logger.WithSession(sessionID).WithStage(desc.Name.String())
	emit.Emit(events.NewStatusEvent(sessionID, desc.Name))

	var categories []core.CategoryRef
	if res := staged.ForStage(core.StageFinalize); res != nil {
		if final, ok := res.Structured.(*core.FinalCategorySelection); ok {
			categories = final.Categories
		}
	}
	if len(categories) == 0 {
		log.Warn("no finalized categories, nothing to compute")
	}

	var lines []string
	for _, cat := range categories {
		for _, ind := range o.ref.Indicators(cat.MainID, cat.SubID) {
			prompt, err := o.builder.BuildCompute(staged, ind, desc.TriggerPrompt)
			if err != nil {
				return "", err
			}
			res, err := o.agent.Generate(ctx, core.GenerateRequest{
				Stage:        desc.Name,
				Model:        desc.Model,
				SystemPrompt: desc.SystemPrompt,
				Prompt:       prompt,
				Schema:       desc.Schema,
			})
			if err != nil {
				return "", core.ErrProvider(
					fmt.Sprintf("calculation failed for %s", ind.Code), err)
			}

			key := core.KeyForIndicator(cat, ind.Code)
			payload, decodeErr := core.DecodeStructured(desc.Schema, res.Structured)
			if decodeErr != nil {
				log.Warn("no structured result for indicator",
					"indicator", ind.Code, "error", decodeErr)
				marker := fmt.Sprintf("%s (%s): no result", ind.Title, ind.Code)
				staged.Put(&core.StageResult{Key: key, Text: marker})
				lines = append(lines, "- "+marker)
				emit.Emit(events.NewAgentCompleteEvent(sessionID, desc.Name, marker))
				continue
			}

			report := payload.(*core.ScoreReport)
			text := formatScores(report)
			staged.Put(&core.StageResult{Key: key, Text: text, Structured: report})
			lines = append(lines, text)
			emit.Emit(events.NewAgentCompleteEvent(sessionID, desc.Name, text))
		}
	}

	if len(lines) == 0 {
		return "", nil
	}
	return "Here are your calculated KVI values:\n\n" + strings.Join(lines, "\n"), nil
}

// applySelectionCap truncates the extract stage's category list to the
// configured cap.
func (o *Orchestrator) applySelectionCap(desc *stage.Descriptor, payload any) any {
	if desc.MaxSelections <= 0 {
		return payload
	}
	if sel, ok := payload.(*core.CategorySelection); ok && len(sel.Categories) > desc.MaxSelections {
		sel.Categories = sel.Categories[:desc.MaxSelections]
	}
	return payload
}

// formatStructured renders the user-visible text for a structured
// stage's payload.
func (o *Orchestrator) formatStructured(stageName core.Stage, payload any) string {
	switch v := payload.(type) {
	case *core.CategorySelection:
		return o.formatCategories(v.Categories,
			"Based on our conversation, here are the most relevant KVI categories for your service:")
	case *core.FinalCategorySelection:
		return o.formatCategories(v.Categories,
			"Here are your finalized KVI categories:")
	case *core.IndicatorPlan:
		var b strings.Builder
		b.WriteString("To calculate your KVIs, the following KPIs should be collected:\n\n")
		for i, ind := range v.Indicators {
			fmt.Fprintf(&b, "%d. **%s** (%s)\n", i+1, ind.Name, ind.Measure)
		}
		return strings.TrimRight(b.String(), "\n")
	case *core.CollectedValues:
		return fmt.Sprintf("Recorded %d KPI values for analysis.", len(v.Values))
	default:
		return ""
	}
}

func (o *Orchestrator) formatCategories(refs []core.CategoryRef, heading string) string {
	if len(refs) == 0 {
		return "No relevant KVI categories identified."
	}
	var b strings.Builder
	b.WriteString(heading + "\n\n")
	for i, ref := range refs {
		mainName, subName := o.ref.CategoryNames(ref.MainID, ref.SubID)
		fmt.Fprintf(&b, "%d. %s → %s\n", i+1, mainName, subName)
	}
	b.WriteString("\n💡 These categories represent the key value indicators that align with your service.")
	return b.String()
}

func formatScores(report *core.ScoreReport) string {
	var b strings.Builder
	for _, s := range report.Scores {
		fmt.Fprintf(&b, "- **%s** (%s): exact=%s, min=%s, max=%s\n  %s\n",
			s.Title, s.Code, renderFloat(s.Exact), renderFloat(s.Min), renderFloat(s.Max), s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
