// Package tui implements the interactive terminal chat client for the
// KVI mapping pipeline.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kviflow/kviflow/internal/core"
	"github.com/kviflow/kviflow/internal/events"
	"github.com/kviflow/kviflow/internal/orchestrator"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	dimColor     = lipgloss.Color("#9CA3AF") // Light gray
	borderColor  = lipgloss.Color("#374151") // Border
)

var (
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	stageBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB")).
			Background(primaryColor).
			Padding(0, 1).
			Bold(true)

	userLabelStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true)

	systemMsgStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Italic(true)

	errorMsgStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(primaryColor)
)

// Pipeline is the orchestrator surface the chat client depends on.
type Pipeline interface {
	ProcessTurnStream(ctx context.Context, sessionID, message string, emit orchestrator.Emitter)
}

type chatRole int

const (
	roleUser chatRole = iota
	roleAssistant
	roleSystem
	roleError
)

type chatMessage struct {
	role    chatRole
	stage   core.Stage
	content string
}

// turnEventMsg wraps one pipeline event for the update loop.
type turnEventMsg struct {
	event events.Event
}

// Model is the bubbletea model for the chat client.
type Model struct {
	pipeline  Pipeline
	sessionID string

	viewport   viewport.Model
	textarea   textarea.Model
	spinner    spinner.Model
	mdRenderer *glamour.TermRenderer

	messages  []chatMessage
	stage     core.Stage
	streaming bool
	partial   string

	// Content deltas ride a droppable ring-buffer subscription so a lagging
	// terminal cannot block the pipeline; everything else arrives on the
	// blocking priority subscription and is never dropped.
	contentCh <-chan events.Event
	eventCh   <-chan events.Event

	width  int
	height int
	ready  bool
}

// NewModel creates a chat model bound to a pipeline and session.
func NewModel(pipeline Pipeline, sessionID string) Model {
	ta := textarea.New()
	ta.Placeholder = "Describe your service..."
	ta.Focus()
	ta.Prompt = ""
	ta.CharLimit = 4096
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return Model{
		pipeline:   pipeline,
		sessionID:  sessionID,
		textarea:   ta,
		spinner:    sp,
		mdRenderer: renderer,
		stage:      core.StageIntake,
		messages: []chatMessage{{
			role:    roleSystem,
			content: "Welcome to the KVI mapping interview. Tell me about your service to get started.",
		}},
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

// submitTurn starts a streaming turn and returns the command that waits
// for its first event.
func (m *Model) submitTurn(message string) tea.Cmd {
	bus := events.NewBus(64)
	m.contentCh = bus.Subscribe(events.TypeContent)
	m.eventCh = bus.SubscribePriority()
	m.streaming = true
	m.partial = ""

	pipeline := m.pipeline
	sessionID := m.sessionID
	go func() {
		defer bus.Close()
		pipeline.ProcessTurnStream(context.Background(), sessionID, message,
			orchestrator.EmitterFunc(func(ev events.Event) {
				if ev.EventType() == events.TypeContent {
					bus.Publish(ev)
					return
				}
				bus.PublishPriority(ev)
			}))
	}()
	return m.waitForEvent()
}

// waitForEvent reads the next pipeline event from either subscription.
func (m *Model) waitForEvent() tea.Cmd {
	contentCh, eventCh := m.contentCh, m.eventCh
	return func() tea.Msg {
		select {
		case ev, ok := <-contentCh:
			if ok {
				return turnEventMsg{event: ev}
			}
			if ev, ok := <-eventCh; ok {
				return turnEventMsg{event: ev}
			}
			return nil
		case ev, ok := <-eventCh:
			if ok {
				return turnEventMsg{event: ev}
			}
			return nil
		}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		inputHeight := 5
		vpHeight := msg.Height - headerHeight - inputHeight
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.textarea.SetWidth(msg.Width - 4)
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.streaming {
				break
			}
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				break
			}
			m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
			m.textarea.Reset()
			m.refreshViewport()
			return m, tea.Batch(m.submitTurn(text), m.spinner.Tick)
		}

	case turnEventMsg:
		cmd := m.handleEvent(msg.event)
		m.refreshViewport()
		if cmd != nil {
			cmds = append(cmds, cmd)
		}

	case spinner.TickMsg:
		if m.streaming {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleEvent folds one pipeline event into the message list. Returns
// the command to wait for the next event, or nil on a terminal event.
func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	switch e := ev.(type) {
	case events.StatusEvent:
		m.stage = e.Stage

	case events.ContentEvent:
		m.partial += e.Delta

	case events.AgentCompleteEvent:
		m.partial = ""
		if e.FullText != "" {
			m.messages = append(m.messages, chatMessage{
				role:    roleAssistant,
				stage:   e.Stage,
				content: e.FullText,
			})
		}

	case events.TransitionEvent:
		m.stage = e.To
		if e.Announcement != "" {
			m.messages = append(m.messages, chatMessage{role: roleSystem, content: e.Announcement})
		}

	case events.CompleteEvent:
		m.stage = e.FinalStage
		m.streaming = false
		m.partial = ""
		return nil

	case events.ErrorEvent:
		m.streaming = false
		m.partial = ""
		m.messages = append(m.messages, chatMessage{role: roleError, content: e.Message})
		return nil
	}
	return m.waitForEvent()
}

// refreshViewport re-renders the conversation into the viewport.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.messages {
		switch msg.role {
		case roleUser:
			b.WriteString(userLabelStyle.Render("You") + "\n")
			b.WriteString("  " + msg.content + "\n\n")
		case roleAssistant:
			label := "Assistant"
			if msg.stage != "" {
				label = fmt.Sprintf("Assistant [%s]", msg.stage)
			}
			b.WriteString(assistantLabelStyle.Render(label) + "\n")
			b.WriteString(m.renderMarkdown(msg.content) + "\n")
		case roleSystem:
			b.WriteString(systemMsgStyle.Render(msg.content) + "\n\n")
		case roleError:
			b.WriteString(errorMsgStyle.Render("Error: "+msg.content) + "\n\n")
		}
	}
	if m.streaming && m.partial != "" {
		b.WriteString(assistantLabelStyle.Render(fmt.Sprintf("Assistant [%s]", m.stage)) + "\n")
		b.WriteString("  " + m.partial + "\n")
	}
	return b.String()
}

func (m *Model) renderMarkdown(content string) string {
	if m.mdRenderer == nil {
		return "  " + content
	}
	out, err := m.mdRenderer.Render(content)
	if err != nil {
		return "  " + content
	}
	return strings.TrimRight(out, "\n")
}

// View renders the UI.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := logoStyle.Render("kviflow") + "  " + stageBadgeStyle.Render(string(m.stage))
	if m.streaming {
		header += "  " + m.spinner.View() + helpStyle.Render(" thinking...")
	}

	help := helpStyle.Render("enter: send  •  esc: quit")

	return header + "\n" +
		m.viewport.View() + "\n" +
		inputBoxStyle.Width(m.width-2).Render(m.textarea.View()) + "\n" +
		help
}
