package chatui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/BenDundee/ravana/internal/llm"
	"github.com/BenDundee/ravana/internal/logging"
)

const (
	headerHeight = 2
	inputHeight  = 5
	footerHeight = 2

	placeholder = "Ask your coach... (Enter to send, Alt+Enter for newline)"
)

// Options tunes the chat model.
type Options struct {
	// Title is shown in the header.
	Title string
	// Timeout bounds one request. Zero means five minutes.
	Timeout time.Duration
	// Style is a glamour standard style name, or "auto".
	Style string
}

type (
	responseMsg string
	errorMsg    struct{ err error }
)

// Model is the bubbletea model for the chat screen.
type Model struct {
	sender Sender
	opts   Options
	styles Styles

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	history []llm.Message
	loading bool
	ready   bool
	width   int
}

// New returns a chat model talking to sender.
func New(sender Sender, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "ravana"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Style == "" {
		opts.Style = "auto"
	}
	styles := DefaultStyles()

	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Assistant

	return Model{
		sender:   sender,
		opts:     opts,
		styles:   styles,
		textarea: ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
}

// History returns a copy of the conversation so far.
func (m Model) History() []llm.Message {
	return append([]llm.Message(nil), m.history...)
}

// Loading reports whether a request is in flight.
func (m Model) Loading() bool { return m.loading }

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+l":
			m.history = nil
			m.textarea.Reset()
			m.refresh()
			logging.Chat("Conversation cleared")
			return m, nil
		}
		if msg.Type == tea.KeyEnter && !msg.Alt {
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case responseMsg:
		m.loading = false
		m.history = append(m.history, llm.Message{Role: llm.RoleAssistant, Content: string(msg)})
		m.refresh()
		return m, nil

	case errorMsg:
		m.loading = false
		logging.ChatError("Request failed: %v", msg.err)
		m.history = append(m.history, llm.Message{Role: llm.RoleAssistant, Content: "[Error] " + msg.err.Error()})
		m.refresh()
		return m, nil
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" || m.loading {
		return m, nil
	}
	m.history = append(m.history, llm.Message{Role: llm.RoleUser, Content: input})
	m.textarea.Reset()
	m.loading = true
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.send(m.History()))
}

// send runs one request off the update loop.
func (m Model) send(history []llm.Message) tea.Cmd {
	sender, timeout := m.sender, m.opts.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reply, err := sender.Send(ctx, history)
		if err != nil {
			return errorMsg{err: err}
		}
		return responseMsg(reply)
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	vpHeight := max(height-headerHeight-inputHeight-footerHeight, 1)
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.textarea.SetWidth(max(width-4, 1))

	var style glamour.TermRendererOption
	if m.opts.Style == "auto" {
		style = glamour.WithAutoStyle()
	} else {
		style = glamour.WithStandardStyle(m.opts.Style)
	}
	if r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(max(width-4, 20))); err == nil {
		m.renderer = r
	}
	m.ready = true
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.history {
		if msg.Role == llm.RoleUser {
			sb.WriteString(m.styles.User.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.Content))
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(m.styles.Assistant.Render("Coach") + "\n")
		if strings.HasPrefix(msg.Content, "[Error]") {
			sb.WriteString(m.styles.Error.Render(msg.Content) + "\n\n")
			continue
		}
		sb.WriteString(m.renderMarkdown(msg.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderMarkdown falls back to plain text if glamour fails or panics.
func (m Model) renderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()
	if m.renderer != nil && content != "" {
		if rendered, err := m.renderer.Render(content); err == nil {
			return rendered
		}
	}
	return content + "\n"
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	var sb strings.Builder
	sb.WriteString(m.styles.Header.Render(m.opts.Title) + "\n\n")
	sb.WriteString(m.viewport.View() + "\n")
	if m.loading {
		sb.WriteString(m.spinner.View() + m.styles.Muted.Render(" Thinking...") + "\n")
	} else {
		sb.WriteString("\n")
	}
	sb.WriteString(m.styles.Input.Render(m.textarea.View()) + "\n")
	sb.WriteString(m.styles.Muted.Render("enter send • alt+enter newline • ctrl+l clear • esc quit"))
	return sb.String()
}

// Run starts the full-screen chat program and blocks until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, sender Sender, opts Options) error {
	logging.Chat("Starting chat UI")
	p := tea.NewProgram(New(sender, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
