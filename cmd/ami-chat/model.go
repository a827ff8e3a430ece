package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/session"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	amiStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// shell routes controller output into the bubbletea program. Observers and
// ports only signal; the model reads the controller from Update.
type shell struct {
	changed chan struct{}
	notices chan string
}

func newShell() *shell {
	return &shell{changed: make(chan struct{}, 1), notices: make(chan string, 16)}
}

func (s *shell) observe(session.State) {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *shell) post(line string) {
	select {
	case s.notices <- line:
	default:
	}
}

func (s *shell) Notify(_ context.Context, n conversation.Notice) {
	line := n.Title
	if n.Description != "" {
		line += ": " + n.Description
	}
	if n.Action != nil {
		cmd := "/breathe"
		if n.Action.Kind == conversation.ActionNavigate {
			cmd = "/expert"
		}
		line += fmt.Sprintf("  [%s] %s", n.Action.Label, cmd)
	}
	s.post(line)
}

func (s *shell) Navigate(_ context.Context, route string) error {
	s.post("↪ " + route)
	return nil
}

type stateChangedMsg struct{}

type noticeMsg string

type errMsg struct{ err error }

func (s *shell) waitForState() tea.Cmd {
	return func() tea.Msg {
		<-s.changed
		return stateChangedMsg{}
	}
}

func (s *shell) waitForNotice() tea.Cmd {
	return func() tea.Msg { return noticeMsg(<-s.notices) }
}

type model struct {
	ctrl  *session.Controller
	shell *shell

	state  session.State
	input  textinput.Model
	view   viewport.Model
	spin   spinner.Model
	status string
	ready  bool
}

func newModel(ctrl *session.Controller, sh *shell) model {
	in := textinput.New()
	in.Placeholder = "Nhập tin nhắn, /voice, /1../5 gợi ý"
	in.Focus()
	in.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		ctrl:  ctrl,
		shell: sh,
		state: ctrl.State(),
		input: in,
		view:  viewport.New(80, 20),
		spin:  sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.shell.waitForState(), m.shell.waitForNotice())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-6, 3)
		m.input.Width = msg.Width - 4
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			cmds = append(cmds, m.enter())
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
			m.ctrl.RecordInteraction()
			m.ctrl.SetInput(m.input.Value())
		}

	case stateChangedMsg:
		m.refresh()
		cmds = append(cmds, m.shell.waitForState())

	case noticeMsg:
		m.status = string(msg)
		cmds = append(cmds, m.shell.waitForNotice())

	case errMsg:
		m.status = msg.err.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	default:
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// enter runs a slash command or submits the input line.
func (m *model) enter() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	m.ctrl.RecordInteraction()
	if line == "" {
		return nil
	}
	ctx := context.Background()
	var err error
	switch {
	case line == "/voice":
		m.clearInput()
		m.ctrl.ToggleVoiceCapture()
	case line == "/breathe":
		m.clearInput()
		err = m.ctrl.Activate(ctx, conversation.Action{Kind: conversation.ActionBreathing})
	case line == "/expert":
		m.clearInput()
		err = m.ctrl.Activate(ctx, conversation.Action{Kind: conversation.ActionNavigate})
	case strings.HasPrefix(line, "/"):
		n, convErr := strconv.Atoi(line[1:])
		suggestions := m.ctrl.Suggestions()
		if convErr != nil || n < 1 || n > len(suggestions) {
			m.status = fmt.Sprintf("Không có lệnh %s", line)
			return nil
		}
		m.ctrl.SelectSuggestion(suggestions[n-1])
	default:
		err = m.ctrl.Submit(ctx, line)
		if err == nil {
			m.input.SetValue("")
		}
	}
	m.refresh()
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	return nil
}

func (m *model) clearInput() {
	m.input.SetValue("")
	m.ctrl.SetInput("")
}

// refresh pulls the latest snapshot and re-renders the transcript.
func (m *model) refresh() {
	m.state = m.ctrl.State()
	if m.state.InputBuffer != m.input.Value() {
		m.input.SetValue(m.state.InputBuffer)
		m.input.CursorEnd()
	}
	m.view.SetContent(renderMessages(m.state.Messages.Messages(), m.view.Width))
	m.view.GotoBottom()
}

func renderMessages(msgs []conversation.Message, width int) string {
	wrap := lipgloss.NewStyle().Width(max(width-2, 20))
	var sb strings.Builder
	for _, msg := range msgs {
		if msg.FromCompanion() {
			sb.WriteString(amiStyle.Render("Ami: "))
		} else {
			sb.WriteString(userStyle.Render("Bạn: "))
		}
		sb.WriteString(wrap.Render(msg.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (m model) View() string {
	if !m.ready {
		return "Đang khởi động...\n"
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Ami (%s)", m.state.Mood.Avatar())))
	sb.WriteString("\n")
	sb.WriteString(m.view.View())
	sb.WriteString("\n")

	switch {
	case m.state.AwaitingReply:
		sb.WriteString(m.spin.View() + " Ami đang soạn tin...")
	case m.state.CapturingVoice:
		sb.WriteString(noticeStyle.Render("● Đang ghi âm, gõ /voice để dừng"))
	case m.state.Vocalizing:
		sb.WriteString(hintStyle.Render("🔊 Ami đang nói"))
	case m.state.Messages.Len() <= 1:
		sb.WriteString(hintStyle.Render(suggestionHint(m.ctrl.Suggestions())))
	}
	sb.WriteString("\n")
	if m.status != "" {
		sb.WriteString(noticeStyle.Render(m.status))
	}
	sb.WriteString("\n")
	sb.WriteString(m.input.View())
	return sb.String()
}

func suggestionHint(list []string) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = fmt.Sprintf("/%d %s", i+1, s)
	}
	return strings.Join(parts, "  ")
}
