package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/a-h/sitechat/client"
	"github.com/a-h/sitechat/models"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

type ChatCommand struct {
	ServerURL string `help:"The URL of the chat server." env:"SITECHAT_URL" default:"http://localhost:9020"`
	Width     int    `help:"The width to wrap messages at." default:"80"`
}

func (c ChatCommand) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conv := newConversation(client.New(c.ServerURL, ""))

	var p *tea.Program
	m := newModel(ctx, conv, c.Width, func(msg tea.Msg) { p.Send(msg) })
	p = tea.NewProgram(m, tea.WithContext(ctx))
	if _, err = p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

type chatPoster interface {
	ChatPost(ctx context.Context, req models.ChatPostRequest, f func(ctx context.Context, delta string) error) error
}

// conversation holds the turns the server has seen. It is not safe for concurrent use.
type conversation struct {
	client  chatPoster
	history []models.ChatMessage
}

func newConversation(client chatPoster) *conversation {
	return &conversation{client: client}
}

// Ask sends the question with the previous turns and calls update with the
// whole conversation each time the answer grows. If the server fails before
// sending any text, the question is kept but the empty answer is dropped.
func (c *conversation) Ask(ctx context.Context, question string, update func([]models.ChatMessage)) error {
	c.history = append(c.history, models.ChatMessage{Role: models.RoleUser, Content: question})
	req := newChatRequest(c.history)
	update(slices.Clone(c.history))

	answerIndex := len(c.history)
	c.history = append(c.history, models.ChatMessage{Role: models.RoleAssistant})
	var sb strings.Builder
	err := c.client.ChatPost(ctx, req, func(ctx context.Context, delta string) error {
		sb.WriteString(delta)
		c.history[answerIndex].Content = sb.String()
		update(slices.Clone(c.history))
		return ctx.Err()
	})
	if err != nil && sb.Len() == 0 {
		c.history = c.history[:answerIndex]
	}
	return err
}

func (c *conversation) Reset() {
	c.history = nil
}

func newChatRequest(history []models.ChatMessage) (req models.ChatPostRequest) {
	req.Messages = make([]models.UIMessage, len(history))
	for i, m := range history {
		req.Messages[i] = models.UIMessage{
			ID:   strconv.Itoa(i + 1),
			Role: m.Role,
			Parts: []models.UIMessagePart{
				{Type: models.UIMessagePartTypeText, Text: m.Content},
			},
		}
	}
	return req
}

// Dracula color scheme.
var (
	Background  = lipgloss.Color("#282a36")
	CurrentLine = lipgloss.Color("#44475a")
	Comment     = lipgloss.Color("#6272a4")
	Cyan        = lipgloss.Color("#8be9fd")
	Pink        = lipgloss.Color("#ff79c6")
	Purple      = lipgloss.Color("#bd93f9")
	Red         = lipgloss.Color("#ff5555")
)

var headerStyle = lipgloss.NewStyle().Background(CurrentLine).Foreground(Purple).Bold(true).Margin(10).Padding(1).PaddingTop(0)

var header = `
 _______  ___   _______  _______  _______  __   __  _______  _______
|       ||   | |       ||       ||       ||  | |  ||   _   ||       |
|  _____||   | |_     _||    ___||       ||  |_|  ||  |_|  ||_     _|
| |_____ |   |   |   |  |   |___ |       ||       ||       |  |   |
|_____  ||   |   |   |  |    ___||      _||       ||       |  |   |
 _____| ||   |   |   |  |   |___ |     |_ |   _   ||   _   |  |   |
|_______||___|   |___|  |_______||_______||__| |__||__| |__|  |___|
`

var (
	statusStyle = lipgloss.NewStyle().Padding(0, 1).Margin(0, 1).Foreground(Comment)
	errorStyle  = lipgloss.NewStyle().Padding(0, 1).Margin(0, 1).Foreground(Red)
)

const resetCommand = "/reset"

type historyMsg []models.ChatMessage

type answerDoneMsg struct {
	err error
}

type model struct {
	ctx     context.Context
	conv    *conversation
	send    func(tea.Msg)
	width   int
	waiting bool
	err     error

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
}

func newModel(ctx context.Context, conv *conversation, width int, send func(tea.Msg)) model {
	ta := textarea.New()
	ta.Placeholder = "Ask a question, or type /reset to start again..."
	ta.Prompt = "┃ "
	ta.CharLimit = 1000
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	vp := viewport.New(width, 20)
	vp.SetContent(headerStyle.Render(header))

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(Purple)))

	return model{
		ctx:      ctx,
		conv:     conv,
		send:     send,
		width:    width,
		viewport: vp,
		textarea: ta,
		spinner:  sp,
	}
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

// ask runs in a tea.Cmd goroutine. The model won't start another while waiting is set.
func (m model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		err := m.conv.Ask(m.ctx, question, func(history []models.ChatMessage) {
			m.send(historyMsg(history))
		})
		return answerDoneMsg{err: err}
	}
}

var roleToStyle = map[models.Role]lipgloss.Style{
	models.RoleUser:      lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Pink),
	models.RoleAssistant: lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Cyan),
}

var roleToIcon = map[models.Role]string{
	models.RoleUser:      "🥷",
	models.RoleAssistant: "✨",
}

func formatMessage(msg models.ChatMessage, width int) string {
	style, ok := roleToStyle[msg.Role]
	if !ok {
		return msg.Content
	}
	wrapped := wordwrap.String(strings.TrimSpace(roleToIcon[msg.Role]+" "+msg.Content), width)
	return style.Render(wrapped)
}

func formatHistory(history []models.ChatMessage, width int) string {
	var sb strings.Builder
	for _, msg := range history {
		if msg.Role == models.RoleAssistant && msg.Content == "" {
			continue
		}
		sb.WriteString(formatMessage(msg, width))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case historyMsg:
		m.viewport.SetContent(formatHistory(msg, m.width))
		m.viewport.GotoBottom()
		return m, nil
	case answerDoneMsg:
		m.waiting = false
		m.err = msg.err
		return m, nil
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		m.textarea.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd
	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case cursor.BlinkMsg:
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) submit() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" || m.waiting {
		return m, nil
	}
	m.textarea.Reset()
	m.err = nil
	if v == resetCommand {
		m.conv.Reset()
		m.viewport.SetContent(headerStyle.Render(header))
		return m, nil
	}
	m.waiting = true
	return m, tea.Batch(m.spinner.Tick, m.ask(v))
}

func (m model) status() string {
	switch {
	case m.waiting:
		return statusStyle.Render(m.spinner.View() + " thinking...")
	case m.err != nil:
		return errorStyle.Render(fmt.Sprintf("error: %v", m.err))
	}
	return statusStyle.Render("enter to send, esc to quit")
}

func (m model) View() string {
	return fmt.Sprintf("%s\n%s\n%s\n\n", m.viewport.View(), m.status(), m.textarea.View())
}
