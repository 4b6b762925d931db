package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/tatianab/story-loop/internal/engine"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/prompt"
)

// AutosaveName is the save slot written after every round.
const AutosaveName = "current"

type sessionState int

const (
	stateLoading sessionState = iota
	statePlaying
	stateError
)

// Options configures the game client.
type Options struct {
	SaveDir  string
	Language language.Tag
	Logger   *zap.Logger
}

type model struct {
	state     sessionState
	engine    *engine.Engine
	session   *models.GameSession
	opts      Options
	textInput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	err       error
	width     int
	height    int
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	sceneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87AFD7")).
			Bold(true)

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D7D787"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F")).
			Bold(true)

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)
)

func NewModel(eng *engine.Engine, session *models.GameSession, opts Options) model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ti := textinput.New()
	ti.Placeholder = "输入 A/B/C 或你想做的事..."
	ti.Focus()
	ti.CharLimit = 200
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := model{
		state:     statePlaying,
		engine:    eng,
		session:   session,
		opts:      opts,
		textInput: ti,
		spinner:   sp,
		viewport:  viewport.New(80, 20),
	}
	if len(session.History) == 0 {
		m.state = stateLoading
	}
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
	return m
}

func (m model) Init() tea.Cmd {
	if m.state == stateLoading {
		return tea.Batch(m.spinner.Tick, m.startGame())
	}
	return textinput.Blink
}

// turnProcessedMsg carries the session a round was played on. The model
// only adopts it on success.
type turnProcessedMsg struct {
	turn    *engine.Turn
	session *models.GameSession
	err     error
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			switch m.state {
			case stateError:
				m.err = nil
				m.state = statePlaying
				if len(m.session.History) == 0 {
					m.state = stateLoading
					return m, tea.Batch(m.spinner.Tick, m.startGame())
				}
				return m, nil
			case statePlaying:
				return m.submit()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = int(float64(msg.Width) * 0.70)
		m.viewport.Height = max(msg.Height-10, 5)
		m.viewport.SetContent(m.renderLog())

	case spinner.TickMsg:
		if m.state != stateLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case turnProcessedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		if msg.session != nil {
			m.session = msg.session
		}
		m.state = statePlaying
		m.viewport.SetContent(m.renderLog())
		m.viewport.GotoBottom()
		if err := m.session.Save(m.opts.SaveDir, AutosaveName); err != nil {
			m.opts.Logger.Error("autosave failed", zap.Error(err))
		}
		return m, nil
	}

	if m.state == statePlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) submit() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.textInput.Value())
	if raw == "" {
		return m, nil
	}
	m.textInput.Reset()

	switch raw {
	case "/quit":
		return m, tea.Quit
	case "/restart":
		m.session = models.NewSession(m.session.Scenario)
		m.viewport.SetContent("")
		m.state = stateLoading
		return m, tea.Batch(m.spinner.Tick, m.startGame())
	}

	action := engine.ResolveInput(m.session.Options, raw)
	m.viewport.SetContent(m.renderLog() + "\n\n" + m.renderAction(action))
	m.viewport.GotoBottom()
	m.state = stateLoading
	return m, tea.Batch(m.spinner.Tick, m.playRound(action))
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateLoading:
		s = lipgloss.JoinVertical(lipgloss.Left,
			m.mainView(),
			"\n  "+m.spinner.View()+" 故事正在展开...",
		)

	case statePlaying:
		help := helpStyle.Render("输入 A/B/C 选择行动，或直接描述你想做的事。命令：/restart、/quit")
		s = lipgloss.JoinVertical(lipgloss.Left,
			m.mainView(),
			m.renderOptions(),
			"\n"+m.textInput.View(),
			"\n"+help,
		)

	case stateError:
		s = lipgloss.JoinVertical(lipgloss.Left,
			m.mainView(),
			"\n  "+errorStyle.Render(engine.UserMessage(m.err, m.opts.Language)),
			helpStyle.Render("  按 Enter 继续，Esc 退出。"),
		)
	}

	return "\n" + s + "\n"
}

func (m model) mainView() string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), m.renderState())
}

func (m model) logWidth() int {
	if m.viewport.Width > 0 {
		return m.viewport.Width
	}
	return 80
}

func (m model) renderAction(action string) string {
	return userStyle.Width(m.logWidth()).Render("> " + action)
}

func (m model) renderLog() string {
	var b strings.Builder
	title := m.session.Scenario.Title
	if title != "" {
		b.WriteString(titleStyle.Render(title) + "\n\n")
	}
	for _, r := range m.session.History {
		if r.UserInput != "" {
			b.WriteString(m.renderAction(r.UserInput) + "\n\n")
		}
		if r.Response.Scene != "" {
			b.WriteString(sceneStyle.Render("【"+r.Response.Scene+"】") + "\n")
		}
		b.WriteString(gameStyle.Width(m.logWidth()).Render(r.Response.Narration) + "\n\n")
	}
	return b.String()
}

func (m model) renderOptions() string {
	if len(m.session.Options) == 0 {
		return ""
	}
	lines := make([]string, len(m.session.Options))
	for i, o := range m.session.Options {
		lines[i] = optionStyle.Render(fmt.Sprintf("%s. %s", o.ID, o.Text))
	}
	return "\n" + strings.Join(lines, "\n")
}

func (m model) renderState() string {
	sc := m.session.Scenario
	st := m.session.State

	var b strings.Builder
	b.WriteString(titleStyle.Render("状态") + "\n")
	for _, f := range sc.Status.Fields {
		v, ok := st.PlayerStatus[f.Name]
		if !ok {
			continue
		}
		b.WriteString(f.Label() + ": " + v.String() + "\n")
	}

	for _, e := range sc.Extensions.Entries {
		v, ok := st.CustomData.Get(e.Name)
		if !ok {
			continue
		}
		b.WriteString("\n" + titleStyle.Render(e.Name) + "\n")
		b.WriteString(renderData(v) + "\n")
	}

	if extra := st.Extra(); extra.Len() > 0 {
		b.WriteString("\n" + titleStyle.Render("其他") + "\n")
		for _, k := range extra.Keys() {
			v, _ := extra.Get(k)
			b.WriteString(k + ": " + prompt.FormatData(v) + "\n")
		}
	}

	width := int(float64(m.width) * 0.27)
	if width <= 0 {
		width = 30
	}
	return stateStyle.Width(width).Height(m.viewport.Height).Render(b.String())
}

// renderData lists arrays one item per line and everything else on one line.
func renderData(v any) string {
	items, ok := v.([]any)
	if !ok {
		return prompt.FormatData(v)
	}
	if len(items) == 0 {
		return "(空)"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + prompt.FormatData(item)
	}
	return strings.Join(lines, "\n")
}

// startGame and playRound work on a copy of the session so View never reads
// state the command goroutine is writing.
func (m model) startGame() tea.Cmd {
	eng, session := m.engine, m.session.Clone()
	return func() tea.Msg {
		turn, err := eng.StartGame(context.Background(), session)
		return turnProcessedMsg{turn, session, err}
	}
}

func (m model) playRound(action string) tea.Cmd {
	eng, session := m.engine, m.session.Clone()
	return func() tea.Msg {
		turn, err := eng.PlayRound(context.Background(), session, action)
		return turnProcessedMsg{turn, session, err}
	}
}

// Run starts the game client and blocks until the player quits.
func Run(eng *engine.Engine, session *models.GameSession, opts Options) error {
	p := tea.NewProgram(NewModel(eng, session, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
