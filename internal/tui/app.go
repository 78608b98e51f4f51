package tui

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cortexhub/cortex-dispatch/internal/dispatch"
	"github.com/cortexhub/cortex-dispatch/internal/model"
)

type Panel int

const (
	ChatPanel Panel = iota
	StatusPanel
	RoutingPanel
)

// replyMsg carries a finished pipeline reply back into the event loop.
type replyMsg struct {
	reply dispatch.Reply
}

type App struct {
	width, height int
	currentPanel  Panel
	chat          *Chat
	status        *Status
	routing       *Routing
	input         *Input
	keys          KeyMap
	pipeline      *dispatch.Pipeline
	waiting       bool
}

func NewApp(pipeline *dispatch.Pipeline, selector *model.Selector) *App {
	return &App{
		currentPanel: ChatPanel,
		chat:         NewChat(),
		status:       NewStatus(selector),
		routing:      NewRouting(),
		input:        NewInput(),
		keys:         DefaultKeyMap,
		pipeline:     pipeline,
	}
}

// Run starts the debug chat and blocks until quit.
func Run(pipeline *dispatch.Pipeline, selector *model.Selector) error {
	p := tea.NewProgram(NewApp(pipeline, selector), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.chat.Init(), a.status.Init(), a.routing.Init(), a.input.Init())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Tab):
			a.currentPanel = (a.currentPanel + 1) % 3
		case msg.String() == "enter":
			if a.input.Value() != "" && !a.waiting {
				query := a.input.Value()
				a.chat.AddMessage(Message{Role: "user", Content: query})
				a.chat.AddMessage(Message{Role: "assistant", Content: "..."})
				a.input.Reset()
				a.waiting = true
				cmds = append(cmds, a.ask(query))
			}
		}
	case replyMsg:
		a.waiting = false
		a.chat.ReplaceLast(Message{
			Role:      "assistant",
			Content:   msg.reply.Text,
			Reasoning: msg.reply.Reasoning,
		})
		a.routing.Record(msg.reply.Target, msg.reply.Confidence, msg.reply.DurationMs)
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	}

	// Update submodels
	var cmd tea.Cmd
	a.chat, cmd = a.chat.Update(msg)
	cmds = append(cmds, cmd)
	a.status, cmd = a.status.Update(msg)
	cmds = append(cmds, cmd)
	a.routing, cmd = a.routing.Update(msg)
	cmds = append(cmds, cmd)
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// ask runs the pipeline off the event loop and reports back when the
// reply is complete.
func (a *App) ask(query string) tea.Cmd {
	pipeline := a.pipeline
	return func() tea.Msg {
		hostname, _ := os.Hostname()
		reply := pipeline.Handle(context.Background(), dispatch.Query{
			Text:   query,
			UserID: "tui:" + hostname,
			ChatID: "tui",
		})
		return replyMsg{reply: reply}
	}
}

func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	statusBar := a.statusBarView()
	inputBar := a.input.View()

	contentHeight := a.height - lipgloss.Height(statusBar) - lipgloss.Height(inputBar)

	leftWidth := int(float64(a.width) * 0.7)
	rightWidth := a.width - leftWidth

	chatView := a.chat.View(leftWidth, contentHeight)
	var rightView string
	switch a.currentPanel {
	case RoutingPanel:
		rightView = a.routing.View(rightWidth, contentHeight)
	default:
		rightView = a.status.View(rightWidth, contentHeight)
	}

	layout := lipgloss.JoinHorizontal(lipgloss.Top, chatView, rightView)

	return lipgloss.JoinVertical(lipgloss.Left, statusBar, layout, inputBar)
}

func (a *App) statusBarView() string {
	state := "ready"
	if a.waiting {
		state = "thinking"
	}
	return StatusBarStyle.Width(a.width).Render(
		fmt.Sprintf("Cortex-Dispatch | %s | tab: panels, ctrl+c: quit", state))
}
