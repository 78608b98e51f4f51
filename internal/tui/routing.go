package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Routing shows how the last query was dispatched.
type Routing struct {
	target     string
	confidence string
	durationMs int64
}

func NewRouting() *Routing {
	return &Routing{target: "-", confidence: "-"}
}

func (r *Routing) Init() tea.Cmd {
	return nil
}

func (r *Routing) Update(msg tea.Msg) (*Routing, tea.Cmd) {
	return r, nil
}

func (r *Routing) Record(target, confidence string, durationMs int64) {
	r.target = target
	r.confidence = confidence
	r.durationMs = durationMs
}

func (r *Routing) View(width, height int) string {
	content := fmt.Sprintf(
		"Last dispatch\n\nTarget: %s\nConfidence: %s\nDuration: %dms",
		r.target, r.confidence, r.durationMs,
	)
	return RoutingPanelStyle.Width(width).Height(height).Render(content)
}
