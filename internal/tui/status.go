package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cortexhub/cortex-dispatch/internal/model"
)

type Status struct {
	selector *model.Selector
}

func NewStatus(selector *model.Selector) *Status {
	return &Status{selector: selector}
}

func (s *Status) Init() tea.Cmd {
	return nil
}

func (s *Status) Update(msg tea.Msg) (*Status, tea.Cmd) {
	return s, nil
}

func (s *Status) View(width, height int) string {
	if s.selector == nil {
		return StatusPanelStyle.Width(width).Height(height).Render("Model status unavailable")
	}
	content := ""
	for _, tier := range []model.Tier{model.TierPrimary, model.TierFallback} {
		state := "healthy"
		if s.selector.CoolingDown(tier) {
			state = "cooling-down"
		}
		content += fmt.Sprintf("%s: %s\n  failures: %d\n",
			tier, state, s.selector.Failures(tier))
	}
	return StatusPanelStyle.Width(width).Height(height).Render(content)
}
