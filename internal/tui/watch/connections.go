package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/lmcbridge/internal/registry"
	"github.com/mattjoyce/lmcbridge/internal/supervisor"
)

func newConnectionTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 8},
			{Title: "Name", Width: 28},
			{Title: "Type", Width: 12},
			{Title: "Frames", Width: 9},
			{Title: "Last frame", Width: 10},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func connectionRows(conns []registry.Connection, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(conns))
	for _, c := range conns {
		lastFrame := "-"
		if c.LastFrame != nil {
			lastFrame = formatDuration(now.Sub(*c.LastFrame)) + " ago"
		}
		errText := c.LastError
		if c.ErrorKind != "" {
			errText = fmt.Sprintf("[%s] %s", c.ErrorKind, c.LastError)
		}
		rows = append(rows, table.Row{
			stateIcon(c),
			c.ID,
			c.Name,
			c.Type,
			strconv.FormatInt(c.Frames, 10),
			lastFrame,
			errText,
		})
	}
	return rows
}

// stateIcon is a plain glyph; table cells are not styled individually.
func stateIcon(c registry.Connection) string {
	switch {
	case c.State == supervisor.StateRunning:
		return "●"
	case c.State == supervisor.StateStarting:
		return "◌"
	case c.Outcome == supervisor.OutcomeFailed:
		return "✗"
	default:
		return "○"
	}
}

func renderConnections(t table.Model, theme Theme, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CONNECTIONS"),
		t.View(),
	)
	return theme.Border.Width(width - 4).Render(content)
}
