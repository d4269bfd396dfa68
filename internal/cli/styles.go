package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sprite-ai/crev/internal/model"
)

// Color palette.
var (
	colorRed    = lipgloss.Color("#ff5555")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorBlue   = lipgloss.Color("#8be9fd")
	colorPurple = lipgloss.Color("#bd93f9")
	colorDim    = lipgloss.Color("#6272a4")
	colorBg     = lipgloss.Color("#282a36")
	colorOrange = lipgloss.Color("#ffb86c")
)

var (
	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBg).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple)

	pathStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	addedStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	deletedStyle = lipgloss.NewStyle().
			Foreground(colorRed)
)

var severityColors = map[model.Severity]lipgloss.Color{
	model.SeverityCritical: colorRed,
	model.SeverityHigh:     colorOrange,
	model.SeverityMedium:   colorYellow,
	model.SeverityLow:      colorBlue,
	model.SeverityInfo:     colorDim,
}

func severityBadge(s model.Severity) string {
	return badgeStyle.Background(severityColors[s]).Render(s.String())
}

func statusText(s model.RunStatus) string {
	switch s {
	case model.StatusCompleted:
		return addedStyle.Render(string(s))
	case model.StatusFailed:
		return deletedStyle.Render(string(s))
	case model.StatusEmptyDiff:
		return dimStyle.Render(string(s))
	default:
		return lipgloss.NewStyle().Foreground(colorYellow).Render(string(s))
	}
}

// renderTable lays rows out under headers with a rounded border.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}
