package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/solver"
)

// Styles is a theme turned into lipgloss styles.
type Styles struct {
	Theme   Theme
	Title   lipgloss.Style
	Header  lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Cursor  lipgloss.Style
	KeyHint lipgloss.Style
	Border  lipgloss.Style
	OK      lipgloss.Style
	Warn    lipgloss.Style
	Fail    lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Theme: t,
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(t.Text).
			Padding(0, 1),
		Label:   lipgloss.NewStyle().Foreground(t.Muted),
		Value:   lipgloss.NewStyle().Foreground(t.Secondary).Padding(0, 1),
		Muted:   lipgloss.NewStyle().Foreground(t.Muted),
		Cursor:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		KeyHint: lipgloss.NewStyle().Foreground(t.Muted).Italic(true),
		Border:  lipgloss.NewStyle().Foreground(t.Muted),
		OK:      lipgloss.NewStyle().Bold(true).Foreground(t.Success),
		Warn:    lipgloss.NewStyle().Bold(true).Foreground(t.Warning),
		Fail:    lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// DefaultStyles follows CurrentTheme.
func DefaultStyles() Styles {
	return NewStyles(CurrentTheme)
}

func (s Styles) Level(l solver.Level) lipgloss.Style {
	switch l {
	case solver.LevelWarning:
		return s.Warn
	case solver.LevelFail:
		return s.Fail
	case solver.LevelUnchecked:
		return s.Muted
	}
	return s.OK
}

func (s Styles) Phase(p dynamo.Phase) lipgloss.Style {
	switch p {
	case dynamo.PhaseConverged:
		return s.OK
	case dynamo.PhaseNonConvergent:
		return s.Fail
	}
	return s.Warn
}

func (s Styles) Status(st solver.Status) lipgloss.Style {
	switch st {
	case solver.Converged:
		return s.OK
	case solver.Ambiguous:
		return s.Warn
	}
	return s.Fail
}

// Sparkline renders a mini chart of values, one rune per sample.
func (s Styles) Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	step := len(values) / width
	if step < 1 {
		step = 1
	}

	var b strings.Builder
	for i := 0; i < width && i*step < len(values); i++ {
		norm := (values[i*step] - lo) / rng
		idx := int(norm * float64(len(chars)-1))
		idx = max(0, min(idx, len(chars)-1))
		b.WriteRune(chars[idx])
	}
	return s.Value.UnsetPadding().Render(b.String())
}

func (s Styles) Separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", max(mid-3, 0))
	right := strings.Repeat("─", max(width-mid-3, 0))
	return s.Muted.Render(left + " ◆ " + right)
}
