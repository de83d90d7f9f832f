package viz

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/stockflow/internal/dynamo"
	"github.com/san-kum/stockflow/internal/storage"
)

// TrajectoryLoader loads a stored run. *storage.Store satisfies it.
type TrajectoryLoader interface {
	LoadTrajectory(runID string) (*dynamo.Trajectory, error)
}

const (
	stateList = iota
	stateRun
)

// Browser pages through stored runs and plots one stock at a time.
type Browser struct {
	state, cursor int
	runs          []storage.RunMetadata
	loader        TrajectoryLoader
	styles        Styles

	traj  *dynamo.Trajectory
	stock int
	err   error

	width, height int
}

func NewBrowser(runs []storage.RunMetadata, loader TrajectoryLoader, styles Styles) *Browser {
	return &Browser{
		state:  stateList,
		runs:   runs,
		loader: loader,
		styles: styles,
		width:  80,
		height: 24,
	}
}

func (b *Browser) Init() tea.Cmd { return nil }

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return b, b.handleKey(msg)
	case tea.WindowSizeMsg:
		b.width, b.height = msg.Width, msg.Height
	}
	return b, nil
}

func (b *Browser) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "t":
		b.styles = NewStyles(nextTheme(b.styles.Theme))
		return nil
	}
	if b.state == stateList {
		b.listKey(msg)
	} else {
		b.runKey(msg)
	}
	return nil
}

func (b *Browser) listKey(msg tea.KeyMsg) {
	switch msg.String() {
	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
		}
	case "down", "j":
		if b.cursor < len(b.runs)-1 {
			b.cursor++
		}
	case "enter", " ":
		if len(b.runs) == 0 {
			return
		}
		b.traj, b.err = b.loader.LoadTrajectory(b.runs[b.cursor].ID)
		b.stock = 0
		b.state = stateRun
	}
}

func (b *Browser) runKey(msg tea.KeyMsg) {
	switch msg.String() {
	case "esc", "backspace":
		b.state, b.traj, b.err = stateList, nil, nil
	case "up", "k":
		if b.stock > 0 {
			b.stock--
		}
	case "down", "j":
		if b.traj != nil && b.stock < len(b.traj.Stocks)-1 {
			b.stock++
		}
	}
}

// Selected returns the run under the cursor, if any.
func (b *Browser) Selected() (storage.RunMetadata, bool) {
	if len(b.runs) == 0 {
		return storage.RunMetadata{}, false
	}
	return b.runs[b.cursor], true
}

func (b *Browser) View() string {
	if b.state == stateRun {
		return b.viewRun()
	}
	return b.viewList()
}

func (b *Browser) viewList() string {
	s := b.styles
	var out strings.Builder
	out.WriteString("\n  " + s.Title.Render("STOCKFLOW") + "\n  " + s.Muted.Render("stored runs") + "\n  " + s.Separator(30) + "\n\n")
	if len(b.runs) == 0 {
		out.WriteString("  " + s.Muted.Render("no runs found") + "\n")
	}
	for i, r := range b.runs {
		line := fmt.Sprintf("%-28s %-9s %-16s %s", r.ID, r.Kind, r.Phase, r.Timestamp.Format("2006-01-02 15:04"))
		if i == b.cursor {
			out.WriteString("  " + s.Cursor.Render("▸ "+line) + "\n")
		} else {
			out.WriteString("    " + s.Muted.Render(line) + "\n")
		}
	}
	out.WriteString("\n  " + b.hints("j/k", "navigate", "enter", "open", "t", "theme", "q", "quit") + "\n")
	return out.String()
}

func (b *Browser) viewRun() string {
	s := b.styles
	r := b.runs[b.cursor]
	var out strings.Builder
	out.WriteString("\n  " + s.Title.Render(r.ID) + "  " + s.Label.Render(r.Scenario))
	if r.Intervention != "" {
		out.WriteString(" " + s.Label.Render("/ "+r.Intervention))
	}
	out.WriteString("\n\n")

	if b.err != nil {
		out.WriteString("  " + s.Fail.Render(b.err.Error()) + "\n")
	} else if b.traj != nil && len(b.traj.Stocks) > 0 {
		out.WriteString(s.Phase(b.traj.Phase).Render(string(b.traj.Phase)))
		fmt.Fprintf(&out, "  %s %d\n\n", s.Label.Render("years"), b.traj.Years())
		for i, id := range b.traj.Stocks {
			marker := "  "
			if i == b.stock {
				marker = s.Cursor.Render("▸ ")
			}
			fmt.Fprintf(&out, "%s%-28s %s\n", marker, id, s.Sparkline(b.traj.Series(i), sparkWidth))
		}
		out.WriteString("\n")
		opts := DefaultPlotOptions()
		opts.Width = max(20, min(b.width-12, 100))
		out.WriteString(PlotStock(b.traj, b.stock, opts))
		out.WriteString("\n")
	}
	out.WriteString("\n  " + b.hints("j/k", "stock", "esc", "back", "t", "theme", "q", "quit") + "\n")
	return out.String()
}

func (b *Browser) hints(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, b.styles.Cursor.Render(pairs[i])+" "+b.styles.KeyHint.Render(pairs[i+1]))
	}
	return strings.Join(parts, "  ")
}

// RunBrowser starts the browser in the alternate screen.
func RunBrowser(runs []storage.RunMetadata, loader TrajectoryLoader) error {
	_, err := tea.NewProgram(NewBrowser(runs, loader, DefaultStyles()), tea.WithAltScreen()).Run()
	return err
}
