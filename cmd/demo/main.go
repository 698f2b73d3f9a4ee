package main

import (
	"fmt"
	"maps"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/weftlabs/weft/loom"
	"github.com/weftlabs/weft/memhost"
	"github.com/weftlabs/weft/sched"
)

// The demo drives a weft root from a bubbletea event loop. Keypresses
// dispatch state updates at different lanes, a periodic tick advances
// the engine's virtual clock, and the view shows the committed host
// tree next to the engine counters.

const tickEvery = 500 * time.Millisecond

type tickMsg time.Time

type resolveMsg struct{}

type model struct {
	host *memhost.Host
	clk  *sched.Manual
	eng  *loom.Engine
	root *loom.Root

	themeSlot *loom.Slot
	set       *loom.Setter
	pending   *loom.Pending

	items []string
	note  string

	width  int
	height int
}

func newModel() *model {
	m := &model{
		host:      memhost.New(),
		clk:       sched.NewManual(),
		themeSlot: loom.NewSlot("theme", "plain"),
		items:     []string{"alpha", "beta", "gamma", "delta"},
	}
	m.eng = loom.NewEngine(loom.WithScheduler(m.clk))
	m.root = m.eng.CreateRoot(m.host, loom.WithName("demo"),
		loom.WithOnUncaught(func(err error) { m.note = "fatal: " + err.Error() }))

	header := &loom.Component{
		Name: "header",
		Body: func(t *loom.Turn, _, _ any) ([]loom.Description, error) {
			theme := t.Read(m.themeSlot).(string)
			return []loom.Description{
				loom.Host("h1", map[string]any{"class": theme}, loom.Text("weft demo")),
			}, nil
		},
	}
	row := &loom.Component{
		Name: "row",
		Body: func(_ *loom.Turn, props, _ any) ([]loom.Description, error) {
			label := props.(string)
			return []loom.Description{
				loom.Host("li", map[string]any{"id": label}, loom.Text(label)),
			}, nil
		},
	}
	loader := &loom.Component{
		Name: "loader",
		Body: func(_ *loom.Turn, props, _ any) ([]loom.Description, error) {
			p, _ := props.(*loom.Pending)
			if p == nil {
				return []loom.Description{loom.Text("press l to load")}, nil
			}
			if !p.Resolved() {
				return nil, p
			}
			return []loom.Description{
				loom.Host("p", map[string]any{"class": "remote"}, loom.Text("remote content loaded")),
			}, nil
		},
	}
	app := &loom.Component{
		Name: "app",
		Init: func(any) any {
			return map[string]any{
				"count": 0,
				"items": m.items,
				"theme": "plain",
			}
		},
		Body: func(t *loom.Turn, _, state any) ([]loom.Description, error) {
			m.set = t.Setter()
			st := state.(map[string]any)
			count := st["count"].(int)
			items := st["items"].([]string)
			theme := st["theme"].(string)
			load := st["load"]

			rows := make([]loom.Description, 0, len(items))
			for _, it := range items {
				rows = append(rows, loom.Render(row, it).WithKey(it))
			}
			return []loom.Description{
				loom.Provide(m.themeSlot, theme,
					loom.Render(header, nil),
					loom.Host("section", map[string]any{"id": "counter"},
						loom.Text("count: "+strconv.Itoa(count))),
					loom.Host("ul", nil, rows...),
					loom.Suspense(
						[]loom.Description{loom.Text("loading remote...")},
						loom.Render(loader, load),
					),
				),
			}, nil
		},
	}

	m.root.Render(loom.Render(app, nil))
	m.clk.Flush()
	return m
}

func (m *model) tickCmd() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m *model) bump(n int) {
	m.set.Apply(func(prev any) any {
		st := maps.Clone(prev.(map[string]any))
		st["count"] = st["count"].(int) + n
		return st
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		// The virtual clock only moves when we move it; starvation
		// promotion and task expiration key off this.
		m.clk.Advance(tickEvery)
		m.clk.Step()
		return m, m.tickCmd()

	case resolveMsg:
		if m.pending != nil {
			m.pending.Resolve()
			m.clk.Flush()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "+", "up", "k":
			m.note = "default lane +1"
			m.bump(1)
		case "-", "down", "j":
			m.note = "default lane -1"
			m.bump(-1)
		case "i":
			m.note = "interactive lane +1"
			m.eng.Interactive(func() { m.bump(1) })
		case "d":
			m.note = "deferred lane +10"
			m.eng.Deferred(func() {
				for i := 0; i < 10; i++ {
					m.bump(1)
				}
			})
		case "f":
			m.note = "flush sync +1"
			if err := m.eng.FlushSync(func() { m.bump(1) }); err != nil {
				m.note = "flush sync: " + err.Error()
			}
		case "s":
			m.note = "shuffle rows"
			rand.Shuffle(len(m.items), func(i, j int) {
				m.items[i], m.items[j] = m.items[j], m.items[i]
			})
			m.set.Merge(map[string]any{"items": append([]string(nil), m.items...)})
		case "t":
			m.note = "toggle theme"
			m.set.Apply(func(prev any) any {
				st := maps.Clone(prev.(map[string]any))
				if st["theme"] == "plain" {
					st["theme"] = "neon"
				} else {
					st["theme"] = "plain"
				}
				return st
			})
		case "l":
			if m.pending != nil && !m.pending.Resolved() {
				return m, nil
			}
			m.note = "loading"
			m.pending = loom.NewPending()
			m.set.Merge(map[string]any{"load": m.pending})
			m.clk.Flush()
			return m, tea.Tick(1200*time.Millisecond, func(time.Time) tea.Msg { return resolveMsg{} })
		}
		m.clk.Flush()
		return m, nil
	}
	return m, nil
}

func (m *model) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(36, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 30 {
		leftWidth = width - 4
		rightWidth = 0
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		MarginBottom(1).
		Render("WEFT · cooperative reconciler")

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)

	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAFF"))

	left := box.Width(leftWidth).Render(
		title.Render("HOST TREE") + "\n" + m.host.RenderString(),
	)

	panels := left
	if rightWidth > 0 {
		right := lipgloss.JoinVertical(lipgloss.Left,
			box.Width(rightWidth).Render(title.Render("ENGINE")+"\n"+m.renderStats()),
			box.Width(rightWidth).Render(title.Render("HOST OPS")+"\n"+m.renderOps()),
		)
		panels = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render("(+/-) count · (i) interactive · (d) deferred x10 · (f) flush sync · (s) shuffle · (t) theme · (l) load · (q) quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, panels, footer)
}

func (m *model) renderStats() string {
	s := m.root.Stats()
	lines := []string{
		fmt.Sprintf("status       %s", m.root.Status()),
		fmt.Sprintf("lanes        %s", m.root.PendingLanes()),
		fmt.Sprintf("commits      %d", s.Commits),
		fmt.Sprintf("yields       %d", s.Yields),
		fmt.Sprintf("preemptions  %d", s.Preemptions),
		fmt.Sprintf("bailouts     %d", s.Bailouts),
		fmt.Sprintf("suspensions  %d / pings %d", s.Suspensions, s.Pings),
		fmt.Sprintf("units        %d visited, %d created", s.UnitsVisited, s.UnitsCreated),
		fmt.Sprintf("attached     %d", m.host.Attached()),
	}
	if m.note != "" {
		lines = append(lines, "", "last: "+m.note)
	}
	return strings.Join(lines, "\n")
}

func (m *model) renderOps() string {
	ops := m.host.Ops()
	const keep = 8
	if len(ops) > keep {
		ops = ops[len(ops)-keep:]
	}
	if len(ops) == 0 {
		return "(none yet)"
	}
	return strings.Join(ops, "\n")
}

func main() {
	p := tea.NewProgram(newModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running demo: %v\n", err)
		os.Exit(1)
	}
}
