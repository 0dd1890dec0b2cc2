package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"endgame/internal/store"
	"endgame/internal/types"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review staged knowledge interactively",
	Long: `Opens a terminal UI over the staging area. Every action writes through
to the store immediately; quitting leaves the remaining rows staged.

Keys:
  enter  inspect the selected node (rendered as markdown)
  a      approve it into the canonical graph
  r      reject it
  m      merge: press on the node to fold, then on the survivor
  A      approve everything that is left
  /      filter, q quit`,
	RunE: runReview,
}

func runReview(cmd *cobra.Command, args []string) error {
	graph, err := openGraph()
	if err != nil {
		return err
	}
	defer graph.Close()

	data, err := graph.GetStaging(userID)
	if err != nil {
		return fmt.Errorf("failed to load staging: %w", err)
	}
	if len(data.Nodes) == 0 {
		fmt.Println("Staging area is empty; nothing to review.")
		return nil
	}

	p := tea.NewProgram(newReviewModel(graph, userID, data), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("review UI failed: %w", err)
	}
	if m, ok := final.(reviewModel); ok {
		fmt.Printf("Review finished: %d committed, %d rejected, %d merged.\n",
			m.committed, m.rejected, m.merged)
	}
	return nil
}

var (
	reviewStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	reviewHelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// reviewItem adapts one staged node for the list widget.
type reviewItem struct {
	node types.Node
}

func (i reviewItem) Title() string {
	return fmt.Sprintf("[%s] %s", i.node.Type, i.node.Name)
}

func (i reviewItem) Description() string {
	desc := firstLine(i.node.Content)
	if desc == "" || desc == i.node.Name {
		desc = "(no content)"
	}
	if i.node.SourceFile != "" {
		desc += "  from " + i.node.SourceFile
	}
	return desc
}

func (i reviewItem) FilterValue() string {
	return i.node.Name + " " + string(i.node.Type)
}

// reviewModel is the TUI state. Actions mutate the staging tables directly
// and reload the list from the store, which stays the single source of
// truth.
type reviewModel struct {
	graph *store.GraphStore
	user  string

	list     list.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	edges      []types.Edge
	inspecting bool
	mergeFrom  string
	mergeName  string
	status     string
	ready      bool

	committed int
	rejected  int
	merged    int
}

func newReviewModel(graph *store.GraphStore, user string, data *types.GraphData) reviewModel {
	items := make([]list.Item, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		items = append(items, reviewItem{node: n})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = fmt.Sprintf("Staged knowledge for %s", user)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)

	return reviewModel{
		graph: graph,
		user:  user,
		list:  l,
		edges: data.Links,
	}
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		chromeHeight := 2
		m.list.SetSize(msg.Width, msg.Height-chromeHeight)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chromeHeight
		}
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-4),
		)
		return m, nil

	case tea.KeyMsg:
		if m.inspecting {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "q", "esc":
				m.inspecting = false
				return m, nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		// While the filter prompt is open, every key belongs to the list.
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			if m.mergeFrom != "" {
				m.mergeFrom = ""
				m.status = "Merge cancelled."
				return m, nil
			}
		case "enter", "i":
			if it, ok := m.list.SelectedItem().(reviewItem); ok && m.ready {
				m.viewport.SetContent(m.renderDetail(it.node))
				m.viewport.GotoTop()
				m.inspecting = true
			}
			return m, nil
		case "a":
			return m.approveSelected()
		case "r", "x":
			return m.rejectSelected()
		case "m":
			return m.mergeSelected()
		case "A":
			return m.approveAll()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m reviewModel) View() string {
	if m.inspecting {
		return m.viewport.View() + "\n" +
			reviewHelpStyle.Render("esc back, up/down scroll, ctrl+c quit")
	}

	footer := reviewHelpStyle.Render("enter inspect, a approve, r reject, m merge, A approve all, / filter, q quit")
	if m.status != "" {
		footer = reviewStatusStyle.Render(m.status) + "\n" + footer
	} else {
		footer = "\n" + footer
	}
	return m.list.View() + "\n" + footer
}

func (m reviewModel) approveSelected() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(reviewItem)
	if !ok {
		return m, nil
	}
	if _, err := m.graph.CommitStaging(m.user, []string{it.node.ID}); err != nil {
		m.status = fmt.Sprintf("Commit failed: %v", err)
		return m, nil
	}
	m.committed++
	m.status = fmt.Sprintf("Committed %q.", it.node.Name)
	return m.refresh()
}

func (m reviewModel) rejectSelected() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(reviewItem)
	if !ok {
		return m, nil
	}
	if !m.graph.DeleteStagingNode(m.user, it.node.ID) {
		m.status = fmt.Sprintf("Could not reject %q.", it.node.Name)
		return m, nil
	}
	m.rejected++
	m.status = fmt.Sprintf("Rejected %q.", it.node.Name)
	return m.refresh()
}

// mergeSelected is a two-step flow: the first press arms the selected node
// as the one to fold away, the second press picks the survivor.
func (m reviewModel) mergeSelected() (tea.Model, tea.Cmd) {
	it, ok := m.list.SelectedItem().(reviewItem)
	if !ok {
		return m, nil
	}
	if m.mergeFrom == "" {
		m.mergeFrom = it.node.ID
		m.mergeName = it.node.Name
		m.status = fmt.Sprintf("Merging %q: select the survivor and press m (esc cancels).", it.node.Name)
		return m, nil
	}
	if m.mergeFrom == it.node.ID {
		m.mergeFrom = ""
		m.status = "Merge cancelled."
		return m, nil
	}

	source := m.mergeFrom
	m.mergeFrom = ""
	if !m.graph.MergeStaging(m.user, source, it.node.ID) {
		m.status = fmt.Sprintf("Merge of %q into %q failed.", m.mergeName, it.node.Name)
		return m, nil
	}
	m.merged++
	m.status = fmt.Sprintf("Merged %q into %q.", m.mergeName, it.node.Name)
	return m.refresh()
}

func (m reviewModel) approveAll() (tea.Model, tea.Cmd) {
	promoted, err := m.graph.CommitStaging(m.user, nil)
	if err != nil {
		m.status = fmt.Sprintf("Commit failed: %v", err)
		return m, nil
	}
	m.committed += promoted
	return m, tea.Quit
}

// refresh reloads the list from the staging tables and quits once they are
// empty.
func (m reviewModel) refresh() (tea.Model, tea.Cmd) {
	data, err := m.graph.GetStaging(m.user)
	if err != nil {
		m.status = fmt.Sprintf("Reload failed: %v", err)
		return m, nil
	}
	if len(data.Nodes) == 0 {
		// Single-node commits leave an edge staged until both endpoints
		// resolve. With every node resolved the survivors connect
		// committed rows only, so flush them through.
		if len(data.Links) > 0 {
			_, _ = m.graph.CommitStaging(m.user, nil)
		}
		return m, tea.Quit
	}

	m.edges = data.Links
	items := make([]list.Item, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		items = append(items, reviewItem{node: n})
	}
	return m, m.list.SetItems(items)
}

func (m reviewModel) renderDetail(n types.Node) string {
	md := buildNodeMarkdown(n, m.edges)
	if m.renderer == nil {
		return md
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

// buildNodeMarkdown lays out one staged node for the inspection pane.
func buildNodeMarkdown(n types.Node, edges []types.Edge) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", n.Name)
	fmt.Fprintf(&sb, "**Type:** %s  \n**Status:** %s  \n**ID:** `%s`\n", n.Type, n.Status, n.ID)
	if n.SourceFile != "" {
		fmt.Fprintf(&sb, "**Source:** %s\n", n.SourceFile)
	}
	if n.Content != "" && n.Content != n.Name {
		fmt.Fprintf(&sb, "\n%s\n", n.Content)
	}

	if len(n.Attributes) > 0 {
		keys := make([]string, 0, len(n.Attributes))
		for k := range n.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\n## Dossier\n\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- **%s:** %v\n", k, n.Attributes[k])
		}
	}

	var related []string
	for _, e := range edges {
		switch n.ID {
		case e.Source:
			related = append(related, fmt.Sprintf("- %s -> %s", e.Relation, e.Target))
		case e.Target:
			related = append(related, fmt.Sprintf("- %s <- %s", e.Relation, e.Source))
		}
	}
	if len(related) > 0 {
		sb.WriteString("\n## Staged edges\n\n")
		sb.WriteString(strings.Join(related, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// firstLine returns the first non-empty line, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
