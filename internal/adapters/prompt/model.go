package prompt

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/trunkplayer/trunkprov/internal/ports"
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Yes    key.Binding
	No     key.Binding
	Cancel key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Yes: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "yes"),
		),
		No: key.NewBinding(
			key.WithKeys("n", "N"),
			key.WithHelp("n", "no"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "ctrl+c", "q"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

var (
	promptStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"})
	activeStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#cba6f7"})
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"})
)

// choiceModel asks one question and records the answer.
type choiceModel struct {
	prompt    string
	choices   []ports.Choice
	cursor    int
	yesNo     bool
	keys      keyMap
	chosen    string
	cancelled bool
}

func newChoiceModel(prompt string, choices []ports.Choice, defaultValue string) choiceModel {
	m := choiceModel{prompt: prompt, choices: choices, keys: defaultKeyMap()}
	for i, c := range choices {
		if c.Value == defaultValue {
			m.cursor = i
		}
	}
	return m
}

const (
	answerYes = "yes"
	answerNo  = "no"
)

func newConfirmModel(prompt string, defaultYes bool) choiceModel {
	def := answerNo
	if defaultYes {
		def = answerYes
	}
	m := newChoiceModel(prompt, []ports.Choice{
		{Value: answerYes, Label: "Yes"},
		{Value: answerNo, Label: "No"},
	}, def)
	m.yesNo = true
	return m
}

// Init implements tea.Model.
func (m choiceModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m choiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, m.keys.Cancel):
		m.cancelled = true
		return m, tea.Quit
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Select):
		if len(m.choices) > 0 {
			m.chosen = m.choices[m.cursor].Value
		}
		return m, tea.Quit
	case m.yesNo && key.Matches(km, m.keys.Yes):
		m.chosen = answerYes
		return m, tea.Quit
	case m.yesNo && key.Matches(km, m.keys.No):
		m.chosen = answerNo
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m choiceModel) View() string {
	if m.chosen != "" || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(promptStyle.Render(m.prompt) + "\n\n")
	for i, c := range m.choices {
		if i == m.cursor {
			b.WriteString(activeStyle.Render("> "+c.Label) + "\n")
			continue
		}
		b.WriteString("  " + c.Label + "\n")
	}
	help := "↑/↓ move • enter select • esc cancel"
	if m.yesNo {
		help = "y yes • n no • enter select • esc cancel"
	}
	b.WriteString("\n" + helpStyle.Render(help) + "\n")
	return b.String()
}
