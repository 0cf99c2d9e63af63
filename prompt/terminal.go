package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("39")
	colorWarning = lipgloss.Color("220")
	colorError   = lipgloss.Color("196")
	colorDim     = lipgloss.Color("241")

	questionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	choiceStyle = lipgloss.NewStyle()

	hintStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Italic(true)

	infoStyle    = lipgloss.NewStyle().Foreground(colorDim)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

type chooserKeys struct {
	Up      key.Binding
	Down    key.Binding
	Select  key.Binding
	Dismiss key.Binding
}

var defaultKeys = chooserKeys{
	Up:      key.NewBinding(key.WithKeys("up", "k", "shift+tab"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j", "tab"), key.WithHelp("↓/j", "down")),
	Select:  key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "choose")),
	Dismiss: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc", "dismiss")),
}

// chooserModel is a single-question Bubble Tea program.
type chooserModel struct {
	message string
	choices []string
	cursor  int
	chosen  string
	done    bool
	keys    chooserKeys
}

func newChooserModel(message string, choices []string) chooserModel {
	return chooserModel{message: message, choices: choices, keys: defaultKeys}
}

func (m chooserModel) Init() tea.Cmd { return nil }

func (m chooserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, m.keys.Select):
		if len(m.choices) > 0 {
			m.chosen = m.choices[m.cursor]
		}
		m.done = true
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Dismiss):
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m chooserModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(questionStyle.Render(m.message))
	b.WriteString("\n\n")
	for i, c := range m.choices {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> " + c))
		} else {
			b.WriteString(choiceStyle.Render("  " + c))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("enter to choose, esc to dismiss"))
	b.WriteString("\n")
	return b.String()
}

// Terminal prompts on an interactive terminal.
type Terminal struct {
	in  io.Reader
	out io.Writer
}

// NewTerminal builds a Terminal prompter reading keys from in and drawing to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// Ask implements Prompter.
func (t *Terminal) Ask(ctx context.Context, message string, choices ...string) (string, error) {
	program := tea.NewProgram(
		newChooserModel(message, choices),
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("run prompt: %w", err)
	}
	m, ok := final.(chooserModel)
	if !ok {
		return "", nil
	}
	return m.chosen, nil
}

// Notify implements Prompter.
func (t *Terminal) Notify(_ context.Context, severity Severity, message string) {
	style := infoStyle
	switch severity {
	case SeverityWarning:
		style = warningStyle
	case SeverityError:
		style = errorStyle
	}
	fmt.Fprintln(t.out, style.Render(message))
}
