package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/wippyai/futhark-host/errors"
	"github.com/wippyai/futhark-host/prim"
	"github.com/wippyai/futhark-host/runtime"
	"github.com/wippyai/futhark-host/values"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInteractiveCmd() *cobra.Command {
	var wasm, manifestPath string
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Pick entry points and call them from a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newInteractiveModel(wasm, manifestPath)
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			m.close()
			return err
		},
	}
	cmd.Flags().StringVar(&wasm, "wasm", "", "compiled wasm module")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "manifest JSON produced with the module")
	_ = cmd.MarkFlagRequired("wasm")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

type interactiveModel struct {
	err          error
	prog         *runtime.Program
	closeProg    func()
	wasm         string
	manifestPath string
	result       string
	entries      []*runtime.EntryPoint
	inputs       []textinput.Model
	selected     int
	focusIdx     int
	state        modelState
}

type modelState int

const (
	stateSelectEntry modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(wasm, manifestPath string) *interactiveModel {
	return &interactiveModel{
		wasm:         wasm,
		manifestPath: manifestPath,
		state:        stateSelectEntry,
	}
}

type loadedMsg struct {
	err       error
	prog      *runtime.Program
	closeProg func()
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadProgram
}

func (m *interactiveModel) loadProgram() tea.Msg {
	prog, closeProg, err := loadProgram(context.Background(), m.wasm, m.manifestPath)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{prog: prog, closeProg: closeProg}
}

func (m *interactiveModel) close() {
	if m.closeProg != nil {
		m.closeProg()
		m.closeProg = nil
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up":
			if m.state == stateSelectEntry && m.selected > 0 {
				m.selected--
			}

		case "down":
			if m.state == stateSelectEntry && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectEntry:
				if len(m.entries) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callEntry
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				return m, m.callEntry

			case stateShowResult:
				m.state = stateSelectEntry
				m.result = ""
				m.err = nil
				return m, nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectEntry
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectEntry
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.prog = msg.prog
		m.closeProg = msg.closeProg
		for _, name := range m.prog.EntryNames() {
			e, _ := m.prog.Entry(name)
			m.entries = append(m.entries, e)
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	e := m.entries[m.selected]
	m.inputs = make([]textinput.Model, len(e.Inputs()))
	for i, in := range e.Inputs() {
		ti := textinput.New()
		ti.Placeholder = in.Type
		if strings.HasPrefix(in.Type, "[]") {
			ti.Placeholder = "space-separated " + strings.TrimPrefix(in.Type, "[]")
		}
		ti.Prompt = in.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callEntry() tea.Msg {
	ctx := context.Background()
	e := m.entries[m.selected]

	var owned []releaser
	defer func() {
		for _, h := range owned {
			_ = h.Release(ctx)
		}
	}()

	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		arg, err := m.parseArg(ctx, e.Inputs()[i].Type, input.Value())
		if err != nil {
			return callResultMsg{err: fmt.Errorf("%s: %w", e.Inputs()[i].Name, err)}
		}
		if h, ok := arg.(releaser); ok {
			owned = append(owned, h)
		}
		args[i] = arg
	}

	results, err := e.Call(ctx, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	for _, r := range results {
		if h, ok := r.(releaser); ok {
			owned = append(owned, h)
		}
	}

	lines := make([]string, len(results))
	for i, r := range results {
		s, ferr := formatResult(ctx, e.Outputs()[i].Type, r)
		if ferr != nil {
			err = multierr.Append(err, ferr)
		}
		lines[i] = s
	}
	return callResultMsg{result: strings.Join(lines, "\n"), err: err}
}

type releaser interface {
	Release(ctx context.Context) error
}

// parseArg converts text typed by the user: one scalar, or a
// space-separated list for one-dimensional arrays.
func (m *interactiveModel) parseArg(ctx context.Context, typ, text string) (any, error) {
	if elem, ok := prim.Parse(typ); ok {
		return elem.ParseScalar(text)
	}
	at, err := m.prog.ArrayType(typ)
	if err != nil {
		return nil, errors.Unsupported(errors.PhaseMarshal, "entering "+typ+" values")
	}
	if at.Rank() != 1 {
		return nil, errors.Unsupported(errors.PhaseMarshal, "entering arrays of rank above 1")
	}
	fields := strings.Fields(text)
	scalars := make([]any, len(fields))
	for i, f := range fields {
		if scalars[i], err = at.Elem().ParseScalar(f); err != nil {
			return nil, err
		}
	}
	return at.New(ctx, scalars, int64(len(scalars)))
}

func formatResult(ctx context.Context, typ string, r any) (string, error) {
	switch v := r.(type) {
	case *runtime.Array:
		val, err := v.Value(ctx)
		if err != nil {
			return "", err
		}
		return values.Format(val), nil
	case *runtime.Opaque:
		return fmt.Sprintf("<%s at %#x>", v.Type().Name(), v.Ref()), nil
	}
	if elem, ok := prim.Parse(typ); ok {
		return values.FormatScalar(elem, r), nil
	}
	return fmt.Sprint(r), nil
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.prog == nil {
		return "Loading program..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Futhark Runner"))
	b.WriteString(" ")
	b.WriteString(m.wasm)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectEntry:
		b.WriteString("Select an entry point to call:\n\n")
		for i, e := range m.entries {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + e.Signature()))
			} else {
				b.WriteString("  " + funcStyle.Render(e.Signature()))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		e := m.entries[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(e.Name())))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(e.Inputs()[i].Type))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		e := m.entries[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(e.Name())))
		if m.result != "" {
			b.WriteString(resultStyle.Render(m.result))
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}
