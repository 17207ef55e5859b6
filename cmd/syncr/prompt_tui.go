package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syncr/internal/registry"
	"github.com/openmined/syncr/internal/selector"
)

var errPromptCancelled = errors.New("cancelled by user")

// Strings
const (
	txtHostPlaceholder = "user@host"
	txtDirPlaceholder  = "~/src/project"
	txtSetupTitle      = "No remote configured for %s"
	txtHostPrompt      = "Remote host"
	txtDirPrompt       = "Remote directory"
	txtChooseTitle     = "Choose a remote for %s"
	txtInvalidHost     = "Host must not be empty or contain spaces or ':'"
	txtInvalidDir      = "Remote directory must not be empty"
	txtSetupHelp       = "Press 'Enter' to continue. 'Esc' to go back/quit. 'Ctrl+C' to quit."
	txtChooseHelp      = "Use arrows or j/k to move, a number or 'Enter' to pick. 'Esc' to quit."
)

// Styles
var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	placeholderStyle = gray
	titleStyle       = cyan.Bold(true)
)

// tuiPrompter asks with bubbletea programs. It refuses to prompt when its input is
// not a terminal.
type tuiPrompter struct {
	in  io.Reader
	out io.Writer
}

func newTUIPrompter() *tuiPrompter {
	return &tuiPrompter{in: os.Stdin, out: os.Stderr}
}

func (p *tuiPrompter) interactive() bool {
	f, ok := p.in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *tuiPrompter) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	if !p.interactive() {
		return nil, selector.ErrPromptUnavailable
	}
	final, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(p.in), tea.WithOutput(p.out)).Run()
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	return final, nil
}

func (p *tuiPrompter) PromptNewRemote(ctx context.Context, dir string) (string, string, error) {
	final, err := p.run(ctx, newSetupModel(dir))
	if err != nil {
		return "", "", err
	}
	m, ok := final.(setupModel)
	if !ok || !m.done {
		return "", "", errPromptCancelled
	}
	return m.hostValue(), m.dirValue(), nil
}

func (p *tuiPrompter) ChooseRemote(ctx context.Context, dir string, remotes []registry.RemoteConfig) (string, error) {
	final, err := p.run(ctx, newChooseModel(dir, remotes))
	if err != nil {
		return "", err
	}
	m, ok := final.(chooseModel)
	if !ok || m.chosen == "" {
		return "", errPromptCancelled
	}
	return m.chosen, nil
}

type setupStep int

const (
	hostStep setupStep = iota
	dirStep
)

// setupModel asks for the host and remote directory of a directory without remotes.
type setupModel struct {
	dir          string
	hostInput    textinput.Model
	dirInput     textinput.Model
	step         setupStep
	errorMessage string
	done         bool
}

func newSetupModel(dir string) setupModel {
	host := textinput.New()
	host.Placeholder = txtHostPlaceholder
	host.Focus()
	host.CharLimit = 255
	host.Width = 48
	host.PromptStyle = focusedStyle
	host.TextStyle = focusedStyle
	host.PlaceholderStyle = placeholderStyle

	remoteDir := textinput.New()
	remoteDir.Placeholder = txtDirPlaceholder
	remoteDir.CharLimit = 4096
	remoteDir.Width = 48
	remoteDir.PromptStyle = focusedStyle
	remoteDir.TextStyle = focusedStyle
	remoteDir.PlaceholderStyle = placeholderStyle

	return setupModel{dir: dir, hostInput: host, dirInput: remoteDir, step: hostStep}
}

func (m setupModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.step == dirStep {
			m.step = hostStep
			m.dirInput.Blur()
			m.errorMessage = ""
			cmd := m.hostInput.Focus()
			return m, cmd
		}
		return m, tea.Quit
	case tea.KeyEnter:
		return m.submit()
	}

	var cmd tea.Cmd
	m.errorMessage = ""
	if m.step == hostStep {
		m.hostInput, cmd = m.hostInput.Update(msg)
	} else {
		m.dirInput, cmd = m.dirInput.Update(msg)
	}
	return m, cmd
}

func (m setupModel) submit() (tea.Model, tea.Cmd) {
	if m.step == hostStep {
		if !validHost(m.hostValue()) {
			m.errorMessage = txtInvalidHost
			return m, nil
		}
		m.step = dirStep
		m.hostInput.Blur()
		cmd := m.dirInput.Focus()
		return m, cmd
	}

	if m.dirValue() == "" {
		m.errorMessage = txtInvalidDir
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m setupModel) hostValue() string {
	return strings.TrimSpace(m.hostInput.Value())
}

func (m setupModel) dirValue() string {
	return strings.TrimSpace(m.dirInput.Value())
}

func (m setupModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(txtSetupTitle, m.dir)))
	b.WriteString("\n\n")

	b.WriteString(gray.Render(txtHostPrompt))
	b.WriteString("\n")
	if m.step == hostStep {
		b.WriteString(m.hostInput.View())
	} else {
		b.WriteString(green.Render(m.hostValue()))
		b.WriteString("\n\n")
		b.WriteString(gray.Render(txtDirPrompt))
		b.WriteString("\n")
		b.WriteString(m.dirInput.View())
	}

	if m.errorMessage != "" {
		b.WriteString("\n\n")
		b.WriteString(errorTextStyle.Render(m.errorMessage))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(txtSetupHelp))
	b.WriteString("\n")
	return b.String()
}

func validHost(host string) bool {
	return host != "" && !strings.ContainsAny(host, " \t\r\n:")
}

// chooseModel picks one of several remotes when none is preferred.
type chooseModel struct {
	dir     string
	remotes []registry.RemoteConfig
	cursor  int
	chosen  string
}

func newChooseModel(dir string, remotes []registry.RemoteConfig) chooseModel {
	return chooseModel{dir: dir, remotes: remotes}
}

func (m chooseModel) Init() tea.Cmd {
	return nil
}

func (m chooseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch s := key.String(); s {
	case "ctrl+c", "esc", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.remotes)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.remotes) > 0 {
			m.chosen = m.remotes[m.cursor].Name
		}
		return m, tea.Quit
	default:
		if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(m.remotes) {
			m.cursor = n - 1
			m.chosen = m.remotes[m.cursor].Name
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m chooseModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf(txtChooseTitle, m.dir)))
	b.WriteString("\n\n")
	for i, r := range m.remotes {
		line := fmt.Sprintf("%d. %s  %s", i+1, r.Name, gray.Render(r.Target()))
		if i == m.cursor {
			b.WriteString(focusedStyle.Render("> ") + line)
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(txtChooseHelp))
	b.WriteString("\n")
	return b.String()
}
