package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/openmined/syncr/internal/registry"
	"github.com/openmined/syncr/internal/selector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeText(t *testing.T, m tea.Model, text string) tea.Model {
	t.Helper()
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func press(m tea.Model, k tea.KeyType) (tea.Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: k})
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestSetupModel_HostThenDir(t *testing.T) {
	var m tea.Model = newSetupModel("/home/alice/project")

	m = typeText(t, m, "alice@devbox")
	m, cmd := press(m, tea.KeyEnter)
	assert.False(t, isQuit(cmd))
	assert.Equal(t, dirStep, m.(setupModel).step)

	m = typeText(t, m, "~/src/project")
	m, cmd = press(m, tea.KeyEnter)
	assert.True(t, isQuit(cmd))

	final := m.(setupModel)
	assert.True(t, final.done)
	assert.Equal(t, "alice@devbox", final.hostValue())
	assert.Equal(t, "~/src/project", final.dirValue())
}

func TestSetupModel_RejectsInvalidHost(t *testing.T) {
	for _, host := range []string{"", "dev box", "devbox:22"} {
		t.Run(host, func(t *testing.T) {
			var m tea.Model = newSetupModel("/p")
			if host != "" {
				m = typeText(t, m, host)
			}
			m, cmd := press(m, tea.KeyEnter)
			assert.Nil(t, cmd)

			sm := m.(setupModel)
			assert.Equal(t, hostStep, sm.step)
			assert.Equal(t, txtInvalidHost, sm.errorMessage)
			assert.Contains(t, sm.View(), txtInvalidHost)
		})
	}
}

func TestSetupModel_RequiresDir(t *testing.T) {
	var m tea.Model = newSetupModel("/p")
	m = typeText(t, m, "devbox")
	m, _ = press(m, tea.KeyEnter)

	m, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Equal(t, txtInvalidDir, m.(setupModel).errorMessage)
	assert.False(t, m.(setupModel).done)
}

func TestSetupModel_EscGoesBackThenQuits(t *testing.T) {
	var m tea.Model = newSetupModel("/p")
	m = typeText(t, m, "devbox")
	m, _ = press(m, tea.KeyEnter)
	require.Equal(t, dirStep, m.(setupModel).step)

	m, cmd := press(m, tea.KeyEsc)
	assert.False(t, isQuit(cmd))
	assert.Equal(t, hostStep, m.(setupModel).step)

	m, cmd = press(m, tea.KeyEsc)
	assert.True(t, isQuit(cmd))
	assert.False(t, m.(setupModel).done)
}

func TestSetupModel_CtrlCQuits(t *testing.T) {
	m, cmd := press(newSetupModel("/p"), tea.KeyCtrlC)
	assert.True(t, isQuit(cmd))
	assert.False(t, m.(setupModel).done)
}

func testRemotes() []registry.RemoteConfig {
	return []registry.RemoteConfig{
		{Name: "dev", Host: "devbox", RemoteDir: "work"},
		{Name: "nas", Host: "nas", RemoteDir: "backup"},
		{Name: "ci", Host: "ci", RemoteDir: "build"},
	}
}

func TestChooseModel_Navigate(t *testing.T) {
	var m tea.Model = newChooseModel("/p", testRemotes())

	m, _ = press(m, tea.KeyDown)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	assert.Equal(t, 2, m.(chooseModel).cursor)

	m, _ = press(m, tea.KeyUp)
	assert.Equal(t, 1, m.(chooseModel).cursor)
	assert.Contains(t, m.View(), "> 2. nas")

	m, cmd := press(m, tea.KeyEnter)
	assert.True(t, isQuit(cmd))
	assert.Equal(t, "nas", m.(chooseModel).chosen)
}

func TestChooseModel_NumberPicks(t *testing.T) {
	m, cmd := newChooseModel("/p", testRemotes()).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("3")})
	assert.True(t, isQuit(cmd))
	assert.Equal(t, "ci", m.(chooseModel).chosen)

	m, cmd = newChooseModel("/p", testRemotes()).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("9")})
	assert.Nil(t, cmd)
	assert.Empty(t, m.(chooseModel).chosen)
}

func TestChooseModel_EscCancels(t *testing.T) {
	m, cmd := press(newChooseModel("/p", testRemotes()), tea.KeyEsc)
	assert.True(t, isQuit(cmd))
	assert.Empty(t, m.(chooseModel).chosen)
}

func TestTUIPrompter_RequiresTerminal(t *testing.T) {
	p := &tuiPrompter{in: strings.NewReader("devbox\n"), out: &bytes.Buffer{}}

	_, _, err := p.PromptNewRemote(context.Background(), "/p")
	assert.ErrorIs(t, err, selector.ErrPromptUnavailable)

	_, err = p.ChooseRemote(context.Background(), "/p", testRemotes())
	assert.ErrorIs(t, err, selector.ErrPromptUnavailable)
}

func TestValidHost(t *testing.T) {
	assert.True(t, validHost("alice@devbox"))
	assert.True(t, validHost("10.0.0.4"))
	assert.False(t, validHost(""))
	assert.False(t, validHost("dev box"))
	assert.False(t, validHost("[::1]:22"))
}
