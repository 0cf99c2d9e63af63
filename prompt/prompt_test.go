package prompt

import (
	"bytes"
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestStaticAnswersOnlyOfferedChoices(t *testing.T) {
	p := &Static{Answer: "Yes"}
	got, err := p.Ask(context.Background(), "Download?", "Yes", "Not this time", "Never")
	require.NoError(t, err)
	require.Equal(t, "Yes", got)

	got, err = p.Ask(context.Background(), "Restart?", "Restart", "Later")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, []string{"Download?", "Restart?"}, p.Asked())
}

func TestStaticRecordsNotifications(t *testing.T) {
	p := &Static{}
	p.Notify(context.Background(), SeverityError, "boom")
	p.Notify(context.Background(), SeverityInfo, "ok")
	require.Equal(t, []Message{{SeverityError, "boom"}, {SeverityInfo, "ok"}}, p.Messages())

	var out bytes.Buffer
	echo := &Static{Out: &out}
	echo.Notify(context.Background(), SeverityWarning, "careful")
	require.Equal(t, "warning: careful\n", out.String())
}

func TestStaticHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Static{Answer: "Yes"}).Ask(ctx, "q", "Yes")
	require.ErrorIs(t, err, context.Canceled)
}

func TestChooserModelNavigatesAndSelects(t *testing.T) {
	m := newChooserModel("Download?", []string{"Yes", "Not this time", "Never"})
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, cmd := next.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	final := next.(chooserModel)
	require.True(t, final.done)
	require.Equal(t, "Never", final.chosen)
	require.Empty(t, final.View())
}

func TestChooserModelDismiss(t *testing.T) {
	m := newChooserModel("Download?", []string{"Yes", "Never"})
	require.Contains(t, m.View(), "> Yes")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	final := next.(chooserModel)
	require.True(t, final.done)
	require.Empty(t, final.chosen)
}

func TestTerminalNotifyWritesMessage(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&bytes.Buffer{}, &out)
	term.Notify(context.Background(), SeverityWarning, "no prebuilt package")
	require.Contains(t, out.String(), "no prebuilt package")
}
