package monitor

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcbridge/pkg/engine"
	"fcbridge/pkg/protocol"
)

func TestViewBeforeFirstFrame(t *testing.T) {
	m := New(make(chan engine.Frame))
	assert.Contains(t, m.View(), "waiting for physics host")
}

func TestWaitFrameTakesNewest(t *testing.T) {
	ch := make(chan engine.Frame, 3)
	ch <- engine.Frame{Seq: 1}
	ch <- engine.Frame{Seq: 2}
	ch <- engine.Frame{Seq: 3}

	msg := waitFrame(ch)()
	f, ok := msg.(frameMsg)
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)
}

func TestWaitFrameClosed(t *testing.T) {
	ch := make(chan engine.Frame)
	close(ch)
	_, ok := waitFrame(ch)().(closedMsg)
	assert.True(t, ok)
}

func TestUpdateRendersFrame(t *testing.T) {
	var osd protocol.OSDBuffer
	osd.SetText(0, 0, "ARMED")
	frame := engine.Frame{
		Seq:           12,
		WallElapsed:   900 * time.Microsecond,
		VirtualMicros: 1000,
		Ticks:         20,
		State:         protocol.StatePacket{Crashed: true},
		OSD:           &osd,
	}

	m := New(make(chan engine.Frame), WithDropped(func() uint64 { return 4 }))
	next, cmd := m.Update(frameMsg(frame))
	require.NotNil(t, cmd)

	view := next.View()
	assert.Contains(t, view, "step      12")
	assert.Contains(t, view, "virtual   1000 us")
	assert.Contains(t, view, "drift     +100 us")
	assert.Contains(t, view, "CRASHED")
	assert.Contains(t, view, "dropped   4")
	assert.Contains(t, view, "|ARMED")

	toggled, _ := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")})
	assert.NotContains(t, toggled.View(), "|ARMED")
}

func TestUpdateQuitKeys(t *testing.T) {
	m := New(make(chan engine.Frame))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestUpdateClosedQuits(t *testing.T) {
	m := New(make(chan engine.Frame))
	next, cmd := m.Update(closedMsg{})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
	assert.True(t, next.(Model).closed)
}
