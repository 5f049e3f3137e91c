// Package monitor renders live bridge status in the terminal.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"fcbridge/pkg/engine"
	"fcbridge/pkg/protocol"
)

type frameMsg engine.Frame

type closedMsg struct{}

// Model is the bubbletea model of the status view.
type Model struct {
	frames  <-chan engine.Frame
	dropped func() uint64
	last    engine.Frame
	seen    bool
	closed  bool
	showOSD bool
	title   string
}

type Option func(*Model)

// WithDropped reports frames the view missed.
func WithDropped(fn func() uint64) Option {
	return func(m *Model) {
		m.dropped = fn
	}
}

func WithTitle(title string) Option {
	return func(m *Model) {
		m.title = title
	}
}

func New(frames <-chan engine.Frame, opts ...Option) Model {
	m := Model{
		frames:  frames,
		showOSD: true,
		title:   "fcbridge",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return waitFrame(m.frames)
}

// waitFrame blocks for one frame, then skips to the newest already queued so
// the view never lags behind a fast driver.
func waitFrame(frames <-chan engine.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return closedMsg{}
		}
		for {
			select {
			case next, ok := <-frames:
				if !ok {
					return frameMsg(f)
				}
				f = next
			default:
				return frameMsg(f)
			}
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.last = engine.Frame(msg)
		m.seen = true
		return m, waitFrame(m.frames)
	case closedMsg:
		m.closed = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "o":
			m.showOSD = !m.showOSD
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.title)
	if !m.seen {
		b.WriteString("waiting for physics host...\n")
		return b.String()
	}

	f := m.last
	st := f.State
	fmt.Fprintf(&b, "step      %d\n", f.Seq)
	fmt.Fprintf(&b, "wall      %s\n", f.WallElapsed.Truncate(time.Millisecond))
	fmt.Fprintf(&b, "virtual   %d us\n", f.VirtualMicros)
	fmt.Fprintf(&b, "drift     %+d us\n", f.Drift())
	fmt.Fprintf(&b, "pending   %d us  ticks %d\n", f.PendingMicros, f.Ticks)
	fmt.Fprintf(&b, "position  %7.2f %7.2f %7.2f\n", st.Position[0], st.Position[1], st.Position[2])
	fmt.Fprintf(&b, "lin vel   %7.2f %7.2f %7.2f\n", st.LinearVelocity[0], st.LinearVelocity[1], st.LinearVelocity[2])
	fmt.Fprintf(&b, "ang vel   %7.2f %7.2f %7.2f\n", st.AngularVelocity[0], st.AngularVelocity[1], st.AngularVelocity[2])
	fmt.Fprintf(&b, "rc        %s\n", formatRC(st.RCData))
	if st.Crashed {
		b.WriteString("status    CRASHED\n")
	}
	if m.dropped != nil {
		fmt.Fprintf(&b, "dropped   %d\n", m.dropped())
	}

	if m.showOSD && f.OSD != nil {
		b.WriteString("\n")
		b.WriteString(renderOSD(f.OSD))
	}
	if m.closed {
		b.WriteString("\nsession ended\n")
	} else {
		b.WriteString("\nq quit  o toggle osd\n")
	}
	return b.String()
}

func formatRC(rc [protocol.RCChannels]float32) string {
	parts := make([]string, len(rc))
	for i, v := range rc {
		parts[i] = fmt.Sprintf("%5.2f", v)
	}
	return strings.Join(parts, " ")
}

func renderOSD(osd *protocol.OSDBuffer) string {
	var b strings.Builder
	border := "+" + strings.Repeat("-", protocol.OSDCols) + "+\n"
	b.WriteString(border)
	for _, line := range osd.Lines() {
		fmt.Fprintf(&b, "|%-*s|\n", protocol.OSDCols, line)
	}
	b.WriteString(border)
	return b.String()
}

// Run shows the model until the frame channel closes, the user quits or ctx
// is done.
func Run(ctx context.Context, frames <-chan engine.Frame, in io.Reader, out io.Writer, opts ...Option) error {
	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if in != nil {
		progOpts = append(progOpts, tea.WithInput(in))
	}
	if out != nil {
		progOpts = append(progOpts, tea.WithOutput(out))
	}
	p := tea.NewProgram(New(frames, opts...), progOpts...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("status view: %w", err)
	}
	return nil
}
