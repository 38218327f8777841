package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/npezzotti/go-estate-chat/internal/room"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	connectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func (m *Model) View() string {
	lines := []string{
		headerStyle.Render(m.header()),
		m.viewport.View(),
		m.input.View(),
		m.statusLine(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) header() string {
	if !m.loaded {
		return "loading room " + m.opts.RoomId + "..."
	}

	h := m.detail.CounterpartIdentity
	if m.detail.ListingId != "" {
		h += " · listing " + m.detail.ListingId
	}
	return h
}

func (m *Model) statusLine() string {
	parts := []string{m.roomStateLabel()}

	if s := m.opts.Session; s != nil {
		parts = append(parts, "session "+s.State().String())
		parts = append(parts, fmt.Sprintf("%d unread", m.unread))
	}
	if m.pager.Loading() {
		parts = append(parts, "loading older messages")
	} else if m.loaded && !m.pager.HasMore() {
		parts = append(parts, "start of conversation")
	}

	line := statusStyle.Render(strings.Join(parts, " · "))
	if m.status != "" {
		line += "  " + errorStyle.Render(m.status)
	}
	return line
}

func (m *Model) roomStateLabel() string {
	switch m.roomState {
	case room.StateConnected:
		return connectedStyle.Render("● live")
	case room.StateConnecting:
		return offlineStyle.Render("○ connecting")
	default:
		return offlineStyle.Render("○ offline")
	}
}
