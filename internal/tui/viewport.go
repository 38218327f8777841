package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/npezzotti/go-estate-chat/internal/history"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

const timeFormat = "Jan 2 15:04"

var (
	ownStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	otherStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	readStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// messageView adapts a bubbles viewport to the paginator. Offsets and
// heights are in rendered lines.
type messageView struct {
	vp       *viewport.Model
	identity string
}

func (v *messageView) Metrics() history.ScrollMetrics {
	return history.ScrollMetrics{
		ContentHeight: v.vp.TotalLineCount(),
		Offset:        v.vp.YOffset,
	}
}

func (v *messageView) Commit(msgs []types.Message) int {
	v.vp.SetContent(renderMessages(msgs, v.identity))
	return v.vp.TotalLineCount()
}

func (v *messageView) SetOffset(offset int) {
	v.vp.SetYOffset(offset)
}

func (v *messageView) ScrollToBottom() {
	v.vp.GotoBottom()
}

func (v *messageView) atBottom() bool {
	return v.vp.AtBottom()
}

func renderMessages(msgs []types.Message, identity string) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, renderMessage(m, identity))
	}
	return strings.Join(lines, "\n")
}

// renderMessage formats one message. Own messages carry a read mark once
// the counterpart has read them.
func renderMessage(m types.Message, identity string) string {
	sender := otherStyle.Render(m.SenderIdentity)
	if m.SenderIdentity == identity {
		sender = ownStyle.Render("you")
	}

	line := timeStyle.Render(m.CreatedAt.Local().Format(timeFormat)) + " " + sender + ": " + m.Content
	if m.SenderIdentity == identity && m.IsRead {
		line += " " + readStyle.Render("read")
	}
	return line
}
