package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/npezzotti/go-estate-chat/internal/history"
	"github.com/npezzotti/go-estate-chat/internal/room"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

type roomLoadedMsg struct {
	gen    int
	detail types.RoomDetail
	err    error
}

type roomOpenedMsg struct {
	err error
}

type olderPageMsg struct {
	ticket history.Ticket
	page   types.Page
	err    error
}

type timelineChangedMsg struct{}

type roomStatusMsg struct {
	state room.TransportState
}

type unreadCountMsg struct {
	count int
}

type sentMsg struct {
	content string
	err     error
}

type errMsg struct {
	err error
}

// loadRoomCmd fetches the room and its latest page. The paginator
// generation is taken up front so a result arriving after Close is dropped.
func (m *Model) loadRoomCmd() tea.Cmd {
	gen, err := m.pager.BeginLatest()
	if err != nil {
		return func() tea.Msg { return errMsg{err: err} }
	}
	rooms, roomId := m.opts.Rooms, m.opts.RoomId

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		detail, err := rooms.FetchRoom(ctx, roomId)
		return roomLoadedMsg{gen: gen, detail: detail, err: err}
	}
}

func (m *Model) openRoomCmd() tea.Cmd {
	ch, token := m.room, m.opts.Token

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		return roomOpenedMsg{err: ch.Open(ctx, token)}
	}
}

func (m *Model) fetchOlderCmd(t history.Ticket) tea.Cmd {
	fetch := m.opts.History

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		page, err := fetch(ctx, t.Page, t.Size)
		return olderPageMsg{ticket: t, page: page, err: err}
	}
}

func (m *Model) sendCmd(content string) tea.Cmd {
	ch := m.room

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		return sentMsg{content: content, err: ch.Send(ctx, content)}
	}
}
