// Package tui is the terminal view of one chat room: scrollable history with
// older pages loaded on demand, live messages and an input line.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/npezzotti/go-estate-chat/internal/history"
	"github.com/npezzotti/go-estate-chat/internal/reconcile"
	"github.com/npezzotti/go-estate-chat/internal/room"
	"github.com/npezzotti/go-estate-chat/internal/session"
	"github.com/npezzotti/go-estate-chat/internal/stats"
	"github.com/npezzotti/go-estate-chat/internal/types"
)

const (
	requestTimeout = 15 * time.Second
	// rows taken by the header, input and status lines
	chromeHeight = 4
)

// RoomFetcher loads a room with its latest page of messages.
type RoomFetcher interface {
	FetchRoom(ctx context.Context, roomId string) (types.RoomDetail, error)
}

// Options configure the room view.
type Options struct {
	RoomId   string
	Identity string
	Token    string
	Rooms    RoomFetcher
	History  history.FetchFunc
	Dial     room.DialFunc
	// Session, if set, feeds the status line. Attach connects it; the
	// caller disconnects it.
	Session          *session.Channel
	PageSize         int
	NearTopThreshold int
	ReconnectDelay   time.Duration
	Logger           *log.Logger
	Stats            stats.StatsProvider
}

// Model implements the room view.
type Model struct {
	opts     Options
	log      *log.Logger
	timeline *reconcile.Timeline
	room     *room.Channel
	pager    *history.Paginator
	view     *messageView
	viewport viewport.Model
	input    textinput.Model

	// send delivers messages from network goroutines into the program.
	send func(tea.Msg)

	detail    types.Room
	loaded    bool
	roomState room.TransportState
	unread    int
	status    string
	width     int
	height    int
}

func NewModel(opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	input := textinput.New()
	input.Placeholder = "Write a message..."
	input.CharLimit = 2000
	input.Focus()

	m := &Model{
		opts:     opts,
		log:      opts.Logger,
		timeline: reconcile.NewTimeline(),
		viewport: viewport.New(0, 0),
		input:    input,
		send:     func(tea.Msg) {},
	}
	m.view = &messageView{vp: &m.viewport, identity: opts.Identity}

	m.pager = history.NewPaginator(opts.History, m.timeline, m.view, history.Config{
		PageSize:         opts.PageSize,
		NearTopThreshold: opts.NearTopThreshold,
		Logger:           opts.Logger,
	})
	m.room = room.New(m.timeline, room.Config{
		RoomId:         opts.RoomId,
		Identity:       opts.Identity,
		Dial:           opts.Dial,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         opts.Logger,
		Stats:          opts.Stats,
		OnStatus: func(s room.TransportState) {
			m.send(roomStatusMsg{state: s})
		},
		OnChange: func([]types.Message) {
			m.send(timelineChangedMsg{})
		},
		Backfill: m.latestPage,
	})

	return m
}

// latestPage fetches page 0 for the room channel to merge after a reconnect.
func (m *Model) latestPage(ctx context.Context) ([]types.Message, error) {
	if m.opts.History == nil {
		return nil, nil
	}
	page, err := m.opts.History(ctx, 0, m.pager.Cursor().PageSize)
	if err != nil {
		return nil, err
	}
	return page.Chronological(), nil
}

// Attach routes asynchronous updates to send, normally tea.Program.Send. It
// must be called before the program starts. With a session it subscribes to
// the unread count first and then connects, so the count pushed on connect
// is not missed. The caller still owns Disconnect.
func (m *Model) Attach(send func(tea.Msg)) error {
	m.send = send

	s := m.opts.Session
	if s == nil {
		return nil
	}

	err := s.SubscribeUnreadCount(session.NewListener(func(e session.UnreadCountEvent) {
		send(unreadCountMsg{count: e.Count})
	}))
	if err != nil {
		return fmt.Errorf("subscribe unread count: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := s.Connect(ctx); errors.Is(err, session.ErrNoCredential) {
		return err
	} else if err != nil {
		// the session's reconnect policy owns dial failures
		m.log.Println("tui: session connect:", err)
	}
	return nil
}

// Close stops the live connection and drops pending page loads.
func (m *Model) Close() {
	m.pager.Close()
	m.room.Close()
}

// Run shows the room until the user quits.
func Run(opts Options) error {
	model := NewModel(opts)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	defer model.Close()

	if err := model.Attach(program.Send); err != nil {
		return err
	}

	_, err := program.Run()
	return err
}

// Init subscribes to the room and fetches its latest page together. Anything
// published in between arrives on both and is merged once.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadRoomCmd(), m.openRoomCmd())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, tea.Batch(cmd, m.maybeLoadOlder())
	case roomLoadedMsg:
		return m.handleRoomLoadedMsg(msg)
	case roomOpenedMsg:
		if msg.err != nil {
			m.status = "connect failed: " + msg.err.Error()
		}
		return m, nil
	case olderPageMsg:
		return m.handleOlderPageMsg(msg)
	case timelineChangedMsg:
		m.refresh()
		return m, nil
	case roomStatusMsg:
		m.roomState = msg.state
		return m, nil
	case unreadCountMsg:
		m.unread = msg.count
		return m, nil
	case sentMsg:
		if msg.err != nil {
			m.status = "not sent: " + msg.err.Error()
			m.input.SetValue(msg.content)
		}
		return m, nil
	case errMsg:
		m.status = msg.err.Error()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	bottom := m.view.atBottom()
	m.viewport.Width = msg.Width
	m.viewport.Height = max(msg.Height-chromeHeight, 1)
	m.input.Width = max(msg.Width-4, 10)
	if bottom {
		m.viewport.GotoBottom()
	}
	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		return m, m.submit()
	case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown, tea.KeyHome, tea.KeyEnd:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, tea.Batch(cmd, m.maybeLoadOlder())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleRoomLoadedMsg(msg roomLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.status = msg.err.Error()
		return m, nil
	}

	if err := m.pager.ApplyLatest(msg.gen, msg.detail.Messages); err != nil {
		m.log.Println("tui: apply latest:", err)
		return m, nil
	}
	m.detail = msg.detail.Room
	m.loaded = true
	m.status = ""

	return m, nil
}

func (m *Model) handleOlderPageMsg(msg olderPageMsg) (tea.Model, tea.Cmd) {
	if err := m.pager.Complete(msg.ticket, msg.page, msg.err); err != nil {
		m.status = err.Error()
	}
	return m, nil
}

// refresh re-renders the timeline after live traffic, following the bottom
// if the view was already there.
func (m *Model) refresh() {
	bottom := m.view.atBottom()
	m.view.Commit(m.timeline.Snapshot())
	if bottom {
		m.view.ScrollToBottom()
	}
}

// maybeLoadOlder starts an older page load when the view is near the top.
func (m *Model) maybeLoadOlder() tea.Cmd {
	if !m.loaded || m.viewport.YOffset > m.opts.NearTopThreshold {
		return nil
	}

	ticket, err := m.pager.BeginOlder()
	if err != nil {
		return nil
	}
	return m.fetchOlderCmd(ticket)
}

func (m *Model) submit() tea.Cmd {
	content := m.input.Value()
	if strings.TrimSpace(content) == "" {
		return nil
	}

	if m.roomState != room.StateConnected {
		m.status = types.ErrNotConnected.Error()
		return nil
	}

	m.input.Reset()
	m.status = ""
	return m.sendCmd(content)
}
