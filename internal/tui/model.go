package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/engine"
	"github.com/shahidanowar/Meshage/internal/store"
)

// Engine is the session surface the terminal UI drives.
type Engine interface {
	Identity() (core.Identity, bool)
	Peers() []connmgr.Peer
	Friends() ([]store.Friend, error)
	PendingRequests() []store.PendingRequest
	Messages(limit int) ([]store.Message, error)
	SendBroadcast(text string) (store.Message, error)
	SendDirect(targetID, text string) (store.Message, error)
	RequestFriendship(endpoint string) error
	RespondToFriendshipRequest(persistentID string, accept bool) error
	ConnectTo(endpoint string) error
}

type tickMsg time.Time

type eventMsg struct {
	ev engine.Event
}

type model struct {
	eng     Engine
	events  <-chan engine.Event
	self    core.Identity
	peers   []connmgr.Peer
	friends []store.Friend
	pending []store.PendingRequest

	viewport  viewport.Model
	textInput textinput.Model
	lines     []string
	status    string
	ready     bool
	flashTick int
}

func initialModel(eng Engine, events <-chan engine.Event) model {
	ti := textinput.New()
	ti.Placeholder = "Message the mesh, or /dm /friend /accept /reject /connect"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 40

	self, _ := eng.Identity()
	friends, _ := eng.Friends()
	m := model{
		eng:       eng,
		events:    events,
		self:      self,
		peers:     eng.Peers(),
		friends:   friends,
		pending:   eng.PendingRequests(),
		textInput: ti,
		lines:     []string{"Welcome to Meshage!", "Chat history will appear here."},
	}
	if msgs, err := eng.Messages(50); err == nil {
		for i := len(msgs) - 1; i >= 0; i-- {
			m.lines = append(m.lines, formatMessage(msgs[i]))
		}
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(), waitForEvent(m.events))
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(events <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{ev: ev}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		if m.flashTick > 0 {
			m.flashTick--
		}
		return m, tick()

	case eventMsg:
		m.apply(msg.ev)
		return m, waitForEvent(m.events)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if v := m.textInput.Value(); strings.TrimSpace(v) != "" {
				m.textInput.Reset()
				if quit := m.submit(v); quit {
					return m, tea.Quit
				}
			}
		}

	case tea.WindowSizeMsg:
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - footerHeight
		}
		m.textInput.Width = msg.Width - 4
		m.refresh()
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *model) apply(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.PeerListChanged:
		m.peers = ev.Peers
	case engine.ConnectionStateChanged:
		m.peers = m.eng.Peers()
	case engine.ConnectionFailed:
		m.status = fmt.Sprintf("%s: %s (%v)", m.peerLabel(ev.Endpoint), ev.Class, ev.Err)
	case engine.MessageReceived:
		m.push(formatMessage(ev.Message))
		if ev.Message.Kind == store.KindDirect {
			m.flashTick = 4
		}
	case engine.FriendshipRequestReceived:
		m.push(systemStyle.Render(fmt.Sprintf("* %s wants to be friends. /accept %s or /reject %s",
			ev.Request.DisplayName, ev.Request.DisplayName, ev.Request.DisplayName)))
		m.flashTick = 4
	case engine.FriendshipEstablished:
		m.push(systemStyle.Render(fmt.Sprintf("* You and %s are now friends", ev.Friend.DisplayName)))
	case engine.FriendshipStateChanged:
		m.friends = ev.Friends
		m.pending = ev.Pending
	case engine.SendFailed:
		m.status = fmt.Sprintf("send to %s failed: %v", m.peerLabel(ev.Endpoint), ev.Err)
	}
}

// submit runs one input line and reports whether the UI should exit.
func (m *model) submit(line string) bool {
	cmd, err := parseCommand(line)
	if err != nil {
		m.status = err.Error()
		return false
	}
	m.status = ""
	switch cmd.kind {
	case cmdQuit:
		return true
	case cmdBroadcast:
		msg, err := m.eng.SendBroadcast(cmd.text)
		if err != nil {
			m.status = err.Error()
			return false
		}
		m.push(formatMessage(msg))
	case cmdDirect:
		msg, err := m.eng.SendDirect(m.friendID(cmd.arg), cmd.text)
		if err != nil {
			m.status = err.Error()
			return false
		}
		m.push(formatMessage(msg))
	case cmdFriend:
		if err := m.eng.RequestFriendship(m.peerEndpoint(cmd.arg)); err != nil {
			m.status = err.Error()
			return false
		}
		m.status = "friend request sent to " + cmd.arg
	case cmdAccept, cmdReject:
		id := m.requestID(cmd.arg)
		if err := m.eng.RespondToFriendshipRequest(id, cmd.kind == cmdAccept); err != nil {
			m.status = err.Error()
		}
	case cmdConnect:
		if err := m.eng.ConnectTo(m.peerEndpoint(cmd.arg)); err != nil {
			m.status = err.Error()
		}
	}
	return false
}

func (m *model) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > 500 {
		m.lines = m.lines[len(m.lines)-500:]
	}
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// peerEndpoint resolves a display name, persistent id or endpoint to an endpoint.
func (m model) peerEndpoint(arg string) string {
	for _, p := range m.peers {
		if p.EndpointID == arg || strings.EqualFold(p.DisplayName, arg) || (p.PersistentID != "" && p.PersistentID == arg) {
			return p.EndpointID
		}
	}
	return arg
}

func (m model) peerLabel(endpoint string) string {
	for _, p := range m.peers {
		if p.EndpointID == endpoint {
			return p.Label()
		}
	}
	return endpoint
}

func (m model) friendID(arg string) string {
	for _, f := range m.friends {
		if f.PersistentID == arg || strings.EqualFold(f.DisplayName, arg) {
			return f.PersistentID
		}
	}
	for _, p := range m.peers {
		if p.Resolved() && strings.EqualFold(p.DisplayName, arg) {
			return p.PersistentID
		}
	}
	return arg
}

func (m model) requestID(arg string) string {
	for _, r := range m.pending {
		if r.Direction == store.Incoming && (r.PersistentID == arg || strings.EqualFold(r.DisplayName, arg)) {
			return r.PersistentID
		}
	}
	return arg
}

// StartTUI runs the terminal UI until the user quits.
func StartTUI(eng Engine, events <-chan engine.Event) error {
	p := tea.NewProgram(initialModel(eng, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
