package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/store"
)

var (
	// Colors
	colorGreen   = lipgloss.Color("2")
	colorBlack   = lipgloss.Color("0")
	colorGray    = lipgloss.Color("240")
	colorRed     = lipgloss.Color("196")
	colorYellow  = lipgloss.Color("220")
	colorCyan    = lipgloss.Color("51")
	colorMagenta = lipgloss.Color("201")
	colorWhite   = lipgloss.Color("231")

	// Styles
	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorGreen).
			Padding(0, 1)

	errorBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorRed).
			Padding(0, 1)

	flashStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorMagenta)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			Padding(0, 1)

	streamStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorGreen).
			Padding(0, 1)

	systemStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	outgoingStyle = lipgloss.NewStyle().Foreground(colorCyan)
	directStyle   = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	incomingStyle = lipgloss.NewStyle().Foreground(colorGreen)

	connectedStyle   = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	connectingStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	unreachableStyle = lipgloss.NewStyle().Foreground(colorRed)
	discoveredStyle  = lipgloss.NewStyle().Foreground(colorGray)
)

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	totalWidth := m.viewport.Width
	totalHeight := m.viewport.Height

	streamWidth := int(float64(totalWidth) * 0.7)
	sidebarWidth := totalWidth - streamWidth - 4

	vp := m.viewport
	vp.Width = streamWidth - 4
	vp.Height = totalHeight - 2

	streamView := streamStyle.Width(streamWidth).Height(totalHeight - 2).Render(vp.View())
	sidebarView := m.renderSidebar(sidebarWidth, totalHeight)
	body := lipgloss.JoinHorizontal(lipgloss.Top, streamView, sidebarView)

	if m.flashTick > 0 && m.flashTick%2 == 0 {
		body = flashStyle.Render(body)
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderStatus(totalWidth), m.textInput.View())
}

func (m model) renderStatus(width int) string {
	if m.status != "" {
		return errorBarStyle.Width(width).Render(m.status)
	}
	connected := 0
	for _, p := range m.peers {
		if p.State == connmgr.Connected {
			connected++
		}
	}
	text := fmt.Sprintf("%s | peers %d/%d | friends %d | requests %d",
		m.self.DisplayName, connected, len(m.peers), len(m.friends), incomingCount(m.pending))
	return statusBarStyle.Width(width).Render(text)
}

func (m model) renderSidebar(width, height int) string {
	logo := "MESHAGE"
	id := m.self.ID
	if len(id) > 8 {
		id = id[:8]
	}
	identity := fmt.Sprintf("NAME: %s\nID: %s", m.self.DisplayName, id)

	peers := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("PEER", "STATE").
		Width(width)
	for _, p := range m.peers {
		peers.Row(p.Label(), stateStyle(p.State).Render(p.State.String()))
	}

	var friends strings.Builder
	for _, f := range m.friends {
		marker := "  "
		if m.friendOnline(f.PersistentID) {
			marker = connectedStyle.Render("* ")
		}
		friends.WriteString(marker + f.DisplayName + "\n")
	}
	var requests strings.Builder
	for _, r := range m.pending {
		arrow := "->"
		if r.Direction == store.Incoming {
			arrow = "<-"
		}
		requests.WriteString(fmt.Sprintf("%s %s\n", arrow, r.DisplayName))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		logo,
		"",
		identity,
		"",
		"PEERS:",
		peers.Render(),
		"FRIENDS:",
		friends.String(),
		"REQUESTS:",
		requests.String(),
	)
	return sidebarStyle.Width(width).Height(height).Render(content)
}

func (m model) friendOnline(id string) bool {
	for _, p := range m.peers {
		if p.PersistentID == id && p.State == connmgr.Connected {
			return true
		}
	}
	return false
}

func stateStyle(s connmgr.State) lipgloss.Style {
	switch s {
	case connmgr.Connected:
		return connectedStyle
	case connmgr.Connecting:
		return connectingStyle
	case connmgr.Unreachable:
		return unreachableStyle
	}
	return discoveredStyle
}

func formatMessage(msg store.Message) string {
	ts := time.Unix(msg.Timestamp, 0).Format("15:04:05")
	sender := msg.SenderName
	if sender == "" {
		sender = msg.Endpoint
	}
	switch {
	case msg.Direction == store.Outgoing && msg.Kind == store.KindDirect:
		return directStyle.Render(fmt.Sprintf("[%s] You -> %s: %s", ts, short(msg.TargetID), msg.Content))
	case msg.Direction == store.Outgoing:
		return outgoingStyle.Render(fmt.Sprintf("[%s] You: %s", ts, msg.Content))
	case msg.Kind == store.KindDirect:
		return directStyle.Render(fmt.Sprintf("[%s] %s (private): %s", ts, sender, msg.Content))
	}
	return incomingStyle.Render(fmt.Sprintf("[%s] %s: %s", ts, sender, msg.Content))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func incomingCount(reqs []store.PendingRequest) int {
	n := 0
	for _, r := range reqs {
		if r.Direction == store.Incoming {
			n++
		}
	}
	return n
}
