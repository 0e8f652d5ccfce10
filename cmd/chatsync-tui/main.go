package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatsync/chat"
	"chatsync/config"
	"chatsync/history"
	"chatsync/models"
	"chatsync/transport"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	selfColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	selfStyle  = lipgloss.NewStyle().Foreground(selfColor)
	otherStyle = lipgloss.NewStyle().Foreground(primaryColor)

	chatWindowStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)

	footerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// snapshotMsg carries a controller snapshot into the bubbletea loop.
type snapshotMsg struct {
	snap chat.Snapshot
}

type mountDoneMsg struct {
	err error
}

type model struct {
	ctrl *chat.Controller
	snap chat.Snapshot

	localUserID string

	input    textinput.Model
	vp       viewport.Model
	width    int
	height   int
	ready    bool
	mountErr error
}

func initialModel(ctrl *chat.Controller, localUserID string) model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 2000
	input.Width = 50
	input.Focus()

	return model{
		ctrl:        ctrl,
		localUserID: localUserID,
		input:       input,
		vp:          viewport.New(80, 20),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, func() tea.Msg {
		return mountDoneMsg{err: m.ctrl.Mount(context.Background())}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.ctrl.Unmount()
			return m, tea.Quit
		case "ctrl+p":
			m.ctrl.LoadMore()
			return m, nil
		case "enter":
			content := strings.TrimSpace(m.input.Value())
			if content != "" {
				m.input.SetValue("")
				m.ctrl.Send(content)
			}
			return m, nil
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if m.input.Value() != before {
			m.ctrl.InputChanged()
		}
		m.vp, _ = m.vp.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp = viewport.New(m.width-4, m.height-7)
		m.input.Width = m.width - 8
		m.ready = true
		m.refreshViewport()
		return m, nil

	case mountDoneMsg:
		m.mountErr = msg.err
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.refreshViewport()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) refreshViewport() {
	m.vp.SetContent(m.renderMessages())
	m.vp.GotoBottom()
}

func (m *model) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.snap.Messages {
		style := otherStyle
		name := "them"
		if p := msg.Sender; p != nil {
			name = p.DisplayName()
		}
		if msg.SentBy(m.localUserID) {
			style = selfStyle
			name = "you"
		}

		receipt := ""
		if msg.SentBy(m.localUserID) {
			switch {
			case msg.ReadAt != nil || msg.IsRead:
				receipt = " ✓✓"
			case msg.DeliveredAt != nil:
				receipt = " ✓"
			}
		}

		content := msg.Content
		if msg.MessageType == models.MessageTypeFile {
			content = fmt.Sprintf("[file] %s", msg.FileName)
		}

		fmt.Fprintf(&b, "%s %s: %s%s\n",
			mutedStyle.Render(formatRelativeTime(msg.CreatedAt)),
			style.Render(name),
			content,
			mutedStyle.Render(receipt),
		)
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "\n  starting..."
	}
	if m.mountErr != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.mountErr))
	}

	headerText := "Chat"
	if m.snap.Counterpart != nil {
		headerText = m.snap.Counterpart.DisplayName()
	}
	switch {
	case m.snap.Reconnecting:
		headerText += mutedStyle.Render("  ⟳ reconnecting...")
	case m.snap.State == chat.StateLoading:
		headerText += mutedStyle.Render("  loading...")
	case m.snap.State == chat.StateFailed:
		headerText += errorStyle.Render("  failed")
	case m.snap.State == chat.StateSending:
		headerText += mutedStyle.Render("  sending...")
	}
	header := titleStyle.Render(headerText)

	status := ""
	if len(m.snap.TypingUsers) > 0 {
		status = mutedStyle.Render("typing...")
	}
	if m.snap.LastError != "" {
		status = errorStyle.Render(m.snap.LastError)
	}
	if m.snap.Pagination.HasMore {
		hint := mutedStyle.Render("(ctrl+p: older messages)")
		if status == "" {
			status = hint
		} else {
			status += " " + hint
		}
	}

	footerContent := m.input.View()
	if status != "" {
		footerContent = status + "\n" + footerContent
	}
	footer := footerStyle.Width(m.width - 4).Render(footerContent)

	content := lipgloss.JoinVertical(lipgloss.Left, header, m.vp.View(), footer)
	return chatWindowStyle.Width(m.width - 2).Render(content)
}

func formatRelativeTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh", int(diff.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

func main() {
	var (
		serverURL      = flag.String("server", "", "REST endpoint root (overrides config)")
		conversationID = flag.String("conversation", "", "conversation to open")
		userID         = flag.String("user-id", "", "local user id")
		userName       = flag.String("user-name", "", "local user display name")
		sessionCookie  = flag.String("cookie", "", "session cookie as name=value")
		canHire        = flag.Bool("hire", false, "show the hire action for this view")
	)
	flag.Parse()

	if *conversationID == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "chatsync-tui: -conversation and -user-id are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, _, err := config.LoadOrCreate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: load config: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: cookie jar: %v\n", err)
		os.Exit(1)
	}
	if *sessionCookie != "" {
		if err := seedCookie(jar, cfg.ServerURL, *sessionCookie); err != nil {
			fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
			os.Exit(1)
		}
	}

	histClient, err := history.NewClient(history.ClientOptions{
		BaseURL:   cfg.ServerURL,
		Jar:       jar,
		PageLimit: cfg.PageLimit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
		os.Exit(1)
	}

	socketURL, err := cfg.SocketURL()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
		os.Exit(1)
	}

	registry := transport.NewRegistry()
	session, err := transport.NewSession(transport.SessionOptions{
		URL:      socketURL,
		Dialer:   transport.NewWebsocketDialer(jar),
		Registry: registry,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
		os.Exit(1)
	}
	supervisor, err := transport.NewSupervisor(transport.SupervisorOptions{
		Session:        session,
		Registry:       registry,
		MaxInterval:    cfg.ReconnectMaxWait(),
		MaxElapsedTime: cfg.ReconnectGiveUp(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
		os.Exit(1)
	}

	// The controller notifies before the program exists; the pointer is
	// assigned below, before Mount runs from Init.
	var program *tea.Program

	ctrl, err := chat.NewController(chat.ControllerOptions{
		Transport:       supervisor,
		Registry:        registry,
		History:         histClient,
		Identity:        models.Identity{ID: *userID, FirstName: *userName},
		ConversationID:  *conversationID,
		PageLimit:       cfg.PageLimit,
		TypingDebounce:  cfg.TypingDebounce(),
		RemoteTypingTTL: cfg.RemoteTypingTTL(),
		Capabilities:    chat.Capabilities{CanHire: *canHire},
		Notify: func(snap chat.Snapshot) {
			if program != nil {
				program.Send(snapshotMsg{snap: snap})
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
		os.Exit(1)
	}

	program = tea.NewProgram(initialModel(ctrl, *userID), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatsync-tui: %v\n", err)
		os.Exit(1)
	}
}

// seedCookie installs a name=value pair for the server host so both the
// REST client and the live channel dialer authenticate.
func seedCookie(jar http.CookieJar, serverURL, pair string) error {
	name, value, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return fmt.Errorf("cookie must be name=value, got %q", pair)
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("parse server URL: %w", err)
	}
	jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
	return nil
}
