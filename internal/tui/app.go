// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for the Alia console.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/conversation"
	"github.com/kingrea/alia-console/internal/logbook"
	"github.com/kingrea/alia-console/internal/session"
)

// appState represents which "screen" we're on
type appState int

const (
	stateHome    appState = iota // Bugs awaiting verification and finished sessions
	stateSession                 // One verification session
)

const logPanelLines = 8

// Backend is everything the screens need from the REST client.
type Backend interface {
	conversation.Backend
	session.Backend
	ListBugs(ctx context.Context) (*api.BugList, error)
	ListSessions(ctx context.Context) (*api.SessionList, error)
	ListEmployees(ctx context.Context) (*api.EmployeeList, error)
	CreateBug(ctx context.Context, req api.CreateBugRequest) (*api.Bug, error)
	CreateSession(ctx context.Context, req api.CreateSessionRequest) (*api.Session, error)
}

// Logger receives diagnostics; the journey shown on screen goes to the
// logbook instead.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook attaches the journey log shown in the log panel.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithLogger routes client and orchestrator diagnostics.
func WithLogger(l Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDelays overrides the conversation timings.
func WithDelays(d conversation.Delays) AppOption {
	return func(a *App) {
		a.delays = d
	}
}

// WithMaxMessageLength caps replies typed in the chat windows.
func WithMaxMessageLength(n int) AppOption {
	return func(a *App) {
		if n > 0 {
			a.maxMessageLength = n
		}
	}
}

// WithSessionKey opens the given session instead of the home screen.
func WithSessionKey(key string) AppOption {
	return func(a *App) {
		a.initialSession = strings.TrimSpace(key)
	}
}

// WithClock overrides time.Now, used for the form defaults.
func WithClock(now func() time.Time) AppOption {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state   appState
	backend Backend
	logbook *logbook.Logbook
	logger  Logger
	now     func() time.Time

	delays           conversation.Delays
	maxMessageLength int
	initialSession   string

	home    *homeView
	session *sessionView

	statusMsg string

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp creates a new App instance
func NewApp(backend Backend, opts ...AppOption) *App {
	app := &App{
		state:            stateHome,
		backend:          backend,
		logger:           nopLogger{},
		now:              time.Now,
		delays:           conversation.DefaultDelays(),
		maxMessageLength: conversation.DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.home = newHomeView(app)
	app.logInfo("Console opened")
	return app
}

func (a *App) logInfo(format string, args ...any) {
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	a.logbook.Error(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if a.initialSession != "" {
		return a.openSession(a.initialSession)
	}
	return a.home.load()
}

// Close releases the active session, cancelling its pending polls.
func (a *App) Close() {
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		left, _ := a.columns()
		a.home.setSize(left-4, msg.Height)
		if a.session != nil {
			a.session.setSize(left-4, a.mainHeight())
		}
		return a, nil

	case homeLoadedMsg, sessionCreatedMsg:
		return a, a.home.Update(msg)

	case sessionFetchedMsg:
		return a, a.forSession(msg.view, msg)
	case sessionSyncedMsg:
		return a, a.forSession(msg.view, msg)
	case conversationsChangedMsg:
		return a, a.forSession(msg.view, msg)
	case autoStartedMsg:
		return a, a.forSession(msg.view, msg)
	case sessionRefetchMsg:
		return a, a.forSession(msg.view, msg)
	case replySentMsg:
		return a, a.forSession(msg.view, msg)
	case historyReloadedMsg:
		return a, a.forSession(msg.view, msg)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.Close()
			return a, tea.Quit
		case "q":
			if a.state == stateHome && a.home.form == nil {
				a.Close()
				return a, tea.Quit
			}
		case "esc":
			if a.state == stateSession {
				return a.returnHome()
			}
		}
	}

	switch a.state {
	case stateSession:
		if a.session != nil {
			return a, a.session.Update(msg)
		}
	default:
		return a, a.home.Update(msg)
	}
	return a, nil
}

// forSession drops results that belong to a view which has been closed.
func (a *App) forSession(view *sessionView, msg tea.Msg) tea.Cmd {
	if view == nil || view != a.session {
		return nil
	}
	return view.Update(msg)
}

func (a *App) openSession(key string) tea.Cmd {
	a.Close()
	a.state = stateSession
	a.session = newSessionView(a, key)
	left, _ := a.columns()
	a.session.setSize(left-4, a.mainHeight())
	a.statusMsg = fmt.Sprintf("Opening session %s...", key)
	a.logInfo("Session %s opened", key)
	return a.session.Init()
}

func (a *App) returnHome() (tea.Model, tea.Cmd) {
	if a.session != nil {
		a.logInfo("Session %s closed", a.session.loader.SessionKey())
	}
	a.Close()
	a.state = stateHome
	a.statusMsg = "Refreshing..."
	return a, a.home.load()
}

func (a *App) columns() (left, right int) {
	width := a.width
	if width <= 0 {
		width = 100
	}
	right = max(32, width/4)
	left = width - right - 4
	if left < 40 {
		left = width - 4
	}
	if left < 20 {
		left = width
		right = 0
	}
	return left, right
}

// mainHeight is what the chat grid may use once header, log and footer are
// drawn.
func (a *App) mainHeight() int {
	height := a.height
	if height <= 0 {
		height = 40
	}
	return max(12, height-logPanelLines-10)
}

// View renders the current state to a string.
func (a *App) View() string {
	left, right := a.columns()
	var content, side, help string
	switch a.state {
	case stateSession:
		if a.session != nil {
			content = a.session.View()
			side = a.session.sidePanel(right - 4)
			help = a.session.help()
		}
	default:
		content = a.home.View()
		side = a.home.sidePanel(right - 4)
		help = a.home.help()
	}
	return a.renderStatusBoard(content, side, help, left, right)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s · %d entries", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
	return box
}

func (a *App) renderStatusBoard(mainContent, sideContent, help string, leftWidth, rightWidth int) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("◆ ALIA · skill verification")
	if strings.TrimSpace(mainContent) == "" {
		mainContent = "Nothing to show yet."
	}
	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, leftWidth)).
		Render(mainContent)
	var body string
	if rightWidth > 0 {
		rightBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(max(20, rightWidth)).
			Render(sideContent)
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(strings.TrimSpace(a.statusMsg + "\n" + help))
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}
