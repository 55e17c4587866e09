package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/conversation"
	"github.com/kingrea/alia-console/internal/report"
	"github.com/kingrea/alia-console/internal/session"
)

// maxVisibleChats caps how many chat windows share the screen. Longer
// sessions are paged around the focused conversation.
const maxVisibleChats = 4

// sessionView is the screen of one verification session: the chat grid, the
// progress summary and, once everything is done, the skill report.
type sessionView struct {
	app    *App
	loader *session.Loader
	orch   *conversation.Orchestrator

	ctx         context.Context
	cancel      context.CancelFunc
	refetch     chan struct{}
	autoStarted chan string

	session *api.Session
	report  *report.Report
	states  []conversation.State
	loading bool
	err     error

	focus    int // index into states
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int

	viewportKey   string
	viewportCount int
	completed     map[string]bool
	reportLogged  bool
}

type sessionFetchedMsg struct {
	view   *sessionView
	result session.Result
}

type sessionSyncedMsg struct {
	view *sessionView
}

type autoStartedMsg struct {
	view *sessionView
	key  string
}

type conversationsChangedMsg struct {
	view *sessionView
}

type sessionRefetchMsg struct {
	view *sessionView
}

type replySentMsg struct {
	view *sessionView
	key  string
	err  error
}

type historyReloadedMsg struct {
	view *sessionView
	key  string
	err  error
}

func newSessionView(app *App, sessionKey string) *sessionView {
	ctx, cancel := context.WithCancel(context.Background())
	input := textinput.New()
	input.Placeholder = "Type your reply..."
	input.CharLimit = app.maxMessageLength
	input.Prompt = "› "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))

	return &sessionView{
		app:       app,
		loader:    session.NewLoader(app.backend, sessionKey, session.WithLogger(app.logger)),
		ctx:       ctx,
		cancel:    cancel,
		refetch:     make(chan struct{}, 1),
		autoStarted: make(chan string, 8),
		input:     input,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		width:     app.width,
		height:    app.height,
		completed: map[string]bool{},
	}
}

func (v *sessionView) Init() tea.Cmd {
	return tea.Batch(v.spinner.Tick, v.fetch())
}

// Close stops every pending poll and releases the listener command.
func (v *sessionView) Close() {
	v.cancel()
	if v.orch != nil {
		v.orch.Close()
	}
}

func (v *sessionView) fetch() tea.Cmd {
	v.loading = true
	ctx, loader := v.ctx, v.loader
	return func() tea.Msg {
		return sessionFetchedMsg{view: v, result: loader.Fetch(ctx)}
	}
}

func (v *sessionView) sync() tea.Cmd {
	ctx, orch, sess := v.ctx, v.orch, v.session
	return func() tea.Msg {
		orch.Sync(ctx, sess)
		return sessionSyncedMsg{view: v}
	}
}

// listen waits for the next orchestrator signal. Exactly one listener is
// outstanding while the view is open; each handled signal re-arms it.
func (v *sessionView) listen() tea.Cmd {
	ctx, changes, refetch, started := v.ctx, v.orch.Changes(), v.refetch, v.autoStarted
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case key := <-started:
			return autoStartedMsg{view: v, key: key}
		case <-changes:
			return conversationsChangedMsg{view: v}
		case <-refetch:
			return sessionRefetchMsg{view: v}
		}
	}
}

// signalRefetch runs on orchestrator goroutines when a conversation
// finishes.
func (v *sessionView) signalRefetch() {
	select {
	case v.refetch <- struct{}{}:
	default:
	}
}

// signalAutoStarted runs on orchestrator goroutines for each conversation
// the auto-start policy kicks.
func (v *sessionView) signalAutoStarted(key string) {
	select {
	case v.autoStarted <- key:
	default:
	}
}

func (v *sessionView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case sessionFetchedMsg:
		return v.handleFetched(msg.result)
	case sessionSyncedMsg:
		v.refreshStates()
		return nil
	case autoStartedMsg:
		v.refreshStates()
		v.app.logInfo("Conversation with %s starting", v.participantName(msg.key))
		return v.listen()
	case conversationsChangedMsg:
		v.refreshStates()
		return v.listen()
	case sessionRefetchMsg:
		return tea.Batch(v.fetch(), v.listen())
	case replySentMsg:
		if msg.err != nil {
			v.app.statusMsg = fmt.Sprintf("Reply to %s not sent: %v", v.participantName(msg.key), msg.err)
			v.app.logWarn("Reply to %s failed: %v", v.participantName(msg.key), msg.err)
			return nil
		}
		v.app.statusMsg = fmt.Sprintf("Reply sent to %s", v.participantName(msg.key))
		v.app.logInfo("Reply sent to %s", v.participantName(msg.key))
		return nil
	case historyReloadedMsg:
		if msg.err != nil {
			v.app.statusMsg = fmt.Sprintf("Could not reload %s: %v", v.participantName(msg.key), msg.err)
			return nil
		}
		v.refreshStates()
		return nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return cmd
	case tea.KeyMsg:
		return v.handleKey(msg)
	}
	return nil
}

func (v *sessionView) handleFetched(res session.Result) tea.Cmd {
	v.loading = false
	if res.Err != nil {
		v.err = res.Err
		v.app.statusMsg = "Failed to load session · r to retry"
		v.app.logError("Session %s failed to load: %v", v.loader.SessionKey(), res.Err)
		return nil
	}
	v.err = nil
	v.session = res.Session
	if res.Report != nil {
		v.report = res.Report
		if !v.reportLogged {
			v.reportLogged = true
			v.app.logInfo("Skill report ready for %s", res.Report.Subject.Name)
		}
	}
	if v.session.Status == api.SessionCompleted {
		v.app.statusMsg = "Verification completed"
	}
	if v.orch == nil {
		v.orch = conversation.New(v.app.backend,
			conversation.WithDelays(v.app.delays),
			conversation.WithLogger(v.app.logger),
			conversation.WithMaxMessageLength(v.app.maxMessageLength),
			conversation.WithSessionChanged(v.signalRefetch),
			conversation.WithAutoStarted(v.signalAutoStarted),
		)
		return tea.Batch(v.sync(), v.listen())
	}
	return v.sync()
}

func (v *sessionView) refreshStates() {
	if v.orch == nil {
		return
	}
	v.states = v.orch.Snapshot()
	for _, st := range v.states {
		if st.Status() == api.StatusCompleted && !v.completed[st.Key()] {
			v.completed[st.Key()] = true
			v.app.logInfo("Conversation with %s completed", st.Conversation.EmployeeName)
		}
	}
	if n := len(v.states); v.focus >= n {
		v.focus = max(0, n-1)
	}
	v.syncInput()
	v.refreshViewport()
}

// pageStart is the index of the first window on the page that holds the
// focused conversation.
func (v *sessionView) pageStart() int {
	if len(v.states) <= maxVisibleChats {
		return 0
	}
	return v.focus / maxVisibleChats * maxVisibleChats
}

func (v *sessionView) visible() []conversation.State {
	start := v.pageStart()
	end := min(start+maxVisibleChats, len(v.states))
	if start >= end {
		return nil
	}
	return v.states[start:end]
}

func (v *sessionView) focused() (conversation.State, bool) {
	if v.focus < 0 || v.focus >= len(v.states) {
		return conversation.State{}, false
	}
	return v.states[v.focus], true
}

func (v *sessionView) participantName(key string) string {
	for _, st := range v.states {
		if st.Key() == key && st.Conversation.EmployeeName != "" {
			return st.Conversation.EmployeeName
		}
	}
	return key
}

func (v *sessionView) syncInput() {
	st, ok := v.focused()
	if ok && st.AcceptsReply() {
		v.input.Focus()
		return
	}
	v.input.Blur()
}

func (v *sessionView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab":
		if n := len(v.states); n > 0 {
			v.focus = (v.focus + 1) % n
			v.syncInput()
			v.refreshViewport()
		}
		return nil
	case "shift+tab":
		if n := len(v.states); n > 0 {
			v.focus = (v.focus - 1 + n) % n
			v.syncInput()
			v.refreshViewport()
		}
		return nil
	case "pgup":
		v.viewport.HalfViewUp()
		return nil
	case "pgdown":
		v.viewport.HalfViewDown()
		return nil
	case "enter":
		return v.submit()
	case "r":
		if !v.input.Focused() {
			return v.retry()
		}
	}
	if v.input.Focused() {
		var cmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		return cmd
	}
	return nil
}

// submit sends the typed reply, or starts a conversation that has not begun.
func (v *sessionView) submit() tea.Cmd {
	st, ok := v.focused()
	if !ok || v.orch == nil {
		return nil
	}
	key := st.Key()
	if st.AcceptsReply() {
		content := strings.TrimSpace(v.input.Value())
		if content == "" {
			return nil
		}
		v.input.Reset()
		ctx, orch := v.ctx, v.orch
		return func() tea.Msg {
			return replySentMsg{view: v, key: key, err: orch.SendMessage(ctx, key, content)}
		}
	}
	if st.Status() == api.StatusNotStarted && len(st.Messages) == 0 && !st.Loading {
		if err := v.orch.Start(key); err != nil {
			v.app.statusMsg = fmt.Sprintf("Could not start %s: %v", st.Conversation.EmployeeName, err)
			return nil
		}
		v.app.statusMsg = fmt.Sprintf("Starting conversation with %s", st.Conversation.EmployeeName)
		v.app.logInfo("Conversation with %s starting", st.Conversation.EmployeeName)
	}
	return nil
}

// retry reloads the session after a page error, or recovers the focused
// conversation after a local error.
func (v *sessionView) retry() tea.Cmd {
	if v.err != nil || v.session == nil {
		if v.loading {
			return nil
		}
		v.app.statusMsg = "Retrying..."
		return v.fetch()
	}
	st, ok := v.focused()
	if !ok || st.Error == "" || v.orch == nil {
		return nil
	}
	key := st.Key()
	if !st.Loaded {
		ctx, orch := v.ctx, v.orch
		return func() tea.Msg {
			return historyReloadedMsg{view: v, key: key, err: orch.Reload(ctx, key)}
		}
	}
	if err := v.orch.Start(key); err != nil && !errors.Is(err, conversation.ErrConversationCompleted) {
		v.app.statusMsg = fmt.Sprintf("Retry failed: %v", err)
	}
	return nil
}

// layout returns the column count and the size of one chat window. Every
// page is laid out like a full one so windows keep their size while paging.
func (v *sessionView) layout() (cols, width, height int) {
	n := min(len(v.states), maxVisibleChats)
	cols = gridColumns(v.width)
	if n < cols {
		cols = max(1, n)
	}
	rows := max(1, (n+cols-1)/cols)
	width = max(30, v.width/cols)
	height = max(10, (v.height-2)/rows)
	return cols, width, height
}

func (v *sessionView) refreshViewport() {
	st, ok := v.focused()
	if !ok {
		return
	}
	_, w, h := v.layout()
	win := chatWindow{state: st, width: w, height: h}
	v.viewport.Width = win.innerWidth()
	v.viewport.Height = win.bodyHeight()
	v.viewport.SetContent(renderMessages(st.Messages, win.innerWidth()))
	if st.Key() != v.viewportKey || len(st.Messages) != v.viewportCount {
		v.viewport.GotoBottom()
	}
	v.viewportKey = st.Key()
	v.viewportCount = len(st.Messages)
}

func (v *sessionView) setSize(width, height int) {
	v.width = width
	v.height = height
	v.input.Width = max(10, width/2-10)
	v.refreshViewport()
}

func (v *sessionView) View() string {
	if v.session == nil {
		if v.err != nil {
			return strings.Join([]string{
				errorStyle.Render("Failed to load session"),
				bodyStyle.Render(v.err.Error()),
				"",
				mutedStyle.Render("r to retry · esc to go back"),
			}, "\n")
		}
		return fmt.Sprintf("%s Loading session %s...", v.spinner.View(), v.loader.SessionKey())
	}

	head := panelTitle.Render(fmt.Sprintf("SESSION %s", v.session.SessionKey)) +
		mutedStyle.Render(fmt.Sprintf(" · bug %s · %s", v.session.BugKey, sessionStatusText(v.session.Status)))
	lines := []string{head}
	if v.err != nil {
		lines = append(lines, errorStyle.Render("⚠ "+v.err.Error()))
	}
	vis := v.visible()
	start := v.pageStart()
	if len(v.states) > maxVisibleChats {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("Showing %d-%d of %d conversations · tab for more",
			start+1, start+len(vis), len(v.states))))
	}
	if len(vis) == 0 {
		lines = append(lines, "", mutedStyle.Render("No conversations in this session."))
		return strings.Join(lines, "\n")
	}

	cols, w, h := v.layout()
	var rows []string
	var row []string
	for i, st := range vis {
		win := chatWindow{
			state:   st,
			width:   w,
			height:  h,
			focused: start+i == v.focus,
			spinner: v.spinner.View(),
		}
		if win.focused {
			win.body = v.viewport.View()
			win.input = v.input.View()
		}
		row = append(row, win.View())
		if len(row) == cols {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	lines = append(lines, lipgloss.JoinVertical(lipgloss.Left, rows...))
	return strings.Join(lines, "\n")
}

// sidePanel is the progress summary, followed by the report once the session
// is complete.
func (v *sessionView) sidePanel(width int) string {
	if v.session == nil {
		return mutedStyle.Render("Waiting for session...")
	}
	parts := []string{renderProgressSummary(report.Summarize(v.session, v.states), width)}
	if v.session.Status == api.SessionCompleted {
		parts = append(parts, "", renderReport(v.report, width))
	}
	return strings.Join(parts, "\n")
}

func (v *sessionView) help() string {
	return "tab focus · enter send/start · r retry · pgup/pgdown scroll · esc back"
}
