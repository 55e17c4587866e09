package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/alia-console/internal/api"
)

// DefaultBugID prefills the new bug form.
const DefaultBugID = "BUG-5001"

var severities = []string{"P0", "P1", "P2", "P3"}

type homeFocus int

const (
	focusBugs homeFocus = iota
	focusSessions
)

// bugItem implements list.Item for a bug waiting for verification.
type bugItem struct {
	bug api.Bug
}

func (i bugItem) Title() string {
	if strings.TrimSpace(i.bug.Title) == "" {
		return i.bug.BugKey
	}
	return i.bug.Title
}

func (i bugItem) Description() string {
	parts := []string{i.bug.Severity}
	if i.bug.CompletedDate != "" {
		parts = append(parts, "fixed "+formatDate(i.bug.CompletedDate))
	}
	if i.bug.SessionStatus != "" {
		parts = append(parts, "session "+sessionStatusText(api.SessionStatus(i.bug.SessionStatus)))
	} else {
		parts = append(parts, "not verified")
	}
	return strings.Join(parts, " · ")
}

func (i bugItem) FilterValue() string { return i.bug.Title }

// sessionItem implements list.Item for a finished session.
type sessionItem struct {
	session  api.Session
	bugTitle string
}

func (i sessionItem) Title() string {
	if i.bugTitle != "" {
		return i.bugTitle
	}
	return i.session.SessionKey
}

func (i sessionItem) Description() string {
	date := formatDate(i.session.CompletedAt)
	if date == "" {
		date = formatDate(i.session.StartedAt)
	}
	return fmt.Sprintf("%s · %s · %d conversations", sessionStatusText(i.session.Status), date, len(i.session.Conversations))
}

func (i sessionItem) FilterValue() string { return i.session.SessionKey }

type homeLoadedMsg struct {
	bugs      []api.Bug
	sessions  []api.Session
	employees []api.Employee
	err       error
}

type sessionCreatedMsg struct {
	session *api.Session
	err     error
}

// homeView lists bugs awaiting verification and completed sessions, and hosts
// the new bug form.
type homeView struct {
	app       *App
	bugs      list.Model
	sessions  list.Model
	focus     homeFocus
	employees []api.Employee
	allBugs   []api.Bug
	loading   bool
	busy      bool
	err       error
	form      *bugForm
}

func newHomeView(app *App) *homeView {
	bugs := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	bugs.Title = "Bugs awaiting verification"
	sessions := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	sessions.Title = "Completed sessions"
	for _, l := range []*list.Model{&bugs, &sessions} {
		l.SetShowStatusBar(false)
		l.SetFilteringEnabled(false)
		l.SetShowHelp(false)
	}
	h := &homeView{app: app, bugs: bugs, sessions: sessions}
	h.applyFocusStyles()
	return h
}

func (h *homeView) load() tea.Cmd {
	h.loading = true
	backend := h.app.backend
	return func() tea.Msg {
		var msg homeLoadedMsg
		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error {
			out, err := backend.ListBugs(ctx)
			if err != nil {
				return fmt.Errorf("list bugs: %w", err)
			}
			msg.bugs = out.Bugs
			return nil
		})
		g.Go(func() error {
			out, err := backend.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			msg.sessions = out.Sessions
			return nil
		})
		g.Go(func() error {
			out, err := backend.ListEmployees(ctx)
			if err != nil {
				return fmt.Errorf("list employees: %w", err)
			}
			msg.employees = out.Employees
			return nil
		})
		msg.err = g.Wait()
		return msg
	}
}

func (h *homeView) setSize(width, height int) {
	listHeight := max(6, (height-12)/2)
	h.bugs.SetSize(max(20, width), listHeight)
	h.sessions.SetSize(max(20, width), listHeight)
}

func (h *homeView) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case homeLoadedMsg:
		h.loading = false
		if msg.err != nil {
			h.err = msg.err
			h.app.statusMsg = "Backend unreachable · r to retry"
			h.app.logError("Loading bugs failed: %v", msg.err)
			return nil
		}
		h.err = nil
		h.populate(msg)
		h.app.statusMsg = fmt.Sprintf("%d bug(s) awaiting verification", len(h.bugs.Items()))
		return nil
	case sessionCreatedMsg:
		h.busy = false
		if msg.err != nil {
			h.app.statusMsg = fmt.Sprintf("Could not start verification: %v", msg.err)
			h.app.logError("Creating session failed: %v", msg.err)
			return nil
		}
		h.form = nil
		h.app.logInfo("Verification session %s created for bug %s", msg.session.SessionKey, msg.session.BugKey)
		return h.app.openSession(msg.session.SessionKey)
	case tea.KeyMsg:
		if h.form != nil {
			return h.updateForm(msg)
		}
		return h.handleKey(msg)
	}
	return h.updateFocusedList(msg)
}

func (h *homeView) populate(msg homeLoadedMsg) {
	h.employees = msg.employees
	h.allBugs = msg.bugs
	titles := make(map[string]string, len(msg.bugs))
	var pending []list.Item
	for _, b := range msg.bugs {
		titles[b.BugKey] = b.Title
		if api.PendingVerification(b) {
			pending = append(pending, bugItem{bug: b})
		}
	}
	var done []list.Item
	for _, s := range msg.sessions {
		if s.Status == api.SessionCompleted {
			done = append(done, sessionItem{session: s, bugTitle: titles[s.BugKey]})
		}
	}
	h.bugs.SetItems(pending)
	h.sessions.SetItems(done)
	if h.focus == focusSessions && len(done) == 0 {
		h.focus = focusBugs
		h.applyFocusStyles()
	}
}

func (h *homeView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab":
		if h.focus == focusBugs && len(h.sessions.Items()) > 0 {
			h.focus = focusSessions
		} else {
			h.focus = focusBugs
		}
		h.applyFocusStyles()
		return nil
	case "r":
		h.app.statusMsg = "Refreshing..."
		return h.load()
	case "n":
		h.form = newBugForm(h.app.now())
		h.app.statusMsg = "New bug · tab next field · ←/→ severity · enter create · esc cancel"
		return textinput.Blink
	case "enter":
		return h.selectItem()
	}
	return h.updateFocusedList(msg)
}

func (h *homeView) selectItem() tea.Cmd {
	if h.busy {
		return nil
	}
	switch h.focus {
	case focusSessions:
		item, ok := h.sessions.SelectedItem().(sessionItem)
		if !ok {
			return nil
		}
		return h.app.openSession(item.session.SessionKey)
	default:
		item, ok := h.bugs.SelectedItem().(bugItem)
		if !ok {
			return nil
		}
		h.busy = true
		h.app.statusMsg = fmt.Sprintf("Starting verification for %s...", item.bug.BugKey)
		backend := h.app.backend
		bugKey := item.bug.BugKey
		return func() tea.Msg {
			sess, err := backend.CreateSession(context.Background(), api.CreateSessionRequest{BugKey: bugKey})
			return sessionCreatedMsg{session: sess, err: err}
		}
	}
}

func (h *homeView) updateFocusedList(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if h.focus == focusSessions {
		h.sessions, cmd = h.sessions.Update(msg)
	} else {
		h.bugs, cmd = h.bugs.Update(msg)
	}
	return cmd
}

func (h *homeView) applyFocusStyles() {
	active := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	idle := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Background(lipgloss.Color("#444444")).Padding(0, 1)
	h.bugs.Styles.Title = idle
	h.sessions.Styles.Title = idle
	if h.focus == focusSessions {
		h.sessions.Styles.Title = active
	} else {
		h.bugs.Styles.Title = active
	}
}

func (h *homeView) updateForm(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		h.form = nil
		h.app.statusMsg = "New bug cancelled"
		return nil
	case "enter":
		if h.busy {
			return nil
		}
		req, err := h.form.request()
		if err != nil {
			h.form.err = err.Error()
			return nil
		}
		h.form.err = ""
		h.busy = true
		h.app.statusMsg = fmt.Sprintf("Creating %s...", req.BugID)
		backend := h.app.backend
		return func() tea.Msg {
			ctx := context.Background()
			bug, err := backend.CreateBug(ctx, req)
			if err != nil {
				return sessionCreatedMsg{err: fmt.Errorf("create bug: %w", err)}
			}
			sess, err := backend.CreateSession(ctx, api.CreateSessionRequest{BugKey: bug.BugKey})
			return sessionCreatedMsg{session: sess, err: err}
		}
	}
	return h.form.Update(msg)
}

func (h *homeView) View() string {
	if h.form != nil {
		return h.form.View()
	}
	var sections []string
	if h.err != nil {
		sections = append(sections,
			errorStyle.Render("Could not reach the backend"),
			bodyStyle.Render(h.err.Error()),
			mutedStyle.Render("r to retry · n to register a bug"),
			"")
	} else if h.loading && len(h.bugs.Items()) == 0 {
		sections = append(sections, mutedStyle.Render("Loading bugs..."), "")
	}
	sections = append(sections, h.bugs.View(), "", h.sessions.View())
	return strings.Join(sections, "\n")
}

// sidePanel lists the stakeholders; those preselected for new sessions are
// marked.
func (h *homeView) sidePanel(width int) string {
	lines := []string{panelTitle.Render("STAKEHOLDERS")}
	if len(h.employees) == 0 {
		lines = append(lines, mutedStyle.Render("No employees loaded."))
	}
	for _, e := range h.employees {
		marker := mutedStyle.Render("·")
		name := bodyStyle.Render(truncate(e.Name, width-14))
		if api.IsDefaultParticipant(e.Role) {
			marker = successStyle.Render("✓")
			name = lipgloss.NewStyle().Bold(true).Render(truncate(e.Name, width-14))
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", marker, renderAvatar(e.Name, e.AvatarColor), name),
			"    "+mutedStyle.Render(truncate(e.Role, width-6)))
	}
	if item, ok := h.bugs.SelectedItem().(bugItem); ok && h.focus == focusBugs {
		lines = append(lines, "", panelTitle.Render("SELECTED BUG"),
			lipgloss.NewStyle().Width(width).Render(item.bug.Title),
			mutedStyle.Render(item.Description()))
		if item.bug.Description != "" {
			lines = append(lines, bodyStyle.Width(width).Render(item.bug.Description))
		}
	}
	return strings.Join(lines, "\n")
}

func (h *homeView) help() string {
	if h.form != nil {
		return "tab next field · ←/→ severity · enter create · esc cancel"
	}
	return "enter open · tab switch list · n new bug · r refresh · q quit"
}

const (
	fieldID = iota
	fieldTitle
	fieldSeverity
	fieldDate
	fieldCount
)

// bugForm collects a fixed bug so a verification can start for it.
type bugForm struct {
	id       textinput.Model
	title    textinput.Model
	date     textinput.Model
	severity int
	focus    int
	err      string
}

func newBugForm(now time.Time) *bugForm {
	id := textinput.New()
	id.SetValue(DefaultBugID)
	id.CharLimit = 32
	title := textinput.New()
	title.Placeholder = "Short description of the fix"
	title.CharLimit = 200
	date := textinput.New()
	date.SetValue(now.Format("2006-01-02"))
	date.CharLimit = 10
	f := &bugForm{id: id, title: title, date: date, severity: 1}
	f.focus = fieldTitle
	f.syncFocus()
	return f
}

func (f *bugForm) inputs() []*textinput.Model {
	return []*textinput.Model{fieldID: &f.id, fieldTitle: &f.title, fieldDate: &f.date}
}

func (f *bugForm) syncFocus() {
	for i, in := range f.inputs() {
		if in == nil {
			continue
		}
		if i == f.focus {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

func (f *bugForm) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab", "down":
		f.focus = (f.focus + 1) % fieldCount
		f.syncFocus()
		return nil
	case "shift+tab", "up":
		f.focus = (f.focus - 1 + fieldCount) % fieldCount
		f.syncFocus()
		return nil
	}
	if f.focus == fieldSeverity {
		switch msg.String() {
		case "left", "h":
			f.severity = (f.severity - 1 + len(severities)) % len(severities)
		case "right", "l", " ":
			f.severity = (f.severity + 1) % len(severities)
		}
		return nil
	}
	in := f.inputs()[f.focus]
	var cmd tea.Cmd
	*in, cmd = in.Update(msg)
	return cmd
}

func (f *bugForm) request() (api.CreateBugRequest, error) {
	id := strings.TrimSpace(f.id.Value())
	if id == "" {
		return api.CreateBugRequest{}, fmt.Errorf("bug id is required")
	}
	title := strings.TrimSpace(f.title.Value())
	if title == "" {
		return api.CreateBugRequest{}, fmt.Errorf("title is required")
	}
	date := strings.TrimSpace(f.date.Value())
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return api.CreateBugRequest{}, fmt.Errorf("completed date must look like 2006-01-02")
	}
	return api.CreateBugRequest{
		BugID:         id,
		Title:         title,
		Severity:      severities[f.severity],
		Status:        "completed",
		CompletedDate: &date,
	}, nil
}

func (f *bugForm) View() string {
	label := func(field int, text string) string {
		if f.focus == field {
			return panelTitle.Render("› " + text)
		}
		return mutedStyle.Render("  " + text)
	}
	var sev []string
	for i, s := range severities {
		if i == f.severity {
			sev = append(sev, errorStyle.Render("["+s+"]"))
		} else {
			sev = append(sev, mutedStyle.Render(" "+s+" "))
		}
	}
	lines := []string{
		headerStyle.Render("REGISTER A FIXED BUG"),
		"",
		label(fieldID, "Bug ID"), "  " + f.id.View(),
		label(fieldTitle, "Title"), "  " + f.title.View(),
		label(fieldSeverity, "Severity"), "  " + strings.Join(sev, " "),
		label(fieldDate, "Completed on"), "  " + f.date.View(),
	}
	if f.err != "" {
		lines = append(lines, "", errorStyle.Render("⚠ "+f.err))
	}
	return strings.Join(lines, "\n")
}
