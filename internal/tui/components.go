package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/conversation"
	"github.com/kingrea/alia-console/internal/report"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	panelTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	bodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	aliaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	replyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	focusedPanelStyle = panelStyle.BorderForeground(lipgloss.Color("#5B8DEF"))
)

var statusColors = map[api.ConversationStatus]lipgloss.Color{
	api.StatusNotStarted:      lipgloss.Color("#999999"),
	api.StatusActive:          lipgloss.Color("#5B8DEF"),
	api.StatusWaitingResponse: lipgloss.Color("#F7B801"),
	api.StatusTyping:          lipgloss.Color("#A78BFA"),
	api.StatusCompleted:       lipgloss.Color("#4CAF50"),
}

func statusColor(status api.ConversationStatus) lipgloss.Color {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return lipgloss.Color("#CCCCCC")
}

// renderStatusIndicator draws the coloured dot and label for a status.
func renderStatusIndicator(status api.ConversationStatus) string {
	return lipgloss.NewStyle().Foreground(statusColor(status)).Render("● " + statusText(status))
}

func renderAvatar(name, color string) string {
	if strings.TrimSpace(color) == "" {
		color = api.AvatarColor(name)
	}
	initials := api.Initials(name)
	if initials == "" {
		initials = "?"
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(color)).
		Padding(0, 1).
		Render(initials)
}

// renderMessages lays out a conversation history for a window of the given
// inner width. Replies are right aligned.
func renderMessages(msgs []api.Message, width int) string {
	width = max(10, width)
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet.")
	}
	blocks := make([]string, 0, len(msgs))
	bubble := lipgloss.NewStyle().Width(max(8, width*3/4))
	for _, m := range msgs {
		stamp := formatTime(m.Timestamp)
		switch {
		case m.MessageType == api.MessageSystem:
			blocks = append(blocks, lipgloss.PlaceHorizontal(width, lipgloss.Center,
				mutedStyle.Italic(true).Render(m.Content)))
		case m.Sender == api.SenderAlia:
			head := aliaStyle.Render("Alia")
			if stamp != "" {
				head += " " + mutedStyle.Render(stamp)
			}
			blocks = append(blocks, head+"\n"+bubble.Render(m.Content))
		default:
			head := replyStyle.Render("You")
			if stamp != "" {
				head = mutedStyle.Render(stamp) + " " + head
			}
			block := lipgloss.JoinVertical(lipgloss.Right, head, bubble.Align(lipgloss.Right).Render(m.Content))
			blocks = append(blocks, lipgloss.PlaceHorizontal(width, lipgloss.Right, block))
		}
	}
	return strings.Join(blocks, "\n\n")
}

// chatWindow is one participant's conversation panel.
type chatWindow struct {
	state   conversation.State
	width   int
	height  int
	focused bool
	// body replaces the rendered history when set, e.g. with a scrolled
	// viewport.
	body    string
	input   string
	spinner string
}

func (w chatWindow) innerWidth() int {
	return max(10, w.width-4)
}

// bodyHeight is what remains for messages once header and footer are drawn.
func (w chatWindow) bodyHeight() int {
	return max(3, w.height-6)
}

func (w chatWindow) View() string {
	st := w.state
	inner := w.innerWidth()
	name := st.Conversation.EmployeeName
	if strings.TrimSpace(name) == "" {
		name = "Unknown"
	}
	head := lipgloss.JoinHorizontal(lipgloss.Center,
		renderAvatar(name, st.Conversation.EmployeeAvatarColor),
		" ",
		lipgloss.NewStyle().Bold(true).Render(truncate(name, inner/2)),
	)
	role := mutedStyle.Render(truncate(st.Conversation.EmployeeRole, inner))
	indicator := renderStatusIndicator(st.Status())
	gap := inner - lipgloss.Width(head) - lipgloss.Width(indicator)
	if gap > 0 {
		head += strings.Repeat(" ", gap) + indicator
	} else {
		head += "\n" + indicator
	}

	body := w.body
	if body == "" {
		body = tailLines(renderMessages(st.Messages, inner), w.bodyHeight())
	}
	body = lipgloss.NewStyle().Height(w.bodyHeight()).Render(body)

	style := panelStyle
	if w.focused {
		style = focusedPanelStyle
	}
	return style.Width(max(20, w.width-2)).Render(strings.Join([]string{head, role, body, w.footer()}, "\n"))
}

func (w chatWindow) footer() string {
	st := w.state
	switch {
	case st.Error != "":
		return errorStyle.Render("⚠ " + st.Error + " · r to retry")
	case st.Status() == api.StatusTyping:
		return mutedStyle.Render(strings.TrimSpace(w.spinner + " Alia is typing..."))
	case st.Status() == api.StatusCompleted:
		return successStyle.Render("✓ Conversation completed")
	case st.AcceptsReply():
		if w.focused {
			return w.input
		}
		return mutedStyle.Render("Awaiting your reply · tab to focus")
	case st.Loading:
		return mutedStyle.Render(strings.TrimSpace(w.spinner + " Loading..."))
	case st.Status() == api.StatusNotStarted && len(st.Messages) == 0:
		if w.focused {
			return mutedStyle.Render("enter to start this conversation")
		}
		return mutedStyle.Render("Not started yet")
	default:
		return mutedStyle.Render("Waiting for Alia...")
	}
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if n <= 0 || len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func progressBar(pct, width int) string {
	width = max(4, width)
	filled := pct * width / 100
	filled = min(width, max(0, filled))
	return successStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}

// renderProgressSummary draws the session overview: overall completion and
// one row per participant.
func renderProgressSummary(p report.Progress, width int) string {
	width = max(20, width)
	lines := []string{
		panelTitle.Render("SESSION · " + sessionStatusText(p.SessionStatus)),
		fmt.Sprintf("%s %d/%d · %d%%", progressBar(p.Percent(), min(20, width-14)), p.Completed, p.Total, p.Percent()),
		"",
	}
	if len(p.Participants) == 0 {
		lines = append(lines, mutedStyle.Render("No participants yet."))
	}
	for _, part := range p.Participants {
		row := fmt.Sprintf("%s %s", renderAvatar(part.Name, part.AvatarColor), truncate(part.Name, width-12))
		detail := lipgloss.NewStyle().Foreground(statusColor(part.Status)).Render("● ") +
			mutedStyle.Render(fmt.Sprintf("%s · %d msgs", truncate(part.Role, width-16), part.Messages))
		lines = append(lines, row, "  "+detail)
	}
	return lipgloss.NewStyle().Width(width).Render(strings.Join(lines, "\n"))
}

// renderReport draws the competency report of a completed session.
func renderReport(r *report.Report, width int) string {
	width = max(20, width)
	if r == nil {
		return mutedStyle.Render("Report not available yet.")
	}
	text := lipgloss.NewStyle().Width(width)
	lines := []string{
		panelTitle.Render("SKILL REPORT"),
		fmt.Sprintf("%s · %s", lipgloss.NewStyle().Bold(true).Render(r.Subject.Name), mutedStyle.Render(r.Subject.Role)),
	}
	if r.Bug.Title != "" || r.Bug.BugKey != "" {
		lines = append(lines, bodyStyle.Render(truncate(fmt.Sprintf("%s %s · %s", r.Bug.BugKey, r.Bug.Title, r.Bug.Severity), width)))
	}
	lines = append(lines, bodyStyle.Render(fmt.Sprintf("Confidence %s · %d verifiers", percent(r.Summary.OverallConfidence), r.Summary.TotalVerifiers)))
	if generated := formatDate(r.Summary.GeneratedAt); generated != "" {
		lines = append(lines, mutedStyle.Render("Generated "+generated))
	}
	for _, skill := range r.Skills {
		lines = append(lines, "",
			fmt.Sprintf("%s %s", successStyle.Render("◆ "+skill.Name), mutedStyle.Render(percent(skill.Confidence))))
		if skill.Evidence != "" {
			lines = append(lines, text.Foreground(lipgloss.Color("#AAAAAA")).Render(skill.Evidence))
		}
		if skill.BusinessImpact != "" {
			lines = append(lines, mutedStyle.Render("Impact: "+skill.BusinessImpact))
		}
		for _, v := range skill.Verifications {
			who := fmt.Sprintf("  ↳ %s (%s) %s", v.VerifiedBy, v.VerifierRole, percent(v.Confidence))
			lines = append(lines, bodyStyle.Render(truncate(who, width)))
			if v.EvidenceQuote != "" {
				lines = append(lines, text.Foreground(lipgloss.Color("#888888")).Italic(true).PaddingLeft(4).Render("“"+v.EvidenceQuote+"”"))
			}
		}
	}
	return strings.Join(lines, "\n")
}
