package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/alia-console/internal/api"
)

// Backends are inconsistent about zones and fractional seconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(ts string) (time.Time, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatTime renders a message timestamp as a clock time, or nothing when the
// timestamp cannot be read.
func formatTime(ts string) string {
	t, ok := parseTime(ts)
	if !ok {
		return ""
	}
	return t.Local().Format("15:04")
}

// formatDate renders a timestamp as a calendar date, falling back to the raw
// value.
func formatDate(ts string) string {
	t, ok := parseTime(ts)
	if !ok {
		if d, err := time.Parse("2006-01-02", strings.TrimSpace(ts)); err == nil {
			return d.Format("Jan 2, 2006")
		}
		return strings.TrimSpace(ts)
	}
	return t.Local().Format("Jan 2, 2006")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func statusText(status api.ConversationStatus) string {
	switch status {
	case api.StatusNotStarted:
		return "Not started"
	case api.StatusActive:
		return "Active"
	case api.StatusWaitingResponse:
		return "Waiting for reply"
	case api.StatusTyping:
		return "Typing..."
	case api.StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

func sessionStatusText(status api.SessionStatus) string {
	switch status {
	case api.SessionInitializing:
		return "Initializing"
	case api.SessionActive:
		return "In progress"
	case api.SessionCompleted:
		return "Completed"
	case "":
		return "Unknown"
	default:
		return titleCase(string(status))
	}
}

func titleCase(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return ""
	}
	runes := []rune(value)
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}

func percent(f float64) string {
	return fmt.Sprintf("%d%%", int(f*100+0.5))
}

// gridColumns picks one column on narrow terminals and two otherwise.
func gridColumns(width int) int {
	if width < 100 {
		return 1
	}
	return 2
}
