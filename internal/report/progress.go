package report

import (
	"math"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/conversation"
)

// DefaultAvatarColor is used for participants without a colour of their own.
const DefaultAvatarColor = "#4f46e5"

// Participant is one row of the progress summary.
type Participant struct {
	ConversationKey string
	Name            string
	Role            string
	AvatarColor     string
	Status          api.ConversationStatus
	Messages        int
}

// Progress is the display projection of a session.
type Progress struct {
	SessionStatus api.SessionStatus
	Completed     int
	Total         int
	Participants  []Participant
}

// Percent returns completed/total as a rounded percentage.
func (p Progress) Percent() int {
	return Percentage(p.Completed, p.Total)
}

// Percentage returns completed/total rounded to the nearest percent, or zero
// when total is zero.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// Summarize projects session progress. The live conversation states win over
// the session summary for counts, statuses and message totals, since they
// hold what the user actually sees.
func Summarize(session *api.Session, states []conversation.State) Progress {
	if session == nil {
		return Progress{}
	}
	byKey := make(map[string]conversation.State, len(states))
	for _, st := range states {
		byKey[st.Key()] = st
	}

	p := Progress{SessionStatus: session.Status}
	if len(states) > 0 {
		p.Total = len(states)
		for _, st := range states {
			if st.Status() == api.StatusCompleted {
				p.Completed++
			}
		}
	} else {
		p.Total = len(session.Conversations)
		for _, c := range session.Conversations {
			if c.Status == api.StatusCompleted {
				p.Completed++
			}
		}
	}

	p.Participants = make([]Participant, 0, len(session.Conversations))
	for _, c := range session.Conversations {
		row := Participant{
			ConversationKey: c.ConversationKey,
			Name:            c.EmployeeName,
			Role:            c.EmployeeRole,
			AvatarColor:     c.EmployeeAvatarColor,
			Status:          c.Status,
			Messages:        c.MessagesCount,
		}
		if row.AvatarColor == "" {
			row.AvatarColor = DefaultAvatarColor
		}
		if st, ok := byKey[c.ConversationKey]; ok {
			row.Status = st.Status()
			row.Messages = len(st.Messages)
		}
		p.Participants = append(p.Participants, row)
	}
	return p
}
