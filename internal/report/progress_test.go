package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/alia-console/internal/api"
	"github.com/kingrea/alia-console/internal/conversation"
)

func testSession() *api.Session {
	return &api.Session{
		SessionKey: "s1",
		Status:     api.SessionActive,
		Conversations: []api.ConversationSummary{
			{ConversationKey: "c1", EmployeeName: "Maria", EmployeeRole: "QA Lead", Status: api.StatusCompleted, MessagesCount: 6, EmployeeAvatarColor: "#10B981"},
			{ConversationKey: "c2", EmployeeName: "Rui", EmployeeRole: "PM", Status: api.StatusActive, MessagesCount: 2},
			{ConversationKey: "c3", EmployeeName: "Ana", EmployeeRole: "Tech Lead", Status: api.StatusNotStarted},
		},
	}
}

func TestSummarizeFromSessionWhenNoStates(t *testing.T) {
	p := Summarize(testSession(), nil)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 33, p.Percent())
	require.Len(t, p.Participants, 3)
	assert.Equal(t, 6, p.Participants[0].Messages)
	assert.Equal(t, "#10B981", p.Participants[0].AvatarColor)
	assert.Equal(t, DefaultAvatarColor, p.Participants[1].AvatarColor)
}

func TestSummarizePrefersLiveStates(t *testing.T) {
	session := testSession()
	states := []conversation.State{
		{Conversation: session.Conversations[0]},
		{Conversation: api.ConversationSummary{ConversationKey: "c2", Status: api.StatusCompleted}, Messages: make([]api.Message, 4)},
	}
	p := Summarize(session, states)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 100, p.Percent())
	assert.Equal(t, api.StatusCompleted, p.Participants[1].Status)
	assert.Equal(t, 4, p.Participants[1].Messages)
	assert.Equal(t, api.StatusNotStarted, p.Participants[2].Status)
	assert.Equal(t, 0, p.Participants[0].Messages)
}

func TestSummarizeNilSession(t *testing.T) {
	assert.Equal(t, Progress{}, Summarize(nil, nil))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(3, 0))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 100, Percentage(4, 4))
}
