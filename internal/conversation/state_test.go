package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/alia-console/internal/api"
)

func TestStoreSnapshotsAreNotMutated(t *testing.T) {
	s := newStore()
	require.True(t, s.register(convo("c1", 0, api.StatusActive)))
	require.False(t, s.register(convo("c1", 0, api.StatusTyping)))

	before := s.snapshot()
	s.update("c1", func(st State) (State, bool) {
		st.Messages = appendMessage(st.Messages, aliaSays("m1", "hi"))
		st.Conversation.Status = api.StatusWaitingResponse
		return st, true
	})
	after := s.snapshot()

	require.Len(t, before, 1)
	assert.Empty(t, before[0].Messages)
	assert.Equal(t, api.StatusActive, before[0].Status())
	assert.Len(t, after[0].Messages, 1)
	assert.Equal(t, api.StatusWaitingResponse, after[0].Status())
}

func TestStoreKeepsRegistrationOrder(t *testing.T) {
	s := newStore()
	for _, key := range []string{"b", "a", "c"} {
		s.register(convo(key, 0, api.StatusActive))
	}
	var keys []string
	for _, st := range s.snapshot() {
		keys = append(keys, st.Key())
	}
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestStoreUpdateUnknownKey(t *testing.T) {
	s := newStore()
	_, ok := s.update("ghost", func(st State) (State, bool) { return st, true })
	assert.False(t, ok)
}

func TestAppendMessageDoesNotAlias(t *testing.T) {
	base := make([]api.Message, 1, 4)
	base[0] = aliaSays("m1", "one")
	a := appendMessage(base, aliaSays("m2", "two"))
	b := appendMessage(base, aliaSays("m3", "three"))
	assert.Equal(t, "m2", a[1].MessageKey)
	assert.Equal(t, "m3", b[1].MessageKey)
}

func TestAcceptsReply(t *testing.T) {
	st := State{Conversation: convo("c1", 0, api.StatusWaitingResponse)}
	assert.True(t, st.AcceptsReply())
	st.Loading = true
	assert.False(t, st.AcceptsReply())
	st = State{Conversation: convo("c1", 0, api.StatusTyping)}
	assert.False(t, st.AcceptsReply())
	_, ok := st.LastMessage()
	assert.False(t, ok)
}
