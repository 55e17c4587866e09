package conversation

import (
	"sync"

	"github.com/kingrea/alia-console/internal/api"
)

// State is the client-side view of one conversation.
type State struct {
	Conversation api.ConversationSummary
	Messages     []api.Message
	Loading      bool
	Error        string
	// Loaded is set once the history fetch has succeeded.
	Loaded bool
}

// Key returns the conversation key.
func (s State) Key() string {
	return s.Conversation.ConversationKey
}

// Status returns the displayed conversation status.
func (s State) Status() api.ConversationStatus {
	return s.Conversation.Status
}

// LastMessage returns the most recent message, if any.
func (s State) LastMessage() (api.Message, bool) {
	if len(s.Messages) == 0 {
		return api.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// AcceptsReply reports whether the human owes the coordinator a reply.
func (s State) AcceptsReply() bool {
	return s.Conversation.Status == api.StatusWaitingResponse && !s.Loading
}

// DeriveStatus reconciles the backend status with the actual turn order: a
// conversation that is not completed and whose last message came from Alia
// is waiting on the human.
func DeriveStatus(reported api.ConversationStatus, messages []api.Message) api.ConversationStatus {
	if reported == api.StatusCompleted || len(messages) == 0 {
		return reported
	}
	if messages[len(messages)-1].Sender == api.SenderAlia {
		return api.StatusWaitingResponse
	}
	return reported
}

func normalizeMessage(conversationKey string, m api.Message) api.Message {
	m.ConversationKey = conversationKey
	m.Sender = api.NormalizeSender(string(m.Sender))
	if m.MessageType == "" {
		m.MessageType = api.MessageText
	}
	return m
}

// appendMessage never writes into the backing array of msgs, so slices handed
// out by earlier snapshots stay untouched.
func appendMessage(msgs []api.Message, m api.Message) []api.Message {
	out := make([]api.Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

// store holds every conversation state. Each mutation swaps in a fresh map so
// a snapshot taken earlier is never modified underneath its reader.
type store struct {
	mu     sync.Mutex
	states map[string]State
	order  []string
}

func newStore() *store {
	return &store{states: map[string]State{}}
}

// register adds an empty state; it returns false if key is already known.
func (s *store) register(summary api.ConversationSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := summary.ConversationKey
	if _, ok := s.states[key]; ok {
		return false
	}
	next := s.cloneLocked()
	next[key] = State{Conversation: summary}
	s.states = next
	s.order = append(append([]string(nil), s.order...), key)
	return true
}

// update applies fn to the state under key. fn returns the new state and
// whether anything changed.
func (s *store) update(key string, fn func(State) (State, bool)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[key]
	if !ok {
		return State{}, false
	}
	nextState, changed := fn(cur)
	if !changed {
		return cur, false
	}
	next := s.cloneLocked()
	next[key] = nextState
	s.states = next
	return nextState, true
}

func (s *store) get(key string) (State, bool) {
	s.mu.Lock()
	states := s.states
	s.mu.Unlock()
	st, ok := states[key]
	return st, ok
}

func (s *store) snapshot() []State {
	s.mu.Lock()
	states, order := s.states, s.order
	s.mu.Unlock()
	out := make([]State, 0, len(order))
	for _, key := range order {
		out = append(out, states[key])
	}
	return out
}

func (s *store) cloneLocked() map[string]State {
	next := make(map[string]State, len(s.states)+1)
	for k, v := range s.states {
		next[k] = v
	}
	return next
}
