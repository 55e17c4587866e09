// Package conversation drives the scripted exchange between Alia and each
// stakeholder of a session and keeps the client-side conversation states in
// step with the backend.
//
// One Orchestrator lives as long as the screen that shows the session. All
// delayed work (typing delay, auto-start, post-send poll) is tied to its
// lifetime and cancelled by Close.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/alia-console/internal/api"
)

const (
	// DefaultMaxMessageLength caps a single reply.
	DefaultMaxMessageLength = 500

	initConcurrency = 4
)

// Conversation-local error strings shown in the chat window.
const (
	errLoadMessages = "Failed to load messages"
	errNextMessage  = "Failed to fetch next message"
	errMalformed    = "Malformed next message"
	errSendMessage  = "Failed to send message"
)

var (
	ErrUnknownConversation   = errors.New("conversation: unknown conversation")
	ErrConversationCompleted = errors.New("conversation: conversation already completed")
	ErrEmptyMessage          = errors.New("conversation: message is empty")
	ErrMessageTooLong        = errors.New("conversation: message exceeds maximum length")
	ErrClosed                = errors.New("conversation: orchestrator closed")
)

// Backend is the part of the API client the orchestrator needs.
type Backend interface {
	GetConversationMessages(ctx context.Context, conversationKey string) (*api.ConversationMessages, error)
	NextMessage(ctx context.Context, conversationKey string) (*api.NextMessage, error)
	SendMessage(ctx context.Context, conversationKey string, req api.SendMessageRequest) (*api.NextMessage, error)
	UpdateConversationStatus(ctx context.Context, conversationKey string, req api.UpdateStatusRequest) (*api.StatusAck, error)
}

// Logger is the subset of logging used by the orchestrator.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Delays are the artificial pauses of the scripted exchange.
type Delays struct {
	// Typing is how long the "typing" state lasts before the next line is
	// requested. It is also sent to the backend as the duration hint.
	Typing time.Duration
	// AutoStart is the pause before the first conversation's opening line.
	AutoStart time.Duration
	// PostSend is the pause between a reply and the next poll.
	PostSend time.Duration
}

// DefaultDelays returns the production timings.
func DefaultDelays() Delays {
	return Delays{
		Typing:    2000 * time.Millisecond,
		AutoStart: 800 * time.Millisecond,
		PostSend:  1000 * time.Millisecond,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithDelays overrides the default timings.
func WithDelays(d Delays) Option {
	return func(o *Orchestrator) {
		o.delays = d
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSessionChanged registers the callback fired when a conversation
// finishes and the aggregate session state may have moved.
func WithSessionChanged(fn func()) Option {
	return func(o *Orchestrator) {
		o.onSessionChanged = fn
	}
}

// WithAutoStarted registers the callback fired with the key of every
// conversation the auto-start policy kicks.
func WithAutoStarted(fn func(key string)) Option {
	return func(o *Orchestrator) {
		o.onAutoStarted = fn
	}
}

// WithMaxMessageLength overrides DefaultMaxMessageLength.
func WithMaxMessageLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxMessageLength = n
		}
	}
}

// Orchestrator owns the conversation states of one session.
type Orchestrator struct {
	backend          Backend
	logger           Logger
	delays           Delays
	maxMessageLength int
	onSessionChanged func()
	onAutoStarted    func(key string)

	ctx    context.Context
	cancel context.CancelFunc
	store  *store
	tasks  *taskSet

	startedMu sync.Mutex
	started   map[string]bool

	changes   chan struct{}
	closeOnce sync.Once
}

// New builds an orchestrator on top of backend.
func New(backend Backend, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:          backend,
		logger:           nopLogger{},
		delays:           DefaultDelays(),
		maxMessageLength: DefaultMaxMessageLength,
		ctx:              ctx,
		cancel:           cancel,
		store:            newStore(),
		started:          map[string]bool{},
		changes:          make(chan struct{}, 1),
	}
	o.tasks = newTaskSet(ctx)
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Close cancels in-flight work and every pending delayed task. The
// orchestrator must not be used afterwards.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		o.tasks.stop()
	})
}

// Changes delivers a signal after state mutations. Signals are coalesced:
// a reader that falls behind sees one pending signal, not a backlog.
func (o *Orchestrator) Changes() <-chan struct{} {
	return o.changes
}

// Snapshot returns the states in registration order.
func (o *Orchestrator) Snapshot() []State {
	return o.store.snapshot()
}

// State returns the state of one conversation.
func (o *Orchestrator) State(key string) (State, bool) {
	return o.store.get(key)
}

// PendingTasks reports how many delayed polls are scheduled.
func (o *Orchestrator) PendingTasks() int {
	return o.tasks.pending()
}

// Sync registers every conversation of session that is not known yet and
// loads their history concurrently. Known conversations keep their state.
func (o *Orchestrator) Sync(ctx context.Context, session *api.Session) {
	if session == nil {
		return
	}
	// Register in session order first so Snapshot keeps that order; only the
	// history loads run concurrently.
	var fresh []string
	for _, summary := range session.Conversations {
		key := summary.ConversationKey
		if strings.TrimSpace(key) == "" {
			o.logger.Printf("conversation: skipping summary without key in session %s", session.SessionKey)
			continue
		}
		if o.store.register(summary) {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) == 0 {
		return
	}
	o.changed()

	var g errgroup.Group
	g.SetLimit(initConcurrency)
	for _, key := range fresh {
		g.Go(func() error {
			if err := o.loadHistory(ctx, key); err != nil {
				o.logger.Printf("conversation %s: %v", key, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Initialize registers summary and loads its message history. Calling it
// again for a registered conversation is a no-op.
func (o *Orchestrator) Initialize(ctx context.Context, summary api.ConversationSummary) error {
	key := summary.ConversationKey
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("conversation: summary without key")
	}
	if !o.store.register(summary) {
		return nil
	}
	o.changed()
	return o.loadHistory(ctx, key)
}

// Reload fetches the history of a registered conversation again, replacing
// what is held locally. It is the retry path after a failed history load.
func (o *Orchestrator) Reload(ctx context.Context, key string) error {
	if _, ok := o.store.get(key); !ok {
		return ErrUnknownConversation
	}
	o.setError(key, "")
	return o.loadHistory(ctx, key)
}

func (o *Orchestrator) loadHistory(ctx context.Context, key string) error {
	ctx, cancel := o.bind(ctx)
	defer cancel()
	history, err := o.backend.GetConversationMessages(ctx, key)
	if err != nil {
		if o.ctx.Err() != nil {
			return o.ctx.Err()
		}
		o.setError(key, errLoadMessages)
		return fmt.Errorf("conversation: load history for %s: %w", key, err)
	}

	messages := make([]api.Message, 0, len(history.Messages))
	for _, m := range history.Messages {
		messages = append(messages, normalizeMessage(key, m))
	}
	o.store.update(key, func(st State) (State, bool) {
		st.Messages = messages
		st.Conversation.Status = DeriveStatus(st.Conversation.Status, messages)
		st.Loaded = true
		st.Error = ""
		return st, true
	})
	o.changed()
	return nil
}

// UpdateStatus pushes a status change to the backend and mirrors it locally.
// The write is best effort: a backend failure is logged and the local mirror
// is applied anyway. Completed is terminal locally.
func (o *Orchestrator) UpdateStatus(ctx context.Context, key string, status api.ConversationStatus, durationHint time.Duration) {
	st, ok := o.store.get(key)
	if !ok {
		return
	}
	if st.Conversation.Status == api.StatusCompleted && status != api.StatusCompleted {
		o.logger.Printf("conversation %s: ignoring %s after completion", key, status)
		return
	}
	req := api.UpdateStatusRequest{Status: status}
	if durationHint > 0 {
		ms := int(durationHint / time.Millisecond)
		req.DurationMS = &ms
	}
	ctx, cancel := o.bind(ctx)
	_, err := o.backend.UpdateConversationStatus(ctx, key, req)
	cancel()
	if o.ctx.Err() != nil {
		return
	}
	if err != nil {
		o.logger.Printf("conversation %s: update status to %s failed: %v", key, status, err)
	}
	o.setStatus(key, status)
}

// PollNextMessage plays the typing delay and fetches the coordinator's next
// line. It does nothing for unknown or completed conversations and for
// conversations that already have a poll in flight.
func (o *Orchestrator) PollNextMessage(ctx context.Context, key string) {
	if !o.beginLoading(key) {
		return
	}
	ctx, cancel := o.bind(ctx)
	defer cancel()

	o.UpdateStatus(ctx, key, api.StatusTyping, o.delays.Typing)
	if err := sleep(ctx, o.delays.Typing); err != nil {
		o.abandon(key)
		return
	}

	next, err := o.backend.NextMessage(ctx, key)
	switch {
	case errors.Is(err, api.ErrNoMoreMessages):
		o.UpdateStatus(ctx, key, api.StatusCompleted, 0)
		o.finishLoading(key)
		o.sessionChanged()
		return
	case errors.Is(err, api.ErrMalformedMessage):
		o.logger.Printf("conversation %s: %v", key, err)
		o.fail(ctx, key, errMalformed)
		return
	case err != nil:
		if o.ctx.Err() != nil {
			return
		}
		if ctx.Err() != nil {
			o.abandon(key)
			return
		}
		o.logger.Printf("conversation %s: next message: %v", key, err)
		o.fail(ctx, key, errNextMessage)
		return
	}

	msg := normalizeMessage(key, api.Message{
		MessageKey:  next.MessageKey,
		Sender:      next.Sender,
		Content:     next.Content,
		MessageType: api.MessageText,
		Timestamp:   next.Timestamp,
	})
	o.store.update(key, func(st State) (State, bool) {
		st.Messages = appendMessage(st.Messages, msg)
		st.Loading = false
		st.Error = ""
		return st, true
	})
	o.changed()

	status := api.StatusWaitingResponse
	if next.IsFinalMessage {
		status = api.StatusCompleted
	}
	o.UpdateStatus(ctx, key, status, 0)
	if status == api.StatusCompleted {
		o.sessionChanged()
	}
}

// SendMessage submits the human's reply, appends it locally and schedules
// one poll for the coordinator's next line. The conversation stops accepting
// replies until that line arrives.
func (o *Orchestrator) SendMessage(ctx context.Context, key, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > o.maxMessageLength {
		return ErrMessageTooLong
	}
	st, ok := o.store.get(key)
	if !ok {
		return ErrUnknownConversation
	}
	if st.Conversation.Status == api.StatusCompleted {
		return ErrConversationCompleted
	}

	ctx, cancel := o.bind(ctx)
	defer cancel()
	resp, err := o.backend.SendMessage(ctx, key, api.SendMessageRequest{
		Content:     content,
		Sender:      api.SenderEmployee,
		MessageType: api.MessageText,
	})
	if err != nil {
		o.logger.Printf("conversation %s: send message: %v", key, err)
		if o.ctx.Err() == nil {
			o.setError(key, errSendMessage)
		}
		return fmt.Errorf("conversation: send message to %s: %w", key, err)
	}

	msg := api.Message{
		MessageKey:      resp.MessageKey,
		ConversationKey: key,
		Sender:          api.SenderEmployee,
		Content:         content,
		MessageType:     api.MessageText,
		Timestamp:       resp.Timestamp,
	}
	o.store.update(key, func(st State) (State, bool) {
		st.Messages = appendMessage(st.Messages, msg)
		st.Error = ""
		// Alia's turn until the next line arrives.
		if st.Conversation.Status != api.StatusCompleted {
			st.Conversation.Status = api.StatusActive
		}
		return st, true
	})
	o.changed()
	o.schedulePoll(key, o.delays.PostSend)
	return nil
}

// Start kicks off a conversation on explicit request. Conversations other
// than the first one only begin this way or after a reply.
func (o *Orchestrator) Start(key string) error {
	st, ok := o.store.get(key)
	if !ok {
		return ErrUnknownConversation
	}
	if st.Conversation.Status == api.StatusCompleted {
		return ErrConversationCompleted
	}
	o.startedMu.Lock()
	o.started[key] = true
	o.startedMu.Unlock()
	if !o.schedulePoll(key, 0) {
		return ErrClosed
	}
	return nil
}

// AutoStart evaluates the auto-start policy and returns the keys it kicked.
// Only the position-0 conversation qualifies, once it has loaded with no
// messages, is neither completed nor loading, and has not been kicked
// before. Repeated calls with unchanged state kick nothing.
func (o *Orchestrator) AutoStart() []string {
	var kicked []string
	for _, st := range o.store.snapshot() {
		if !st.Loaded || st.Conversation.Position != 0 || len(st.Messages) > 0 ||
			st.Conversation.Status == api.StatusCompleted || st.Loading {
			continue
		}
		key := st.Key()
		o.startedMu.Lock()
		already := o.started[key]
		o.started[key] = true
		o.startedMu.Unlock()
		if already {
			continue
		}
		o.schedulePoll(key, o.delays.AutoStart)
		kicked = append(kicked, key)
		if o.onAutoStarted != nil {
			o.onAutoStarted(key)
		}
	}
	return kicked
}

func (o *Orchestrator) schedulePoll(key string, delay time.Duration) bool {
	if !o.tasks.after(delay, func(ctx context.Context) { o.PollNextMessage(ctx, key) }) {
		o.logger.Printf("conversation %s: poll not scheduled, orchestrator closed", key)
		return false
	}
	return true
}

func (o *Orchestrator) beginLoading(key string) bool {
	_, claimed := o.store.update(key, func(st State) (State, bool) {
		if st.Conversation.Status == api.StatusCompleted || st.Loading {
			return st, false
		}
		st.Loading = true
		return st, true
	})
	if claimed {
		o.changed()
	}
	return claimed
}

func (o *Orchestrator) finishLoading(key string) {
	o.store.update(key, func(st State) (State, bool) {
		st.Loading = false
		return st, true
	})
	o.changed()
}

// abandon releases a poll whose caller gave up, leaving the conversation
// active so a later Start or reply can poll again. After Close the state is
// left alone.
func (o *Orchestrator) abandon(key string) {
	if o.ctx.Err() != nil {
		return
	}
	o.store.update(key, func(st State) (State, bool) {
		st.Loading = false
		return st, true
	})
	o.changed()
	o.UpdateStatus(o.ctx, key, api.StatusActive, 0)
}

func (o *Orchestrator) fail(ctx context.Context, key, message string) {
	o.store.update(key, func(st State) (State, bool) {
		st.Error = message
		st.Loading = false
		return st, true
	})
	o.changed()
	o.UpdateStatus(ctx, key, api.StatusActive, 0)
}

func (o *Orchestrator) setError(key, message string) {
	o.store.update(key, func(st State) (State, bool) {
		st.Error = message
		return st, true
	})
	o.changed()
}

func (o *Orchestrator) setStatus(key string, status api.ConversationStatus) {
	_, changed := o.store.update(key, func(st State) (State, bool) {
		if st.Conversation.Status == status {
			return st, false
		}
		if st.Conversation.Status == api.StatusCompleted {
			return st, false
		}
		st.Conversation.Status = status
		return st, true
	})
	if changed {
		o.changed()
	}
}

func (o *Orchestrator) sessionChanged() {
	if o.onSessionChanged != nil && o.ctx.Err() == nil {
		o.onSessionChanged()
	}
}

// changed publishes a change signal and re-evaluates auto-start.
func (o *Orchestrator) changed() {
	select {
	case o.changes <- struct{}{}:
	default:
	}
	o.AutoStart()
}

// bind derives a context that ends when either ctx or the orchestrator does.
func (o *Orchestrator) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
