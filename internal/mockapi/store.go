package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/alia-console/internal/api"
)

var (
	errNotFound  = errors.New("not found")
	errExhausted = errors.New("no further scripted message")
	errConflict  = errors.New("conflict")
	errInvalid   = errors.New("invalid request")
)

type conversationRecord struct {
	key        string
	sessionKey string
	position   int
	employee   api.Employee
	skill      string
	lines      []string
	cursor     int
	awaiting   bool
	status     api.ConversationStatus
	messages   []api.Message
	replies    []string
	updatedAt  time.Time
}

func (c *conversationRecord) summary() api.ConversationSummary {
	return api.ConversationSummary{
		ConversationKey:     c.key,
		EmployeeKey:         c.employee.EmployeeKey,
		EmployeeName:        c.employee.Name,
		EmployeeRole:        c.employee.Role,
		EmployeeAvatarColor: c.employee.AvatarColor,
		Status:              c.status,
		MessagesCount:       len(c.messages),
		Position:            c.position,
	}
}

type sessionRecord struct {
	key           string
	bugKey        string
	status        api.SessionStatus
	startedAt     time.Time
	completedAt   time.Time
	conversations []string
	ontologyKey   string
}

// store is the in-memory backend state. Every method takes the lock.
type store struct {
	mu    sync.Mutex
	newID func() string
	now   func() time.Time

	employees     []api.Employee
	bugs          []*api.Bug
	sessions      []*sessionRecord
	conversations map[string]*conversationRecord
	ontologies    map[string]json.RawMessage
}

func newStore(newID func() string, now func() time.Time) *store {
	s := &store{
		newID:         newID,
		now:           now,
		conversations: map[string]*conversationRecord{},
		ontologies:    map[string]json.RawMessage{},
	}
	s.seed()
	return s
}

func (s *store) seed() {
	stamp := s.timestamp()
	people := []struct{ name, role, userType string }{
		{"João Pereira", "Backend Developer", "Subject"},
		{"Maria Silva", "QA Lead", "Verifier"},
		{"Ana Costa", "Tech Lead", "Verifier"},
		{"Rui Santos", "Product Manager", "Context Provider"},
		{"Carla Mendes", "Customer Support", "Context Provider"},
		{"Pedro Alves", "Data Analyst", "Irrelevant"},
	}
	for i, p := range people {
		s.employees = append(s.employees, api.Employee{
			EmployeeKey:    s.newID(),
			Name:           p.name,
			Role:           p.role,
			UserType:       p.userType,
			RelevanceLevel: len(people) - i,
			AvatarColor:    api.AvatarColor(p.name),
			CreatedAt:      stamp,
			UpdatedAt:      stamp,
		})
	}
	pr := "https://github.com/acme/payments/pull/412"
	s.bugs = append(s.bugs,
		&api.Bug{
			BugKey:        s.newID(),
			Title:         "Payment failures on concurrent transactions",
			Description:   "BUG-2847: concurrent checkouts deadlocked on the ledger lock.",
			Severity:      "P1",
			AssigneeKey:   s.employees[0].EmployeeKey,
			PRLink:        &pr,
			Status:        "completed",
			CompletedDate: "2025-01-10",
			CreatedAt:     stamp,
			UpdatedAt:     stamp,
		},
		&api.Bug{
			BugKey:        s.newID(),
			Title:         "Session timeout logs users out during upload",
			Description:   "BUG-2911: refresh token ignored while a multipart upload is running.",
			Severity:      "P2",
			AssigneeKey:   s.employees[0].EmployeeKey,
			Status:        "completed",
			CompletedDate: "2025-01-14",
			CreatedAt:     stamp,
			UpdatedAt:     stamp,
		},
		&api.Bug{
			BugKey:      s.newID(),
			Title:       "CSV export drops accented characters",
			Description: "BUG-2960: still being worked on.",
			Severity:    "P3",
			AssigneeKey: s.employees[0].EmployeeKey,
			Status:      "in_progress",
			CreatedAt:   stamp,
			UpdatedAt:   stamp,
		},
	)
}

func (s *store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *store) listEmployees() []api.Employee {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Employee(nil), s.employees...)
}

func (s *store) employee(key string) (api.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.employeeLocked(key); ok {
		return e, nil
	}
	return api.Employee{}, errNotFound
}

func (s *store) employeeLocked(key string) (api.Employee, bool) {
	for _, e := range s.employees {
		if e.EmployeeKey == key {
			return e, true
		}
	}
	return api.Employee{}, false
}

func (s *store) listBugs() []api.Bug {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Bug, 0, len(s.bugs))
	for _, b := range s.bugs {
		out = append(out, *b)
	}
	return out
}

func (s *store) bug(key string) (api.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.bugLocked(key); b != nil {
		return *b, nil
	}
	return api.Bug{}, errNotFound
}

func (s *store) bugLocked(key string) *api.Bug {
	for _, b := range s.bugs {
		if b.BugKey == key {
			return b
		}
	}
	return nil
}

func (s *store) createBug(req api.CreateBugRequest) (api.Bug, error) {
	bugID := strings.TrimSpace(req.BugID)
	title := strings.TrimSpace(req.Title)
	if bugID == "" || title == "" {
		return api.Bug{}, fmt.Errorf("%w: bug_id and title are required", errInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := s.timestamp()
	bug := &api.Bug{
		BugKey:      s.newID(),
		Title:       title,
		Description: bugID + ": " + title,
		Severity:    strings.TrimSpace(req.Severity),
		AssigneeKey: s.employees[0].EmployeeKey,
		PRLink:      req.PRLink,
		Status:      strings.TrimSpace(req.Status),
		CreatedAt:   stamp,
		UpdatedAt:   stamp,
	}
	if bug.Severity == "" {
		bug.Severity = "P2"
	}
	if bug.Status == "" {
		bug.Status = "completed"
	}
	if req.AssigneeID != nil && *req.AssigneeID >= 1 && *req.AssigneeID <= len(s.employees) {
		bug.AssigneeKey = s.employees[*req.AssigneeID-1].EmployeeKey
	}
	if req.CompletedDate != nil {
		bug.CompletedDate = *req.CompletedDate
	}
	s.bugs = append(s.bugs, bug)
	return *bug, nil
}

func (s *store) createSession(bugKey string) (api.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bug := s.bugLocked(strings.TrimSpace(bugKey))
	if bug == nil {
		return api.Session{}, fmt.Errorf("%w: bug %s", errNotFound, bugKey)
	}
	subject, _ := s.employeeLocked(bug.AssigneeKey)
	now := s.now().UTC()
	rec := &sessionRecord{
		key:       s.newID(),
		bugKey:    bug.BugKey,
		status:    api.SessionInitializing,
		startedAt: now,
	}
	for i, e := range api.DefaultParticipants(s.employees) {
		sc := scriptFor(e.Role)
		conv := &conversationRecord{
			key:        s.newID(),
			sessionKey: rec.key,
			position:   i,
			employee:   e,
			skill:      sc.skill,
			lines:      sc.render(firstName(e.Name), subject.Name, bug.Title),
			status:     api.StatusNotStarted,
			updatedAt:  now,
		}
		s.conversations[conv.key] = conv
		rec.conversations = append(rec.conversations, conv.key)
	}
	s.sessions = append(s.sessions, rec)
	bug.SessionStatus = string(rec.status)
	return s.sessionViewLocked(rec), nil
}

func (s *store) listSessions() []api.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, s.sessionViewLocked(rec))
	}
	return out
}

func (s *store) session(key string) (api.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.sessionLocked(key)
	if rec == nil {
		return api.Session{}, errNotFound
	}
	return s.sessionViewLocked(rec), nil
}

func (s *store) sessionLocked(key string) *sessionRecord {
	for _, rec := range s.sessions {
		if rec.key == key {
			return rec
		}
	}
	return nil
}

func (s *store) sessionViewLocked(rec *sessionRecord) api.Session {
	view := api.Session{
		SessionKey:    rec.key,
		BugKey:        rec.bugKey,
		Status:        rec.status,
		StartedAt:     rec.startedAt.Format(time.RFC3339),
		Conversations: make([]api.ConversationSummary, 0, len(rec.conversations)),
	}
	if !rec.completedAt.IsZero() {
		view.CompletedAt = rec.completedAt.Format(time.RFC3339)
	}
	for _, key := range rec.conversations {
		view.Conversations = append(view.Conversations, s.conversations[key].summary())
	}
	return view
}

func (s *store) sessionOntology(sessionKey string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.sessionLocked(sessionKey)
	if rec == nil || rec.ontologyKey == "" {
		return nil, errNotFound
	}
	return s.ontologies[rec.ontologyKey], nil
}

func (s *store) ontology(key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.ontologies[key]
	if !ok {
		return nil, errNotFound
	}
	return raw, nil
}

func (s *store) messages(convKey string) (api.ConversationMessages, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convKey]
	if !ok {
		return api.ConversationMessages{}, errNotFound
	}
	return api.ConversationMessages{
		ConversationKey: conv.key,
		EmployeeName:    conv.employee.Name,
		Messages:        append([]api.Message{}, conv.messages...),
	}, nil
}

// nextMessage serves the next scripted line. It fails with errConflict while
// the stakeholder owes a reply and with errExhausted once the script is over.
func (s *store) nextMessage(convKey string) (api.NextMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convKey]
	if !ok {
		return api.NextMessage{}, errNotFound
	}
	if conv.status == api.StatusCompleted {
		return api.NextMessage{}, errExhausted
	}
	if conv.awaiting {
		return api.NextMessage{}, fmt.Errorf("%w: waiting for %s to reply", errConflict, conv.employee.Name)
	}
	if conv.cursor >= len(conv.lines) {
		s.completeLocked(conv)
		return api.NextMessage{}, errExhausted
	}
	now := s.now().UTC()
	msg := api.Message{
		MessageKey:      s.newID(),
		ConversationKey: conv.key,
		Sender:          api.SenderAlia,
		Content:         conv.lines[conv.cursor],
		MessageType:     api.MessageText,
		Timestamp:       now.Format(time.RFC3339),
	}
	conv.cursor++
	conv.messages = append(conv.messages, msg)
	conv.updatedAt = now
	final := conv.cursor == len(conv.lines)

	rec := s.sessionLocked(conv.sessionKey)
	if rec != nil && rec.status == api.SessionInitializing {
		rec.status = api.SessionActive
		if bug := s.bugLocked(rec.bugKey); bug != nil {
			bug.SessionStatus = string(rec.status)
		}
	}
	if final {
		s.completeLocked(conv)
	} else {
		conv.awaiting = true
		conv.status = api.StatusWaitingResponse
	}
	return api.NextMessage{
		MessageKey:     msg.MessageKey,
		Content:        msg.Content,
		Sender:         msg.Sender,
		Timestamp:      msg.Timestamp,
		IsFinalMessage: final,
	}, nil
}

func (s *store) sendMessage(convKey string, req api.SendMessageRequest) (api.NextMessage, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return api.NextMessage{}, fmt.Errorf("%w: content is required", errInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convKey]
	if !ok {
		return api.NextMessage{}, errNotFound
	}
	if conv.status == api.StatusCompleted {
		return api.NextMessage{}, fmt.Errorf("%w: conversation completed", errConflict)
	}
	now := s.now().UTC()
	msgType := req.MessageType
	if msgType == "" {
		msgType = api.MessageText
	}
	msg := api.Message{
		MessageKey:      s.newID(),
		ConversationKey: conv.key,
		Sender:          api.NormalizeSender(string(req.Sender)),
		Content:         req.Content,
		MessageType:     msgType,
		Timestamp:       now.Format(time.RFC3339),
	}
	conv.messages = append(conv.messages, msg)
	if msg.Sender == api.SenderEmployee {
		conv.awaiting = false
		conv.replies = append(conv.replies, content)
		conv.status = api.StatusActive
	}
	conv.updatedAt = now
	return api.NextMessage{
		MessageKey: msg.MessageKey,
		Content:    msg.Content,
		Sender:     msg.Sender,
		Timestamp:  msg.Timestamp,
	}, nil
}

func (s *store) updateStatus(convKey string, req api.UpdateStatusRequest) (api.StatusAck, error) {
	if !req.Status.Valid() {
		return api.StatusAck{}, fmt.Errorf("%w: unknown status %q", errInvalid, req.Status)
	}
	if req.DurationMS != nil && *req.DurationMS < 0 {
		return api.StatusAck{}, fmt.Errorf("%w: duration_ms must not be negative", errInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convKey]
	if !ok {
		return api.StatusAck{}, errNotFound
	}
	switch {
	case conv.status == api.StatusCompleted:
	case req.Status == api.StatusCompleted:
		s.completeLocked(conv)
	default:
		conv.status = req.Status
		conv.updatedAt = s.now().UTC()
	}
	return api.StatusAck{
		ConversationKey: conv.key,
		Status:          conv.status,
		UpdatedAt:       conv.updatedAt.Format(time.RFC3339),
	}, nil
}

func (s *store) completeLocked(conv *conversationRecord) {
	if conv.status == api.StatusCompleted {
		return
	}
	conv.status = api.StatusCompleted
	conv.awaiting = false
	conv.updatedAt = s.now().UTC()

	rec := s.sessionLocked(conv.sessionKey)
	if rec == nil || rec.status == api.SessionCompleted {
		return
	}
	for _, key := range rec.conversations {
		if s.conversations[key].status != api.StatusCompleted {
			return
		}
	}
	rec.status = api.SessionCompleted
	rec.completedAt = s.now().UTC()
	rec.ontologyKey = s.newID()
	s.ontologies[rec.ontologyKey] = s.buildOntologyLocked(rec)
	if bug := s.bugLocked(rec.bugKey); bug != nil {
		bug.SessionStatus = string(rec.status)
	}
}

func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return name
}
