package api

import (
	"encoding/json"
	"strings"
)

// SessionStatus is the backend lifecycle of a verification session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionActive       SessionStatus = "active"
	SessionCompleted    SessionStatus = "completed"
)

// ConversationStatus is the turn-taking state of one conversation.
type ConversationStatus string

const (
	StatusNotStarted      ConversationStatus = "not_started"
	StatusActive          ConversationStatus = "active"
	StatusWaitingResponse ConversationStatus = "waiting_response"
	StatusTyping          ConversationStatus = "typing"
	StatusCompleted       ConversationStatus = "completed"
)

// Valid reports whether s is one of the five known conversation states.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusActive, StatusWaitingResponse, StatusTyping, StatusCompleted:
		return true
	}
	return false
}

// Sender identifies who wrote a message. The backend is loose about casing,
// so values coming off the wire go through NormalizeSender.
type Sender string

const (
	SenderAlia     Sender = "Alia"
	SenderEmployee Sender = "Employee"
)

// NormalizeSender maps any backend sender label onto the two fixed roles.
func NormalizeSender(raw string) Sender {
	if strings.EqualFold(strings.TrimSpace(raw), string(SenderAlia)) {
		return SenderAlia
	}
	return SenderEmployee
}

// MessageType distinguishes chat text from system notices.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// Employee is a stakeholder that can take part in a verification session.
type Employee struct {
	EmployeeKey    string `json:"employee_key"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	UserType       string `json:"user_type"`
	RelevanceLevel int    `json:"relevance_level"`
	AvatarColor    string `json:"avatar_color"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// EmployeeList wraps GET /api/employees.
type EmployeeList struct {
	Employees []Employee `json:"employees"`
}

// Bug is a resolved defect whose fix is being verified.
type Bug struct {
	BugKey        string  `json:"bug_key"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Severity      string  `json:"severity"`
	AssigneeKey   string  `json:"assignee_key"`
	PRLink        *string `json:"pr_link"`
	Status        string  `json:"status"`
	CompletedDate string  `json:"completed_date"`
	SessionStatus string  `json:"session_status,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// BugList wraps GET /api/bugs.
type BugList struct {
	Bugs []Bug `json:"bugs"`
}

// CreateBugRequest is the body of POST /api/bugs.
type CreateBugRequest struct {
	BugID         string  `json:"bug_id"`
	Title         string  `json:"title"`
	Severity      string  `json:"severity"`
	AssigneeID    *int    `json:"assignee_id,omitempty"`
	PRLink        *string `json:"pr_link,omitempty"`
	PRMergedBy    *int    `json:"pr_merged_by,omitempty"`
	Status        string  `json:"status,omitempty"`
	CompletedDate *string `json:"completed_date,omitempty"`
}

// ConversationSummary is the session's view of one conversation.
type ConversationSummary struct {
	ConversationKey     string             `json:"conversation_key"`
	EmployeeKey         string             `json:"employee_key"`
	EmployeeName        string             `json:"employee_name"`
	EmployeeRole        string             `json:"employee_role"`
	EmployeeAvatarColor string             `json:"employee_avatar_color,omitempty"`
	Status              ConversationStatus `json:"status"`
	MessagesCount       int                `json:"messages_count"`
	Position            int                `json:"conversation_position"`
}

// Session is a set of conversations verifying one bug.
type Session struct {
	SessionKey    string                `json:"session_key"`
	BugKey        string                `json:"bug_key"`
	Status        SessionStatus         `json:"status"`
	StartedAt     string                `json:"started_at"`
	CompletedAt   string                `json:"completed_at,omitempty"`
	Conversations []ConversationSummary `json:"conversations"`
}

// SessionList wraps GET /api/sessions.
type SessionList struct {
	Sessions []Session `json:"sessions"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	BugKey string `json:"bug_key"`
}

// Message is one line of a conversation.
type Message struct {
	MessageKey      string      `json:"message_key"`
	ConversationKey string      `json:"conversation_key"`
	Sender          Sender      `json:"sender"`
	Content         string      `json:"content"`
	MessageType     MessageType `json:"message_type"`
	Timestamp       string      `json:"timestamp"`
}

// wireMessage is what the backend actually sends for history entries:
// sender casing varies and the timestamp may arrive as sent_at.
type wireMessage struct {
	MessageKey      string `json:"message_key"`
	ConversationKey string `json:"conversation_key"`
	Sender          string `json:"sender"`
	Content         string `json:"content"`
	MessageType     string `json:"message_type"`
	Timestamp       string `json:"timestamp"`
	SentAt          string `json:"sent_at"`
}

// UnmarshalJSON normalizes sender, message type and timestamp.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		MessageKey:      raw.MessageKey,
		ConversationKey: raw.ConversationKey,
		Sender:          NormalizeSender(raw.Sender),
		Content:         raw.Content,
		MessageType:     MessageType(raw.MessageType),
		Timestamp:       firstNonEmpty(raw.SentAt, raw.Timestamp),
	}
	if m.MessageType == "" {
		m.MessageType = MessageText
	}
	return nil
}

// ConversationMessages wraps GET /api/conversations/{key}/messages.
type ConversationMessages struct {
	ConversationKey string    `json:"conversation_key"`
	EmployeeName    string    `json:"employee_name"`
	Messages        []Message `json:"messages"`
}

// NextMessage is the scripted line served by the backend, or the echo of a
// message the user just sent.
type NextMessage struct {
	MessageKey     string `json:"message_key"`
	Content        string `json:"content"`
	Sender         Sender `json:"sender"`
	Timestamp      string `json:"timestamp"`
	IsFinalMessage bool   `json:"is_final_message"`
}

type wireNextMessage struct {
	MessageKey     string `json:"message_key"`
	Content        string `json:"content"`
	Sender         string `json:"sender"`
	Timestamp      string `json:"timestamp"`
	SentAt         string `json:"sent_at"`
	IsFinalMessage bool   `json:"is_final_message"`
}

// UnmarshalJSON normalizes sender and timestamp.
func (n *NextMessage) UnmarshalJSON(data []byte) error {
	var raw wireNextMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = NextMessage{
		MessageKey:     raw.MessageKey,
		Content:        raw.Content,
		Sender:         NormalizeSender(raw.Sender),
		Timestamp:      firstNonEmpty(raw.SentAt, raw.Timestamp),
		IsFinalMessage: raw.IsFinalMessage,
	}
	return nil
}

// SendMessageRequest is the body of POST /api/conversations/{key}/messages.
type SendMessageRequest struct {
	Content     string      `json:"content"`
	Sender      Sender      `json:"sender"`
	MessageType MessageType `json:"message_type,omitempty"`
}

// UpdateStatusRequest is the body of POST /api/conversations/{key}/status.
type UpdateStatusRequest struct {
	Status     ConversationStatus `json:"status"`
	DurationMS *int               `json:"duration_ms,omitempty"`
}

// StatusAck is the backend acknowledgement of a status change.
type StatusAck struct {
	ConversationKey string             `json:"conversation_key"`
	Status          ConversationStatus `json:"status"`
	UpdatedAt       string             `json:"updated_at"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
