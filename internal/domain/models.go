// Package domain holds the chat data model shared by the store, the service
// and the transports.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// User is a chat participant known to the durable store.
type User struct {
	ID        string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Pair is the unordered participant pair of a conversation, kept with A < B.
type Pair struct {
	A string
	B string
}

// NewPair normalizes two user ids into a Pair.
func NewPair(x, y string) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Has reports whether userID is one of the participants.
func (p Pair) Has(userID string) bool {
	return userID != "" && (p.A == userID || p.B == userID)
}

// Other returns the participant that is not userID.
func (p Pair) Other(userID string) string {
	if p.A == userID {
		return p.B
	}
	return p.A
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{p.A, p.B})
}

func (p *Pair) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	if len(ids) != 2 {
		return fmt.Errorf("participants: expected 2 ids, got %d", len(ids))
	}
	*p = NewPair(ids[0], ids[1])
	return nil
}

func (p Pair) String() string {
	return p.A + ":" + p.B
}

// Conversation pairs exactly two participants and summarizes their thread.
type Conversation struct {
	ID            string    `json:"conversation_id"`
	Participants  Pair      `json:"participants"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is a single persisted chat message. Deleted messages are kept as
// tombstones with DeletedAt set.
type Message struct {
	ID             string     `json:"message_id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ReceiverID     string     `json:"receiver_id"`
	Body           string     `json:"body"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
}

func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Preview returns a short single-line excerpt of the body.
func (m *Message) Preview(max int) string {
	body := strings.Join(strings.Fields(m.Body), " ")
	runes := []rune(body)
	if max <= 0 || len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "…"
}

// Presence is the advisory online state of a user.
type Presence struct {
	UserID     string     `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	Conversation
	OtherParticipant string   `json:"other_participant"`
	OtherPresence    Presence `json:"other_presence"`
}

// MessagePage is one page of history, oldest first.
type MessagePage struct {
	Messages    []Message `json:"messages"`
	CurrentPage int       `json:"current_page"`
	TotalPages  int       `json:"total_pages"`
	Total       int       `json:"total"`
	HasMore     bool      `json:"has_more"`
	MarkedRead  int       `json:"marked_read"`
}
