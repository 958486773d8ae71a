package model

import (
	"strings"
	"time"
)

// Participant is one side of a two-party conversation. Name is filled in
// from the users directory when the conversation is returned to a client.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// LastMessage caches the newest message of a conversation for list views.
type LastMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is the two-party container for chat messages
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	LastMessage  *LastMessage  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant ids in stored order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Others returns the participant ids that are not userID.
func (c *Conversation) Others(userID string) []string {
	var ids []string
	for _, p := range c.Participants {
		if p.ID != userID {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// PairKey normalizes an unordered pair of user ids into the key that the
// stores put a unique constraint on.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// SortedPair returns a and b in the order used by PairKey.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// NewConversation builds an unsaved conversation between a and b.
func NewConversation(a, b string, now time.Time) Conversation {
	first, second := SortedPair(strings.TrimSpace(a), strings.TrimSpace(b))
	return Conversation{
		Participants: []Participant{{ID: first}, {ID: second}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
