package models

import "fmt"

// Conversation identifies either a group chat or the direct chat between two
// users. Direct conversations keep the participants sorted so both sides derive
// the same value.
type Conversation struct {
	GroupID int64
	UserA   int64
	UserB   int64
}

// GroupConversation returns the conversation of a group.
func GroupConversation(groupID int64) Conversation {
	return Conversation{GroupID: groupID}
}

// DirectConversation returns the conversation between a and b, independent of
// argument order.
func DirectConversation(a, b int64) Conversation {
	if a > b {
		a, b = b, a
	}
	return Conversation{UserA: a, UserB: b}
}

func (c Conversation) IsGroup() bool { return c.GroupID != 0 }

func (c Conversation) IsZero() bool { return c == Conversation{} }

// Participants returns both users of a direct conversation.
func (c Conversation) Participants() []int64 {
	if c.IsGroup() {
		return nil
	}
	if c.UserA == c.UserB {
		return []int64{c.UserA}
	}
	return []int64{c.UserA, c.UserB}
}

// Includes reports whether userID is a participant of a direct conversation.
func (c Conversation) Includes(userID int64) bool {
	return !c.IsGroup() && (c.UserA == userID || c.UserB == userID)
}

func (c Conversation) String() string {
	if c.IsGroup() {
		return fmt.Sprintf("group:%d", c.GroupID)
	}
	return fmt.Sprintf("direct:%d:%d", c.UserA, c.UserB)
}

func (c Conversation) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
