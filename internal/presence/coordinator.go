// Package presence tracks who is typing in which conversation and broadcasts
// the typing set whenever it is touched.
package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"messaging-service/internal/events"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

const shardCount = 32

// Broadcaster delivers events to users and group rooms.
type Broadcaster interface {
	Route(userID int64, event events.Event) int
	RouteToGroup(groupID int64, event events.Event) int
}

type shard struct {
	mu     sync.Mutex
	typing map[models.Conversation]map[int64]struct{}
}

// Coordinator holds the typing sets. It never holds a shard lock while
// routing.
type Coordinator struct {
	shards      [shardCount]*shard
	broadcaster Broadcaster
	log         *zap.Logger
}

func NewCoordinator(broadcaster Broadcaster, log *zap.Logger) *Coordinator {
	c := &Coordinator{broadcaster: broadcaster, log: log.Named("presence")}
	for i := range c.shards {
		c.shards[i] = &shard{typing: make(map[models.Conversation]map[int64]struct{})}
	}
	return c
}

func (c *Coordinator) shardFor(conv models.Conversation) *shard {
	h := uint64(conv.GroupID)*1_000_003 ^ uint64(conv.UserA)*7919 ^ uint64(conv.UserB)
	return c.shards[h%shardCount]
}

// SetTyping adds or removes userID from the conversation's typing set and
// broadcasts the resulting set, changed or not.
func (c *Coordinator) SetTyping(userID int64, conv models.Conversation, isTyping bool) {
	s := c.shardFor(conv)
	s.mu.Lock()
	if isTyping {
		set, ok := s.typing[conv]
		if !ok {
			set = make(map[int64]struct{})
			s.typing[conv] = set
		}
		set[userID] = struct{}{}
	} else {
		removeLocked(s, conv, userID)
	}
	users := snapshotLocked(s, conv)
	s.mu.Unlock()

	c.broadcast(conv, users)
}

// ClearConversation removes userID from one conversation and broadcasts it.
func (c *Coordinator) ClearConversation(userID int64, conv models.Conversation) {
	c.SetTyping(userID, conv, false)
}

// ClearUser removes userID from every typing set and broadcasts each
// conversation it was removed from.
func (c *Coordinator) ClearUser(userID int64) {
	type update struct {
		conv  models.Conversation
		users []int64
	}
	var updates []update
	for _, s := range c.shards {
		s.mu.Lock()
		for conv, set := range s.typing {
			if _, ok := set[userID]; !ok {
				continue
			}
			removeLocked(s, conv, userID)
			updates = append(updates, update{conv: conv, users: snapshotLocked(s, conv)})
		}
		s.mu.Unlock()
	}
	for _, u := range updates {
		c.broadcast(u.conv, u.users)
	}
}

// Typing returns the sorted typing set of a conversation.
func (c *Coordinator) Typing(conv models.Conversation) []int64 {
	s := c.shardFor(conv)
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotLocked(s, conv)
}

func removeLocked(s *shard, conv models.Conversation, userID int64) {
	set, ok := s.typing[conv]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(s.typing, conv)
	}
}

func snapshotLocked(s *shard, conv models.Conversation) []int64 {
	users := lo.Keys(s.typing[conv])
	slices.Sort(users)
	return users
}

func (c *Coordinator) broadcast(conv models.Conversation, users []int64) {
	c.log.Debug("typing broadcast", zap.Stringer("conversation", conv), zap.Int64s("typing", users))
	event := events.Typing(conv, users)
	if conv.IsGroup() {
		observability.IncTypingBroadcast("group")
		c.broadcaster.RouteToGroup(conv.GroupID, event)
		return
	}
	observability.IncTypingBroadcast("direct")
	for _, participant := range conv.Participants() {
		c.broadcaster.Route(participant, event)
	}
}
