package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryStore keeps conversations in a Tree. Nothing survives Close.
type InMemoryStore struct {
	mu            sync.RWMutex
	tree          *Tree
	conversations map[int64]*Conversation
	nextMessageID int64
	nextConvID    int64
	closed        bool
	now           func() time.Time
}

func NewInMemoryStore(options ...StoreOption) *InMemoryStore {
	return &InMemoryStore{
		tree:          NewTree(),
		conversations: map[int64]*Conversation{},
		now:           newStoreOptions(options).now,
	}
}

func (s *InMemoryStore) StartConversation(_ context.Context, title string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.startConversationAt(title, s.now().UTC()), nil
}

func (s *InMemoryStore) startConversationAt(title string, ts time.Time) int64 {
	if title == "" {
		title = defaultTitle(ts)
	}
	s.nextConvID++
	s.conversations[s.nextConvID] = &Conversation{
		ID:          s.nextConvID,
		Title:       title,
		CreatedAt:   ts,
		LastUpdated: ts,
	}
	return s.nextConvID
}

func (s *InMemoryStore) AddMessage(_ context.Context, msg NewMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	if msg.Role == "" {
		return 0, errors.New("message role is required")
	}

	implicit := msg.ConversationID == 0
	var conversationTS time.Time
	if implicit {
		conversationTS = s.now().UTC()
	} else if _, ok := s.conversations[msg.ConversationID]; !ok {
		return 0, errors.Wrapf(ErrConversationNotFound, "conversation %d", msg.ConversationID)
	}

	m, err := msg.toMessage(msg.ConversationID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if implicit {
		m.ConversationID = s.startConversationAt("", conversationTS)
	}
	c := s.conversations[m.ConversationID]
	s.nextMessageID++
	m.ID = s.nextMessageID
	s.tree.InsertMessages(m)
	c.LastUpdated = m.Timestamp

	return m.ID, nil
}

func (s *InMemoryStore) GetMessage(_ context.Context, id int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	m, ok := s.tree.Nodes[id]
	if !ok {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %d", id)
	}
	return copyMessage(m), nil
}

func (s *InMemoryStore) GetMessageChain(_ context.Context, id int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.tree.GetMessageChain(id), nil
}

func (s *InMemoryStore) GetMessages(_ context.Context, ids []int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var ret []*Message
	seen := map[int64]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m, ok := s.tree.Nodes[id]; ok {
			ret = append(ret, copyMessage(m))
		}
	}
	SortChronologically(ret)
	return ret, nil
}

func (s *InMemoryStore) LatestMessage(_ context.Context, conversationID int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	msgs := s.conversationMessagesLocked(conversationID)
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, conversationID int64, exclude []int64, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	excluded := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	msgs := s.conversationMessagesLocked(conversationID)
	var ret []*Message
	for i := len(msgs) - 1; i >= 0 && len(ret) < limit; i-- {
		if _, skip := excluded[msgs[i].ID]; skip {
			continue
		}
		ret = append(ret, msgs[i])
	}
	return ret, nil
}

func (s *InMemoryStore) ConversationMessages(_ context.Context, conversationID int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.conversationMessagesLocked(conversationID), nil
}

func (s *InMemoryStore) conversationMessagesLocked(conversationID int64) []*Message {
	var ret []*Message
	for _, m := range s.tree.Nodes {
		if m.ConversationID == conversationID {
			ret = append(ret, copyMessage(m))
		}
	}
	SortChronologically(ret)
	return ret
}

func (s *InMemoryStore) GetConversation(_ context.Context, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	c, ok := s.conversations[id]
	if !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %d", id)
	}
	c_ := *c
	return &c_, nil
}

func (s *InMemoryStore) ListConversations(_ context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ret := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		c_ := *c
		ret = append(ret, &c_)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].LastUpdated.Equal(ret[j].LastUpdated) {
			return ret[i].LastUpdated.After(ret[j].LastUpdated)
		}
		return ret[i].ID > ret[j].ID
	})
	return ret, nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SortChronologically orders messages by timestamp, then id.
func SortChronologically(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func copyMessage(m *Message) *Message {
	c := *m
	if m.ParentID != nil {
		c.ParentID = IDRef(*m.ParentID)
	}
	return &c
}

var _ Store = (*InMemoryStore)(nil)
