package conversation

import (
	"context"
	"sync"
)

// Session holds the "current conversation" and "latest message" pointers of one
// caller: a CLI run, an HTTP request, a WebSocket connection.
//
// Both are plain ids, the Store stays the owner of the records.
type Session struct {
	mu             sync.Mutex
	conversationID int64
	latestID       *int64
}

func NewSession() *Session {
	return &Session{}
}

// NewSessionFor resumes conversationID. The latest message pointer is restored
// lazily by Ensure.
func NewSessionFor(conversationID int64) *Session {
	return &Session{conversationID: conversationID}
}

func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) LatestMessageID() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestID == nil {
		return nil
	}
	return IDRef(*s.latestID)
}

// Use switches to another conversation. The latest pointer is reset.
func (s *Session) Use(conversationID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == conversationID {
		return
	}
	s.conversationID = conversationID
	s.latestID = nil
}

// Advance moves the latest message pointer.
func (s *Session) Advance(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestID = IDRef(id)
}

// Ensure starts a conversation if the session has none, and restores the latest
// pointer of a resumed conversation from the store.
func (s *Session) Ensure(ctx context.Context, store Store) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversationID == 0 {
		id, err := store.StartConversation(ctx, "")
		if err != nil {
			return 0, err
		}
		s.conversationID = id
		s.latestID = nil
		return id, nil
	}

	if s.latestID == nil {
		if _, err := store.GetConversation(ctx, s.conversationID); err != nil {
			return 0, err
		}
		latest, err := store.LatestMessage(ctx, s.conversationID)
		if err != nil {
			return 0, err
		}
		if latest != nil {
			s.latestID = IDRef(latest.ID)
		}
	}
	return s.conversationID, nil
}
