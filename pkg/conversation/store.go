package conversation

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrStoreClosed          = errors.New("conversation store closed")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Store is implemented by SQLiteStore and InMemoryStore.
//
// Stores assume a single writer per conversation. Close is idempotent, every
// other call made after Close fails with ErrStoreClosed.
type Store interface {
	StartConversation(ctx context.Context, title string) (int64, error)
	AddMessage(ctx context.Context, msg NewMessage) (int64, error)

	GetMessage(ctx context.Context, id int64) (*Message, error)
	// GetMessageChain returns the ancestor ids of id, root first, id last.
	// A missing message ends the walk, it is not an error.
	GetMessageChain(ctx context.Context, id int64) ([]int64, error)
	// GetMessages returns the messages with the given ids, skipping unknown ids.
	GetMessages(ctx context.Context, ids []int64) ([]*Message, error)
	// LatestMessage returns nil when the conversation has no messages.
	LatestMessage(ctx context.Context, conversationID int64) (*Message, error)
	// RecentMessages returns up to limit messages of the conversation, newest first,
	// leaving out the excluded ids.
	RecentMessages(ctx context.Context, conversationID int64, exclude []int64, limit int) ([]*Message, error)
	ConversationMessages(ctx context.Context, conversationID int64) ([]*Message, error)

	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)

	Close() error
}

type storeOptions struct {
	now func() time.Time
}

type StoreOption func(*storeOptions)

// WithClock overrides the timestamp source of a store.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		o.now = now
	}
}

func newStoreOptions(options []StoreOption) *storeOptions {
	ret := &storeOptions{now: time.Now}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// resolveChain walks parent links from id using lookup, which reports ok=false
// for a missing message.
func resolveChain(id int64, lookup func(id int64) (parent *int64, ok bool, err error)) ([]int64, error) {
	var chain []int64
	current := &id
	seen := map[int64]struct{}{}
	for current != nil {
		if _, loop := seen[*current]; loop {
			return nil, errors.Errorf("cycle detected at message %d", *current)
		}
		seen[*current] = struct{}{}

		parent, ok, err := lookup(*current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		chain = append([]int64{*current}, chain...)
		current = parent
	}
	return chain, nil
}
