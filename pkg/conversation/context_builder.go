package conversation

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxContextTokens = 8000
	DefaultCandidateLimit   = 100
)

// ContextBuilder assembles the context window for one provider call.
//
// The ancestor chain of the reference message is always included in full, even
// when it alone exceeds MaxTokens, so tool calls and their results stay paired.
// Other branches only fill what budget is left: newest first, stopping at the
// first message that does not fit.
type ContextBuilder struct {
	store          Store
	maxTokens      int
	candidateLimit int
}

type ContextBuilderOption func(*ContextBuilder)

func WithMaxTokens(maxTokens int) ContextBuilderOption {
	return func(b *ContextBuilder) {
		b.maxTokens = maxTokens
	}
}

func WithCandidateLimit(limit int) ContextBuilderOption {
	return func(b *ContextBuilder) {
		b.candidateLimit = limit
	}
}

func NewContextBuilder(store Store, options ...ContextBuilderOption) *ContextBuilder {
	ret := &ContextBuilder{
		store:          store,
		maxTokens:      DefaultMaxContextTokens,
		candidateLimit: DefaultCandidateLimit,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (b *ContextBuilder) MaxTokens() int {
	return b.maxTokens
}

// Build returns the context window of conversationID around ref, oldest first.
//
// A nil ref means the latest message of the conversation; an empty conversation
// yields an empty window. Other branches are taken from the conversation owning
// ref. A ref whose chain cannot be resolved contributes nothing, and only
// other-branch messages of conversationID (if requested) are returned.
func (b *ContextBuilder) Build(ctx context.Context, conversationID int64, ref *int64, includeOtherBranches bool) ([]*Message, error) {
	if b.store == nil {
		return nil, errors.New("context builder has no store")
	}
	if conversationID == 0 && ref == nil {
		return nil, nil
	}

	if ref == nil {
		latest, err := b.store.LatestMessage(ctx, conversationID)
		if err != nil {
			return nil, errors.Wrap(err, "could not get latest message")
		}
		if latest == nil {
			return nil, nil
		}
		ref = &latest.ID
	}

	budget := b.maxTokens

	chain, err := b.store.GetMessageChain(ctx, *ref)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve message chain")
	}
	ret, err := b.store.GetMessages(ctx, chain)
	if err != nil {
		return nil, errors.Wrap(err, "could not load message chain")
	}
	for _, m := range ret {
		budget -= m.TokenCount
	}
	// other branches belong to the conversation of ref
	if len(ret) > 0 {
		conversationID = ret[len(ret)-1].ConversationID
	}

	admitted := 0
	if includeOtherBranches && budget > 0 {
		candidates, err := b.store.RecentMessages(ctx, conversationID, chain, b.candidateLimit)
		if err != nil {
			return nil, errors.Wrap(err, "could not list other branches")
		}
		for _, m := range candidates {
			if budget-m.TokenCount < 0 {
				break
			}
			ret = append(ret, m)
			budget -= m.TokenCount
			admitted++
		}
	}

	SortChronologically(ret)

	log.Debug().
		Int64("conversation_id", conversationID).
		Int64("reference_id", *ref).
		Int("chain_length", len(chain)).
		Int("other_branches", admitted).
		Int("remaining_budget", budget).
		Msg("Built context window")

	return ret, nil
}
