// Package conversation stores chat history as a tree of messages and rebuilds
// token-bounded context windows from it.
//
// Every message points at its parent, so retries and diverging tool calls form
// branches instead of overwriting each other. The Store interface is the single
// owner of conversations and messages:
// - starting conversations and appending messages
// - resolving the root-to-leaf chain of a message
// - listing recent messages for the other-branch scan of the ContextBuilder
//
// Callers keep the "current conversation" and "latest message" pointers in a Session.
package conversation
